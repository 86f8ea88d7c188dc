package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/BrainsyETH/clawsight/internal/kvstore"
)

// DefaultSessionTTL is how long a wallet sign-in session stays valid.
const DefaultSessionTTL = 7 * 24 * time.Hour

const sessionKeyPrefix = "session:"

// Session is an authenticated dashboard session established by wallet
// sign-in.
type Session struct {
	AccountID     string
	WalletAddress string
}

// SessionStore keeps sessions in the shared key-value store so every control
// plane instance sees them.
type SessionStore struct {
	kv  kvstore.Store
	ttl time.Duration
}

// NewSessionStore creates a session store. A ttl of 0 uses the default.
func NewSessionStore(kv kvstore.Store, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{kv: kv, ttl: ttl}
}

// Create mints a session token for the account and wallet.
func (s *SessionStore) Create(ctx context.Context, accountID, walletAddress string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(b)

	value := accountID + "|" + strings.ToLower(walletAddress)
	if err := s.kv.Set(ctx, sessionKeyPrefix+token, value, s.ttl); err != nil {
		return "", fmt.Errorf("storing session: %w", err)
	}
	return token, nil
}

// Lookup resolves a session token. It returns (nil, nil) for unknown or
// expired tokens.
func (s *SessionStore) Lookup(ctx context.Context, token string) (*Session, error) {
	value, found, err := s.kv.Get(ctx, sessionKeyPrefix+token)
	if err != nil {
		return nil, fmt.Errorf("looking up session: %w", err)
	}
	if !found {
		return nil, nil
	}

	accountID, wallet, ok := strings.Cut(value, "|")
	if !ok {
		return nil, fmt.Errorf("malformed session record")
	}
	return &Session{AccountID: accountID, WalletAddress: wallet}, nil
}

// Revoke deletes a session token.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	if _, err := s.kv.Delete(ctx, sessionKeyPrefix+token); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}
