// Package nonce issues and redeems the single-use tokens that guard wallet
// sign-in against replayed signatures.
package nonce

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/BrainsyETH/clawsight/internal/kvstore"
)

// TTL is how long an issued nonce stays redeemable. Expired tokens are
// reclaimed by the store (janitor sweep or native Redis expiry).
const TTL = 5 * time.Minute

const keyPrefix = "nonce:"

// Issuer hands out single-use tokens bound to a wallet address.
type Issuer struct {
	kv  kvstore.Store
	ttl time.Duration
}

// NewIssuer creates an issuer on the given store. A ttl of 0 uses the
// default.
func NewIssuer(kv kvstore.Store, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = TTL
	}
	return &Issuer{kv: kv, ttl: ttl}
}

// Issue creates a fresh nonce for address.
func (i *Issuer) Issue(ctx context.Context, address string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := i.kv.Set(ctx, key(address, token), "1", i.ttl); err != nil {
		return "", fmt.Errorf("storing nonce: %w", err)
	}
	return token, nil
}

// Consume redeems a nonce. The atomic delete is the existence check, so two
// concurrent redemptions of the same token cannot both succeed.
func (i *Issuer) Consume(ctx context.Context, address, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	existed, err := i.kv.Delete(ctx, key(address, token))
	if err != nil {
		return false, fmt.Errorf("consuming nonce: %w", err)
	}
	return existed, nil
}

// key namespaces a token under its wallet so a nonce issued to one address
// cannot be redeemed by another.
func key(address, token string) string {
	return keyPrefix + strings.ToLower(address) + ":" + token
}
