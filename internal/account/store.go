package account

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `id, name, api_key_hash, api_key_prefix, wallet_address, daily_cap, monthly_cap, created_at`

// Store provides database operations for accounts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new account store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanAccount(row pgx.Row) (*Account, error) {
	a := &Account{}
	err := row.Scan(&a.ID, &a.Name, &a.APIKeyHash, &a.APIKeyPrefix,
		&a.WalletAddress, &a.DailyCap, &a.MonthlyCap, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create inserts a new account and returns the created record.
func (s *Store) Create(ctx context.Context, in CreateAccountInput) (*Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`INSERT INTO accounts (name, api_key_hash, api_key_prefix, wallet_address, daily_cap, monthly_cap)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+accountColumns,
		in.Name, in.APIKeyHash, in.APIKeyPrefix, in.WalletAddress, in.DailyCap, in.MonthlyCap,
	))
	if err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}
	return a, nil
}

// GetByID retrieves an account by its primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting account by id: %w", err)
	}
	return a, nil
}

// GetByKeyHash retrieves an account by its API key hash, used for
// authentication.
func (s *Store) GetByKeyHash(ctx context.Context, hash string) (*Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE api_key_hash = $1`, hash))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting account by key hash: %w", err)
	}
	return a, nil
}

// GetByWallet retrieves the account registered to a wallet address. Addresses
// are stored lowercased, so the lookup lowercases too.
func (s *Store) GetByWallet(ctx context.Context, address string) (*Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE wallet_address = $1`,
		strings.ToLower(address)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting account by wallet: %w", err)
	}
	return a, nil
}

// UpdateCaps sets both spend caps for the account and returns the updated
// record. Range validation happens at the API boundary; the store writes what
// it is given.
func (s *Store) UpdateCaps(ctx context.Context, id string, daily, monthly float64) (*Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`UPDATE accounts SET daily_cap = $1, monthly_cap = $2 WHERE id = $3
		 RETURNING `+accountColumns,
		daily, monthly, id,
	))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("updating account caps: %w", err)
	}
	return a, nil
}

// List returns a page of accounts ordered by created_at DESC, id DESC using
// cursor-based pagination. It returns the accounts, the next cursor (empty if
// no more results), and any error.
func (s *Store) List(ctx context.Context, params ListParams) ([]*Account, string, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if params.Cursor != "" {
		cursorTime, cursorID, cerr := decodeCursor(params.Cursor)
		if cerr != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", cerr)
		}
		rows, err = s.pool.Query(ctx,
			`SELECT `+accountColumns+` FROM accounts
			 WHERE (created_at, id) < ($1, $2)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`,
			cursorTime, cursorID, limit+1,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+accountColumns+` FROM accounts
			 ORDER BY created_at DESC, id DESC
			 LIMIT $1`,
			limit+1,
		)
	}
	if err != nil {
		return nil, "", fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a := &Account{}
		if err := rows.Scan(&a.ID, &a.Name, &a.APIKeyHash, &a.APIKeyPrefix,
			&a.WalletAddress, &a.DailyCap, &a.MonthlyCap, &a.CreatedAt); err != nil {
			return nil, "", fmt.Errorf("scanning account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating account rows: %w", err)
	}

	var nextCursor string
	if len(accounts) > limit {
		last := accounts[limit-1]
		nextCursor = encodeCursor(last.CreatedAt, last.ID)
		accounts = accounts[:limit]
	}

	return accounts, nextCursor, nil
}

// Delete removes an account by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	return nil
}

// encodeCursor produces a base64 string from a created_at timestamp and id.
func encodeCursor(createdAt time.Time, id string) string {
	raw := createdAt.Format(time.RFC3339Nano) + "|" + id
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// decodeCursor parses a base64 cursor back into its created_at and id parts.
func decodeCursor(cursor string) (time.Time, string, error) {
	data, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decoding cursor base64: %w", err)
	}

	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid cursor format")
	}

	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parsing cursor time: %w", err)
	}

	return t, parts[1], nil
}
