// Package idempotency persists claimed request keys so a retried
// state-mutating call is applied at most once. Keys live in Postgres rather
// than the kv store because the at-most-once guarantee must survive a cache
// restart.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for idempotency keys.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Claim records key for the account. It returns true when the key was fresh
// and false when an earlier request already claimed it. The insert is the
// atomicity point: two concurrent claims of the same key cannot both win.
func (s *Store) Claim(ctx context.Context, accountID, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (account_id, key) VALUES ($1, $2)
		 ON CONFLICT (account_id, key) DO NOTHING`,
		accountID, key,
	)
	if err != nil {
		return false, fmt.Errorf("claiming idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release frees a claimed key so a retry can claim it again. Handlers call it
// when the request fails after the claim but before its effects were applied;
// releasing an unclaimed key is a no-op.
func (s *Store) Release(ctx context.Context, accountID, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE account_id = $1 AND key = $2`,
		accountID, key,
	)
	if err != nil {
		return fmt.Errorf("releasing idempotency key: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes keys claimed before the cutoff and returns how many
// were removed. Clients retry within minutes, so anything older only takes up
// index space.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
