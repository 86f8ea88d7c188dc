package skills

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BrainsyETH/clawsight/internal/protocol"
)

// Store provides database operations for skill config management.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// configColumns is the full list of columns used in SELECT statements.
const configColumns = `account_id, skill, config, source, sync_status, updated_at, applied_at`

// scanConfig scans a single config row into a Config struct.
func scanConfig(row pgx.Row) (*Config, error) {
	var c Config
	err := row.Scan(
		&c.AccountID,
		&c.Skill,
		&c.Config,
		&c.Source,
		&c.SyncStatus,
		&c.UpdatedAt,
		&c.AppliedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Upsert inserts or replaces the config for (accountID, skill). When the
// input carries an expected timestamp, a row whose updated_at no longer
// matches is left untouched and ErrConflict is returned.
func (s *Store) Upsert(ctx context.Context, accountID string, input UpsertInput, syncStatus string) (*Config, error) {
	now := time.Now().UTC()
	var appliedAt *time.Time
	if syncStatus == protocol.ConfigStatusApplied {
		appliedAt = &now
	}

	query := fmt.Sprintf(`INSERT INTO skill_configs
		(account_id, skill, config, source, sync_status, updated_at, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id, skill) DO UPDATE SET
			config = EXCLUDED.config,
			source = EXCLUDED.source,
			sync_status = EXCLUDED.sync_status,
			updated_at = EXCLUDED.updated_at,
			applied_at = COALESCE(EXCLUDED.applied_at, skill_configs.applied_at)
		WHERE $8::timestamptz IS NULL OR skill_configs.updated_at = $8
		RETURNING %s`, configColumns)

	row := s.pool.QueryRow(ctx, query,
		accountID,
		input.Skill,
		input.Config,
		input.Source,
		syncStatus,
		now,
		appliedAt,
		input.ExpectedUpdatedAt,
	)
	cfg, err := scanConfig(row)
	if errors.Is(err, ErrNotFound) && input.ExpectedUpdatedAt != nil {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("upserting skill config: %w", err)
	}
	return cfg, nil
}

// Get retrieves the config for (accountID, skill).
func (s *Store) Get(ctx context.Context, accountID, skill string) (*Config, error) {
	query := fmt.Sprintf(`SELECT %s FROM skill_configs WHERE account_id = $1 AND skill = $2`, configColumns)
	return scanConfig(s.pool.QueryRow(ctx, query, accountID, skill))
}

// List returns all configs for the account ordered by skill slug. Skill sets
// are small and bounded, so there is no pagination here.
func (s *Store) List(ctx context.Context, accountID string) ([]*Config, error) {
	query := fmt.Sprintf(`SELECT %s FROM skill_configs WHERE account_id = $1 ORDER BY skill`, configColumns)
	rows, err := s.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing skill configs: %w", err)
	}
	defer rows.Close()

	var configs []*Config
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning skill config: %w", err)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating skill configs: %w", err)
	}
	return configs, nil
}

// MarkApplied flips the config's sync status to applied and stamps the
// applied time.
func (s *Store) MarkApplied(ctx context.Context, accountID, skill string) (*Config, error) {
	query := fmt.Sprintf(`UPDATE skill_configs
		SET sync_status = $3, applied_at = $4
		WHERE account_id = $1 AND skill = $2
		RETURNING %s`, configColumns)
	return scanConfig(s.pool.QueryRow(ctx, query, accountID, skill, protocol.ConfigStatusApplied, time.Now().UTC()))
}
