package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the usage ledger.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// summaryKey identifies one daily summary row.
type summaryKey struct {
	accountID string
	day       time.Time
}

// summaryDelta is the increment a batch contributes to one summary row.
type summaryDelta struct {
	cost  float64
	count int64
}

// Record appends a single entry and folds its cost into the owning day's
// summary in one transaction.
func (s *Store) Record(ctx context.Context, e Entry) error {
	return s.RecordBatch(ctx, []Entry{e})
}

// RecordBatch appends entries in a single multi-row INSERT and applies the
// grouped summary increments, all inside one transaction. Readers therefore
// never observe an entry without its summary contribution or vice versa. It
// is a no-op when entries is empty.
func (s *Store) RecordBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	const cols = 7
	args := make([]any, 0, len(entries)*cols)
	rows := make([]string, 0, len(entries))

	for i := range entries {
		e := &entries[i]
		if e.OccurredAt.IsZero() {
			e.OccurredAt = time.Now().UTC()
		}

		var meta []byte
		if len(e.Metadata) > 0 {
			var err error
			meta, err = json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("marshaling entry metadata: %w", err)
			}
		}

		base := i * cols
		rows = append(rows, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			e.AccountID,
			e.Kind,
			e.Cost,
			e.Skill,
			e.SessionID,
			meta,
			e.OccurredAt.UTC(),
		)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning ledger transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO usage_entries
		(account_id, kind, cost, skill, session_id, metadata, occurred_at)
		VALUES ` + strings.Join(rows, ", ")
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting ledger entries: %w", err)
	}

	for key, delta := range groupSummaries(entries) {
		_, err := tx.Exec(ctx,
			`INSERT INTO daily_summaries (account_id, day, total_cost, call_count)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (account_id, day)
			 DO UPDATE SET total_cost = daily_summaries.total_cost + EXCLUDED.total_cost,
			               call_count = daily_summaries.call_count + EXCLUDED.call_count`,
			key.accountID, key.day, delta.cost, delta.count,
		)
		if err != nil {
			return fmt.Errorf("updating daily summary: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing ledger transaction: %w", err)
	}
	return nil
}

// groupSummaries collapses a batch into per-(account, day) increments so each
// summary row is touched once per batch.
func groupSummaries(entries []Entry) map[summaryKey]summaryDelta {
	deltas := make(map[summaryKey]summaryDelta)
	for i := range entries {
		e := &entries[i]
		key := summaryKey{accountID: e.AccountID, day: DayOf(e.OccurredAt)}
		d := deltas[key]
		d.cost += e.Cost
		d.count++
		deltas[key] = d
	}
	return deltas
}

// DailySpend returns the summary totals for one account and UTC day. A
// missing summary row means no spend that day.
func (s *Store) DailySpend(ctx context.Context, accountID string, day time.Time) (float64, int64, error) {
	var cost float64
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT total_cost, call_count FROM daily_summaries
		 WHERE account_id = $1 AND day = $2`,
		accountID, DayOf(day),
	).Scan(&cost, &count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("querying daily spend: %w", err)
	}
	return cost, count, nil
}

// MonthlySpend sums the day summaries of the UTC month containing at.
func (s *Store) MonthlySpend(ctx context.Context, accountID string, at time.Time) (float64, int64, error) {
	start := MonthStart(at)
	end := start.AddDate(0, 1, 0)

	var cost float64
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(total_cost), 0), COALESCE(SUM(call_count), 0)
		 FROM daily_summaries
		 WHERE account_id = $1 AND day >= $2 AND day < $3`,
		accountID, start, end,
	).Scan(&cost, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("querying monthly spend: %w", err)
	}
	return cost, count, nil
}

// CurrentSpend returns the account's spend for the day and month containing
// at. Two summary reads, no entry scans.
func (s *Store) CurrentSpend(ctx context.Context, accountID string, at time.Time) (Spend, error) {
	daily, _, err := s.DailySpend(ctx, accountID, at)
	if err != nil {
		return Spend{}, err
	}
	monthly, _, err := s.MonthlySpend(ctx, accountID, at)
	if err != nil {
		return Spend{}, err
	}
	return Spend{Daily: daily, Monthly: monthly}, nil
}

// SummaryRange returns the day summaries for accountID with from <= day < to,
// oldest first. Days without spend have no row.
func (s *Store) SummaryRange(ctx context.Context, accountID string, from, to time.Time) ([]DaySummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, day, total_cost, call_count
		 FROM daily_summaries
		 WHERE account_id = $1 AND day >= $2 AND day < $3
		 ORDER BY day`,
		accountID, DayOf(from), DayOf(to),
	)
	if err != nil {
		return nil, fmt.Errorf("querying summary range: %w", err)
	}
	defer rows.Close()

	var summaries []DaySummary
	for rows.Next() {
		var ds DaySummary
		if err := rows.Scan(&ds.AccountID, &ds.Day, &ds.TotalCost, &ds.CallCount); err != nil {
			return nil, fmt.Errorf("scanning summary row: %w", err)
		}
		summaries = append(summaries, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating summary rows: %w", err)
	}
	return summaries, nil
}

// KindTotals aggregates entries by kind across all accounts in [from, to),
// for the admin usage view.
func (s *Store) KindTotals(ctx context.Context, from, to time.Time) ([]KindTotal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT kind, COUNT(*), COALESCE(SUM(cost), 0)
		 FROM usage_entries
		 WHERE occurred_at >= $1 AND occurred_at < $2
		 GROUP BY kind
		 ORDER BY kind`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("querying kind totals: %w", err)
	}
	defer rows.Close()

	var totals []KindTotal
	for rows.Next() {
		var kt KindTotal
		if err := rows.Scan(&kt.Kind, &kt.Count, &kt.TotalCost); err != nil {
			return nil, fmt.Errorf("scanning kind total: %w", err)
		}
		totals = append(totals, kt)
	}
	return totals, rows.Err()
}

// ListEntries returns a page of entries matching the query, ordered by
// occurred_at DESC, id DESC with cursor pagination. The second return value
// is the next cursor, empty when there are no more results.
func (s *Store) ListEntries(ctx context.Context, q EntryQuery) ([]*Entry, string, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	where, args := buildWhereClause(q)

	if q.Cursor != "" {
		ts, id, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
		if where == "" {
			where = " WHERE"
		} else {
			where += " AND"
		}
		n := len(args)
		where += fmt.Sprintf(" (occurred_at, id) < ($%d, $%d)", n+1, n+2)
		args = append(args, ts, id)
	}

	query := `SELECT id, account_id, kind, cost, skill, session_id, metadata, occurred_at, created_at
	FROM usage_entries` + where +
		` ORDER BY occurred_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit+1) // one extra row decides whether a next page exists

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("listing ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var meta []byte
		if err := rows.Scan(
			&e.ID, &e.AccountID, &e.Kind, &e.Cost,
			&e.Skill, &e.SessionID, &meta, &e.OccurredAt, &e.CreatedAt,
		); err != nil {
			return nil, "", fmt.Errorf("scanning ledger entry: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, "", fmt.Errorf("unmarshaling entry metadata: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating ledger entries: %w", err)
	}

	var nextCursor string
	if len(entries) > limit {
		last := entries[limit-1]
		nextCursor = encodeCursor(last.OccurredAt, last.ID)
		entries = entries[:limit]
	}

	return entries, nextCursor, nil
}

// buildWhereClause constructs a WHERE clause and positional arguments from an
// EntryQuery. The returned string starts with " WHERE" or is empty.
func buildWhereClause(q EntryQuery) (string, []any) {
	var conditions []string
	var args []any

	if q.AccountID != "" {
		args = append(args, q.AccountID)
		conditions = append(conditions, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if q.Kind != "" {
		args = append(args, q.Kind)
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if q.Skill != "" {
		args = append(args, q.Skill)
		conditions = append(conditions, fmt.Sprintf("skill = $%d", len(args)))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		conditions = append(conditions, fmt.Sprintf("occurred_at >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		conditions = append(conditions, fmt.Sprintf("occurred_at <= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// encodeCursor encodes a timestamp and id into an opaque cursor string.
func encodeCursor(ts time.Time, id string) string {
	raw := ts.Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor decodes an opaque cursor string into a timestamp and id.
func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decoding cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parsing cursor timestamp: %w", err)
	}
	return ts, parts[1], nil
}
