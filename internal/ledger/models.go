package ledger

import "time"

// Entry is one metered operation in the append-only usage ledger. Entries are
// never updated or deleted; corrections are new entries.
type Entry struct {
	ID         string            `json:"id"`
	AccountID  string            `json:"account_id"`
	Kind       string            `json:"kind"`
	Cost       float64           `json:"cost"`
	Skill      string            `json:"skill,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	CreatedAt  time.Time         `json:"created_at"`
}

// DaySummary is the running total for one account and UTC day. Summaries are
// maintained in the same transaction as their entries, so a summary never
// disagrees with the entries beneath it.
type DaySummary struct {
	AccountID string    `json:"account_id"`
	Day       time.Time `json:"day"`
	TotalCost float64   `json:"total_cost"`
	CallCount int64     `json:"call_count"`
}

// Spend is an account's aggregate spend for the current UTC day and calendar
// month. Monthly spend is derived from day summaries, not from a second
// running counter.
type Spend struct {
	Daily   float64 `json:"daily"`
	Monthly float64 `json:"monthly"`
}

// KindTotal aggregates entries of one kind.
type KindTotal struct {
	Kind      string  `json:"kind"`
	Count     int64   `json:"count"`
	TotalCost float64 `json:"total_cost"`
}

// EntryQuery defines filters and cursor pagination for listing entries.
type EntryQuery struct {
	AccountID string    `json:"account_id,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Skill     string    `json:"skill,omitempty"`
	From      time.Time `json:"from,omitempty"`
	To        time.Time `json:"to,omitempty"`
	Cursor    string    `json:"cursor,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// DayOf returns the UTC day containing t, the granularity at which summaries
// are kept.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthStart returns the first instant of the UTC month containing t.
func MonthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
