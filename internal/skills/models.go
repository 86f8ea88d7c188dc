// Package skills stores per-skill configuration documents and their sync
// state. Configs flow in from three sources: the agent pushing local file
// edits, the dashboard, and manual API writes. The sync status tells a
// polling agent whether a remote change still needs to be applied locally.
package skills

import (
	"encoding/json"
	"errors"
	"time"
)

// Sync status and source tag values are shared wire vocabulary and live in
// the protocol package; this package consumes them unchanged.

// MaxConfigBytes bounds a single skill's config document.
const MaxConfigBytes = 64 * 1024

// Validation and lookup errors returned by the Service layer.
var (
	ErrNotFound       = errors.New("skill config not found")
	ErrConflict       = errors.New("skill config was modified concurrently")
	ErrSlugInvalid    = errors.New("skill slug must be lowercase alphanumerics and dashes, at most 64 characters")
	ErrSourceInvalid  = errors.New("source must be one of: agent, dashboard, manual")
	ErrConfigRequired = errors.New("config document is required")
	ErrConfigTooLarge = errors.New("config document exceeds the size limit")
	ErrConfigInvalid  = errors.New("config document must be a JSON object")
)

// Config is one skill's stored configuration row.
type Config struct {
	AccountID  string          `json:"-"`
	Skill      string          `json:"skill"`
	Config     json.RawMessage `json:"config"`
	Source     string          `json:"source"`
	SyncStatus string          `json:"sync_status"`
	UpdatedAt  time.Time       `json:"updated_at"`
	AppliedAt  *time.Time      `json:"applied_at,omitempty"`
}

// UpsertInput holds the fields for a config write.
type UpsertInput struct {
	Skill  string          `json:"skill"`
	Config json.RawMessage `json:"config"`
	Source string          `json:"source"`
	// ExpectedUpdatedAt enables optimistic concurrency: when set, the write
	// only lands if the stored row still carries exactly this timestamp.
	ExpectedUpdatedAt *time.Time `json:"expected_updated_at,omitempty"`
}
