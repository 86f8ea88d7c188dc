// Package protocol defines the wire types exchanged between the ClawSight
// control plane and agents. Both the server handlers and the client transport
// build against these types so the two sides cannot drift.
package protocol

import (
	"encoding/json"
	"time"
)

// Header names shared by client and server.
const (
	HeaderIdempotencyKey  = "Idempotency-Key"
	HeaderPaymentRequired = "X-Payment-Required"
	HeaderPaymentProof    = "X-Payment-Proof"
)

// Limits enforced by the sync endpoint.
const (
	MaxSyncEvents     = 100
	MaxEventDataBytes = 4096
)

// Event is a single operation performed by an agent, reported through the
// sync endpoint. Data carries kind-specific detail and is size-bounded.
type Event struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Skill      string          `json:"skill,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// SyncRequest is the body of POST /api/v1/events/sync.
type SyncRequest struct {
	Events []Event `json:"events"`
}

// SyncResult reports the outcome of a sync batch. Duplicate is set when the
// batch's idempotency key was already claimed; such batches accept nothing.
type SyncResult struct {
	Accepted  int  `json:"accepted"`
	Dropped   int  `json:"dropped"`
	Duplicate bool `json:"duplicate"`
}

// HeartbeatRequest is the body of POST /api/v1/heartbeat.
type HeartbeatRequest struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}

// HeartbeatResponse carries the account's spend snapshot back to the agent.
// CapExceeded tells the agent to pause paid operations before the server
// starts refusing them.
type HeartbeatResponse struct {
	DailySpend   float64 `json:"daily_spend"`
	MonthlySpend float64 `json:"monthly_spend"`
	DailyCap     float64 `json:"daily_cap"`
	MonthlyCap   float64 `json:"monthly_cap"`
	CapExceeded  bool    `json:"cap_exceeded"`
	Warning      string  `json:"warning,omitempty"`
}

// Config sync status values. Dashboard-sourced writes stay pending until the
// agent acknowledges a verified local apply.
const (
	ConfigStatusPending = "pending"
	ConfigStatusApplied = "applied"
)

// Config write source tags.
const (
	SourceAgent     = "agent"
	SourceDashboard = "dashboard"
	SourceManual    = "manual"
)

// SkillConfig is one skill's configuration document as stored remotely.
type SkillConfig struct {
	Skill      string          `json:"skill"`
	Config     json.RawMessage `json:"config"`
	Source     string          `json:"source"`
	SyncStatus string          `json:"sync_status"`
	UpdatedAt  time.Time       `json:"updated_at"`
	AppliedAt  *time.Time      `json:"applied_at,omitempty"`
}

// PutConfigRequest is the body of PUT /api/v1/skills/configs/{slug}.
// ExpectedUpdatedAt, when set, makes the write conditional on the stored
// row not having changed since that instant.
type PutConfigRequest struct {
	Config            json.RawMessage `json:"config"`
	Source            string          `json:"source"`
	ExpectedUpdatedAt *time.Time      `json:"expected_updated_at,omitempty"`
}

// ConfigListResponse is the body of GET /api/v1/skills/configs.
type ConfigListResponse struct {
	Configs []SkillConfig `json:"configs"`
}

// UsageSnapshot is the body of GET /api/v1/usage and is embedded in
// payment-required error bodies so clients can see how far over cap they are.
type UsageSnapshot struct {
	DailySpend   float64 `json:"daily_spend"`
	MonthlySpend float64 `json:"monthly_spend"`
	DailyCap     float64 `json:"daily_cap"`
	MonthlyCap   float64 `json:"monthly_cap"`
}

// ErrorBody is the inner object of the standard error envelope.
type ErrorBody struct {
	Code           string  `json:"code"`
	Message        string  `json:"message"`
	Cost           float64 `json:"cost,omitempty"`
	PaymentAddress string  `json:"payment_address,omitempty"`
}

// ErrorEnvelope is the standard error response shape, mirrored by the client
// transport when decoding failures.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}
