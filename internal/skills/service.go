package skills

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/BrainsyETH/clawsight/internal/protocol"
)

// validSources is the set of accepted source tags.
var validSources = map[string]bool{
	protocol.SourceAgent:     true,
	protocol.SourceDashboard: true,
	protocol.SourceManual:    true,
}

// Service provides validated business logic over the skills Store.
type Service struct {
	store *Store
}

// NewService creates a new Service wrapping the given Store.
func NewService(store *Store) *Service {
	return &Service{store: store}
}

// Upsert validates the input and writes the config. Agent-sourced writes
// land as applied (the agent is pushing what it already runs); dashboard and
// manual writes land as pending until the agent acknowledges them.
func (s *Service) Upsert(ctx context.Context, accountID string, input UpsertInput) (*Config, error) {
	if err := ValidateUpsert(input); err != nil {
		return nil, err
	}
	return s.store.Upsert(ctx, accountID, input, statusFor(input.Source))
}

// Get retrieves one skill's config for the account.
func (s *Service) Get(ctx context.Context, accountID, skill string) (*Config, error) {
	if !ValidSlug(skill) {
		return nil, ErrSlugInvalid
	}
	return s.store.Get(ctx, accountID, skill)
}

// List returns all configs for the account ordered by skill slug.
func (s *Service) List(ctx context.Context, accountID string) ([]*Config, error) {
	return s.store.List(ctx, accountID)
}

// MarkApplied records that the agent has written this config to its local
// file, flipping the sync status to applied.
func (s *Service) MarkApplied(ctx context.Context, accountID, skill string) (*Config, error) {
	if !ValidSlug(skill) {
		return nil, ErrSlugInvalid
	}
	return s.store.MarkApplied(ctx, accountID, skill)
}

// statusFor maps a write source to the resulting sync status.
func statusFor(source string) string {
	if source == protocol.SourceAgent {
		return protocol.ConfigStatusApplied
	}
	return protocol.ConfigStatusPending
}

// ValidateUpsert checks that all required fields are present and valid. The
// HTTP handler runs it before the billing gate so a malformed write is
// rejected without being charged.
func ValidateUpsert(input UpsertInput) error {
	if !ValidSlug(input.Skill) {
		return ErrSlugInvalid
	}
	if !validSources[input.Source] {
		return ErrSourceInvalid
	}
	if len(input.Config) == 0 {
		return ErrConfigRequired
	}
	if len(input.Config) > MaxConfigBytes {
		return ErrConfigTooLarge
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(input.Config, &doc); err != nil {
		return ErrConfigInvalid
	}
	return nil
}

// ValidSlug reports whether s is a usable skill slug: lowercase letters,
// digits, and dashes, starting with an alphanumeric, at most 64 characters.
func ValidSlug(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	if s[0] == '-' || strings.HasSuffix(s, "-") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return true
}
