package skills

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/BrainsyETH/clawsight/internal/protocol"
)

func TestValidSlug(t *testing.T) {
	tests := []struct {
		slug string
		want bool
	}{
		{"notes", true},
		{"web-search", true},
		{"skill2", true},
		{"a", true},
		{"", false},
		{"Notes", false},
		{"web_search", false},
		{"-leading", false},
		{"trailing-", false},
		{"has space", false},
		{strings.Repeat("a", 64), true},
		{strings.Repeat("a", 65), false},
	}

	for _, tt := range tests {
		if got := ValidSlug(tt.slug); got != tt.want {
			t.Errorf("ValidSlug(%q) = %v, want %v", tt.slug, got, tt.want)
		}
	}
}

func TestValidateUpsert(t *testing.T) {
	valid := UpsertInput{
		Skill:  "notes",
		Config: json.RawMessage(`{"enabled": true}`),
		Source: protocol.SourceDashboard,
	}

	tests := []struct {
		name    string
		modify  func(*UpsertInput)
		wantErr error
	}{
		{"valid input", func(i *UpsertInput) {}, nil},
		{"bad slug", func(i *UpsertInput) { i.Skill = "Bad Slug" }, ErrSlugInvalid},
		{"bad source", func(i *UpsertInput) { i.Source = "cron" }, ErrSourceInvalid},
		{"empty config", func(i *UpsertInput) { i.Config = nil }, ErrConfigRequired},
		{"config not an object", func(i *UpsertInput) { i.Config = json.RawMessage(`[1,2]`) }, ErrConfigInvalid},
		{"config not json", func(i *UpsertInput) { i.Config = json.RawMessage(`{broken`) }, ErrConfigInvalid},
		{"config too large", func(i *UpsertInput) {
			big := `{"pad": "` + strings.Repeat("x", MaxConfigBytes) + `"}`
			i.Config = json.RawMessage(big)
		}, ErrConfigTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := valid
			tt.modify(&input)
			err := ValidateUpsert(input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateUpsert() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	if statusFor(protocol.SourceAgent) != protocol.ConfigStatusApplied {
		t.Error("agent-sourced writes should land as applied")
	}
	if statusFor(protocol.SourceDashboard) != protocol.ConfigStatusPending {
		t.Error("dashboard-sourced writes should land as pending")
	}
	if statusFor(protocol.SourceManual) != protocol.ConfigStatusPending {
		t.Error("manually-sourced writes should land as pending")
	}
}
