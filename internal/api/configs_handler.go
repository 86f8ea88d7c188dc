package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/BrainsyETH/clawsight/internal/auth"
	"github.com/BrainsyETH/clawsight/internal/catalog"
	"github.com/BrainsyETH/clawsight/internal/gate"
	"github.com/BrainsyETH/clawsight/internal/protocol"
	"github.com/BrainsyETH/clawsight/internal/skills"
	"github.com/go-chi/chi/v5"
)

// configService is the skills slice the config endpoints use.
type configService interface {
	Upsert(ctx context.Context, accountID string, input skills.UpsertInput) (*skills.Config, error)
	Get(ctx context.Context, accountID, skill string) (*skills.Config, error)
	List(ctx context.Context, accountID string) ([]*skills.Config, error)
	MarkApplied(ctx context.Context, accountID, skill string) (*skills.Config, error)
}

// configsHandler serves the remote half of config sync.
type configsHandler struct {
	configs configService
	gate    *gate.Gate
}

func newConfigsHandler(configs configService, g *gate.Gate) *configsHandler {
	return &configsHandler{configs: configs, gate: g}
}

// ListConfigs handles GET /api/v1/skills/configs. The polling agent reads
// this to find dashboard writes it has not applied yet.
func (h *configsHandler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	acct := auth.AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	if _, err := h.gate.Authorize(r.Context(), gate.Request{
		AccountID: acct.ID,
		Wallet:    acct.WalletAddress,
		Kind:      catalog.KindConfigRead,
	}); err != nil {
		writeGateError(w, err)
		return
	}

	configs, err := h.configs.List(r.Context(), acct.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	resp := protocol.ConfigListResponse{Configs: make([]protocol.SkillConfig, 0, len(configs))}
	for _, c := range configs {
		resp.Configs = append(resp.Configs, toWireConfig(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetConfig handles GET /api/v1/skills/configs/{slug}.
func (h *configsHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	acct := auth.AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	slug := chi.URLParam(r, "slug")

	if _, err := h.gate.Authorize(r.Context(), gate.Request{
		AccountID: acct.ID,
		Wallet:    acct.WalletAddress,
		Kind:      catalog.KindConfigRead,
		Skill:     slug,
	}); err != nil {
		writeGateError(w, err)
		return
	}

	c, err := h.configs.Get(r.Context(), acct.ID, slug)
	if err != nil {
		writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWireConfig(c))
}

// PutConfig handles PUT /api/v1/skills/configs/{slug}. Input is validated
// before the gate so a malformed write is never charged; the gate then runs
// before the store so a cap-blocked write has no effect at all.
func (h *configsHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	acct := auth.AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	slug := chi.URLParam(r, "slug")

	var req protocol.PutConfigRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	input := skills.UpsertInput{
		Skill:             slug,
		Config:            req.Config,
		Source:            req.Source,
		ExpectedUpdatedAt: req.ExpectedUpdatedAt,
	}
	if err := skills.ValidateUpsert(input); err != nil {
		writeConfigError(w, err)
		return
	}

	if _, err := h.gate.Authorize(r.Context(), gate.Request{
		AccountID:   acct.ID,
		Wallet:      acct.WalletAddress,
		Kind:        catalog.KindConfigWrite,
		Skill:       slug,
		Metadata:    map[string]string{"source": req.Source},
		ProofHeader: r.Header.Get(protocol.HeaderPaymentProof),
	}); err != nil {
		writeGateError(w, err)
		return
	}

	c, err := h.configs.Upsert(r.Context(), acct.ID, input)
	if err != nil {
		writeConfigError(w, err)
		return
	}

	auditLog(r, "config.put", "skill_config", slug, "source", req.Source, "sync_status", c.SyncStatus)
	writeJSON(w, http.StatusOK, toWireConfig(c))
}

// AckApplied handles POST /api/v1/skills/configs/{slug}/applied: the agent
// confirming a verified local write of a pending config.
func (h *configsHandler) AckApplied(w http.ResponseWriter, r *http.Request) {
	acct := auth.AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	slug := chi.URLParam(r, "slug")

	c, err := h.configs.MarkApplied(r.Context(), acct.ID, slug)
	if err != nil {
		writeConfigError(w, err)
		return
	}

	auditLog(r, "config.applied", "skill_config", slug)
	writeJSON(w, http.StatusOK, toWireConfig(c))
}

// writeConfigError maps skills errors onto HTTP statuses: conflicts are 409,
// validation failures 422, missing rows 404.
func writeConfigError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, skills.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "skill config not found")
	case errors.Is(err, skills.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "config changed since expected_updated_at; re-read and retry")
	case errors.Is(err, skills.ErrSlugInvalid),
		errors.Is(err, skills.ErrSourceInvalid),
		errors.Is(err, skills.ErrConfigRequired),
		errors.Is(err, skills.ErrConfigTooLarge),
		errors.Is(err, skills.ErrConfigInvalid):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func toWireConfig(c *skills.Config) protocol.SkillConfig {
	return protocol.SkillConfig{
		Skill:      c.Skill,
		Config:     c.Config,
		Source:     c.Source,
		SyncStatus: c.SyncStatus,
		UpdatedAt:  c.UpdatedAt,
		AppliedAt:  c.AppliedAt,
	}
}
