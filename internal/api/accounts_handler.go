package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/BrainsyETH/clawsight/internal/account"
	"github.com/BrainsyETH/clawsight/internal/auth"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
)

// accountStore is the account slice the admin endpoints use.
type accountStore interface {
	Create(ctx context.Context, in account.CreateAccountInput) (*account.Account, error)
	GetByID(ctx context.Context, id string) (*account.Account, error)
	List(ctx context.Context, params account.ListParams) ([]*account.Account, string, error)
	UpdateCaps(ctx context.Context, id string, daily, monthly float64) (*account.Account, error)
	Delete(ctx context.Context, id string) error
}

// accountsHandler groups the operator-facing account management endpoints.
type accountsHandler struct {
	store  accountStore
	maxCap float64
}

func newAccountsHandler(store accountStore, maxCap float64) *accountsHandler {
	return &accountsHandler{store: store, maxCap: maxCap}
}

type createAccountRequest struct {
	Name          string  `json:"name"`
	WalletAddress string  `json:"wallet_address"`
	DailyCap      float64 `json:"daily_cap"`
	MonthlyCap    float64 `json:"monthly_cap"`
}

// CreateAccount handles POST /api/v1/admin/accounts. The plaintext API key
// appears in this response and nowhere else; only its hash is stored.
func (h *accountsHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 128 {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "name is required and must be 128 characters or less")
		return
	}
	if req.WalletAddress != "" && !common.IsHexAddress(req.WalletAddress) {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "wallet_address must be a 0x-prefixed hex address")
		return
	}
	if req.DailyCap == 0 {
		req.DailyCap = account.DefaultDailyCap
	}
	if req.MonthlyCap == 0 {
		req.MonthlyCap = account.DefaultMonthlyCap
	}
	if err := account.ValidateCaps(req.DailyCap, req.MonthlyCap, h.maxCap); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}

	key, plaintext, err := auth.GenerateAPIKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	a, err := h.store.Create(r.Context(), account.CreateAccountInput{
		Name:          req.Name,
		APIKeyHash:    key.Hash,
		APIKeyPrefix:  key.Prefix,
		WalletAddress: strings.ToLower(req.WalletAddress),
		DailyCap:      req.DailyCap,
		MonthlyCap:    req.MonthlyCap,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	auditLog(r, "account.create", "account", a.ID, "name", a.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"account": a,
		"api_key": plaintext,
	})
}

// ListAccounts handles GET /api/v1/admin/accounts with cursor pagination.
func (h *accountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	params := account.ListParams{Cursor: r.URL.Query().Get("cursor")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid_parameter", "limit must be a positive integer")
			return
		}
		if limit > 100 {
			limit = 100
		}
		params.Limit = limit
	}

	accounts, next, err := h.store.List(r.Context(), params)
	if err != nil {
		if strings.Contains(err.Error(), "invalid cursor") {
			writeError(w, http.StatusBadRequest, "invalid_parameter", "invalid cursor")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accounts":    accounts,
		"next_cursor": next,
	})
}

// GetAccount handles GET /api/v1/admin/accounts/{id}.
func (h *accountsHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type updateCapsRequest struct {
	DailyCap   float64 `json:"daily_cap"`
	MonthlyCap float64 `json:"monthly_cap"`
}

// UpdateCaps handles PUT /api/v1/admin/accounts/{id}/caps within the bounded
// range.
func (h *accountsHandler) UpdateCaps(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateCapsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if err := account.ValidateCaps(req.DailyCap, req.MonthlyCap, h.maxCap); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}

	a, err := h.store.UpdateCaps(r.Context(), id, req.DailyCap, req.MonthlyCap)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	auditLog(r, "account.update_caps", "account", id,
		"daily_cap", req.DailyCap, "monthly_cap", req.MonthlyCap)
	writeJSON(w, http.StatusOK, a)
}

// DeleteAccount handles DELETE /api/v1/admin/accounts/{id}.
func (h *accountsHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	auditLog(r, "account.delete", "account", id)
	w.WriteHeader(http.StatusNoContent)
}
