package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BrainsyETH/clawsight/internal/account"
	"github.com/BrainsyETH/clawsight/internal/auth"
	"github.com/BrainsyETH/clawsight/internal/metrics"
	"github.com/BrainsyETH/clawsight/internal/nonce"
	"github.com/ethereum/go-ethereum/common"
)

// walletAccounts is the account lookup slice wallet sign-in uses.
type walletAccounts interface {
	GetByWallet(ctx context.Context, address string) (*account.Account, error)
}

// authHandler implements wallet sign-in: a challenge nonce, an EIP-191
// signature over it, and a session token on success.
type authHandler struct {
	accounts walletAccounts
	nonces   *nonce.Issuer
	sessions *auth.SessionStore
	metrics  *metrics.Metrics
}

func newAuthHandler(accounts walletAccounts, nonces *nonce.Issuer, sessions *auth.SessionStore, m *metrics.Metrics) *authHandler {
	return &authHandler{accounts: accounts, nonces: nonces, sessions: sessions, metrics: m}
}

// Nonce handles POST /api/v1/auth/nonce. The response includes the exact
// message to sign so wallets cannot drift from the server's construction.
func (h *authHandler) Nonce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if !common.IsHexAddress(req.Address) {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "address must be a 0x-prefixed hex address")
		return
	}

	token, err := h.nonces.Issue(r.Context(), req.Address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"nonce":   token,
		"message": auth.SignInMessage(token),
	})
}

// Verify handles POST /api/v1/auth/verify: consume the nonce, recover the
// signer from the signature, match it against the claimed address, and mint
// a session for the account registered to that wallet.
func (h *authHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address   string `json:"address"`
		Nonce     string `json:"nonce"`
		Signature string `json:"signature"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if !common.IsHexAddress(req.Address) || req.Nonce == "" || req.Signature == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "address, nonce, and signature are required")
		return
	}

	// Consuming first makes the nonce single-use even when the signature
	// check fails: a failed attempt burns it.
	ok, err := h.nonces.Consume(r.Context(), req.Address, req.Nonce)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	if !ok {
		h.countAuth(false)
		writeError(w, http.StatusUnauthorized, "invalid_nonce", "nonce is unknown, expired, or already used")
		return
	}

	signer, err := auth.RecoverSigner(auth.SignInMessage(req.Nonce), req.Signature)
	if err != nil || signer != strings.ToLower(req.Address) {
		h.countAuth(false)
		writeError(w, http.StatusUnauthorized, "invalid_signature", "signature does not match the claimed address")
		return
	}

	acct, err := h.accounts.GetByWallet(r.Context(), req.Address)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			h.countAuth(false)
			writeError(w, http.StatusNotFound, "account_not_found", "no account is registered to this wallet")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	token, err := h.sessions.Create(r.Context(), acct.ID, signer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	h.countAuth(true)
	auditLog(r, "auth.wallet_signin", "account", acct.ID, "wallet", signer)
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"account": map[string]string{
			"id":             acct.ID,
			"name":           acct.Name,
			"wallet_address": acct.WalletAddress,
		},
	})
}

// Me handles GET /api/v1/dashboard/auth/me for an established session.
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	s := auth.SessionFromContext(r.Context())
	if s == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account_id":     s.AccountID,
		"wallet_address": s.WalletAddress,
	})
}

// Logout handles POST /api/v1/dashboard/auth/logout, revoking the presented
// session token.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := extractBearerToken(r)
	if token != "" {
		if err := h.sessions.Revoke(r.Context(), token); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *authHandler) countAuth(success bool) {
	if h.metrics == nil {
		return
	}
	if success {
		h.metrics.IncAuthSuccess("wallet")
	} else {
		h.metrics.IncAuthFailure("wallet")
	}
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
