package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BrainsyETH/clawsight/internal/account"
	"github.com/BrainsyETH/clawsight/internal/auth"
	"github.com/BrainsyETH/clawsight/internal/catalog"
	"github.com/BrainsyETH/clawsight/internal/gate"
	"github.com/BrainsyETH/clawsight/internal/metrics"
	"github.com/BrainsyETH/clawsight/internal/protocol"
)

// heartbeatHandler answers agent liveness pings with the spend snapshot the
// agent uses to pause itself before the server starts blocking.
type heartbeatHandler struct {
	gate    *gate.Gate
	caps    gate.CapChecker
	metrics *metrics.Metrics
}

func newHeartbeatHandler(g *gate.Gate, caps gate.CapChecker, m *metrics.Metrics) *heartbeatHandler {
	return &heartbeatHandler{gate: g, caps: caps, metrics: m}
}

// Heartbeat handles POST /api/v1/heartbeat.
//
// A heartbeat under cap is billed at its catalog cost. A heartbeat over cap
// charges nothing but still returns the snapshot: the whole point of the ping
// is to tell a capped agent it is capped.
func (h *heartbeatHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	acct := auth.AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req protocol.HeartbeatRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if len(req.Status) > 64 {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "status must be 64 characters or less")
		return
	}
	if req.Status == "" {
		req.Status = "ok"
	}

	status, err := h.caps.Check(r.Context(), acct.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	if status.Allowed {
		_, err := h.gate.Record(r.Context(), gate.Request{
			AccountID: acct.ID,
			Kind:      catalog.KindHeartbeat,
			SessionID: req.SessionID,
			Metadata:  map[string]string{"status": req.Status},
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
	}

	resp := protocol.HeartbeatResponse{
		DailySpend:   status.DailySpent,
		MonthlySpend: status.MonthlySpent,
		DailyCap:     status.DailyCap,
		MonthlyCap:   status.MonthlyCap,
		CapExceeded:  !status.Allowed,
	}
	if !status.Allowed {
		resp.Warning = capWarning(status)
		slog.Warn("heartbeat from capped account",
			"account_id", acct.ID, "reason", status.Reason,
			"daily_spend", status.DailySpent, "monthly_spend", status.MonthlySpent)
	}

	if h.metrics != nil {
		if resp.CapExceeded {
			h.metrics.IncHeartbeat("cap_exceeded")
		} else {
			h.metrics.IncHeartbeat("ok")
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// capWarning renders the blocking cap as a sentence the agent can surface
// directly to its operator.
func capWarning(status account.Status) string {
	if status.Reason == "monthly_cap" {
		return fmt.Sprintf("monthly spend cap reached: %.4f of %.4f USDC spent this month; paid operations are paused",
			status.MonthlySpent, status.MonthlyCap)
	}
	return fmt.Sprintf("daily spend cap reached: %.4f of %.4f USDC spent today; paid operations are paused",
		status.DailySpent, status.DailyCap)
}
