package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BrainsyETH/clawsight/internal/auth"
	"github.com/BrainsyETH/clawsight/internal/catalog"
	"github.com/BrainsyETH/clawsight/internal/gate"
	"github.com/BrainsyETH/clawsight/internal/metrics"
	"github.com/BrainsyETH/clawsight/internal/protocol"
)

// keyClaimer is the idempotency slice the sync endpoint uses.
type keyClaimer interface {
	Claim(ctx context.Context, accountID, key string) (bool, error)
	Release(ctx context.Context, accountID, key string) error
}

// syncHandler accepts batched agent events and turns them into ledger rows.
type syncHandler struct {
	gate    *gate.Gate
	keys    keyClaimer
	metrics *metrics.Metrics
}

func newSyncHandler(g *gate.Gate, keys keyClaimer, m *metrics.Metrics) *syncHandler {
	return &syncHandler{gate: g, keys: keys, metrics: m}
}

// SyncEvents handles POST /api/v1/events/sync.
//
// The batch itself is one gated "sync" operation (the path that can answer
// 402); each member event is then recorded at its catalog cost without a
// second cap check, since it describes work the agent already performed.
// Events with unknown kinds or oversized data are dropped and counted, never
// failing the whole batch.
func (h *syncHandler) SyncEvents(w http.ResponseWriter, r *http.Request) {
	acct := auth.AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req protocol.SyncRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "events must not be empty")
		return
	}
	if len(req.Events) > protocol.MaxSyncEvents {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed",
			"batch exceeds "+strconv.Itoa(protocol.MaxSyncEvents)+" events")
		return
	}

	// Claim the idempotency key before any billing side effect. A retry of a
	// batch that already went through must change nothing, not even the sync
	// charge.
	idemKey := r.Header.Get(protocol.HeaderIdempotencyKey)
	if idemKey != "" && h.keys != nil {
		fresh, err := h.keys.Claim(r.Context(), acct.ID, idemKey)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		if !fresh {
			writeJSON(w, http.StatusOK, protocol.SyncResult{Duplicate: true})
			return
		}
	}

	_, err := h.gate.Authorize(r.Context(), gate.Request{
		AccountID:   acct.ID,
		Wallet:      acct.WalletAddress,
		Kind:        catalog.KindSync,
		Metadata:    map[string]string{"batch_size": strconv.Itoa(len(req.Events))},
		ProofHeader: r.Header.Get(protocol.HeaderPaymentProof),
	})
	if err != nil {
		// The batch was not applied; free the key so the client's retry
		// (typically the same request with a payment proof) is not mistaken
		// for a duplicate.
		h.releaseKey(r, acct.ID, idemKey)
		writeGateError(w, err)
		return
	}

	reqs, oversized := h.eventRequests(acct.ID, req.Events)
	recorded, unknown, err := h.gate.RecordBatch(r.Context(), reqs)
	if err != nil {
		h.releaseKey(r, acct.ID, idemKey)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	dropped := oversized + unknown
	if h.metrics != nil {
		h.metrics.IncSyncEvents("accepted", recorded)
		h.metrics.IncSyncEvents("dropped", dropped)
	}
	if dropped > 0 {
		slog.Info("sync batch dropped events",
			"account_id", acct.ID, "oversized", oversized, "unknown_kind", unknown)
	}

	writeJSON(w, http.StatusOK, protocol.SyncResult{Accepted: recorded, Dropped: dropped})
}

// eventRequests converts wire events into gate requests, filtering out events
// whose data payload exceeds the protocol bound.
func (h *syncHandler) eventRequests(accountID string, events []protocol.Event) (reqs []gate.Request, oversized int) {
	reqs = make([]gate.Request, 0, len(events))
	for _, e := range events {
		if len(e.Data) > protocol.MaxEventDataBytes {
			oversized++
			continue
		}

		var meta map[string]string
		if e.ID != "" || len(e.Data) > 0 {
			meta = make(map[string]string, 2)
			if e.ID != "" {
				meta["event_id"] = e.ID
			}
			if len(e.Data) > 0 {
				meta["data"] = string(e.Data)
			}
		}

		reqs = append(reqs, gate.Request{
			AccountID:  accountID,
			Kind:       e.Kind,
			Skill:      e.Skill,
			SessionID:  e.SessionID,
			Metadata:   meta,
			OccurredAt: e.OccurredAt,
		})
	}
	return reqs, oversized
}

// releaseKey is the best-effort unclaim on failure paths. A failed release
// only costs the client one lost retry, so it is logged and swallowed.
func (h *syncHandler) releaseKey(r *http.Request, accountID, key string) {
	if key == "" || h.keys == nil {
		return
	}
	if err := h.keys.Release(r.Context(), accountID, key); err != nil {
		slog.Warn("releasing idempotency key failed",
			"account_id", accountID, "request_id", RequestIDFromContext(r.Context()), "error", err)
	}
}
