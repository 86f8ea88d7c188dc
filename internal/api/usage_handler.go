package api

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/BrainsyETH/clawsight/internal/auth"
	"github.com/BrainsyETH/clawsight/internal/catalog"
	"github.com/BrainsyETH/clawsight/internal/gate"
	"github.com/BrainsyETH/clawsight/internal/ledger"
	"github.com/BrainsyETH/clawsight/internal/protocol"
)

// exportMaxRows caps one CSV export; anything larger should be pulled from
// the database directly.
const exportMaxRows = 10000

// ledgerReader is the ledger slice the usage endpoints read.
type ledgerReader interface {
	ListEntries(ctx context.Context, q ledger.EntryQuery) ([]*ledger.Entry, string, error)
	KindTotals(ctx context.Context, from, to time.Time) ([]ledger.KindTotal, error)
	SummaryRange(ctx context.Context, accountID string, from, to time.Time) ([]ledger.DaySummary, error)
}

// usageHandler serves spend snapshots and ledger queries.
type usageHandler struct {
	caps    gate.CapChecker
	entries ledgerReader
	gate    *gate.Gate
	now     func() time.Time
}

func newUsageHandler(caps gate.CapChecker, entries ledgerReader, g *gate.Gate) *usageHandler {
	return &usageHandler{caps: caps, entries: entries, gate: g, now: time.Now}
}

// GetUsage handles GET /api/v1/usage: the account's current spend against its
// caps. Reads are free but still leave a ledger row.
func (h *usageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	acct := auth.AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	if _, err := h.gate.Authorize(r.Context(), gate.Request{
		AccountID: acct.ID,
		Wallet:    acct.WalletAddress,
		Kind:      catalog.KindConfigRead,
		Metadata:  map[string]string{"endpoint": "usage"},
	}); err != nil {
		writeGateError(w, err)
		return
	}

	status, err := h.caps.Check(r.Context(), acct.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, protocol.UsageSnapshot{
		DailySpend:   status.DailySpent,
		MonthlySpend: status.MonthlySpent,
		DailyCap:     status.DailyCap,
		MonthlyCap:   status.MonthlyCap,
	})
}

// ListEntries handles GET /api/v1/usage/entries with cursor pagination and
// kind/skill/time filters.
func (h *usageHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	acct := auth.AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	q, err := parseEntryQuery(r, 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	q.AccountID = acct.ID

	entries, next, err := h.entries.ListEntries(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries":     entries,
		"next_cursor": next,
	})
}

// ExportEntries handles GET /api/v1/usage/export, streaming the account's
// ledger as CSV. Exports are a paid operation, so the gate runs first and can
// answer 402.
func (h *usageHandler) ExportEntries(w http.ResponseWriter, r *http.Request) {
	acct := auth.AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	q, err := parseEntryQuery(r, 1000)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	q.AccountID = acct.ID
	q.Cursor = ""
	q.Limit = 1000

	if _, err := h.gate.Authorize(r.Context(), gate.Request{
		AccountID:   acct.ID,
		Wallet:      acct.WalletAddress,
		Kind:        catalog.KindExport,
		ProofHeader: r.Header.Get(protocol.HeaderPaymentProof),
	}); err != nil {
		writeGateError(w, err)
		return
	}

	auditLog(r, "usage.export", "ledger", acct.ID)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		`attachment; filename="usage-`+h.now().UTC().Format("2006-01-02")+`.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "occurred_at", "kind", "cost", "skill", "session_id"})

	written := 0
	for written < exportMaxRows {
		entries, next, err := h.entries.ListEntries(r.Context(), q)
		if err != nil {
			// Headers are already sent; a truncated file is the best we can do.
			break
		}
		for _, e := range entries {
			if written >= exportMaxRows {
				break
			}
			_ = cw.Write([]string{
				e.ID,
				e.OccurredAt.UTC().Format(time.RFC3339Nano),
				e.Kind,
				strconv.FormatFloat(e.Cost, 'f', -1, 64),
				e.Skill,
				e.SessionID,
			})
			written++
		}
		if next == "" {
			break
		}
		q.Cursor = next
	}
	cw.Flush()
}

// AdminOverview handles GET /api/v1/admin/usage: cross-account totals by
// kind over a time range, defaulting to the current month. With account_id
// set, the account's per-day summaries are included.
func (h *usageHandler) AdminOverview(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	from, to, err := parseTimeRange(r, ledger.MonthStart(now), now)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	totals, err := h.entries.KindTotals(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	resp := map[string]any{
		"from":  from,
		"to":    to,
		"kinds": totals,
	}

	if accountID := r.URL.Query().Get("account_id"); accountID != "" {
		days, err := h.entries.SummaryRange(r.Context(), accountID, from, to)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		resp["account_id"] = accountID
		resp["days"] = days
	}

	writeJSON(w, http.StatusOK, resp)
}

// AdminListEntries handles GET /api/v1/admin/usage/entries: like the account
// endpoint but across accounts, with an optional account_id filter.
func (h *usageHandler) AdminListEntries(w http.ResponseWriter, r *http.Request) {
	q, err := parseEntryQuery(r, 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}
	q.AccountID = r.URL.Query().Get("account_id")

	entries, next, err := h.entries.ListEntries(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries":     entries,
		"next_cursor": next,
	})
}

// parseEntryQuery reads the shared filter parameters for entry listings.
// Account scoping is applied by the caller, never taken from the query string.
func parseEntryQuery(r *http.Request, maxLimit int) (ledger.EntryQuery, error) {
	var q ledger.EntryQuery
	params := r.URL.Query()

	q.Kind = params.Get("kind")
	q.Skill = params.Get("skill")
	q.Cursor = params.Get("cursor")

	var err error
	if q.From, err = parseTimeParam(params.Get("from")); err != nil {
		return q, fmt.Errorf("invalid from: %w", err)
	}
	if q.To, err = parseTimeParam(params.Get("to")); err != nil {
		return q, fmt.Errorf("invalid to: %w", err)
	}

	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return q, fmt.Errorf("invalid limit %q", raw)
		}
		if limit > maxLimit {
			limit = maxLimit
		}
		q.Limit = limit
	}
	return q, nil
}

// parseTimeRange reads from/to query parameters with the given defaults.
func parseTimeRange(r *http.Request, defaultFrom, defaultTo time.Time) (time.Time, time.Time, error) {
	from, err := parseTimeParam(r.URL.Query().Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from: %w", err)
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to: %w", err)
	}
	if from.IsZero() {
		from = defaultFrom
	}
	if to.IsZero() {
		to = defaultTo
	}
	return from, to, nil
}

// parseTimeParam parses a date query param in YYYY-MM-DD or RFC3339 format.
// An empty string returns the zero time with no error.
func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}
