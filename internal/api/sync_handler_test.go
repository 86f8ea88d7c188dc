package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BrainsyETH/clawsight/internal/account"
	"github.com/BrainsyETH/clawsight/internal/auth"
	"github.com/BrainsyETH/clawsight/internal/catalog"
	"github.com/BrainsyETH/clawsight/internal/gate"
	"github.com/BrainsyETH/clawsight/internal/ledger"
	"github.com/BrainsyETH/clawsight/internal/payment"
	"github.com/BrainsyETH/clawsight/internal/protocol"
)

const testCollectionAddr = "0x9aD5F1c2b3E4a5D6c7B8a9F0e1D2c3B4a5968778"

// The endpoint tests run against a real gate over in-memory stores, so the
// responses come out of the same decision code the server runs.

type stubCaps struct{ status account.Status }

func (s *stubCaps) Check(ctx context.Context, accountID string) (account.Status, error) {
	return s.status, nil
}

type stubRecorder struct{ entries []ledger.Entry }

func (s *stubRecorder) Record(ctx context.Context, e ledger.Entry) error {
	s.entries = append(s.entries, e)
	return nil
}

func (s *stubRecorder) RecordBatch(ctx context.Context, entries []ledger.Entry) error {
	s.entries = append(s.entries, entries...)
	return nil
}

type stubVerifier struct{}

func (stubVerifier) Verify(ctx context.Context, proof *payment.Proof, expectedPayer, expectedRecipient string, minCostUSDC float64) (*payment.Result, error) {
	return &payment.Result{}, nil
}

// stubKeys is an in-memory idempotency store tracking claims and releases.
type stubKeys struct {
	claimed  map[string]bool
	released []string
}

func newStubKeys() *stubKeys { return &stubKeys{claimed: make(map[string]bool)} }

func (s *stubKeys) Claim(ctx context.Context, accountID, key string) (bool, error) {
	k := accountID + "/" + key
	if s.claimed[k] {
		return false, nil
	}
	s.claimed[k] = true
	return true, nil
}

func (s *stubKeys) Release(ctx context.Context, accountID, key string) error {
	delete(s.claimed, accountID+"/"+key)
	s.released = append(s.released, key)
	return nil
}

func underCap() account.Status {
	return account.Status{Allowed: true, DailySpent: 0.01, MonthlySpent: 0.5, DailyCap: 1.0, MonthlyCap: 20.0}
}

func overCap() account.Status {
	return account.Status{Allowed: false, Reason: "daily_cap", DailySpent: 1.0, MonthlySpent: 5.0, DailyCap: 1.0, MonthlyCap: 20.0}
}

func authedRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	return req.WithContext(auth.ContextWithAccount(req.Context(), &auth.Account{
		ID:            "acc-1",
		Name:          "demo-agent",
		WalletAddress: "0x1234567890abcdef1234567890abcdef12345678",
	}))
}

func syncEvents() []protocol.Event {
	when := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	return []protocol.Event{
		{ID: "ev-1", Kind: catalog.KindAPICall, Skill: "weather", OccurredAt: when},
		{ID: "ev-2", Kind: catalog.KindComputeMinute, OccurredAt: when.Add(time.Second)},
	}
}

func TestSyncEvents_ChargesBatchOnce(t *testing.T) {
	caps := &stubCaps{status: underCap()}
	rec := &stubRecorder{}
	keys := newStubKeys()
	h := newSyncHandler(gate.New(caps, rec, stubVerifier{}, testCollectionAddr, nil), keys, nil)

	req := authedRequest(t, http.MethodPost, "/api/v1/events/sync", protocol.SyncRequest{Events: syncEvents()})
	req.Header.Set(protocol.HeaderIdempotencyKey, "key-1")
	w := httptest.NewRecorder()
	h.SyncEvents(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var res protocol.SyncResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Accepted != 2 || res.Dropped != 0 || res.Duplicate {
		t.Errorf("result = %+v, want 2 accepted", res)
	}

	// One sync charge, then the member events, each at catalog cost.
	if len(rec.entries) != 3 {
		t.Fatalf("recorded %d entries, want 3", len(rec.entries))
	}
	if rec.entries[0].Kind != catalog.KindSync || rec.entries[0].Cost != 0.0005 {
		t.Errorf("first entry = %+v, want the sync charge", rec.entries[0])
	}
	if rec.entries[1].Kind != catalog.KindAPICall || rec.entries[2].Kind != catalog.KindComputeMinute {
		t.Errorf("member entries = %+v, %+v", rec.entries[1], rec.entries[2])
	}
	if len(keys.released) != 0 {
		t.Errorf("key released on the success path: %v", keys.released)
	}
}

func TestSyncEvents_DuplicateKeyAcceptsNothing(t *testing.T) {
	caps := &stubCaps{status: underCap()}
	rec := &stubRecorder{}
	keys := newStubKeys()
	h := newSyncHandler(gate.New(caps, rec, stubVerifier{}, testCollectionAddr, nil), keys, nil)

	send := func() (*httptest.ResponseRecorder, protocol.SyncResult) {
		t.Helper()
		req := authedRequest(t, http.MethodPost, "/api/v1/events/sync", protocol.SyncRequest{Events: syncEvents()})
		req.Header.Set(protocol.HeaderIdempotencyKey, "key-1")
		w := httptest.NewRecorder()
		h.SyncEvents(w, req)
		var res protocol.SyncResult
		if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
			t.Fatal(err)
		}
		return w, res
	}

	if _, res := send(); res.Accepted != 2 {
		t.Fatalf("first send accepted %d, want 2", res.Accepted)
	}
	recorded := len(rec.entries)

	// The retry of a batch that already went through changes nothing: no new
	// ledger rows, not even the sync charge.
	w, res := send()
	if w.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", w.Code)
	}
	if !res.Duplicate || res.Accepted != 0 {
		t.Errorf("duplicate result = %+v, want {accepted:0 duplicate:true}", res)
	}
	if len(rec.entries) != recorded {
		t.Errorf("duplicate added %d ledger entries", len(rec.entries)-recorded)
	}
}

func TestSyncEvents_BlockedBatchReleasesKey(t *testing.T) {
	caps := &stubCaps{status: overCap()}
	rec := &stubRecorder{}
	keys := newStubKeys()
	h := newSyncHandler(gate.New(caps, rec, stubVerifier{}, testCollectionAddr, nil), keys, nil)

	req := authedRequest(t, http.MethodPost, "/api/v1/events/sync", protocol.SyncRequest{Events: syncEvents()})
	req.Header.Set(protocol.HeaderIdempotencyKey, "key-1")
	w := httptest.NewRecorder()
	h.SyncEvents(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", w.Code)
	}
	if w.Header().Get(protocol.HeaderPaymentRequired) == "" {
		t.Error("402 missing the payment directive header")
	}
	if len(rec.entries) != 0 {
		t.Errorf("blocked batch recorded %d entries", len(rec.entries))
	}

	// The key must be free again so the client's pay-and-retry of the same
	// batch is not mistaken for a duplicate.
	if len(keys.released) != 1 || keys.released[0] != "key-1" {
		t.Fatalf("released keys = %v, want [key-1]", keys.released)
	}
	fresh, err := keys.Claim(req.Context(), "acc-1", "key-1")
	if err != nil || !fresh {
		t.Errorf("key not claimable after release: fresh=%v err=%v", fresh, err)
	}
}

func TestHeartbeat_BilledUnderCap(t *testing.T) {
	caps := &stubCaps{status: underCap()}
	rec := &stubRecorder{}
	h := newHeartbeatHandler(gate.New(caps, rec, stubVerifier{}, testCollectionAddr, nil), caps, nil)

	req := authedRequest(t, http.MethodPost, "/api/v1/heartbeat", protocol.HeartbeatRequest{Status: "working"})
	w := httptest.NewRecorder()
	h.Heartbeat(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp protocol.HeartbeatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.CapExceeded || resp.Warning != "" {
		t.Errorf("response = %+v, want under cap", resp)
	}
	if len(rec.entries) != 1 {
		t.Fatalf("recorded %d entries, want the heartbeat charge", len(rec.entries))
	}
	if rec.entries[0].Kind != catalog.KindHeartbeat || rec.entries[0].Cost != 0.0001 {
		t.Errorf("entry = %+v", rec.entries[0])
	}
}

func TestHeartbeat_FreeOverCap(t *testing.T) {
	caps := &stubCaps{status: overCap()}
	rec := &stubRecorder{}
	h := newHeartbeatHandler(gate.New(caps, rec, stubVerifier{}, testCollectionAddr, nil), caps, nil)

	req := authedRequest(t, http.MethodPost, "/api/v1/heartbeat", protocol.HeartbeatRequest{Status: "ok"})
	w := httptest.NewRecorder()
	h.Heartbeat(w, req)

	// The capped agent still gets its answer, and gets it for free: the ping
	// exists to deliver the cap verdict, not to deepen the overage.
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even over cap", w.Code)
	}
	var resp protocol.HeartbeatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.CapExceeded || resp.Warning == "" {
		t.Errorf("response = %+v, want cap_exceeded with a warning", resp)
	}
	if len(rec.entries) != 0 {
		t.Errorf("over-cap heartbeat recorded %d entries, want 0", len(rec.entries))
	}
}
