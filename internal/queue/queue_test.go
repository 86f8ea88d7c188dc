package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BrainsyETH/clawsight/internal/protocol"
)

func ev(id string) protocol.Event {
	return protocol.Event{ID: id, Kind: "api_call", OccurredAt: time.Now().UTC()}
}

func ids(events []protocol.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func assertIDs(t *testing.T, got []protocol.Event, want ...string) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("got %v, want %v", g, want)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("got %v, want %v", g, want)
		}
	}
}

func TestEnqueueEvictsOldestOnOverflow(t *testing.T) {
	q := New(3, 2)
	for _, id := range []string{"A", "B", "C", "D"} {
		q.Enqueue(ev(id))
	}

	if q.Len() != 3 {
		t.Fatalf("len = %d, want 3", q.Len())
	}
	if q.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", q.Dropped())
	}
	assertIDs(t, q.Take(3), "B", "C", "D")
}

func TestRestorePreservesOrderAfterFailedFlush(t *testing.T) {
	q := New(3, 2)
	for _, id := range []string{"A", "B", "C", "D"} {
		q.Enqueue(ev(id))
	}

	batch := q.Take(2)
	assertIDs(t, batch, "B", "C")

	q.Restore(batch)
	assertIDs(t, q.Take(3), "B", "C", "D")
}

func TestRestoreTrimsPastBound(t *testing.T) {
	q := New(3, 2)
	for _, id := range []string{"A", "B", "C"} {
		q.Enqueue(ev(id))
	}
	batch := q.Take(2) // [A, B], queue holds [C]

	// Producers race ahead while the flush is in flight.
	q.Enqueue(ev("D"))
	q.Enqueue(ev("E"))

	q.Restore(batch)
	if q.Len() != 3 {
		t.Fatalf("len = %d, want 3 (bound must hold after restore)", q.Len())
	}
	if q.Dropped() != 2 {
		t.Errorf("dropped = %d, want 2", q.Dropped())
	}
	assertIDs(t, q.Take(3), "C", "D", "E")
}

func TestNotifyFiresAtBatchSize(t *testing.T) {
	q := New(10, 2)
	q.Enqueue(ev("A"))
	select {
	case <-q.Notify():
		t.Fatal("notified below batch size")
	default:
	}

	q.Enqueue(ev("B"))
	select {
	case <-q.Notify():
	default:
		t.Fatal("not notified at batch size")
	}
}

// flushSender records batches and fails on demand.
type flushSender struct {
	batches [][]protocol.Event
	fail    bool
}

func (s *flushSender) SyncEvents(ctx context.Context, events []protocol.Event) (protocol.SyncResult, error) {
	if s.fail {
		return protocol.SyncResult{}, errors.New("connection refused")
	}
	batch := make([]protocol.Event, len(events))
	copy(batch, events)
	s.batches = append(s.batches, batch)
	return protocol.SyncResult{Accepted: len(events)}, nil
}

func TestFlushTransmitsBatchAndRestoresOnFailure(t *testing.T) {
	q := New(3, 2)
	for _, id := range []string{"A", "B", "C", "D"} {
		q.Enqueue(ev(id))
	}
	// Queue now holds [B, C, D].

	sender := &flushSender{fail: true}
	f := NewFlusher(q, sender, 2, time.Minute, nil)

	if f.Flush(context.Background(), 2) {
		t.Fatal("failed flush reported success")
	}
	assertIDs(t, q.Take(3), "B", "C", "D")

	for _, id := range []string{"B", "C", "D"} {
		q.Enqueue(ev(id))
	}
	sender.fail = false
	if !f.Flush(context.Background(), 2) {
		t.Fatal("flush failed")
	}
	if len(sender.batches) != 1 {
		t.Fatalf("sent %d batches, want 1", len(sender.batches))
	}
	assertIDs(t, sender.batches[0], "B", "C")
	assertIDs(t, q.Take(1), "D")
}

func TestFlushEmptyQueueIsNoOp(t *testing.T) {
	q := New(3, 2)
	sender := &flushSender{}
	f := NewFlusher(q, sender, 2, time.Minute, nil)

	if !f.Flush(context.Background(), 2) {
		t.Fatal("empty flush reported failure")
	}
	if len(sender.batches) != 0 {
		t.Errorf("sent %d batches from an empty queue", len(sender.batches))
	}
}

func TestPausedFlusherShipsNothing(t *testing.T) {
	q := New(10, 2)
	q.Enqueue(ev("A"))
	q.Enqueue(ev("B"))

	sender := &flushSender{}
	f := NewFlusher(q, sender, 2, time.Minute, nil)
	f.Pause()

	if f.Flush(context.Background(), 2) {
		t.Fatal("paused flush reported progress")
	}
	if len(sender.batches) != 0 {
		t.Fatalf("paused flusher shipped %d batches", len(sender.batches))
	}
	if q.Len() != 2 {
		t.Fatalf("queue len = %d after paused flush, want 2 (events must stay queued)", q.Len())
	}

	// Events arriving while paused accumulate for later.
	q.Enqueue(ev("C"))

	f.Resume()
	if !f.Flush(context.Background(), q.Len()) {
		t.Fatal("flush failed after resume")
	}
	if len(sender.batches) != 1 {
		t.Fatalf("sent %d batches after resume, want 1", len(sender.batches))
	}
	assertIDs(t, sender.batches[0], "A", "B", "C")
}

func TestRunDrainsOnShutdown(t *testing.T) {
	q := New(10, 5)
	q.Enqueue(ev("A"))
	q.Enqueue(ev("B"))

	sender := &flushSender{}
	f := NewFlusher(q, sender, 5, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if q.Len() != 0 {
		t.Errorf("queue holds %d events after drain", q.Len())
	}
	if len(sender.batches) != 1 {
		t.Fatalf("sent %d batches, want 1", len(sender.batches))
	}
	assertIDs(t, sender.batches[0], "A", "B")
}

func TestTailerScan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	q := New(10, 5)
	tailer := NewTailer(path, q, nil)

	appendLine := func(line string) {
		t.Helper()
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		if _, err := f.WriteString(line + "\n"); err != nil {
			t.Fatal(err)
		}
	}

	appendLine(`{"kind":"api_call","skill":"weather"}`)
	appendLine(`not json`)
	appendLine(`{"skill":"missing-kind"}`)
	appendLine(`{"id":"keep","kind":"compute_minute"}`)

	if err := tailer.scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	events := q.Take(10)
	if len(events) != 2 {
		t.Fatalf("enqueued %d events, want 2 (malformed and kindless lines skipped)", len(events))
	}
	if events[0].Kind != "api_call" || events[0].Skill != "weather" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[0].ID == "" || events[0].OccurredAt.IsZero() {
		t.Error("tailer must fill missing id and timestamp")
	}
	if events[1].ID != "keep" {
		t.Errorf("existing id rewritten to %q", events[1].ID)
	}

	// A second scan from the stored offset sees nothing new.
	if err := tailer.scan(); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("rescan enqueued %d events, want 0", q.Len())
	}

	// Truncation resets the offset.
	if err := os.WriteFile(path, []byte(`{"kind":"sync"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := tailer.scan(); err != nil {
		t.Fatalf("scan after truncate: %v", err)
	}
	events = q.Take(10)
	if len(events) != 1 || events[0].Kind != "sync" {
		t.Fatalf("after truncate got %+v, want the single sync event", events)
	}
}

func TestTailerWaitsForCompleteLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	q := New(10, 5)
	tailer := NewTailer(path, q, nil)

	appendRaw := func(s string) {
		t.Helper()
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		if _, err := f.WriteString(s); err != nil {
			t.Fatal(err)
		}
	}

	// A producer's write lands mid-line: the fragment must not be consumed,
	// and the offset must not move past it.
	appendRaw(`{"id":"torn","kind":"api_`)
	if err := tailer.scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("enqueued %d events from a torn write, want 0", q.Len())
	}

	// The rest of the line arrives; exactly one event comes out. An offset
	// that advanced past the fragment would reset and reread the whole spool,
	// and the duplicate count would give it away.
	appendRaw(`call"}` + "\n")
	if err := tailer.scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	events := q.Take(10)
	if len(events) != 1 {
		t.Fatalf("enqueued %d events, want exactly 1 (no duplicates, no loss)", len(events))
	}
	if events[0].ID != "torn" || events[0].Kind != "api_call" {
		t.Errorf("event = %+v, want the reassembled line", events[0])
	}

	// Nothing left behind.
	if err := tailer.scan(); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("rescan enqueued %d events, want 0", q.Len())
	}
}
