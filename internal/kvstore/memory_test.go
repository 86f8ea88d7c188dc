package kvstore

import (
	"context"
	"testing"
	"time"
)

// testClock is a manually advanced clock for TTL tests.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemory() (*Memory, *testClock) {
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemory()
	m.now = clock.now
	return m, clock
}

func TestMemorySetGet(t *testing.T) {
	m, _ := newTestMemory()
	ctx := context.Background()

	if err := m.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	val, found, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || val != "v" {
		t.Errorf("Get = %q, %v; want %q, true", val, found, "v")
	}

	if _, found, _ := m.Get(ctx, "missing"); found {
		t.Error("Get reported a missing key as found")
	}
}

func TestMemoryExpiry(t *testing.T) {
	m, clock := newTestMemory()
	ctx := context.Background()

	if err := m.Set(ctx, "k", "v", 5*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	clock.advance(4 * time.Minute)
	if _, found, _ := m.Get(ctx, "k"); !found {
		t.Fatal("key expired before its TTL")
	}

	clock.advance(2 * time.Minute)
	if _, found, _ := m.Get(ctx, "k"); found {
		t.Fatal("key alive past its TTL")
	}
}

func TestMemoryDeleteReportsExistence(t *testing.T) {
	m, clock := newTestMemory()
	ctx := context.Background()

	if err := m.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	existed, err := m.Delete(ctx, "k")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !existed {
		t.Error("first delete should report the key existed")
	}

	existed, err = m.Delete(ctx, "k")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if existed {
		t.Error("second delete should report the key missing")
	}

	// An expired entry counts as missing even before the janitor runs.
	if err := m.Set(ctx, "e", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	clock.advance(2 * time.Minute)
	if existed, _ := m.Delete(ctx, "e"); existed {
		t.Error("delete of an expired key should report it missing")
	}
}

func TestMemoryIncr(t *testing.T) {
	m, clock := newTestMemory()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := m.Incr(ctx, "counter", time.Minute)
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if n != want {
			t.Errorf("Incr = %d, want %d", n, want)
		}
	}

	// A new window starts once the key expires.
	clock.advance(2 * time.Minute)
	n, err := m.Incr(ctx, "counter", time.Minute)
	if err != nil {
		t.Fatalf("Incr: %v", err)
	}
	if n != 1 {
		t.Errorf("Incr after expiry = %d, want 1", n)
	}
}

func TestMemorySweep(t *testing.T) {
	m, clock := newTestMemory()
	ctx := context.Background()

	_ = m.Set(ctx, "a", "1", time.Minute)
	_ = m.Set(ctx, "b", "2", time.Hour)
	_ = m.Set(ctx, "c", "3", 0)

	clock.advance(5 * time.Minute)
	m.sweep()

	if m.Len() != 2 {
		t.Errorf("after sweep Len = %d, want 2", m.Len())
	}
	if _, found, _ := m.Get(ctx, "b"); !found {
		t.Error("sweep removed a live key")
	}
	if _, found, _ := m.Get(ctx, "c"); !found {
		t.Error("sweep removed a key without TTL")
	}
}
