package kvstore

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// entry is a stored value with an optional absolute expiry.
type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is the in-process Store implementation. Expired entries are dropped
// lazily on access and swept periodically by the janitor.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time // injectable clock for testing
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// StartJanitor sweeps expired entries every interval until ctx is canceled.
func (m *Memory) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
}

// Get returns the live value for key.
func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set writes key=value with the given ttl.
func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// Delete removes key under the store lock, reporting whether a live entry
// existed.
func (m *Memory) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	delete(m.entries, key)
	if e.expired(m.now()) {
		return false, nil
	}
	return true, nil
}

// Incr increments the counter at key, creating it with ttl when absent.
func (m *Memory) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if ok && e.expired(now) {
		ok = false
	}

	var n int64
	if ok {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			// A non-numeric value under this key is a programming error;
			// restart the counter rather than fail the request path.
			parsed = 0
		}
		n = parsed + 1
		e.value = strconv.FormatInt(n, 10)
		m.entries[key] = e
		return n, nil
	}

	n = 1
	ne := entry{value: "1"}
	if ttl > 0 {
		ne.expiresAt = now.Add(ttl)
	}
	m.entries[key] = ne
	return n, nil
}

// Len reports the number of entries including not-yet-swept expired ones.
// Used by tests and the metrics pool collector.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
