// Package kvstore provides the expiring key-value capability behind nonces,
// sign-in sessions, and rate-limit counters. The control plane is handed a
// Store at startup; single-instance deployments run on the in-memory
// implementation and multi-instance deployments swap in Redis without any
// call-site changes.
package kvstore

import (
	"context"
	"time"
)

// Store is a key-value store with per-key TTLs.
type Store interface {
	// Get returns the value for key. found is false for missing or expired
	// keys.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set writes key=value, replacing any existing entry. A positive ttl
	// expires the key after that duration; a zero ttl keeps it until deleted.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key and reports whether it existed. The check and the
	// removal are a single atomic step, which is what makes single-use
	// tokens safe under concurrent redemption.
	Delete(ctx context.Context, key string) (existed bool, err error)

	// Incr increments the integer counter at key and returns the new value.
	// When the increment creates the key, ttl bounds its lifetime; an
	// existing key keeps its original expiry, giving fixed-window semantics.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
