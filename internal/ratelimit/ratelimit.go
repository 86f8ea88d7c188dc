// Package ratelimit enforces fixed-window request limits keyed by arbitrary
// string identifiers (account ID, client IP). Windows live in a kvstore.Store
// so limits hold across server restarts and replicas when backed by Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/BrainsyETH/clawsight/internal/kvstore"
)

// Result describes the state of a rate-limit window after one request.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests in wall-clock-aligned windows. Each window is a
// kvstore counter keyed by the caller identity and the window start, so
// concurrent replicas sharing a store share the budget.
type Limiter struct {
	kv     kvstore.Store
	limit  int
	window time.Duration
	now    func() time.Time // injectable clock for testing
}

// New creates a Limiter that allows limit requests per window.
func New(kv kvstore.Store, limit int, window time.Duration) *Limiter {
	return &Limiter{
		kv:     kv,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// effectiveLimit returns customLimit if positive, otherwise the default.
func (l *Limiter) effectiveLimit(customLimit int) int {
	if customLimit > 0 {
		return customLimit
	}
	return l.limit
}

// Allow consumes one request from key's current window. If customLimit is
// positive it overrides the default limit for this key. The counter TTL runs
// slightly past the window edge so a slow clock never resurrects a stale
// window.
func (l *Limiter) Allow(ctx context.Context, key string, customLimit int) (Result, error) {
	limit := l.effectiveLimit(customLimit)
	windowStart := l.now().Truncate(l.window)
	counterKey := fmt.Sprintf("rl:%s:%d", key, windowStart.Unix())

	count, err := l.kv.Incr(ctx, counterKey, l.window+time.Second)
	if err != nil {
		return Result{}, fmt.Errorf("incrementing rate window: %w", err)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   windowStart.Add(l.window),
	}, nil
}
