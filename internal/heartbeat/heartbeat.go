// Package heartbeat runs the agent's periodic liveness ping. Each ping
// carries the current status label and brings back the server's spend
// snapshot, which is how the agent learns to pause paid work before the
// control plane starts refusing it.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BrainsyETH/clawsight/internal/protocol"
)

// Scheduling bounds. The interval floor keeps heartbeat billing itself from
// running away; the delay ceiling keeps a dead server polled at a trickle
// instead of hammered.
const (
	MinInterval = 30 * time.Second
	MaxDelay    = 5 * time.Minute
)

// Sender performs one heartbeat exchange. *transport.Client satisfies it.
type Sender interface {
	Heartbeat(ctx context.Context, req protocol.HeartbeatRequest) (protocol.HeartbeatResponse, error)
}

// CapStateFunc receives the spend snapshot when the server's cap verdict
// changes: exceeded=true when the account crosses over cap, exceeded=false
// when a later heartbeat reports it back under. It fires on transitions only,
// so wiring it to pause/resume switches does not thrash them every interval.
type CapStateFunc func(exceeded bool, resp protocol.HeartbeatResponse)

// Loop sends heartbeats on the base interval, backing off exponentially
// across consecutive failures and snapping back to the base interval on the
// first success.
type Loop struct {
	sender     Sender
	interval   time.Duration
	onCapState CapStateFunc
	logger     *slog.Logger

	mu          sync.Mutex
	status      string
	sessionID   string
	failures    int
	capExceeded bool

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a loop. Intervals below the minimum are clamped up to it;
// onCapState may be nil.
func New(sender Sender, interval time.Duration, onCapState CapStateFunc, logger *slog.Logger) *Loop {
	if interval < MinInterval {
		interval = MinInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		sender:     sender,
		interval:   interval,
		onCapState: onCapState,
		logger:     logger,
		status:     "ok",
		sleep:      sleepCtx,
	}
}

// SetStatus updates the label sent with subsequent heartbeats.
func (l *Loop) SetStatus(status string) {
	l.mu.Lock()
	l.status = status
	l.mu.Unlock()
}

// SetSessionID tags subsequent heartbeats with the active session.
func (l *Loop) SetSessionID(id string) {
	l.mu.Lock()
	l.sessionID = id
	l.mu.Unlock()
}

// Run sends heartbeats until ctx is cancelled, starting with an immediate
// send.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.SendOnce(ctx)
		if err := l.sleep(ctx, l.NextDelay()); err != nil {
			return err
		}
	}
}

// SendOnce performs a single heartbeat exchange and updates the failure
// counter.
func (l *Loop) SendOnce(ctx context.Context) {
	l.mu.Lock()
	req := protocol.HeartbeatRequest{Status: l.status, SessionID: l.sessionID}
	l.mu.Unlock()

	resp, err := l.sender.Heartbeat(ctx, req)
	if err != nil {
		l.mu.Lock()
		l.failures++
		failures := l.failures
		l.mu.Unlock()
		l.logger.Warn("heartbeat failed",
			"consecutive_failures", failures, "next_delay", l.NextDelay(), "error", err)
		return
	}

	l.mu.Lock()
	l.failures = 0
	changed := resp.CapExceeded != l.capExceeded
	l.capExceeded = resp.CapExceeded
	l.mu.Unlock()

	if resp.CapExceeded {
		l.logger.Warn("server reports spend cap exceeded",
			"daily_spend", resp.DailySpend, "daily_cap", resp.DailyCap,
			"monthly_spend", resp.MonthlySpend, "monthly_cap", resp.MonthlyCap,
			"warning", resp.Warning)
	}
	if changed && l.onCapState != nil {
		l.onCapState(resp.CapExceeded, resp)
	}
}

// NextDelay returns the wait before the next send: the base interval after a
// success, base * 2^failures capped at MaxDelay while failures accumulate.
func (l *Loop) NextDelay() time.Duration {
	l.mu.Lock()
	failures := l.failures
	l.mu.Unlock()

	delay := l.interval
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= MaxDelay {
			return MaxDelay
		}
	}
	if delay > MaxDelay {
		delay = MaxDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
