package queue

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BrainsyETH/clawsight/internal/protocol"
)

// Sender ships a batch to the control plane. *transport.Client satisfies it.
type Sender interface {
	SyncEvents(ctx context.Context, events []protocol.Event) (protocol.SyncResult, error)
}

// Flusher drains the queue into the transport: an exact batch as soon as
// batch size is reached, whatever is present on the wall-clock interval, and
// a final drain on shutdown. A failed flush restores its batch to the front
// of the queue so a transient outage loses nothing.
type Flusher struct {
	queue     *Queue
	sender    Sender
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
	paused    atomic.Bool
}

// Pause stops shipping until Resume. Events keep accumulating locally under
// the queue's bound; nothing goes over the wire, so a capped account sees an
// idle agent instead of a stream of refused batches.
func (f *Flusher) Pause() {
	if !f.paused.Swap(true) {
		f.logger.Info("event shipping paused")
	}
}

// Resume re-enables shipping. The next notify or interval trigger drains
// whatever accumulated while paused.
func (f *Flusher) Resume() {
	if f.paused.Swap(false) {
		f.logger.Info("event shipping resumed", "queued", f.queue.Len())
	}
}

// Paused reports whether shipping is currently paused.
func (f *Flusher) Paused() bool {
	return f.paused.Load()
}

// NewFlusher creates a flusher draining q through sender.
func NewFlusher(q *Queue, sender Sender, batchSize int, interval time.Duration, logger *slog.Logger) *Flusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{
		queue:     q,
		sender:    sender,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger,
	}
}

// Run flushes until ctx is cancelled, then drains what remains.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.drain()
			return
		case <-f.queue.Notify():
			// Batch-size trigger: ship exact batches while they last.
			for f.queue.Len() >= f.batchSize {
				if !f.Flush(ctx, f.batchSize) {
					break
				}
			}
		case <-ticker.C:
			// Interval trigger: ship whatever is present, possibly nothing.
			f.Flush(ctx, f.queue.Len())
		}
	}
}

// Flush takes up to n events and ships them, restoring the batch on failure.
// It reports whether the flush made progress (an empty queue counts as
// success). While paused it ships nothing and leaves the queue untouched.
func (f *Flusher) Flush(ctx context.Context, n int) bool {
	if f.paused.Load() {
		return false
	}

	batch := f.queue.Take(n)
	if len(batch) == 0 {
		return true
	}

	res, err := f.sender.SyncEvents(ctx, batch)
	if err != nil {
		f.queue.Restore(batch)
		f.logger.Warn("event flush failed, batch requeued",
			"batch_size", len(batch), "queued", f.queue.Len(), "error", err)
		return false
	}

	if res.Duplicate {
		f.logger.Info("event batch was already processed", "batch_size", len(batch))
	} else if res.Dropped > 0 {
		f.logger.Info("server dropped events from batch",
			"accepted", res.Accepted, "dropped", res.Dropped)
	}
	return true
}

// drain pushes out remaining events on shutdown under a short deadline. A
// failure here drops the batch; the process is exiting either way.
func (f *Flusher) drain() {
	if f.paused.Load() {
		f.logger.Warn("final drain skipped while paused", "remaining", f.queue.Len())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for f.queue.Len() > 0 {
		if !f.Flush(ctx, f.batchSize) {
			f.logger.Warn("final drain abandoned", "remaining", f.queue.Len())
			return
		}
	}
}
