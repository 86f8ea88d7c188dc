// Package queue buffers agent events between the producers that generate
// them and the transport that ships them. The buffer is bounded: under a
// sustained outage it degrades by dropping the oldest telemetry, never by
// blocking a producer.
package queue

import (
	"sync"

	"github.com/BrainsyETH/clawsight/internal/protocol"
)

// Queue is a size-bounded FIFO of events. When an Enqueue would exceed the
// maximum, the single oldest entry is evicted first: fresh telemetry is worth
// more than exhaustive telemetry.
//
// The notify channel (capacity 1) wakes the flusher when the buffer reaches
// batch size. All methods may be called concurrently.
type Queue struct {
	mu        sync.Mutex
	events    []protocol.Event
	max       int
	batchSize int
	dropped   uint64
	notify    chan struct{}
}

// New creates a queue holding at most max events, signalling the flusher
// whenever batchSize events are waiting.
func New(max, batchSize int) *Queue {
	if max <= 0 {
		max = 1
	}
	if batchSize <= 0 || batchSize > max {
		batchSize = max
	}
	return &Queue{
		max:       max,
		batchSize: batchSize,
		notify:    make(chan struct{}, 1),
	}
}

// Enqueue admits an event, evicting the oldest entry first when the queue is
// full. It never blocks.
func (q *Queue) Enqueue(e protocol.Event) {
	q.mu.Lock()
	if len(q.events) >= q.max {
		q.events[0] = protocol.Event{} // release for GC
		q.events = q.events[1:]
		q.dropped++
	}
	q.events = append(q.events, e)
	full := len(q.events) >= q.batchSize
	q.mu.Unlock()

	if full {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
}

// Take removes and returns up to n of the oldest events.
func (q *Queue) Take(n int) []protocol.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.events) {
		n = len(q.events)
	}
	if n == 0 {
		return nil
	}
	batch := make([]protocol.Event, n)
	copy(batch, q.events[:n])
	q.events = append(q.events[:0], q.events[n:]...)
	return batch
}

// Restore puts a failed batch back at the front of the queue, preserving
// order. If enqueues during the flush pushed the queue past its bound, the
// oldest entries are trimmed so the invariant holds.
func (q *Queue) Restore(batch []protocol.Event) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(batch, q.events...)
	for len(q.events) > q.max {
		q.events[0] = protocol.Event{}
		q.events = q.events[1:]
		q.dropped++
	}
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Dropped returns how many events were evicted since creation.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Notify returns the channel signalled (at most once per pending wakeup)
// when the queue reaches batch size.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}
