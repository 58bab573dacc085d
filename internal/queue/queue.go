// Package queue implements the bounded, single-consumer FIFO of pending
// visits described in spec §4.2. Visits enter via Enqueue from the HTTP
// ingress goroutine and leave via the channel returned by C, drained by
// exactly one consumer goroutine. The queue never blocks Enqueue on a
// full buffer — callers get ErrFull immediately so the ingress handler
// can surface a 503 without blocking downstream work.
package queue

import (
	"errors"
	"sync/atomic"

	"github.com/crjfisher/bergamot/pkg/models"
)

// ErrFull is returned by Enqueue when the queue is at capacity.
var ErrFull = errors.New("queue: at capacity")

// Queue is a bounded FIFO of Visits with a single consumer.
type Queue struct {
	ch       chan models.Visit
	capacity int
	depth    atomic.Int64
	total    atomic.Int64
}

// New creates a Queue with the given capacity. A capacity <= 0 falls
// back to the default of 1024.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{
		ch:       make(chan models.Visit, capacity),
		capacity: capacity,
	}
}

// Enqueue appends v to the tail of the queue. It returns ErrFull without
// blocking if the queue is at capacity; the caller never waits on
// downstream consumer progress.
func (q *Queue) Enqueue(v models.Visit) (position int, err error) {
	select {
	case q.ch <- v:
		q.total.Add(1)
		return int(q.depth.Add(1)), nil
	default:
		return 0, ErrFull
	}
}

// C returns the receive-only channel the consumer ranges over. Visits
// arrive in enqueue order; this order is authoritative for the
// reconciler's tie-breaking (spec §4.3).
func (q *Queue) C() <-chan models.Visit {
	return q.ch
}

// Dequeued must be called by the consumer after it has removed a visit
// from q.C(), so Depth stays accurate for /status.
func (q *Queue) Dequeued() {
	q.depth.Add(-1)
}

// Depth returns the current number of visits waiting to be consumed.
func (q *Queue) Depth() int {
	return int(q.depth.Load())
}

// Capacity returns the configured maximum depth.
func (q *Queue) Capacity() int {
	return q.capacity
}

// TotalSeen returns the count of visits ever enqueued since start.
func (q *Queue) TotalSeen() int {
	return int(q.total.Load())
}

// Close stops the queue from accepting further deliveries to the
// consumer. Safe to call once, on shutdown.
func (q *Queue) Close() {
	close(q.ch)
}
