package capture

import (
	"errors"
	"time"
)

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("detection queue full")

// Queue is a bounded FIFO of snapshots between one producer and one consumer.
// Enqueueing never blocks; when full, the new snapshot is refused.
type Queue struct {
	ch chan Snapshot
}

// NewQueue returns a queue holding at most capacity snapshots.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan Snapshot, max(capacity, 1))}
}

// TryEnqueue adds s without blocking, or returns ErrQueueFull.
func (q *Queue) TryEnqueue(s Snapshot) error {
	select {
	case q.ch <- s:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue waits up to timeout for the oldest snapshot.
func (q *Queue) Dequeue(timeout time.Duration) (Snapshot, bool) {
	select {
	case s := <-q.ch:
		return s, true
	default:
	}
	if timeout <= 0 {
		return Snapshot{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case s := <-q.ch:
		return s, true
	case <-timer.C:
		return Snapshot{}, false
	}
}

// Len returns the number of queued snapshots.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
