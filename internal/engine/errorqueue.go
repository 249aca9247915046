package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultErrorQueueCapacity is the number of unread error signals retained.
const DefaultErrorQueueCapacity = 256

// ErrorSignal is one engine output line that matched an error marker.
type ErrorSignal struct {
	Line   string    `json:"line"`
	Stream string    `json:"stream"`
	At     time.Time `json:"at"`
}

// ErrorQueue is the bounded queue shared between the classifier loops and
// the dispatcher. Publishing never blocks: when the queue is full the oldest
// unread signal is discarded. Each signal is delivered to at most one reader.
type ErrorQueue struct {
	ch      chan ErrorSignal
	dropped atomic.Uint64
}

// NewErrorQueue creates a queue holding up to capacity unread signals.
func NewErrorQueue(capacity int) *ErrorQueue {
	if capacity <= 0 {
		capacity = DefaultErrorQueueCapacity
	}
	return &ErrorQueue{ch: make(chan ErrorSignal, capacity)}
}

// Publish enqueues sig, evicting the oldest signal if the queue is full.
func (q *ErrorQueue) Publish(sig ErrorSignal) {
	for {
		select {
		case q.ch <- sig:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
			errorSignalsDropped.Inc()
		default:
		}
	}
}

// Drain discards every queued signal and returns how many were removed.
func (q *ErrorQueue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Next blocks until a signal is available or ctx is done.
func (q *ErrorQueue) Next(ctx context.Context) (ErrorSignal, error) {
	select {
	case sig := <-q.ch:
		return sig, nil
	case <-ctx.Done():
		return ErrorSignal{}, ctx.Err()
	}
}

// Len returns the number of unread signals.
func (q *ErrorQueue) Len() int {
	return len(q.ch)
}

// Dropped returns how many signals have been evicted unread.
func (q *ErrorQueue) Dropped() uint64 {
	return q.dropped.Load()
}
