// Package events provides the bounded inbound queue through which
// background tasks request work from the orchestrator's single-threaded
// main loop (spec §5). Nothing outside the main loop may mutate Position
// or StrategyStats state directly; everything else enqueues a Request.
package events

import (
	"errors"
	"time"
)

// RequestKind distinguishes the background-triggered work the main loop
// is willing to perform on another task's behalf.
type RequestKind string

const (
	RequestAdoptionScan RequestKind = "adoption_scan"
	RequestSlTpDrain    RequestKind = "sl_tp_drain"
	RequestMetricsFlush RequestKind = "metrics_flush"
)

// Request is a single inbound item. Done, if non-nil, is closed by the
// main loop after processing so the submitter can wait if it needs to.
type Request struct {
	Kind      RequestKind
	CreatedAt time.Time
	Done      chan struct{}
}

// ErrQueueFull is returned when the bounded queue has no room; callers
// must drop non-critical requests (metrics flush) rather than block.
var ErrQueueFull = errors.New("events: inbound queue full")

// Queue is a bounded MPSC channel: many background tasks produce,
// only the main loop consumes.
type Queue struct {
	ch chan Request
}

// NewQueue builds a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan Request, capacity)}
}

// Enqueue submits a request of the given kind without blocking,
// returning ErrQueueFull if the queue is saturated.
func (q *Queue) Enqueue(kind RequestKind) error {
	select {
	case q.ch <- Request{Kind: kind, CreatedAt: time.Now()}:
		return nil
	default:
		return ErrQueueFull
	}
}

// EnqueueWait submits a RequestSlTpDrain request without blocking and
// returns its Done channel, which the main loop closes once it has
// processed the request; a caller that wants to wait receives from it.
// It returns ErrQueueFull immediately if there's no room.
func (q *Queue) EnqueueWait() (<-chan struct{}, error) {
	done := make(chan struct{})
	select {
	case q.ch <- Request{Kind: RequestSlTpDrain, CreatedAt: time.Now(), Done: done}:
		return done, nil
	default:
		return nil, ErrQueueFull
	}
}

// Drain pulls every currently-queued request without blocking, for the
// main loop to process once per tick.
func (q *Queue) Drain() []Request {
	var out []Request
	for {
		select {
		case req := <-q.ch:
			out = append(out, req)
		default:
			return out
		}
	}
}

// Len reports the number of currently queued requests.
func (q *Queue) Len() int { return len(q.ch) }
