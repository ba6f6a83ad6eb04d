package engine

import (
	"sync"

	"github.com/roach88/flowrt/internal/ir"
)

// actionQueue is a thread-safe FIFO of dispatched actions.
//
// The queue is unbounded: handlers may dispatch follow-up actions while a
// batch runs and Dispatch never blocks.
//
// The signal channel lets the Run loop wait on the queue and on ctx.Done in
// the same select.
type actionQueue struct {
	mu      sync.Mutex
	actions []ir.Action
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newActionQueue() *actionQueue {
	return &actionQueue{
		actions: make([]ir.Action, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue stamps a with the clock's next value and appends it. Stamping
// under the queue lock keeps queue order and seq order identical. Returns the
// stamped action, or false if the queue is closed.
func (q *actionQueue) Enqueue(a ir.Action, clock *Clock) (ir.Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ir.Action{}, false
	}
	a.Seq = clock.Next()
	q.actions = append(q.actions, a)
	q.notifyLocked()
	return a, true
}

// Drain removes and returns everything currently queued, in enqueue order.
// Actions enqueued after Drain returns belong to the next drain.
func (q *actionQueue) Drain() []ir.Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.actions) == 0 {
		return nil
	}
	out := q.actions
	q.actions = make([]ir.Action, 0, cap(out))
	return out
}

// Wait returns a channel that signals when actions may be available.
// The channel is closed once the queue is closed.
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	}
func (q *actionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Notify re-arms the signal if actions remain.
func (q *actionQueue) Notify() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.actions) > 0 {
		q.notifyLocked()
	}
}

func (q *actionQueue) notifyLocked() {
	if q.closed {
		return
	}
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len returns the number of queued actions.
func (q *actionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Closed reports whether Close has been called.
func (q *actionQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further enqueues and wakes every waiter.
func (q *actionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
