package negotiation

import (
	"context"
	"sync"
	"time"
)

// queue holds the undelivered events of one subscription. Waiters block on
// the wake channel, which is closed and replaced on every push or cancel so
// that all of them re-check the pending list under the lock. An event is
// removed from pending exactly once, so two concurrent collectors never see
// the same event.
type queue struct {
	mu        sync.Mutex
	pending   []Event
	nextSeq   uint64
	cancelled bool
	wake      chan struct{}
}

func newQueue() *queue {
	return &queue{
		nextSeq: 1,
		wake:    make(chan struct{}),
	}
}

// push appends events in order and wakes all waiters. It reports false when
// the queue has already been cancelled.
func (q *queue) push(events ...Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		return false
	}

	for i := range events {
		events[i].Seq = q.nextSeq
		q.nextSeq++
		q.pending = append(q.pending, events[i])
	}

	q.broadcast()
	return true
}

// cancel drops all pending events and wakes every waiter. Idempotent.
func (q *queue) cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		return
	}

	q.cancelled = true
	q.pending = nil
	q.broadcast()
}

// broadcast must be called with mu held.
func (q *queue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// take removes up to max pending events, or everything pending when max is
// negative. When nothing is pending it returns the current wake channel so
// the caller can wait for the next broadcast.
func (q *queue) take(max int) (events []Event, cancelled bool, wake chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		return nil, true, nil
	}
	if len(q.pending) == 0 {
		return nil, false, q.wake
	}

	n := len(q.pending)
	if max > 0 && max < n {
		n = max
	}
	events = make([]Event, n)
	copy(events, q.pending[:n])
	q.pending = q.pending[n:]

	return events, false, nil
}

// collect returns up to max events (all of them when max is negative),
// blocking for at most timeout when none are pending. A zero or negative timeout polls once without blocking. The
// elapsed timeout yields an empty slice, not an error; cancellation of the
// queue yields ErrUnsubscribed even mid-wait.
func (q *queue) collect(ctx context.Context, timeout time.Duration, max int) ([]Event, error) {
	if max == 0 {
		return []Event{}, nil
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		events, cancelled, wake := q.take(max)
		if cancelled {
			return nil, ErrUnsubscribed
		}
		if len(events) > 0 {
			return events, nil
		}
		if timeout <= 0 {
			return []Event{}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return []Event{}, nil
		case <-wake:
			// Re-check pending under the lock.
		}
	}
}

// size reports how many events are pending.
func (q *queue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
