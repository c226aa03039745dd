package negotiation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry tracks the event queue of every live subscription on this node.
// Closed subscriptions leave a tombstone behind so later callers can be told
// the subscription existed but is gone, which is a different answer than
// never having seen it at all.
type Registry struct {
	mu      sync.RWMutex
	queues  map[uuid.UUID]*queue
	removed map[uuid.UUID]time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		queues:  make(map[uuid.UUID]*queue),
		removed: make(map[uuid.UUID]time.Time),
	}
}

// Open creates the event queue for a new subscription. Reopening a live or
// tombstoned ID replaces nothing and reports whether a queue was created.
func (r *Registry) Open(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, live := r.queues[id]; live {
		return false
	}
	if _, gone := r.removed[id]; gone {
		return false
	}

	r.queues[id] = newQueue()
	return true
}

// Close cancels the queue, waking all collectors with ErrUnsubscribed, and
// tombstones the ID.
func (r *Registry) Close(id uuid.UUID) error {
	r.mu.Lock()
	q, live := r.queues[id]
	if live {
		delete(r.queues, id)
		r.removed[id] = time.Now().UTC()
	}
	_, gone := r.removed[id]
	r.mu.Unlock()

	if live {
		q.cancel()
		return nil
	}
	if gone {
		return &UnsubscribedError{SubscriptionID: id}
	}
	return ErrNotFound
}

// Post appends events to a subscription's queue.
func (r *Registry) Post(id uuid.UUID, events ...Event) error {
	r.mu.RLock()
	q, live := r.queues[id]
	_, gone := r.removed[id]
	r.mu.RUnlock()

	if !live {
		if gone {
			return &UnsubscribedError{SubscriptionID: id}
		}
		return ErrNotFound
	}

	if !q.push(events...) {
		return &UnsubscribedError{SubscriptionID: id}
	}
	return nil
}

// Collect returns events from a subscription's queue, blocking for at most
// timeout when the queue is empty. max == 0 returns an empty slice
// immediately, max < 0 drains everything pending, and a zero or negative
// timeout polls without blocking.
func (r *Registry) Collect(ctx context.Context, id uuid.UUID, timeout time.Duration, max int) ([]Event, error) {
	r.mu.RLock()
	q, live := r.queues[id]
	_, gone := r.removed[id]
	r.mu.RUnlock()

	if !live {
		if gone {
			return nil, &UnsubscribedError{SubscriptionID: id}
		}
		return nil, ErrNotFound
	}

	events, err := q.collect(ctx, timeout, max)
	if err != nil {
		if errors.Is(err, ErrUnsubscribed) {
			return nil, &UnsubscribedError{SubscriptionID: id}
		}
		return nil, err
	}
	return events, nil
}

// IsOpen reports whether a subscription still has a live queue.
func (r *Registry) IsOpen(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, live := r.queues[id]
	return live
}

// Pending reports how many undelivered events a subscription has.
func (r *Registry) Pending(id uuid.UUID) (int, error) {
	r.mu.RLock()
	q, live := r.queues[id]
	_, gone := r.removed[id]
	r.mu.RUnlock()

	if !live {
		if gone {
			return 0, &UnsubscribedError{SubscriptionID: id}
		}
		return 0, ErrNotFound
	}
	return q.size(), nil
}

// PruneTombstones drops tombstones older than the retention period and
// returns how many were removed.
func (r *Registry) PruneTombstones(olderThan time.Duration) int {
	cutoff := time.Now().UTC().Add(-olderThan)

	r.mu.Lock()
	defer r.mu.Unlock()

	pruned := 0
	for id, closedAt := range r.removed {
		if closedAt.Before(cutoff) {
			delete(r.removed, id)
			pruned++
		}
	}
	return pruned
}
