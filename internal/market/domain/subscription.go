package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/openagora/agora/internal/shared/domain"
)

var (
	ErrSubscriptionRemoved = errors.New("subscription has been removed")
	ErrSubscriptionExpired = errors.New("subscription has expired")
	ErrEmptyOwnerKey       = errors.New("subscription owner key cannot be empty")
)

// Subscription is a published demand or offer. Publishing one opens a
// negotiation event queue keyed by the subscription ID.
type Subscription struct {
	sharedDomain.BaseAggregateRoot
	side      Side
	owner     sharedDomain.NodeKey
	terms     Terms
	expiresAt *time.Time
	removedAt *time.Time
}

// NewSubscription publishes a new demand or offer on the market.
func NewSubscription(side Side, owner sharedDomain.NodeKey, terms Terms, ttl time.Duration) (*Subscription, error) {
	if owner.IsEmpty() {
		return nil, ErrEmptyOwnerKey
	}

	s := &Subscription{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		side:              side,
		owner:             owner,
		terms:             terms,
	}
	if ttl > 0 {
		expires := time.Now().UTC().Add(ttl)
		s.expiresAt = &expires
	}

	s.AddDomainEvent(NewSubscriptionCreated(s.ID(), s.side, s.owner.String()))

	return s, nil
}

// Getters

func (s *Subscription) Side() Side                   { return s.side }
func (s *Subscription) Owner() sharedDomain.NodeKey  { return s.owner }
func (s *Subscription) Terms() Terms                 { return s.terms }
func (s *Subscription) ExpiresAt() *time.Time        { return s.expiresAt }
func (s *Subscription) RemovedAt() *time.Time        { return s.removedAt }
func (s *Subscription) IsRemoved() bool              { return s.removedAt != nil }

// IsExpired reports whether the subscription has outlived its TTL.
func (s *Subscription) IsExpired(now time.Time) bool {
	return s.expiresAt != nil && !now.Before(*s.expiresAt)
}

// IsActive reports whether the subscription can still receive events.
func (s *Subscription) IsActive(now time.Time) bool {
	return !s.IsRemoved() && !s.IsExpired(now)
}

// IsOwnedBy reports whether the given key owns this subscription.
func (s *Subscription) IsOwnedBy(key sharedDomain.NodeKey) bool {
	return s.owner.Equals(key)
}

// Remove withdraws the subscription from the market.
func (s *Subscription) Remove() error {
	if s.IsRemoved() {
		return ErrSubscriptionRemoved
	}

	now := time.Now().UTC()
	s.removedAt = &now
	s.Touch()

	s.AddDomainEvent(NewSubscriptionRemoved(s.ID(), s.side))

	return nil
}

// Expire marks an expired subscription as removed.
func (s *Subscription) Expire() error {
	if s.IsRemoved() {
		return ErrSubscriptionRemoved
	}

	now := time.Now().UTC()
	s.removedAt = &now
	s.Touch()

	s.AddDomainEvent(NewSubscriptionExpired(s.ID(), s.side))

	return nil
}

// RehydrateSubscription recreates a subscription from persisted state without generating events.
func RehydrateSubscription(
	id uuid.UUID,
	side Side,
	owner sharedDomain.NodeKey,
	terms Terms,
	createdAt time.Time,
	updatedAt time.Time,
	expiresAt *time.Time,
	removedAt *time.Time,
	version int,
) *Subscription {
	baseEntity := sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt)
	baseAggregate := sharedDomain.RehydrateBaseAggregateRoot(baseEntity, version)

	return &Subscription{
		BaseAggregateRoot: baseAggregate,
		side:              side,
		owner:             owner,
		terms:             terms,
		expiresAt:         expiresAt,
		removedAt:         removedAt,
	}
}
