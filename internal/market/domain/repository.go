package domain

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrProposalNotFound     = errors.New("proposal not found")
)

// SubscriptionRepository defines the interface for subscription persistence.
type SubscriptionRepository interface {
	Save(ctx context.Context, subscription *Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	FindActiveBySide(ctx context.Context, side Side) ([]*Subscription, error)
	FindByOwner(ctx context.Context, ownerKey string) ([]*Subscription, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ProposalRepository defines the interface for proposal persistence.
type ProposalRepository interface {
	Save(ctx context.Context, proposal *Proposal) error
	FindByID(ctx context.Context, id uuid.UUID) (*Proposal, error)
	FindBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*Proposal, error)
	FindOpenBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*Proposal, error)
}
