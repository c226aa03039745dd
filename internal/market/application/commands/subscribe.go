// Package commands contains the write-side operations of the market node.
package commands

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	marketDomain "github.com/openagora/agora/internal/market/domain"
	"github.com/openagora/agora/internal/market/matcher"
	"github.com/openagora/agora/internal/market/negotiation"
	sharedApplication "github.com/openagora/agora/internal/shared/application"
	sharedDomain "github.com/openagora/agora/internal/shared/domain"
	"github.com/openagora/agora/internal/shared/infrastructure/outbox"
)

// Announcer broadcasts subscription changes to other nodes. It is nil when
// discovery is disabled.
type Announcer interface {
	Announce(ctx context.Context, sub *marketDomain.Subscription) error
	Revoke(ctx context.Context, sub *marketDomain.Subscription) error
}

// SubscribeCommand contains the data needed to publish a demand or offer.
type SubscribeCommand struct {
	Side        marketDomain.Side
	OwnerKey    string
	Properties  json.RawMessage
	Constraints string
}

// SubscribeResult contains the result of publishing a subscription.
type SubscribeResult struct {
	SubscriptionID uuid.UUID
	Matched        int
}

// SubscribeHandler handles the SubscribeCommand.
type SubscribeHandler struct {
	subscriptionRepo marketDomain.SubscriptionRepository
	outboxRepo       outbox.Repository
	uow              sharedApplication.UnitOfWork
	engine           *negotiation.Engine
	matcher          *matcher.Matcher
	announcer        Announcer
	ttl              time.Duration
}

// NewSubscribeHandler creates a new SubscribeHandler.
func NewSubscribeHandler(
	subscriptionRepo marketDomain.SubscriptionRepository,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	engine *negotiation.Engine,
	m *matcher.Matcher,
	announcer Announcer,
	ttl time.Duration,
) *SubscribeHandler {
	return &SubscribeHandler{
		subscriptionRepo: subscriptionRepo,
		outboxRepo:       outboxRepo,
		uow:              uow,
		engine:           engine,
		matcher:          m,
		announcer:        announcer,
		ttl:              ttl,
	}
}

// Handle executes the SubscribeCommand: the subscription and its events are
// committed first, then the queue opens and the matcher scans the opposite
// side of the market.
func (h *SubscribeHandler) Handle(ctx context.Context, cmd SubscribeCommand) (*SubscribeResult, error) {
	terms, err := marketDomain.ParseTerms(cmd.Properties, cmd.Constraints)
	if err != nil {
		return nil, err
	}

	var sub *marketDomain.Subscription

	err = sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		sub, err = marketDomain.NewSubscription(cmd.Side, sharedDomain.NewNodeKey(cmd.OwnerKey), terms, h.ttl)
		if err != nil {
			return err
		}

		if err := h.subscriptionRepo.Save(txCtx, sub); err != nil {
			return err
		}

		return saveEventsToOutbox(txCtx, h.outboxRepo, sub.DomainEvents(), cmd.OwnerKey)
	})
	if err != nil {
		return nil, err
	}

	h.engine.Registry().Open(sub.ID())

	var matched int
	if h.matcher != nil {
		matched, err = h.matcher.MatchSubscription(ctx, sub)
		if err != nil {
			return nil, err
		}
	}

	if h.announcer != nil {
		if err := h.announcer.Announce(ctx, sub); err != nil {
			return nil, err
		}
	}

	return &SubscribeResult{SubscriptionID: sub.ID(), Matched: matched}, nil
}

// saveEventsToOutbox stamps domain events with actor metadata and persists
// them as outbox messages within the surrounding transaction.
func saveEventsToOutbox(ctx context.Context, repo outbox.Repository, events []sharedDomain.DomainEvent, actorKey string) error {
	sharedApplication.ApplyEventMetadata(events, sharedApplication.NewEventMetadata(actorKey))

	msgs := make([]*outbox.Message, 0, len(events))
	for _, event := range events {
		msg, err := outbox.NewMessage(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return repo.SaveBatch(ctx, msgs)
}
