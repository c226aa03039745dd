package commands

import (
	"context"
	"errors"

	"github.com/google/uuid"

	marketDomain "github.com/openagora/agora/internal/market/domain"
	"github.com/openagora/agora/internal/market/negotiation"
	sharedApplication "github.com/openagora/agora/internal/shared/application"
	sharedDomain "github.com/openagora/agora/internal/shared/domain"
	"github.com/openagora/agora/internal/shared/infrastructure/outbox"
)

// UnsubscribeCommand contains the data needed to withdraw a subscription.
type UnsubscribeCommand struct {
	SubscriptionID uuid.UUID
	CallerKey      string
}

// UnsubscribeHandler handles the UnsubscribeCommand.
type UnsubscribeHandler struct {
	subscriptionRepo marketDomain.SubscriptionRepository
	outboxRepo       outbox.Repository
	uow              sharedApplication.UnitOfWork
	engine           *negotiation.Engine
	announcer        Announcer
}

// NewUnsubscribeHandler creates a new UnsubscribeHandler.
func NewUnsubscribeHandler(
	subscriptionRepo marketDomain.SubscriptionRepository,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	engine *negotiation.Engine,
	announcer Announcer,
) *UnsubscribeHandler {
	return &UnsubscribeHandler{
		subscriptionRepo: subscriptionRepo,
		outboxRepo:       outboxRepo,
		uow:              uow,
		engine:           engine,
		announcer:        announcer,
	}
}

// Handle executes the UnsubscribeCommand. The removal is committed before
// the queue closes, so a collector woken with an unsubscribed error will
// never observe the subscription as still active.
func (h *UnsubscribeHandler) Handle(ctx context.Context, cmd UnsubscribeCommand) error {
	var sub *marketDomain.Subscription
	closed := false

	err := sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		var err error
		sub, err = h.subscriptionRepo.FindByID(txCtx, cmd.SubscriptionID)
		if err != nil {
			if errors.Is(err, marketDomain.ErrSubscriptionNotFound) {
				// The registry remembers whether this id ever lived here.
				closed = true
				return h.engine.Registry().Close(cmd.SubscriptionID)
			}
			return err
		}

		if cmd.CallerKey != "" && !sub.IsOwnedBy(sharedDomain.NewNodeKey(cmd.CallerKey)) {
			return negotiation.ErrForbidden
		}

		if err := sub.Remove(); err != nil {
			if errors.Is(err, marketDomain.ErrSubscriptionRemoved) {
				return negotiation.ErrUnsubscribed
			}
			return err
		}

		if err := h.subscriptionRepo.Save(txCtx, sub); err != nil {
			return err
		}

		return saveEventsToOutbox(txCtx, h.outboxRepo, sub.DomainEvents(), cmd.CallerKey)
	})
	if err != nil {
		return err
	}

	if !closed {
		if err := h.engine.Registry().Close(cmd.SubscriptionID); err != nil && !errors.Is(err, negotiation.ErrNotFound) {
			return err
		}
	}

	if h.announcer != nil && sub != nil {
		if err := h.announcer.Revoke(ctx, sub); err != nil {
			return err
		}
	}

	return nil
}
