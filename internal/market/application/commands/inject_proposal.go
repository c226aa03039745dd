package commands

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	marketDomain "github.com/openagora/agora/internal/market/domain"
	"github.com/openagora/agora/internal/market/negotiation"
	sharedApplication "github.com/openagora/agora/internal/shared/application"
	sharedDomain "github.com/openagora/agora/internal/shared/domain"
	"github.com/openagora/agora/internal/shared/infrastructure/outbox"
)

// InjectProposalCommand appends an externally sourced proposal to a
// subscription's event queue. This is the entry point used by operators
// and by transports that bypass the discovery consumer.
type InjectProposalCommand struct {
	SubscriptionID uuid.UUID
	IssuerKey      string
	Properties     json.RawMessage
	Constraints    string
}

// InjectProposalResult contains the result of injecting a proposal.
type InjectProposalResult struct {
	ProposalID uuid.UUID
}

// InjectProposalHandler handles the InjectProposalCommand.
type InjectProposalHandler struct {
	proposalRepo     marketDomain.ProposalRepository
	subscriptionRepo marketDomain.SubscriptionRepository
	outboxRepo       outbox.Repository
	uow              sharedApplication.UnitOfWork
	engine           *negotiation.Engine
}

// NewInjectProposalHandler creates a new InjectProposalHandler.
func NewInjectProposalHandler(
	proposalRepo marketDomain.ProposalRepository,
	subscriptionRepo marketDomain.SubscriptionRepository,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	engine *negotiation.Engine,
) *InjectProposalHandler {
	return &InjectProposalHandler{
		proposalRepo:     proposalRepo,
		subscriptionRepo: subscriptionRepo,
		outboxRepo:       outboxRepo,
		uow:              uow,
		engine:           engine,
	}
}

// Handle executes the InjectProposalCommand: the proposal is committed
// first, then posted to the subscription's queue.
func (h *InjectProposalHandler) Handle(ctx context.Context, cmd InjectProposalCommand) (*InjectProposalResult, error) {
	terms, err := marketDomain.ParseTerms(cmd.Properties, cmd.Constraints)
	if err != nil {
		return nil, err
	}

	// Fail before touching storage; Post below would report the same.
	if _, err := h.engine.Registry().Pending(cmd.SubscriptionID); err != nil {
		return nil, err
	}

	var proposal *marketDomain.Proposal

	err = sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		sub, err := h.subscriptionRepo.FindByID(txCtx, cmd.SubscriptionID)
		if err != nil {
			return err
		}

		proposal, err = marketDomain.NewInitialProposal(
			sub.ID(),
			sub.Side(),
			sharedDomain.NewNodeKey(cmd.IssuerKey),
			sub.Owner(),
			terms,
		)
		if err != nil {
			return err
		}

		if err := h.proposalRepo.Save(txCtx, proposal); err != nil {
			return err
		}

		return saveEventsToOutbox(txCtx, h.outboxRepo, proposal.DomainEvents(), cmd.IssuerKey)
	})
	if err != nil {
		return nil, err
	}

	if err := h.engine.Post(cmd.SubscriptionID, negotiation.NewProposalEvent(cmd.SubscriptionID, proposal)); err != nil {
		return nil, err
	}

	return &InjectProposalResult{ProposalID: proposal.ID()}, nil
}
