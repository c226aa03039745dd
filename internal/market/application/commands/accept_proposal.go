package commands

import (
	"context"

	"github.com/google/uuid"

	marketDomain "github.com/openagora/agora/internal/market/domain"
	"github.com/openagora/agora/internal/market/negotiation"
	sharedApplication "github.com/openagora/agora/internal/shared/application"
	sharedDomain "github.com/openagora/agora/internal/shared/domain"
	"github.com/openagora/agora/internal/shared/infrastructure/outbox"
)

// AcceptProposalCommand contains the data needed to close a negotiation
// in agreement.
type AcceptProposalCommand struct {
	ProposalID uuid.UUID
	CallerKey  string
}

// AcceptProposalHandler handles the AcceptProposalCommand.
type AcceptProposalHandler struct {
	proposalRepo     marketDomain.ProposalRepository
	subscriptionRepo marketDomain.SubscriptionRepository
	outboxRepo       outbox.Repository
	uow              sharedApplication.UnitOfWork
	engine           *negotiation.Engine
	sender           ProposalSender
}

// NewAcceptProposalHandler creates a new AcceptProposalHandler.
func NewAcceptProposalHandler(
	proposalRepo marketDomain.ProposalRepository,
	subscriptionRepo marketDomain.SubscriptionRepository,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	engine *negotiation.Engine,
	sender ProposalSender,
) *AcceptProposalHandler {
	return &AcceptProposalHandler{
		proposalRepo:     proposalRepo,
		subscriptionRepo: subscriptionRepo,
		outboxRepo:       outboxRepo,
		uow:              uow,
		engine:           engine,
		sender:           sender,
	}
}

// Handle executes the AcceptProposalCommand and notifies the issuer.
func (h *AcceptProposalHandler) Handle(ctx context.Context, cmd AcceptProposalCommand) error {
	caller := sharedDomain.NewNodeKey(cmd.CallerKey)
	var proposal *marketDomain.Proposal

	err := sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		var err error
		proposal, err = h.proposalRepo.FindByID(txCtx, cmd.ProposalID)
		if err != nil {
			return err
		}

		if err := proposal.Accept(caller); err != nil {
			return err
		}

		if err := h.proposalRepo.Save(txCtx, proposal); err != nil {
			return err
		}

		return saveEventsToOutbox(txCtx, h.outboxRepo, proposal.DomainEvents(), cmd.CallerKey)
	})
	if err != nil {
		return err
	}

	return deliverProposal(ctx, h.subscriptionRepo, h.engine, h.sender, proposal, proposal.Issuer(), "")
}
