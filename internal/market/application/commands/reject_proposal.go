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

// RejectProposalCommand contains the data needed to refuse a proposal.
type RejectProposalCommand struct {
	ProposalID uuid.UUID
	CallerKey  string
	Reason     string
}

// RejectProposalHandler handles the RejectProposalCommand.
type RejectProposalHandler struct {
	proposalRepo     marketDomain.ProposalRepository
	subscriptionRepo marketDomain.SubscriptionRepository
	outboxRepo       outbox.Repository
	uow              sharedApplication.UnitOfWork
	engine           *negotiation.Engine
	sender           ProposalSender
}

// NewRejectProposalHandler creates a new RejectProposalHandler.
func NewRejectProposalHandler(
	proposalRepo marketDomain.ProposalRepository,
	subscriptionRepo marketDomain.SubscriptionRepository,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	engine *negotiation.Engine,
	sender ProposalSender,
) *RejectProposalHandler {
	return &RejectProposalHandler{
		proposalRepo:     proposalRepo,
		subscriptionRepo: subscriptionRepo,
		outboxRepo:       outboxRepo,
		uow:              uow,
		engine:           engine,
		sender:           sender,
	}
}

// Handle executes the RejectProposalCommand and delivers the refusal to
// the issuer as a rejection event.
func (h *RejectProposalHandler) Handle(ctx context.Context, cmd RejectProposalCommand) error {
	caller := sharedDomain.NewNodeKey(cmd.CallerKey)
	var proposal *marketDomain.Proposal

	err := sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		var err error
		proposal, err = h.proposalRepo.FindByID(txCtx, cmd.ProposalID)
		if err != nil {
			return err
		}

		if err := proposal.Reject(caller, cmd.Reason); err != nil {
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

	return deliverProposal(ctx, h.subscriptionRepo, h.engine, h.sender, proposal, proposal.Issuer(), cmd.Reason)
}
