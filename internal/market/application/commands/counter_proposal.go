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

// CounterProposalCommand contains the data needed to answer a proposal
// with revised terms.
type CounterProposalCommand struct {
	ProposalID  uuid.UUID
	CallerKey   string
	Properties  json.RawMessage
	Constraints string
}

// CounterProposalResult contains the result of countering a proposal.
type CounterProposalResult struct {
	ProposalID uuid.UUID
}

// CounterProposalHandler handles the CounterProposalCommand.
type CounterProposalHandler struct {
	proposalRepo     marketDomain.ProposalRepository
	subscriptionRepo marketDomain.SubscriptionRepository
	outboxRepo       outbox.Repository
	uow              sharedApplication.UnitOfWork
	engine           *negotiation.Engine
	sender           ProposalSender
}

// NewCounterProposalHandler creates a new CounterProposalHandler.
func NewCounterProposalHandler(
	proposalRepo marketDomain.ProposalRepository,
	subscriptionRepo marketDomain.SubscriptionRepository,
	outboxRepo outbox.Repository,
	uow sharedApplication.UnitOfWork,
	engine *negotiation.Engine,
	sender ProposalSender,
) *CounterProposalHandler {
	return &CounterProposalHandler{
		proposalRepo:     proposalRepo,
		subscriptionRepo: subscriptionRepo,
		outboxRepo:       outboxRepo,
		uow:              uow,
		engine:           engine,
		sender:           sender,
	}
}

// Handle executes the CounterProposalCommand: the new draft is committed
// with its events, then delivered to the previous issuer.
func (h *CounterProposalHandler) Handle(ctx context.Context, cmd CounterProposalCommand) (*CounterProposalResult, error) {
	terms, err := marketDomain.ParseTerms(cmd.Properties, cmd.Constraints)
	if err != nil {
		return nil, err
	}

	caller := sharedDomain.NewNodeKey(cmd.CallerKey)
	var counter *marketDomain.Proposal

	err = sharedApplication.WithUnitOfWork(ctx, h.uow, func(txCtx context.Context) error {
		proposal, err := h.proposalRepo.FindByID(txCtx, cmd.ProposalID)
		if err != nil {
			return err
		}

		counter, err = proposal.Counter(caller, terms)
		if err != nil {
			return err
		}

		if err := h.proposalRepo.Save(txCtx, counter); err != nil {
			return err
		}

		return saveEventsToOutbox(txCtx, h.outboxRepo, counter.DomainEvents(), cmd.CallerKey)
	})
	if err != nil {
		return nil, err
	}

	if err := deliverProposal(ctx, h.subscriptionRepo, h.engine, h.sender, counter, counter.Counterpart(), ""); err != nil {
		return nil, err
	}

	return &CounterProposalResult{ProposalID: counter.ID()}, nil
}
