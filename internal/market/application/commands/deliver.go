package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	marketDomain "github.com/openagora/agora/internal/market/domain"
	"github.com/openagora/agora/internal/market/negotiation"
	sharedDomain "github.com/openagora/agora/internal/shared/domain"
)

// ProposalSender delivers proposals to nodes that are not served by this
// process. It is nil when discovery is disabled.
type ProposalSender interface {
	SendProposal(ctx context.Context, target sharedDomain.NodeKey, targetSubscriptionID uuid.UUID, proposal *marketDomain.Proposal, reason string) error
}

// resolveTarget finds the subscription whose queue should receive a
// proposal addressed to the given node. A negotiation chain lives on one
// subscription; when the recipient owns that subscription the chain's own
// queue is the target, otherwise the recipient's active subscription on the
// opposite side of the market is.
func resolveTarget(ctx context.Context, subs marketDomain.SubscriptionRepository, proposal *marketDomain.Proposal, recipient sharedDomain.NodeKey) (uuid.UUID, error) {
	chainSub, err := subs.FindByID(ctx, proposal.SubscriptionID())
	if err != nil {
		return uuid.Nil, err
	}

	if chainSub.IsOwnedBy(recipient) {
		return chainSub.ID(), nil
	}

	candidates, err := subs.FindByOwner(ctx, recipient.String())
	if err != nil {
		return uuid.Nil, err
	}

	now := time.Now().UTC()
	wantSide := chainSub.Side().Opposite()
	var target *marketDomain.Subscription
	for _, candidate := range candidates {
		if candidate.Side() != wantSide || !candidate.IsActive(now) {
			continue
		}
		if target == nil || candidate.CreatedAt().Before(target.CreatedAt()) {
			target = candidate
		}
	}
	if target == nil {
		return uuid.Nil, negotiation.ErrNotFound
	}
	return target.ID(), nil
}

// deliverProposal routes a proposal to its recipient: into a local queue
// when the target subscription is served by this node, through the remote
// sender otherwise.
func deliverProposal(
	ctx context.Context,
	subs marketDomain.SubscriptionRepository,
	engine *negotiation.Engine,
	sender ProposalSender,
	proposal *marketDomain.Proposal,
	recipient sharedDomain.NodeKey,
	reason string,
) error {
	targetID, err := resolveTarget(ctx, subs, proposal, recipient)
	if err != nil {
		return err
	}

	var event negotiation.Event
	if proposal.State() == marketDomain.StateRejected {
		event = negotiation.NewProposalRejectedEvent(targetID, proposal, reason)
	} else {
		event = negotiation.NewProposalEvent(targetID, proposal)
	}

	err = engine.Post(targetID, event)
	if err == nil {
		return nil
	}
	if !errors.Is(err, negotiation.ErrUnsubscribed) && !errors.Is(err, negotiation.ErrNotFound) {
		return err
	}

	// No local queue; the subscription is a mirror of a remote one.
	if sender == nil {
		return fmt.Errorf("no route to node %s: %w", recipient.String(), err)
	}
	return sender.SendProposal(ctx, recipient, targetID, proposal, reason)
}
