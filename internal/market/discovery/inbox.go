package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	marketDomain "github.com/openagora/agora/internal/market/domain"
	"github.com/openagora/agora/internal/market/negotiation"
	sharedDomain "github.com/openagora/agora/internal/shared/domain"
	"github.com/openagora/agora/internal/shared/infrastructure/eventbus"
)

// ProposalReceiver consumes proposals addressed to this node and appends
// them to the target subscription's event queue.
type ProposalReceiver struct {
	engine    *negotiation.Engine
	proposals marketDomain.ProposalRepository
	selfKey   sharedDomain.NodeKey
	logger    *slog.Logger
}

// NewProposalReceiver creates a receiver for the node's proposal inbox.
func NewProposalReceiver(engine *negotiation.Engine, proposals marketDomain.ProposalRepository, selfKey sharedDomain.NodeKey, logger *slog.Logger) *ProposalReceiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProposalReceiver{
		engine:    engine,
		proposals: proposals,
		selfKey:   selfKey,
		logger:    logger,
	}
}

// EventTypes returns the node's private proposal routing key.
func (r *ProposalReceiver) EventTypes() []string {
	return []string{RoutingKeyProposalPrefix + r.selfKey.String()}
}

// Handle stores the incoming proposal and posts it to the target queue.
// Proposals for queues that closed in the meantime are dropped.
func (r *ProposalReceiver) Handle(ctx context.Context, event *eventbus.ConsumedEvent) error {
	var msg ProposalMessage
	if err := json.Unmarshal(event.Payload, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal proposal message: %w", err)
	}

	if msg.CounterpartKey != r.selfKey.String() {
		r.logger.Warn("proposal addressed to another node",
			"proposal_id", msg.ProposalID,
			"counterpart", msg.CounterpartKey,
		)
		return nil
	}

	side, err := marketDomain.ParseSide(msg.Side)
	if err != nil {
		return fmt.Errorf("proposal %s: %w", msg.ProposalID, err)
	}
	state, err := marketDomain.ParseProposalState(msg.State)
	if err != nil {
		return fmt.Errorf("proposal %s: %w", msg.ProposalID, err)
	}
	terms, err := marketDomain.ParseTerms(msg.Properties, msg.Constraints)
	if err != nil {
		return fmt.Errorf("proposal %s: %w", msg.ProposalID, err)
	}

	now := time.Now().UTC()
	proposal := marketDomain.RehydrateProposal(
		msg.ProposalID,
		msg.TargetSubscriptionID,
		msg.PrevProposalID,
		side,
		state,
		sharedDomain.NewNodeKey(msg.IssuerKey),
		sharedDomain.NewNodeKey(msg.CounterpartKey),
		terms,
		msg.SentAt,
		now,
		1,
	)

	if err := r.proposals.Save(ctx, proposal); err != nil {
		return fmt.Errorf("failed to store remote proposal: %w", err)
	}

	var queued negotiation.Event
	if state == marketDomain.StateRejected {
		queued = negotiation.NewProposalRejectedEvent(msg.TargetSubscriptionID, proposal, msg.Reason)
	} else {
		queued = negotiation.NewProposalEvent(msg.TargetSubscriptionID, proposal)
	}

	err = r.engine.Post(msg.TargetSubscriptionID, queued)
	if err != nil {
		if errors.Is(err, negotiation.ErrUnsubscribed) || errors.Is(err, negotiation.ErrNotFound) {
			r.logger.Debug("dropping proposal for closed subscription",
				"proposal_id", msg.ProposalID,
				"subscription_id", msg.TargetSubscriptionID,
			)
			return nil
		}
		return err
	}

	r.logger.Debug("remote proposal queued",
		"proposal_id", msg.ProposalID,
		"subscription_id", msg.TargetSubscriptionID,
		"issuer", msg.IssuerKey,
	)

	return nil
}
