package domain

import (
	"github.com/google/uuid"

	sharedDomain "github.com/openagora/agora/internal/shared/domain"
)

const (
	SubscriptionAggregateType = "Subscription"
	ProposalAggregateType     = "Proposal"

	RoutingKeySubscriptionCreated = "market.subscription.created"
	RoutingKeySubscriptionRemoved = "market.subscription.removed"
	RoutingKeySubscriptionExpired = "market.subscription.expired"

	RoutingKeyProposalCreated   = "market.proposal.created"
	RoutingKeyProposalCountered = "market.proposal.countered"
	RoutingKeyProposalAccepted  = "market.proposal.accepted"
	RoutingKeyProposalRejected  = "market.proposal.rejected"
	RoutingKeyProposalExpired   = "market.proposal.expired"
)

// SubscriptionCreated is emitted when a demand or offer is published.
type SubscriptionCreated struct {
	sharedDomain.BaseEvent
	Side     string `json:"side"`
	OwnerKey string `json:"owner_key"`
}

// NewSubscriptionCreated creates a SubscriptionCreated event.
func NewSubscriptionCreated(subscriptionID uuid.UUID, side Side, ownerKey string) SubscriptionCreated {
	return SubscriptionCreated{
		BaseEvent: sharedDomain.NewBaseEvent(subscriptionID, SubscriptionAggregateType, RoutingKeySubscriptionCreated),
		Side:      side.String(),
		OwnerKey:  ownerKey,
	}
}

// SubscriptionRemoved is emitted when a subscription is withdrawn.
type SubscriptionRemoved struct {
	sharedDomain.BaseEvent
	Side string `json:"side"`
}

// NewSubscriptionRemoved creates a SubscriptionRemoved event.
func NewSubscriptionRemoved(subscriptionID uuid.UUID, side Side) SubscriptionRemoved {
	return SubscriptionRemoved{
		BaseEvent: sharedDomain.NewBaseEvent(subscriptionID, SubscriptionAggregateType, RoutingKeySubscriptionRemoved),
		Side:      side.String(),
	}
}

// SubscriptionExpired is emitted when a subscription outlives its TTL.
type SubscriptionExpired struct {
	sharedDomain.BaseEvent
	Side string `json:"side"`
}

// NewSubscriptionExpired creates a SubscriptionExpired event.
func NewSubscriptionExpired(subscriptionID uuid.UUID, side Side) SubscriptionExpired {
	return SubscriptionExpired{
		BaseEvent: sharedDomain.NewBaseEvent(subscriptionID, SubscriptionAggregateType, RoutingKeySubscriptionExpired),
		Side:      side.String(),
	}
}

// ProposalCreated is emitted when a proposal enters a negotiation.
type ProposalCreated struct {
	sharedDomain.BaseEvent
	SubscriptionID uuid.UUID `json:"subscription_id"`
	IssuerKey      string    `json:"issuer_key"`
	State          string    `json:"state"`
}

// NewProposalCreated creates a ProposalCreated event.
func NewProposalCreated(proposalID, subscriptionID uuid.UUID, issuerKey string, state ProposalState) ProposalCreated {
	return ProposalCreated{
		BaseEvent:      sharedDomain.NewBaseEvent(proposalID, ProposalAggregateType, RoutingKeyProposalCreated),
		SubscriptionID: subscriptionID,
		IssuerKey:      issuerKey,
		State:          state.String(),
	}
}

// ProposalCountered is emitted when one side answers with revised terms.
type ProposalCountered struct {
	sharedDomain.BaseEvent
	PrevProposalID uuid.UUID `json:"prev_proposal_id"`
	IssuerKey      string    `json:"issuer_key"`
}

// NewProposalCountered creates a ProposalCountered event.
func NewProposalCountered(proposalID, prevProposalID uuid.UUID, issuerKey string) ProposalCountered {
	return ProposalCountered{
		BaseEvent:      sharedDomain.NewBaseEvent(proposalID, ProposalAggregateType, RoutingKeyProposalCountered),
		PrevProposalID: prevProposalID,
		IssuerKey:      issuerKey,
	}
}

// ProposalAccepted is emitted when a draft proposal is accepted.
type ProposalAccepted struct {
	sharedDomain.BaseEvent
}

// NewProposalAccepted creates a ProposalAccepted event.
func NewProposalAccepted(proposalID uuid.UUID) ProposalAccepted {
	return ProposalAccepted{
		BaseEvent: sharedDomain.NewBaseEvent(proposalID, ProposalAggregateType, RoutingKeyProposalAccepted),
	}
}

// ProposalRejected is emitted when a proposal is rejected.
type ProposalRejected struct {
	sharedDomain.BaseEvent
	Reason string `json:"reason,omitempty"`
}

// NewProposalRejected creates a ProposalRejected event.
func NewProposalRejected(proposalID uuid.UUID, reason string) ProposalRejected {
	return ProposalRejected{
		BaseEvent: sharedDomain.NewBaseEvent(proposalID, ProposalAggregateType, RoutingKeyProposalRejected),
		Reason:    reason,
	}
}

// ProposalExpired is emitted when a proposal's subscription goes away.
type ProposalExpired struct {
	sharedDomain.BaseEvent
}

// NewProposalExpired creates a ProposalExpired event.
func NewProposalExpired(proposalID uuid.UUID) ProposalExpired {
	return ProposalExpired{
		BaseEvent: sharedDomain.NewBaseEvent(proposalID, ProposalAggregateType, RoutingKeyProposalExpired),
	}
}
