package negotiation

import (
	"time"

	"github.com/google/uuid"

	marketDomain "github.com/openagora/agora/internal/market/domain"
)

// EventKind discriminates what a queue delivers to a collector.
type EventKind int

const (
	// KindProposal carries a proposal from the counterpart, either the
	// matcher's initial pairing or a counter.
	KindProposal EventKind = iota
	// KindProposalRejected tells the owner the counterpart walked away.
	KindProposalRejected
)

func (k EventKind) String() string {
	switch k {
	case KindProposal:
		return "proposal"
	case KindProposalRejected:
		return "proposal_rejected"
	default:
		return "unknown"
	}
}

// Event is one item in a subscription's negotiation queue. Seq is assigned
// by the queue and strictly increases per subscription.
type Event struct {
	Seq            uint64
	Kind           EventKind
	SubscriptionID uuid.UUID
	Proposal       *marketDomain.Proposal
	Reason         string
	OccurredAt     time.Time
}

// NewProposalEvent creates the event delivered when a proposal arrives.
func NewProposalEvent(subscriptionID uuid.UUID, proposal *marketDomain.Proposal) Event {
	return Event{
		Kind:           KindProposal,
		SubscriptionID: subscriptionID,
		Proposal:       proposal,
		OccurredAt:     time.Now().UTC(),
	}
}

// NewProposalRejectedEvent creates the event delivered when the counterpart rejects.
func NewProposalRejectedEvent(subscriptionID uuid.UUID, proposal *marketDomain.Proposal, reason string) Event {
	return Event{
		Kind:           KindProposalRejected,
		SubscriptionID: subscriptionID,
		Proposal:       proposal,
		Reason:         reason,
		OccurredAt:     time.Now().UTC(),
	}
}
