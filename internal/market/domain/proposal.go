package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/openagora/agora/internal/shared/domain"
)

var (
	ErrProposalNotNegotiable = errors.New("proposal is no longer negotiable")
	ErrProposalNotCountered  = errors.New("initial proposal must be countered before accepting")
	ErrNotProposalRecipient  = errors.New("only the receiving side may answer a proposal")
)

// ProposalState tracks a proposal through the negotiation lifecycle.
type ProposalState int

const (
	// StateInitial is a proposal generated by the matcher. It carries the
	// counterpart's terms verbatim and has not been answered yet.
	StateInitial ProposalState = iota
	// StateDraft is a proposal one side authored by countering.
	StateDraft
	// StateAccepted terminates the negotiation successfully.
	StateAccepted
	// StateRejected terminates the negotiation with a refusal.
	StateRejected
	// StateExpired terminates the negotiation because a subscription went away.
	StateExpired
)

func (s ProposalState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateDraft:
		return "draft"
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the negotiation is over for this proposal.
func (s ProposalState) IsTerminal() bool {
	switch s {
	case StateAccepted, StateRejected, StateExpired:
		return true
	default:
		return false
	}
}

// ParseProposalState converts a string to a ProposalState.
func ParseProposalState(s string) (ProposalState, error) {
	switch s {
	case "initial":
		return StateInitial, nil
	case "draft":
		return StateDraft, nil
	case "accepted":
		return StateAccepted, nil
	case "rejected":
		return StateRejected, nil
	case "expired":
		return StateExpired, nil
	default:
		return StateInitial, errors.New("unknown proposal state: " + s)
	}
}

// Proposal is one exchange in a negotiation between a demand and an offer.
// Each counter creates a new proposal linked to its predecessor, so a
// negotiation forms a chain of proposals under one subscription.
type Proposal struct {
	sharedDomain.BaseAggregateRoot
	subscriptionID uuid.UUID
	prevProposalID *uuid.UUID
	side           Side
	state          ProposalState
	issuer         sharedDomain.NodeKey
	counterpart    sharedDomain.NodeKey
	terms          Terms
}

// NewInitialProposal creates the proposal the matcher injects into a
// subscription's queue when it pairs a demand with an offer. The issuer is
// the counterpart node whose terms are being presented.
func NewInitialProposal(
	subscriptionID uuid.UUID,
	side Side,
	issuer sharedDomain.NodeKey,
	counterpart sharedDomain.NodeKey,
	terms Terms,
) (*Proposal, error) {
	if issuer.IsEmpty() {
		return nil, ErrEmptyOwnerKey
	}

	p := &Proposal{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		subscriptionID:    subscriptionID,
		side:              side,
		state:             StateInitial,
		issuer:            issuer,
		counterpart:       counterpart,
		terms:             terms,
	}

	p.AddDomainEvent(NewProposalCreated(p.ID(), subscriptionID, issuer.String(), StateInitial))

	return p, nil
}

// Getters

func (p *Proposal) SubscriptionID() uuid.UUID          { return p.subscriptionID }
func (p *Proposal) PrevProposalID() *uuid.UUID         { return p.prevProposalID }
func (p *Proposal) Side() Side                         { return p.side }
func (p *Proposal) State() ProposalState               { return p.state }
func (p *Proposal) Issuer() sharedDomain.NodeKey       { return p.issuer }
func (p *Proposal) Counterpart() sharedDomain.NodeKey  { return p.counterpart }
func (p *Proposal) Terms() Terms                       { return p.terms }
func (p *Proposal) IsTerminal() bool                   { return p.state.IsTerminal() }

// Counter answers this proposal with revised terms, producing a new draft
// proposal in the chain. Only the receiving side may counter.
func (p *Proposal) Counter(by sharedDomain.NodeKey, terms Terms) (*Proposal, error) {
	if p.IsTerminal() {
		return nil, ErrProposalNotNegotiable
	}
	if !p.counterpart.Equals(by) {
		return nil, ErrNotProposalRecipient
	}

	prevID := p.ID()
	next := &Proposal{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		subscriptionID:    p.subscriptionID,
		prevProposalID:    &prevID,
		side:              p.side,
		state:             StateDraft,
		issuer:            by,
		counterpart:       p.issuer,
		terms:             terms,
	}

	next.AddDomainEvent(NewProposalCountered(next.ID(), prevID, by.String()))

	return next, nil
}

// Accept closes the negotiation in agreement. Initial proposals cannot be
// accepted directly, they must be countered at least once.
func (p *Proposal) Accept(by sharedDomain.NodeKey) error {
	if p.IsTerminal() {
		return ErrProposalNotNegotiable
	}
	if p.state == StateInitial {
		return ErrProposalNotCountered
	}
	if !p.counterpart.Equals(by) {
		return ErrNotProposalRecipient
	}

	p.state = StateAccepted
	p.Touch()
	p.AddDomainEvent(NewProposalAccepted(p.ID()))

	return nil
}

// Reject closes the negotiation with a refusal.
func (p *Proposal) Reject(by sharedDomain.NodeKey, reason string) error {
	if p.IsTerminal() {
		return ErrProposalNotNegotiable
	}
	if !p.counterpart.Equals(by) {
		return ErrNotProposalRecipient
	}

	p.state = StateRejected
	p.Touch()
	p.AddDomainEvent(NewProposalRejected(p.ID(), reason))

	return nil
}

// Expire closes the negotiation because the underlying subscription is gone.
func (p *Proposal) Expire() error {
	if p.IsTerminal() {
		return ErrProposalNotNegotiable
	}

	p.state = StateExpired
	p.Touch()
	p.AddDomainEvent(NewProposalExpired(p.ID()))

	return nil
}

// RehydrateProposal recreates a proposal from persisted state without generating events.
func RehydrateProposal(
	id uuid.UUID,
	subscriptionID uuid.UUID,
	prevProposalID *uuid.UUID,
	side Side,
	state ProposalState,
	issuer sharedDomain.NodeKey,
	counterpart sharedDomain.NodeKey,
	terms Terms,
	createdAt time.Time,
	updatedAt time.Time,
	version int,
) *Proposal {
	baseEntity := sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt)
	baseAggregate := sharedDomain.RehydrateBaseAggregateRoot(baseEntity, version)

	return &Proposal{
		BaseAggregateRoot: baseAggregate,
		subscriptionID:    subscriptionID,
		prevProposalID:    prevProposalID,
		side:              side,
		state:             state,
		issuer:            issuer,
		counterpart:       counterpart,
		terms:             terms,
	}
}
