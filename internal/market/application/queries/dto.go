// Package queries contains the read-side operations of the market node.
package queries

import (
	"time"

	"github.com/google/uuid"

	marketDomain "github.com/openagora/agora/internal/market/domain"
	"github.com/openagora/agora/internal/market/negotiation"
)

// SubscriptionDTO is the read model of a subscription.
type SubscriptionDTO struct {
	ID          uuid.UUID      `json:"subscriptionId"`
	Side        string         `json:"side"`
	OwnerKey    string         `json:"ownerKey"`
	Properties  map[string]any `json:"properties"`
	Constraints string         `json:"constraints"`
	CreatedAt   time.Time      `json:"createdAt"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
	Removed     bool           `json:"removed"`
}

// ProposalDTO is the read model of a proposal.
type ProposalDTO struct {
	ID             uuid.UUID      `json:"proposalId"`
	SubscriptionID uuid.UUID      `json:"subscriptionId"`
	PrevProposalID *uuid.UUID     `json:"prevProposalId,omitempty"`
	State          string         `json:"state"`
	IssuerKey      string         `json:"issuerKey"`
	CounterpartKey string         `json:"counterpartKey"`
	Properties     map[string]any `json:"properties"`
	Constraints    string         `json:"constraints"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// EventDTO is the read model of a queued negotiation event.
type EventDTO struct {
	Seq        uint64       `json:"seq"`
	Kind       string       `json:"eventType"`
	Reason     string       `json:"reason,omitempty"`
	OccurredAt time.Time    `json:"occurredAt"`
	Proposal   *ProposalDTO `json:"proposal,omitempty"`
}

func subscriptionToDTO(sub *marketDomain.Subscription) SubscriptionDTO {
	return SubscriptionDTO{
		ID:          sub.ID(),
		Side:        sub.Side().String(),
		OwnerKey:    sub.Owner().String(),
		Properties:  sub.Terms().Properties(),
		Constraints: sub.Terms().Constraints(),
		CreatedAt:   sub.CreatedAt(),
		ExpiresAt:   sub.ExpiresAt(),
		Removed:     sub.IsRemoved(),
	}
}

func proposalToDTO(p *marketDomain.Proposal) ProposalDTO {
	return ProposalDTO{
		ID:             p.ID(),
		SubscriptionID: p.SubscriptionID(),
		PrevProposalID: p.PrevProposalID(),
		State:          p.State().String(),
		IssuerKey:      p.Issuer().String(),
		CounterpartKey: p.Counterpart().String(),
		Properties:     p.Terms().Properties(),
		Constraints:    p.Terms().Constraints(),
		CreatedAt:      p.CreatedAt(),
		UpdatedAt:      p.UpdatedAt(),
	}
}

func eventToDTO(event negotiation.Event) EventDTO {
	dto := EventDTO{
		Seq:        event.Seq,
		Kind:       event.Kind.String(),
		Reason:     event.Reason,
		OccurredAt: event.OccurredAt,
	}
	if event.Proposal != nil {
		p := proposalToDTO(event.Proposal)
		dto.Proposal = &p
	}
	return dto
}
