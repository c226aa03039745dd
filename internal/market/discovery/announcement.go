// Package discovery propagates demands, offers and proposals between
// market nodes over the shared event bus.
package discovery

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	marketDomain "github.com/openagora/agora/internal/market/domain"
)

const (
	// Announcement routing keys on the announce topic exchange.
	RoutingKeyAnnounceDemand = "market.announce.demand"
	RoutingKeyAnnounceOffer  = "market.announce.offer"
	RoutingKeyAnnounceRevoke = "market.announce.revoke"

	// Proposal delivery routing key prefix; the target node key is appended.
	RoutingKeyProposalPrefix = "market.proposal.to."
)

// Announcement is the wire form of a subscription broadcast to other nodes.
type Announcement struct {
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	Side           string          `json:"side"`
	OwnerKey       string          `json:"owner_key"`
	Properties     json.RawMessage `json:"properties"`
	Constraints    string          `json:"constraints"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
}

// NewAnnouncement builds the wire form of a local subscription.
func NewAnnouncement(sub *marketDomain.Subscription) (Announcement, error) {
	props, err := sub.Terms().PropertiesJSON()
	if err != nil {
		return Announcement{}, err
	}
	return Announcement{
		SubscriptionID: sub.ID(),
		Side:           sub.Side().String(),
		OwnerKey:       sub.Owner().String(),
		Properties:     props,
		Constraints:    sub.Terms().Constraints(),
		CreatedAt:      sub.CreatedAt(),
		ExpiresAt:      sub.ExpiresAt(),
	}, nil
}

// RoutingKey returns the announce routing key for the announcement's side.
func (a Announcement) RoutingKey() string {
	if a.Side == marketDomain.SideOffer.String() {
		return RoutingKeyAnnounceOffer
	}
	return RoutingKeyAnnounceDemand
}

// Revocation is broadcast when a subscription leaves the market.
type Revocation struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	OwnerKey       string    `json:"owner_key"`
	RevokedAt      time.Time `json:"revoked_at"`
}
