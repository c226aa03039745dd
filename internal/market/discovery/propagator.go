package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	marketDomain "github.com/openagora/agora/internal/market/domain"
	"github.com/openagora/agora/internal/market/matcher"
	sharedDomain "github.com/openagora/agora/internal/shared/domain"
	"github.com/openagora/agora/internal/shared/infrastructure/eventbus"
)

// Propagator broadcasts local subscriptions to other nodes and feeds
// remote announcements into the local matcher. It implements
// eventbus.EventConsumer for the announce routing keys.
type Propagator struct {
	publisher     eventbus.Publisher
	subscriptions marketDomain.SubscriptionRepository
	matcher       *matcher.Matcher
	selfKey       sharedDomain.NodeKey
	logger        *slog.Logger
}

// NewPropagator creates a propagator for the given node identity.
func NewPropagator(
	publisher eventbus.Publisher,
	subscriptions marketDomain.SubscriptionRepository,
	m *matcher.Matcher,
	selfKey sharedDomain.NodeKey,
	logger *slog.Logger,
) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Propagator{
		publisher:     publisher,
		subscriptions: subscriptions,
		matcher:       m,
		selfKey:       selfKey,
		logger:        logger,
	}
}

// Announce broadcasts a local subscription on the announce exchange.
func (p *Propagator) Announce(ctx context.Context, sub *marketDomain.Subscription) error {
	ann, err := NewAnnouncement(sub)
	if err != nil {
		return fmt.Errorf("failed to build announcement: %w", err)
	}

	body, err := p.envelope(sub.ID(), ann.RoutingKey(), ann)
	if err != nil {
		return err
	}

	if err := p.publisher.Publish(ctx, ann.RoutingKey(), body); err != nil {
		return fmt.Errorf("failed to publish announcement: %w", err)
	}

	p.logger.Debug("subscription announced",
		"subscription_id", sub.ID(),
		"side", sub.Side().String(),
	)

	return nil
}

// Revoke broadcasts that a subscription left the market.
func (p *Propagator) Revoke(ctx context.Context, sub *marketDomain.Subscription) error {
	rev := Revocation{
		SubscriptionID: sub.ID(),
		OwnerKey:       sub.Owner().String(),
		RevokedAt:      time.Now().UTC(),
	}

	body, err := p.envelope(sub.ID(), RoutingKeyAnnounceRevoke, rev)
	if err != nil {
		return err
	}

	if err := p.publisher.Publish(ctx, RoutingKeyAnnounceRevoke, body); err != nil {
		return fmt.Errorf("failed to publish revocation: %w", err)
	}

	return nil
}

// EventTypes returns the routing keys this consumer handles.
func (p *Propagator) EventTypes() []string {
	return []string{
		RoutingKeyAnnounceDemand,
		RoutingKeyAnnounceOffer,
		RoutingKeyAnnounceRevoke,
	}
}

// Handle processes a remote announcement: it mirrors the foreign
// subscription locally and runs the matcher against it. Announcements
// from this node come back over the exchange and are dropped.
func (p *Propagator) Handle(ctx context.Context, event *eventbus.ConsumedEvent) error {
	if event.Metadata.ActorKey == p.selfKey.String() {
		return nil
	}

	if event.RoutingKey == RoutingKeyAnnounceRevoke {
		return p.handleRevocation(ctx, event)
	}

	var ann Announcement
	if err := json.Unmarshal(event.Payload, &ann); err != nil {
		return fmt.Errorf("failed to unmarshal announcement: %w", err)
	}

	if ann.OwnerKey == p.selfKey.String() {
		return nil
	}
	if ann.ExpiresAt != nil && !time.Now().UTC().Before(*ann.ExpiresAt) {
		return nil
	}

	side, err := marketDomain.ParseSide(ann.Side)
	if err != nil {
		return fmt.Errorf("announcement %s: %w", ann.SubscriptionID, err)
	}

	terms, err := marketDomain.ParseTerms(ann.Properties, ann.Constraints)
	if err != nil {
		return fmt.Errorf("announcement %s: %w", ann.SubscriptionID, err)
	}

	now := time.Now().UTC()
	sub := marketDomain.RehydrateSubscription(
		ann.SubscriptionID,
		side,
		sharedDomain.NewNodeKey(ann.OwnerKey),
		terms,
		ann.CreatedAt,
		now,
		ann.ExpiresAt,
		nil,
		1,
	)

	if err := p.subscriptions.Save(ctx, sub); err != nil {
		return fmt.Errorf("failed to mirror remote subscription: %w", err)
	}

	var matched int
	if p.matcher != nil {
		matched, err = p.matcher.MatchSubscription(ctx, sub)
		if err != nil {
			return fmt.Errorf("failed to match remote subscription: %w", err)
		}
	}

	p.logger.Debug("remote subscription received",
		"subscription_id", ann.SubscriptionID,
		"side", ann.Side,
		"owner", ann.OwnerKey,
		"matched", matched,
	)

	return nil
}

func (p *Propagator) handleRevocation(ctx context.Context, event *eventbus.ConsumedEvent) error {
	var rev Revocation
	if err := json.Unmarshal(event.Payload, &rev); err != nil {
		return fmt.Errorf("failed to unmarshal revocation: %w", err)
	}

	if rev.OwnerKey == p.selfKey.String() {
		return nil
	}

	if err := p.subscriptions.Delete(ctx, rev.SubscriptionID); err != nil {
		return fmt.Errorf("failed to drop revoked subscription: %w", err)
	}

	p.logger.Debug("remote subscription revoked", "subscription_id", rev.SubscriptionID)
	return nil
}

func (p *Propagator) envelope(aggregateID uuid.UUID, routingKey string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := eventbus.CreateConsumedEvent(
		uuid.New(),
		aggregateID,
		marketDomain.SubscriptionAggregateType,
		routingKey,
		raw,
		p.selfKey.String(),
	)

	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return body, nil
}
