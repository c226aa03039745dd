package queries

import (
	"context"

	marketDomain "github.com/openagora/agora/internal/market/domain"
)

// ListSubscriptionsQuery contains the parameters for listing subscriptions.
// OwnerKey narrows the result to one node's subscriptions; Side narrows it
// to one side of the market.
type ListSubscriptionsQuery struct {
	OwnerKey string
	Side     *marketDomain.Side
}

// ListSubscriptionsHandler handles the ListSubscriptionsQuery.
type ListSubscriptionsHandler struct {
	subscriptionRepo marketDomain.SubscriptionRepository
}

// NewListSubscriptionsHandler creates a new ListSubscriptionsHandler.
func NewListSubscriptionsHandler(subscriptionRepo marketDomain.SubscriptionRepository) *ListSubscriptionsHandler {
	return &ListSubscriptionsHandler{subscriptionRepo: subscriptionRepo}
}

// Handle executes the ListSubscriptionsQuery.
func (h *ListSubscriptionsHandler) Handle(ctx context.Context, query ListSubscriptionsQuery) ([]SubscriptionDTO, error) {
	var (
		subs []*marketDomain.Subscription
		err  error
	)

	switch {
	case query.OwnerKey != "":
		subs, err = h.subscriptionRepo.FindByOwner(ctx, query.OwnerKey)
	case query.Side != nil:
		subs, err = h.subscriptionRepo.FindActiveBySide(ctx, *query.Side)
	default:
		demands, derr := h.subscriptionRepo.FindActiveBySide(ctx, marketDomain.SideDemand)
		if derr != nil {
			return nil, derr
		}
		offers, oerr := h.subscriptionRepo.FindActiveBySide(ctx, marketDomain.SideOffer)
		if oerr != nil {
			return nil, oerr
		}
		subs = append(demands, offers...)
	}
	if err != nil {
		return nil, err
	}

	dtos := make([]SubscriptionDTO, 0, len(subs))
	for _, sub := range subs {
		if query.Side != nil && sub.Side() != *query.Side {
			continue
		}
		dtos = append(dtos, subscriptionToDTO(sub))
	}
	return dtos, nil
}
