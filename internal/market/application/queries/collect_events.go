package queries

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openagora/agora/internal/market/negotiation"
	sharedDomain "github.com/openagora/agora/internal/shared/domain"
)

// CollectEventsQuery contains the parameters for the long-poll event read.
// A nil MaxEvents drains every pending event.
type CollectEventsQuery struct {
	SubscriptionID uuid.UUID
	CallerKey      string
	Timeout        time.Duration
	MaxEvents      *int
}

// CollectEventsHandler handles the CollectEventsQuery.
type CollectEventsHandler struct {
	engine *negotiation.Engine
}

// NewCollectEventsHandler creates a new CollectEventsHandler.
func NewCollectEventsHandler(engine *negotiation.Engine) *CollectEventsHandler {
	return &CollectEventsHandler{engine: engine}
}

// Handle executes the CollectEventsQuery, blocking for at most the query's
// timeout when the queue is empty.
func (h *CollectEventsHandler) Handle(ctx context.Context, query CollectEventsQuery) ([]EventDTO, error) {
	events, err := h.engine.CollectEvents(
		ctx,
		query.SubscriptionID,
		sharedDomain.NewNodeKey(query.CallerKey),
		query.Timeout,
		query.MaxEvents,
	)
	if err != nil {
		return nil, err
	}

	dtos := make([]EventDTO, 0, len(events))
	for _, event := range events {
		dtos = append(dtos, eventToDTO(event))
	}
	return dtos, nil
}
