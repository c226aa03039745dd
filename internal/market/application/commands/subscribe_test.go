package commands

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	marketDomain "github.com/openagora/agora/internal/market/domain"
	"github.com/openagora/agora/internal/market/matcher"
	"github.com/openagora/agora/internal/market/negotiation"
	sharedDomain "github.com/openagora/agora/internal/shared/domain"
)

type testStack struct {
	subs    *memorySubscriptionRepo
	props   *memoryProposalRepo
	engine  *negotiation.Engine
	matcher *matcher.Matcher
	outbox  *mockOutboxRepo
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	subRepo := newMemorySubscriptionRepo()
	propRepo := newMemoryProposalRepo()
	engine := negotiation.NewEngine(subRepo, negotiation.DefaultEngineConfig(), nil)
	m := matcher.NewMatcher(subRepo, propRepo, engine.Registry(), matcher.NewMemoryLedger(time.Minute), nil)
	outboxRepo := new(mockOutboxRepo)
	outboxRepo.On("SaveBatch", mock.Anything, mock.Anything).Return(nil)
	return &testStack{subs: subRepo, props: propRepo, engine: engine, matcher: m, outbox: outboxRepo}
}

func TestSubscribeHandler_Handle(t *testing.T) {
	stack := newTestStack(t)
	handler := NewSubscribeHandler(stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, stack.matcher, nil, time.Hour)

	result, err := handler.Handle(context.Background(), SubscribeCommand{
		Side:        marketDomain.SideDemand,
		OwnerKey:    "node-a",
		Properties:  json.RawMessage(`{"budget":"10"}`),
		Constraints: "(cores=4)",
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	// The subscription is persisted and its queue is open.
	sub, err := stack.subs.FindByID(context.Background(), result.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, marketDomain.SideDemand, sub.Side())
	assert.True(t, stack.engine.IsActive(result.SubscriptionID))
	assert.Zero(t, result.Matched)

	stack.outbox.AssertExpectations(t)
}

func TestSubscribeHandler_MatchesExistingOffer(t *testing.T) {
	stack := newTestStack(t)
	handler := NewSubscribeHandler(stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, stack.matcher, nil, time.Hour)

	offer, err := handler.Handle(context.Background(), SubscribeCommand{
		Side:       marketDomain.SideOffer,
		OwnerKey:   "node-b",
		Properties: json.RawMessage(`{"cores":4}`),
	})
	require.NoError(t, err)

	demand, err := handler.Handle(context.Background(), SubscribeCommand{
		Side:        marketDomain.SideDemand,
		OwnerKey:    "node-a",
		Properties:  json.RawMessage(`{"budget":"10"}`),
		Constraints: "(cores=4)",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, demand.Matched)

	// The initial proposal landed in the demand's queue, not the offer's.
	events, err := stack.engine.CollectEvents(context.Background(), demand.SubscriptionID, sharedDomain.NodeKey{}, 0, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "node-b", events[0].Proposal.Issuer().String())

	offerEvents, err := stack.engine.CollectEvents(context.Background(), offer.SubscriptionID, sharedDomain.NodeKey{}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, offerEvents)
}

func TestSubscribeHandler_AnnouncesWhenConfigured(t *testing.T) {
	stack := newTestStack(t)

	announcer := new(mockAnnouncer)
	announcer.On("Announce", mock.Anything, mock.AnythingOfType("*domain.Subscription")).Return(nil)

	handler := NewSubscribeHandler(stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, stack.matcher, announcer, time.Hour)

	_, err := handler.Handle(context.Background(), SubscribeCommand{
		Side:     marketDomain.SideOffer,
		OwnerKey: "node-b",
	})
	require.NoError(t, err)
	announcer.AssertExpectations(t)
}

func TestSubscribeHandler_RejectsMalformedProperties(t *testing.T) {
	stack := newTestStack(t)
	handler := NewSubscribeHandler(stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, stack.matcher, nil, time.Hour)

	_, err := handler.Handle(context.Background(), SubscribeCommand{
		Side:       marketDomain.SideDemand,
		OwnerKey:   "node-a",
		Properties: json.RawMessage(`[1,2]`),
	})
	assert.ErrorIs(t, err, marketDomain.ErrInvalidProperties)
}

type mockAnnouncer struct {
	mock.Mock
}

func (m *mockAnnouncer) Announce(ctx context.Context, sub *marketDomain.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *mockAnnouncer) Revoke(ctx context.Context, sub *marketDomain.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}
