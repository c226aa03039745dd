package commands

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	marketDomain "github.com/openagora/agora/internal/market/domain"
	"github.com/openagora/agora/internal/market/negotiation"
	sharedDomain "github.com/openagora/agora/internal/shared/domain"
)

// pairSubscriptions publishes an offer for node-b and a demand for node-a
// that match each other, so the demand's queue holds one initial proposal.
func pairSubscriptions(t *testing.T, stack *testStack) (offerID, demandID uuid.UUID) {
	t.Helper()

	subscribe := NewSubscribeHandler(stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, stack.matcher, nil, time.Hour)

	offer, err := subscribe.Handle(context.Background(), SubscribeCommand{
		Side:       marketDomain.SideOffer,
		OwnerKey:   "node-b",
		Properties: json.RawMessage(`{"cores":4}`),
	})
	require.NoError(t, err)

	demand, err := subscribe.Handle(context.Background(), SubscribeCommand{
		Side:        marketDomain.SideDemand,
		OwnerKey:    "node-a",
		Properties:  json.RawMessage(`{"budget":"10"}`),
		Constraints: "(cores=4)",
	})
	require.NoError(t, err)
	require.Equal(t, 1, demand.Matched)

	return offer.SubscriptionID, demand.SubscriptionID
}

// collectOne drains exactly one event from a queue without blocking.
func collectOne(t *testing.T, stack *testStack, subID uuid.UUID) negotiation.Event {
	t.Helper()

	events, err := stack.engine.CollectEvents(context.Background(), subID, sharedDomain.NodeKey{}, 0, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	return events[0]
}

func TestCounterProposalHandler_RoutesToCounterpartQueue(t *testing.T) {
	stack := newTestStack(t)
	counter := NewCounterProposalHandler(stack.props, stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, nil)

	offerID, demandID := pairSubscriptions(t, stack)
	initial := collectOne(t, stack, demandID)

	result, err := counter.Handle(context.Background(), CounterProposalCommand{
		ProposalID: initial.Proposal.ID(),
		CallerKey:  "node-a",
		Properties: json.RawMessage(`{"budget":"8"}`),
	})
	require.NoError(t, err)

	// The draft landed in the offer owner's queue, still on the demand's chain.
	event := collectOne(t, stack, offerID)
	assert.Equal(t, negotiation.KindProposal, event.Kind)
	assert.Equal(t, result.ProposalID, event.Proposal.ID())
	assert.Equal(t, marketDomain.StateDraft, event.Proposal.State())
	assert.Equal(t, "node-a", event.Proposal.Issuer().String())
	assert.Equal(t, demandID, event.Proposal.SubscriptionID())
	require.NotNil(t, event.Proposal.PrevProposalID())
	assert.Equal(t, initial.Proposal.ID(), *event.Proposal.PrevProposalID())

	stored, err := stack.props.FindByID(context.Background(), result.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, marketDomain.StateDraft, stored.State())
}

func TestCounterProposalHandler_CounterBackReachesChainQueue(t *testing.T) {
	stack := newTestStack(t)
	counter := NewCounterProposalHandler(stack.props, stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, nil)

	offerID, demandID := pairSubscriptions(t, stack)
	initial := collectOne(t, stack, demandID)

	first, err := counter.Handle(context.Background(), CounterProposalCommand{
		ProposalID: initial.Proposal.ID(),
		CallerKey:  "node-a",
		Properties: json.RawMessage(`{"budget":"8"}`),
	})
	require.NoError(t, err)
	collectOne(t, stack, offerID)

	second, err := counter.Handle(context.Background(), CounterProposalCommand{
		ProposalID: first.ProposalID,
		CallerKey:  "node-b",
		Properties: json.RawMessage(`{"cores":4,"price":"9"}`),
	})
	require.NoError(t, err)

	// node-a owns the chain's subscription, so the answer comes back there.
	event := collectOne(t, stack, demandID)
	assert.Equal(t, second.ProposalID, event.Proposal.ID())
	assert.Equal(t, "node-b", event.Proposal.Issuer().String())
}

func TestCounterProposalHandler_OnlyRecipientMayCounter(t *testing.T) {
	stack := newTestStack(t)
	counter := NewCounterProposalHandler(stack.props, stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, nil)

	_, demandID := pairSubscriptions(t, stack)
	initial := collectOne(t, stack, demandID)

	// The initial proposal was issued by node-b, so node-b cannot answer it.
	_, err := counter.Handle(context.Background(), CounterProposalCommand{
		ProposalID: initial.Proposal.ID(),
		CallerKey:  "node-b",
		Properties: json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, marketDomain.ErrNotProposalRecipient)
}

func TestCounterProposalHandler_UnknownProposal(t *testing.T) {
	stack := newTestStack(t)
	counter := NewCounterProposalHandler(stack.props, stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, nil)

	_, err := counter.Handle(context.Background(), CounterProposalCommand{
		ProposalID: uuid.New(),
		CallerKey:  "node-a",
	})
	assert.ErrorIs(t, err, marketDomain.ErrProposalNotFound)
}

func TestAcceptProposalHandler_Handle(t *testing.T) {
	stack := newTestStack(t)
	counter := NewCounterProposalHandler(stack.props, stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, nil)
	accept := NewAcceptProposalHandler(stack.props, stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, nil)

	offerID, demandID := pairSubscriptions(t, stack)
	initial := collectOne(t, stack, demandID)

	draft, err := counter.Handle(context.Background(), CounterProposalCommand{
		ProposalID: initial.Proposal.ID(),
		CallerKey:  "node-a",
		Properties: json.RawMessage(`{"budget":"8"}`),
	})
	require.NoError(t, err)
	collectOne(t, stack, offerID)

	require.NoError(t, accept.Handle(context.Background(), AcceptProposalCommand{
		ProposalID: draft.ProposalID,
		CallerKey:  "node-b",
	}))

	// The issuer of the accepted draft learns through its own queue.
	event := collectOne(t, stack, demandID)
	assert.Equal(t, negotiation.KindProposal, event.Kind)
	assert.Equal(t, marketDomain.StateAccepted, event.Proposal.State())

	stored, err := stack.props.FindByID(context.Background(), draft.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, marketDomain.StateAccepted, stored.State())
}

func TestAcceptProposalHandler_InitialMustBeCountered(t *testing.T) {
	stack := newTestStack(t)
	accept := NewAcceptProposalHandler(stack.props, stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, nil)

	_, demandID := pairSubscriptions(t, stack)
	initial := collectOne(t, stack, demandID)

	err := accept.Handle(context.Background(), AcceptProposalCommand{
		ProposalID: initial.Proposal.ID(),
		CallerKey:  "node-a",
	})
	assert.ErrorIs(t, err, marketDomain.ErrProposalNotCountered)
}

func TestRejectProposalHandler_Handle(t *testing.T) {
	stack := newTestStack(t)
	reject := NewRejectProposalHandler(stack.props, stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, nil)

	offerID, demandID := pairSubscriptions(t, stack)
	initial := collectOne(t, stack, demandID)

	require.NoError(t, reject.Handle(context.Background(), RejectProposalCommand{
		ProposalID: initial.Proposal.ID(),
		CallerKey:  "node-a",
		Reason:     "over budget",
	}))

	event := collectOne(t, stack, offerID)
	assert.Equal(t, negotiation.KindProposalRejected, event.Kind)
	assert.Equal(t, "over budget", event.Reason)
	assert.Equal(t, marketDomain.StateRejected, event.Proposal.State())
}

func TestRejectProposalHandler_TerminalProposal(t *testing.T) {
	stack := newTestStack(t)
	reject := NewRejectProposalHandler(stack.props, stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, nil)

	offerID, demandID := pairSubscriptions(t, stack)
	initial := collectOne(t, stack, demandID)

	require.NoError(t, reject.Handle(context.Background(), RejectProposalCommand{
		ProposalID: initial.Proposal.ID(),
		CallerKey:  "node-a",
	}))
	collectOne(t, stack, offerID)

	err := reject.Handle(context.Background(), RejectProposalCommand{
		ProposalID: initial.Proposal.ID(),
		CallerKey:  "node-a",
	})
	assert.ErrorIs(t, err, marketDomain.ErrProposalNotNegotiable)
}

func TestCounterProposalHandler_FallsBackToRemoteSender(t *testing.T) {
	stack := newTestStack(t)
	subscribe := NewSubscribeHandler(stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, stack.matcher, nil, time.Hour)

	demand, err := subscribe.Handle(context.Background(), SubscribeCommand{
		Side:        marketDomain.SideDemand,
		OwnerKey:    "node-a",
		Properties:  json.RawMessage(`{"budget":"10"}`),
		Constraints: "(cores=4)",
	})
	require.NoError(t, err)

	// A mirrored offer from another node: persisted and matched, no queue.
	terms, err := marketDomain.ParseTerms(json.RawMessage(`{"cores":4}`), "")
	require.NoError(t, err)
	remote, err := marketDomain.NewSubscription(marketDomain.SideOffer, sharedDomain.NewNodeKey("node-b"), terms, time.Hour)
	require.NoError(t, err)
	require.NoError(t, stack.subs.Save(context.Background(), remote))
	matched, err := stack.matcher.MatchSubscription(context.Background(), remote)
	require.NoError(t, err)
	require.Equal(t, 1, matched)

	initial := collectOne(t, stack, demand.SubscriptionID)

	sender := new(mockSender)
	sender.On("SendProposal", mock.Anything, sharedDomain.NewNodeKey("node-b"), remote.ID(), mock.AnythingOfType("*domain.Proposal"), "").Return(nil)

	counter := NewCounterProposalHandler(stack.props, stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, sender)
	_, err = counter.Handle(context.Background(), CounterProposalCommand{
		ProposalID: initial.Proposal.ID(),
		CallerKey:  "node-a",
		Properties: json.RawMessage(`{"budget":"8"}`),
	})
	require.NoError(t, err)
	sender.AssertExpectations(t)
}

func TestCounterProposalHandler_NoRouteWithoutSender(t *testing.T) {
	stack := newTestStack(t)
	subscribe := NewSubscribeHandler(stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, stack.matcher, nil, time.Hour)

	demand, err := subscribe.Handle(context.Background(), SubscribeCommand{
		Side:        marketDomain.SideDemand,
		OwnerKey:    "node-a",
		Properties:  json.RawMessage(`{"budget":"10"}`),
		Constraints: "(cores=4)",
	})
	require.NoError(t, err)

	terms, err := marketDomain.ParseTerms(json.RawMessage(`{"cores":4}`), "")
	require.NoError(t, err)
	remote, err := marketDomain.NewSubscription(marketDomain.SideOffer, sharedDomain.NewNodeKey("node-b"), terms, time.Hour)
	require.NoError(t, err)
	require.NoError(t, stack.subs.Save(context.Background(), remote))
	_, err = stack.matcher.MatchSubscription(context.Background(), remote)
	require.NoError(t, err)

	initial := collectOne(t, stack, demand.SubscriptionID)

	counter := NewCounterProposalHandler(stack.props, stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, nil)
	_, err = counter.Handle(context.Background(), CounterProposalCommand{
		ProposalID: initial.Proposal.ID(),
		CallerKey:  "node-a",
		Properties: json.RawMessage(`{"budget":"8"}`),
	})
	assert.ErrorContains(t, err, "no route to node node-b")
}

func TestInjectProposalHandler_Handle(t *testing.T) {
	stack := newTestStack(t)
	subscribe := NewSubscribeHandler(stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, stack.matcher, nil, time.Hour)
	inject := NewInjectProposalHandler(stack.props, stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine)

	demand, err := subscribe.Handle(context.Background(), SubscribeCommand{
		Side:     marketDomain.SideDemand,
		OwnerKey: "node-a",
	})
	require.NoError(t, err)

	result, err := inject.Handle(context.Background(), InjectProposalCommand{
		SubscriptionID: demand.SubscriptionID,
		IssuerKey:      "node-c",
		Properties:     json.RawMessage(`{"cores":8}`),
	})
	require.NoError(t, err)

	event := collectOne(t, stack, demand.SubscriptionID)
	assert.Equal(t, result.ProposalID, event.Proposal.ID())
	assert.Equal(t, "node-c", event.Proposal.Issuer().String())
	assert.Equal(t, marketDomain.StateInitial, event.Proposal.State())

	_, err = stack.props.FindByID(context.Background(), result.ProposalID)
	assert.NoError(t, err)
}

func TestInjectProposalHandler_UnknownSubscription(t *testing.T) {
	stack := newTestStack(t)
	inject := NewInjectProposalHandler(stack.props, stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine)

	_, err := inject.Handle(context.Background(), InjectProposalCommand{
		SubscriptionID: uuid.New(),
		IssuerKey:      "node-c",
	})
	assert.ErrorIs(t, err, negotiation.ErrNotFound)
}

func TestInjectProposalHandler_ClosedQueue(t *testing.T) {
	stack := newTestStack(t)
	subscribe := NewSubscribeHandler(stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, stack.matcher, nil, time.Hour)
	unsubscribe := NewUnsubscribeHandler(stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine, nil)
	inject := NewInjectProposalHandler(stack.props, stack.subs, stack.outbox, noopUnitOfWork{}, stack.engine)

	demand, err := subscribe.Handle(context.Background(), SubscribeCommand{
		Side:     marketDomain.SideDemand,
		OwnerKey: "node-a",
	})
	require.NoError(t, err)
	require.NoError(t, unsubscribe.Handle(context.Background(), UnsubscribeCommand{
		SubscriptionID: demand.SubscriptionID,
		CallerKey:      "node-a",
	}))

	_, err = inject.Handle(context.Background(), InjectProposalCommand{
		SubscriptionID: demand.SubscriptionID,
		IssuerKey:      "node-c",
	})
	assert.ErrorIs(t, err, negotiation.ErrUnsubscribed)
}
