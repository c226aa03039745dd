package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedDomain "github.com/openagora/agora/internal/shared/domain"
)

var (
	requestorKey = sharedDomain.NewNodeKey("0xrequestor")
	providerKey  = sharedDomain.NewNodeKey("0xprovider")
	strangerKey  = sharedDomain.NewNodeKey("0xstranger")
)

func newInitial(t *testing.T) *Proposal {
	t.Helper()
	p, err := NewInitialProposal(
		uuid.New(),
		SideDemand,
		providerKey,
		requestorKey,
		NewTerms(map[string]any{"cores": 4}, ""),
	)
	require.NoError(t, err)
	return p
}

func TestNewInitialProposal(t *testing.T) {
	subID := uuid.New()
	p, err := NewInitialProposal(subID, SideDemand, providerKey, requestorKey, NewTerms(nil, ""))

	require.NoError(t, err)
	assert.Equal(t, subID, p.SubscriptionID())
	assert.Nil(t, p.PrevProposalID())
	assert.Equal(t, StateInitial, p.State())
	assert.False(t, p.IsTerminal())
	assert.True(t, p.Issuer().Equals(providerKey))
	assert.True(t, p.Counterpart().Equals(requestorKey))

	events := p.DomainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, RoutingKeyProposalCreated, events[0].RoutingKey())
}

func TestNewInitialProposal_EmptyIssuer(t *testing.T) {
	_, err := NewInitialProposal(uuid.New(), SideDemand, sharedDomain.NewNodeKey(""), requestorKey, NewTerms(nil, ""))
	assert.ErrorIs(t, err, ErrEmptyOwnerKey)
}

func TestProposal_Counter(t *testing.T) {
	p := newInitial(t)

	counter, err := p.Counter(requestorKey, NewTerms(map[string]any{"cores": 8}, ""))

	require.NoError(t, err)
	assert.Equal(t, StateDraft, counter.State())
	require.NotNil(t, counter.PrevProposalID())
	assert.Equal(t, p.ID(), *counter.PrevProposalID())
	assert.Equal(t, p.SubscriptionID(), counter.SubscriptionID())
	// Roles swap: the counterer becomes the issuer
	assert.True(t, counter.Issuer().Equals(requestorKey))
	assert.True(t, counter.Counterpart().Equals(providerKey))

	events := counter.DomainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, RoutingKeyProposalCountered, events[0].RoutingKey())
}

func TestProposal_Counter_WrongParty(t *testing.T) {
	p := newInitial(t)

	_, err := p.Counter(strangerKey, NewTerms(nil, ""))
	assert.ErrorIs(t, err, ErrNotProposalRecipient)

	// The issuer cannot counter its own proposal
	_, err = p.Counter(providerKey, NewTerms(nil, ""))
	assert.ErrorIs(t, err, ErrNotProposalRecipient)
}

func TestProposal_CounterChain(t *testing.T) {
	p := newInitial(t)

	first, err := p.Counter(requestorKey, NewTerms(nil, ""))
	require.NoError(t, err)

	second, err := first.Counter(providerKey, NewTerms(nil, ""))
	require.NoError(t, err)

	assert.Equal(t, first.ID(), *second.PrevProposalID())
	assert.True(t, second.Issuer().Equals(providerKey))
	assert.True(t, second.Counterpart().Equals(requestorKey))
}

func TestProposal_Accept(t *testing.T) {
	p := newInitial(t)

	// An initial proposal cannot be accepted directly
	assert.ErrorIs(t, p.Accept(requestorKey), ErrProposalNotCountered)

	draft, err := p.Counter(requestorKey, NewTerms(nil, ""))
	require.NoError(t, err)
	draft.ClearDomainEvents()

	require.NoError(t, draft.Accept(providerKey))
	assert.Equal(t, StateAccepted, draft.State())
	assert.True(t, draft.IsTerminal())

	events := draft.DomainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, RoutingKeyProposalAccepted, events[0].RoutingKey())

	// Terminal proposals refuse further transitions
	assert.ErrorIs(t, draft.Accept(providerKey), ErrProposalNotNegotiable)
	assert.ErrorIs(t, draft.Reject(providerKey, ""), ErrProposalNotNegotiable)
	_, err = draft.Counter(providerKey, NewTerms(nil, ""))
	assert.ErrorIs(t, err, ErrProposalNotNegotiable)
}

func TestProposal_TerminalTransitionsKeepRecordIdentity(t *testing.T) {
	// Only Counter produces a new record in the chain. Accept and Reject
	// settle the existing record: same ID, same predecessor link, and the
	// negotiated terms are never rewritten.
	p := newInitial(t)
	draft, err := p.Counter(requestorKey, NewTerms(map[string]any{"cores": 8}, ""))
	require.NoError(t, err)

	id := draft.ID()
	prev := draft.PrevProposalID()
	terms := draft.Terms()

	require.NoError(t, draft.Accept(providerKey))
	assert.Equal(t, id, draft.ID())
	assert.Equal(t, prev, draft.PrevProposalID())
	assert.Equal(t, terms, draft.Terms())

	rejected, err := p.Counter(requestorKey, NewTerms(nil, ""))
	require.NoError(t, err)
	id = rejected.ID()

	require.NoError(t, rejected.Reject(providerKey, "too expensive"))
	assert.Equal(t, id, rejected.ID())
	assert.Equal(t, StateRejected, rejected.State())
}

func TestProposal_Accept_WrongParty(t *testing.T) {
	p := newInitial(t)
	draft, err := p.Counter(requestorKey, NewTerms(nil, ""))
	require.NoError(t, err)

	assert.ErrorIs(t, draft.Accept(requestorKey), ErrNotProposalRecipient)
	assert.ErrorIs(t, draft.Accept(strangerKey), ErrNotProposalRecipient)
}

func TestProposal_Reject(t *testing.T) {
	p := newInitial(t)
	p.ClearDomainEvents()

	require.NoError(t, p.Reject(requestorKey, "price too high"))
	assert.Equal(t, StateRejected, p.State())

	events := p.DomainEvents()
	require.Len(t, events, 1)
	rejected, ok := events[0].(ProposalRejected)
	require.True(t, ok)
	assert.Equal(t, "price too high", rejected.Reason)
}

func TestProposal_Expire(t *testing.T) {
	p := newInitial(t)
	p.ClearDomainEvents()

	require.NoError(t, p.Expire())
	assert.Equal(t, StateExpired, p.State())

	events := p.DomainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, RoutingKeyProposalExpired, events[0].RoutingKey())

	assert.ErrorIs(t, p.Expire(), ErrProposalNotNegotiable)
}

func TestProposalState_Parse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  ProposalState
	}{
		{"initial", "initial", StateInitial},
		{"draft", "draft", StateDraft},
		{"accepted", "accepted", StateAccepted},
		{"rejected", "rejected", StateRejected},
		{"expired", "expired", StateExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProposalState(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}

	_, err := ParseProposalState("haggling")
	assert.Error(t, err)
}

func TestRehydrateProposal(t *testing.T) {
	p := newInitial(t)
	prevID := uuid.New()

	rehydrated := RehydrateProposal(
		p.ID(),
		p.SubscriptionID(),
		&prevID,
		SideDemand,
		StateDraft,
		requestorKey,
		providerKey,
		p.Terms(),
		p.CreatedAt(),
		p.UpdatedAt(),
		2,
	)

	assert.Equal(t, p.ID(), rehydrated.ID())
	assert.Equal(t, StateDraft, rehydrated.State())
	assert.Equal(t, prevID, *rehydrated.PrevProposalID())
	assert.Equal(t, 2, rehydrated.Version())
	assert.Empty(t, rehydrated.DomainEvents())
}
