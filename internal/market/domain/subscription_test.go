package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedDomain "github.com/openagora/agora/internal/shared/domain"
)

func TestNewSubscription(t *testing.T) {
	owner := sharedDomain.NewNodeKey("0xrequestor")
	terms := NewTerms(map[string]any{"golem.node.cpu.cores": 4}, "(golem.com.pricing.model=linear)")

	sub, err := NewSubscription(SideDemand, owner, terms, time.Hour)

	require.NoError(t, err)
	assert.Equal(t, SideDemand, sub.Side())
	assert.True(t, sub.IsOwnedBy(owner))
	assert.True(t, sub.Terms().Equals(terms))
	require.NotNil(t, sub.ExpiresAt())
	assert.True(t, sub.ExpiresAt().After(time.Now()))
	assert.True(t, sub.IsActive(time.Now()))

	events := sub.DomainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, RoutingKeySubscriptionCreated, events[0].RoutingKey())
}

func TestNewSubscription_EmptyOwner(t *testing.T) {
	_, err := NewSubscription(SideOffer, sharedDomain.NewNodeKey(""), NewTerms(nil, ""), 0)
	assert.ErrorIs(t, err, ErrEmptyOwnerKey)
}

func TestNewSubscription_NoTTL(t *testing.T) {
	owner := sharedDomain.NewNodeKey("0xprovider")

	sub, err := NewSubscription(SideOffer, owner, NewTerms(nil, ""), 0)

	require.NoError(t, err)
	assert.Nil(t, sub.ExpiresAt())
	assert.False(t, sub.IsExpired(time.Now().Add(100*365*24*time.Hour)))
}

func TestSubscription_Remove(t *testing.T) {
	owner := sharedDomain.NewNodeKey("0xrequestor")
	sub, err := NewSubscription(SideDemand, owner, NewTerms(nil, ""), time.Hour)
	require.NoError(t, err)
	sub.ClearDomainEvents()

	require.NoError(t, sub.Remove())
	assert.True(t, sub.IsRemoved())
	assert.False(t, sub.IsActive(time.Now()))

	events := sub.DomainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, RoutingKeySubscriptionRemoved, events[0].RoutingKey())

	// A second removal is an error
	assert.ErrorIs(t, sub.Remove(), ErrSubscriptionRemoved)
}

func TestSubscription_Expire(t *testing.T) {
	owner := sharedDomain.NewNodeKey("0xrequestor")
	sub, err := NewSubscription(SideDemand, owner, NewTerms(nil, ""), time.Millisecond)
	require.NoError(t, err)
	sub.ClearDomainEvents()

	assert.True(t, sub.IsExpired(time.Now().Add(time.Second)))

	require.NoError(t, sub.Expire())
	assert.True(t, sub.IsRemoved())

	events := sub.DomainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, RoutingKeySubscriptionExpired, events[0].RoutingKey())
}

func TestRehydrateSubscription(t *testing.T) {
	original, err := NewSubscription(SideOffer, sharedDomain.NewNodeKey("0xprovider"), NewTerms(map[string]any{"mem": 8}, ""), time.Hour)
	require.NoError(t, err)

	rehydrated := RehydrateSubscription(
		original.ID(),
		original.Side(),
		original.Owner(),
		original.Terms(),
		original.CreatedAt(),
		original.UpdatedAt(),
		original.ExpiresAt(),
		nil,
		3,
	)

	assert.Equal(t, original.ID(), rehydrated.ID())
	assert.Equal(t, SideOffer, rehydrated.Side())
	assert.Equal(t, 3, rehydrated.Version())
	assert.Empty(t, rehydrated.DomainEvents())
}

func TestSide(t *testing.T) {
	assert.Equal(t, "demand", SideDemand.String())
	assert.Equal(t, "offer", SideOffer.String())
	assert.Equal(t, SideOffer, SideDemand.Opposite())
	assert.Equal(t, SideDemand, SideOffer.Opposite())

	side, err := ParseSide("offer")
	require.NoError(t, err)
	assert.Equal(t, SideOffer, side)

	_, err = ParseSide("both")
	assert.ErrorIs(t, err, ErrUnknownSide)
}

func TestTerms(t *testing.T) {
	terms := NewTerms(map[string]any{"cores": 4, "mem": 16}, "(cores>2)")

	v, ok := terms.Property("cores")
	assert.True(t, ok)
	assert.Equal(t, 4, v)

	_, ok = terms.Property("disk")
	assert.False(t, ok)

	assert.Equal(t, "(cores>2)", terms.Constraints())

	// Properties returns a copy
	props := terms.Properties()
	props["cores"] = 99
	v, _ = terms.Property("cores")
	assert.Equal(t, 4, v)
}

func TestParseTerms(t *testing.T) {
	terms, err := ParseTerms([]byte(`{"cores": 4}`), "")
	require.NoError(t, err)
	v, ok := terms.Property("cores")
	assert.True(t, ok)
	assert.Equal(t, float64(4), v)

	_, err = ParseTerms([]byte(`not json`), "")
	assert.ErrorIs(t, err, ErrInvalidProperties)

	empty, err := ParseTerms(nil, "(x=1)")
	require.NoError(t, err)
	assert.Equal(t, "(x=1)", empty.Constraints())
}

func TestTerms_Equals(t *testing.T) {
	a := NewTerms(map[string]any{"cores": 4}, "(x=1)")
	b := NewTerms(map[string]any{"cores": 4}, "(x=1)")
	c := NewTerms(map[string]any{"cores": 8}, "(x=1)")
	d := NewTerms(map[string]any{"cores": 4}, "(x=2)")

	assert.True(t, a.Equals(b))
	assert.False(t, a.Equals(c))
	assert.False(t, a.Equals(d))
}
