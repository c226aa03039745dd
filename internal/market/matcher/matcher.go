package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	marketDomain "github.com/openagora/agora/internal/market/domain"
	"github.com/openagora/agora/internal/market/negotiation"
)

// Matcher pairs demands with offers. For every compatible, not yet seen
// pair it injects an initial proposal into the demand's event queue: the
// requestor decides whether to open a negotiation.
type Matcher struct {
	subscriptions marketDomain.SubscriptionRepository
	proposals     marketDomain.ProposalRepository
	registry      *negotiation.Registry
	ledger        PairLedger
	logger        *slog.Logger
}

// NewMatcher creates a matcher.
func NewMatcher(subscriptions marketDomain.SubscriptionRepository, proposals marketDomain.ProposalRepository, registry *negotiation.Registry, ledger PairLedger, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		subscriptions: subscriptions,
		proposals:     proposals,
		registry:      registry,
		ledger:        ledger,
		logger:        logger,
	}
}

// MatchSubscription scans the opposite side of the market for the given
// subscription and returns how many initial proposals were injected.
func (m *Matcher) MatchSubscription(ctx context.Context, sub *marketDomain.Subscription) (int, error) {
	candidates, err := m.subscriptions.FindActiveBySide(ctx, sub.Side().Opposite())
	if err != nil {
		return 0, err
	}

	matched := 0
	for _, candidate := range candidates {
		demand, offer := orient(sub, candidate)

		if !Compatible(demand.Terms(), offer.Terms()) {
			continue
		}

		fresh, err := m.ledger.Record(ctx, demand.ID(), offer.ID())
		if err != nil {
			return matched, err
		}
		if !fresh {
			continue
		}

		proposal, err := marketDomain.NewInitialProposal(
			demand.ID(),
			marketDomain.SideDemand,
			offer.Owner(),
			demand.Owner(),
			offer.Terms(),
		)
		if err != nil {
			return matched, err
		}

		// Persist first so the requestor can counter what it collects.
		if err := m.proposals.Save(ctx, proposal); err != nil {
			return matched, err
		}

		err = m.registry.Post(demand.ID(), negotiation.NewProposalEvent(demand.ID(), proposal))
		if err != nil {
			// The demand went away between the scan and the post.
			if errors.Is(err, negotiation.ErrUnsubscribed) || errors.Is(err, negotiation.ErrNotFound) {
				continue
			}
			return matched, err
		}

		matched++
		m.logger.Debug("pair matched",
			"demand_id", demand.ID(),
			"offer_id", offer.ID(),
			"provider", offer.Owner().String(),
		)
	}

	return matched, nil
}

// orient returns the demand and offer of a pair regardless of which side
// triggered the scan.
func orient(a, b *marketDomain.Subscription) (demand, offer *marketDomain.Subscription) {
	if a.Side() == marketDomain.SideDemand {
		return a, b
	}
	return b, a
}

// Compatible reports whether two sets of terms can negotiate: each side's
// constraint clauses must be satisfied by the other side's properties. Only
// flat (key=value) clauses are evaluated; anything else is treated as
// satisfied.
func Compatible(demand, offer marketDomain.Terms) bool {
	return satisfies(demand.Constraints(), offer) && satisfies(offer.Constraints(), demand)
}

func satisfies(constraints string, terms marketDomain.Terms) bool {
	for _, clause := range parseClauses(constraints) {
		value, ok := terms.Property(clause.key)
		if !ok {
			return false
		}
		if fmt.Sprint(value) != clause.value {
			return false
		}
	}
	return true
}

type clause struct {
	key   string
	value string
}

// parseClauses extracts the innermost (key=value) groups from a constraint
// expression, so flat filters and (&(...)(...)) conjunctions both work.
func parseClauses(constraints string) []clause {
	var clauses []clause
	open := -1
	for i := 0; i < len(constraints); i++ {
		switch constraints[i] {
		case '(':
			open = i
		case ')':
			if open < 0 {
				continue
			}
			body := constraints[open+1 : i]
			open = -1

			eq := strings.IndexByte(body, '=')
			if eq <= 0 {
				continue
			}
			key := strings.TrimSpace(body[:eq])
			value := strings.TrimSpace(body[eq+1:])
			if key == "" || strings.ContainsAny(key, "&|!") {
				continue
			}
			clauses = append(clauses, clause{key: key, value: value})
		}
	}
	return clauses
}
