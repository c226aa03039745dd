package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	marketDomain "github.com/openagora/agora/internal/market/domain"
	sharedDomain "github.com/openagora/agora/internal/shared/domain"
	"github.com/openagora/agora/internal/shared/infrastructure/eventbus"
)

var (
	// ErrTimeout is returned when a remote node does not take delivery
	// within the configured deadline.
	ErrTimeout = errors.New("remote delivery timed out")

	// ErrNodeUnavailable is returned while the circuit to a node is open.
	ErrNodeUnavailable = errors.New("remote node unavailable")
)

// ProposalMessage is the wire form of a proposal sent to another node.
type ProposalMessage struct {
	ProposalID     uuid.UUID `json:"proposal_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	// TargetSubscriptionID is the receiving node's subscription whose
	// queue the proposal lands in.
	TargetSubscriptionID uuid.UUID       `json:"target_subscription_id"`
	PrevProposalID       *uuid.UUID      `json:"prev_proposal_id,omitempty"`
	Side                 string          `json:"side"`
	State                string          `json:"state"`
	IssuerKey            string          `json:"issuer_key"`
	CounterpartKey       string          `json:"counterpart_key"`
	Properties           json.RawMessage `json:"properties"`
	Constraints          string          `json:"constraints"`
	Reason               string          `json:"reason,omitempty"`
	SentAt               time.Time       `json:"sent_at"`
}

// RemoteSenderConfig configures delivery deadlines and circuit breaking.
type RemoteSenderConfig struct {
	// SendTimeout is the per-delivery deadline.
	SendTimeout time.Duration

	// MaxRequests is the maximum number of probes allowed in half-open state.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state.
	Interval time.Duration

	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration

	// FailureThreshold trips the circuit after this many consecutive failures.
	FailureThreshold uint32
}

// DefaultRemoteSenderConfig returns sensible defaults.
func DefaultRemoteSenderConfig() RemoteSenderConfig {
	return RemoteSenderConfig{
		SendTimeout:      5 * time.Second,
		MaxRequests:      3,
		Interval:         10 * time.Second,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
	}
}

// RemoteSender delivers proposals to other nodes over the event bus. Each
// target node gets its own circuit breaker so one dead peer does not stall
// negotiations with the rest of the market.
type RemoteSender struct {
	publisher eventbus.Publisher
	selfKey   sharedDomain.NodeKey
	config    RemoteSenderConfig
	logger    *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

// NewRemoteSender creates a remote sender.
func NewRemoteSender(publisher eventbus.Publisher, selfKey sharedDomain.NodeKey, config RemoteSenderConfig, logger *slog.Logger) *RemoteSender {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 5 * time.Second
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	return &RemoteSender{
		publisher: publisher,
		selfKey:   selfKey,
		config:    config,
		logger:    logger,
		breakers:  make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

// SendProposal delivers a proposal to the counterpart node. Deadline
// overruns surface as ErrTimeout, an open circuit as ErrNodeUnavailable.
func (s *RemoteSender) SendProposal(ctx context.Context, target sharedDomain.NodeKey, targetSubscriptionID uuid.UUID, proposal *marketDomain.Proposal, reason string) error {
	props, err := proposal.Terms().PropertiesJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize proposal terms: %w", err)
	}

	msg := ProposalMessage{
		ProposalID:           proposal.ID(),
		SubscriptionID:       proposal.SubscriptionID(),
		TargetSubscriptionID: targetSubscriptionID,
		PrevProposalID:       proposal.PrevProposalID(),
		Side:                 proposal.Side().String(),
		State:                proposal.State().String(),
		IssuerKey:            proposal.Issuer().String(),
		CounterpartKey:       proposal.Counterpart().String(),
		Properties:           props,
		Constraints:          proposal.Terms().Constraints(),
		Reason:               reason,
		SentAt:               time.Now().UTC(),
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal proposal message: %w", err)
	}

	routingKey := RoutingKeyProposalPrefix + target.String()

	event := eventbus.CreateConsumedEvent(
		uuid.New(),
		proposal.ID(),
		marketDomain.ProposalAggregateType,
		routingKey,
		raw,
		s.selfKey.String(),
	)
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	breaker := s.getBreaker(target.String())
	_, err = breaker.Execute(func() (any, error) {
		sendCtx, cancel := context.WithTimeout(ctx, s.config.SendTimeout)
		defer cancel()
		return nil, s.publisher.Publish(sendCtx, routingKey, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %s", ErrNodeUnavailable, target.String())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrTimeout, target.String())
		}
		return fmt.Errorf("failed to deliver proposal %s: %w", proposal.ID(), err)
	}

	s.logger.Debug("proposal delivered",
		"proposal_id", proposal.ID(),
		"target", target.String(),
		"state", proposal.State().String(),
	)

	return nil
}

func (s *RemoteSender) getBreaker(nodeKey string) *gobreaker.CircuitBreaker[any] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if breaker, exists := s.breakers[nodeKey]; exists {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        nodeKey,
		MaxRequests: s.config.MaxRequests,
		Interval:    s.config.Interval,
		Timeout:     s.config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Info("remote circuit state changed",
				"node_key", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	breaker := gobreaker.NewCircuitBreaker[any](settings)
	s.breakers[nodeKey] = breaker
	return breaker
}
