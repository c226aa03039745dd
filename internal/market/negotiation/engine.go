package negotiation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	marketDomain "github.com/openagora/agora/internal/market/domain"
	sharedDomain "github.com/openagora/agora/internal/shared/domain"
)

// EngineConfig holds configuration for the negotiation engine.
type EngineConfig struct {
	// SubscriptionTTL is applied to new subscriptions.
	SubscriptionTTL time.Duration
	// SweepInterval is how often the janitor looks for expired subscriptions.
	SweepInterval time.Duration
	// TombstoneRetention is how long closed subscription IDs keep answering
	// with an unsubscribed error before they are forgotten.
	TombstoneRetention time.Duration
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SubscriptionTTL:    time.Hour,
		SweepInterval:      30 * time.Second,
		TombstoneRetention: 24 * time.Hour,
	}
}

// Engine runs the negotiation side of the market node: it owns the queue
// registry and enforces ownership on every operation.
type Engine struct {
	registry      *Registry
	subscriptions marketDomain.SubscriptionRepository
	config        EngineConfig
	logger        *slog.Logger

	wg       sync.WaitGroup
	stopChan chan struct{}
	running  bool
	mu       sync.Mutex
}

// NewEngine creates a negotiation engine.
func NewEngine(subscriptions marketDomain.SubscriptionRepository, config EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:      NewRegistry(),
		subscriptions: subscriptions,
		config:        config,
		logger:        logger,
		stopChan:      make(chan struct{}),
	}
}

// Registry exposes the queue registry for the matcher and handlers that
// inject events directly.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Subscribe publishes a demand or offer and opens its event queue.
func (e *Engine) Subscribe(ctx context.Context, side marketDomain.Side, owner sharedDomain.NodeKey, terms marketDomain.Terms) (*marketDomain.Subscription, error) {
	sub, err := marketDomain.NewSubscription(side, owner, terms, e.config.SubscriptionTTL)
	if err != nil {
		return nil, err
	}

	if err := e.subscriptions.Save(ctx, sub); err != nil {
		return nil, err
	}

	e.registry.Open(sub.ID())

	e.logger.Info("subscription opened",
		"subscription_id", sub.ID(),
		"side", side.String(),
		"owner", owner.String(),
	)

	return sub, nil
}

// Unsubscribe withdraws a subscription and wakes every collector blocked on
// its queue with ErrUnsubscribed.
func (e *Engine) Unsubscribe(ctx context.Context, id uuid.UUID, caller sharedDomain.NodeKey) error {
	sub, err := e.subscriptions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, marketDomain.ErrSubscriptionNotFound) {
			// The registry knows whether this ID ever lived here.
			return e.registry.Close(id)
		}
		return err
	}

	if !caller.IsEmpty() && !sub.IsOwnedBy(caller) {
		return ErrForbidden
	}

	if err := sub.Remove(); err != nil {
		if errors.Is(err, marketDomain.ErrSubscriptionRemoved) {
			return &UnsubscribedError{SubscriptionID: id}
		}
		return err
	}

	if err := e.subscriptions.Save(ctx, sub); err != nil {
		return err
	}

	err = e.registry.Close(id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	e.logger.Info("subscription closed",
		"subscription_id", id,
		"caller", caller.String(),
	)

	return nil
}

// CollectEvents returns queued negotiation events for a subscription,
// blocking for at most timeout when the queue is empty. A nil maxEvents
// drains everything pending.
func (e *Engine) CollectEvents(ctx context.Context, id uuid.UUID, caller sharedDomain.NodeKey, timeout time.Duration, maxEvents *int) ([]Event, error) {
	max := -1
	if maxEvents != nil {
		if *maxEvents < 0 {
			return nil, &InvalidMaxEventsError{Value: *maxEvents}
		}
		max = *maxEvents
	}

	if !caller.IsEmpty() {
		sub, err := e.subscriptions.FindByID(ctx, id)
		if err == nil && !sub.IsOwnedBy(caller) {
			return nil, ErrForbidden
		}
	}

	return e.registry.Collect(ctx, id, timeout, max)
}

// Post injects events into a subscription's queue.
func (e *Engine) Post(id uuid.UUID, events ...Event) error {
	return e.registry.Post(id, events...)
}

// IsActive reports whether a subscription still has a live queue.
func (e *Engine) IsActive(id uuid.UUID) bool {
	return e.registry.IsOpen(id)
}

// Start begins the expiry janitor in a goroutine.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(ctx)

	e.logger.Info("negotiation engine started",
		"sweep_interval", e.config.SweepInterval,
		"subscription_ttl", e.config.SubscriptionTTL,
	)

	return nil
}

// Stop gracefully stops the janitor.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("negotiation engine stopped")
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	interval := e.config.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case <-ticker.C:
			if err := e.sweepExpired(ctx); err != nil {
				e.logger.Error("expiry sweep failed", "error", err)
			}
			if retention := e.config.TombstoneRetention; retention > 0 {
				e.registry.PruneTombstones(retention)
			}
		}
	}
}

// sweepExpired closes subscriptions that outlived their TTL. Expiry behaves
// like an unsubscribe: blocked collectors are woken with ErrUnsubscribed.
func (e *Engine) sweepExpired(ctx context.Context) error {
	now := time.Now().UTC()

	for _, side := range []marketDomain.Side{marketDomain.SideDemand, marketDomain.SideOffer} {
		subs, err := e.subscriptions.FindActiveBySide(ctx, side)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			if !sub.IsExpired(now) {
				continue
			}
			if err := sub.Expire(); err != nil {
				continue
			}
			if err := e.subscriptions.Save(ctx, sub); err != nil {
				e.logger.Error("failed to persist expired subscription",
					"subscription_id", sub.ID(),
					"error", err,
				)
				continue
			}
			if err := e.registry.Close(sub.ID()); err != nil && !errors.Is(err, ErrNotFound) {
				e.logger.Error("failed to close expired queue",
					"subscription_id", sub.ID(),
					"error", err,
				)
			}
			e.logger.Info("subscription expired", "subscription_id", sub.ID())
		}
	}

	return nil
}
