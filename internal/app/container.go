// Package app wires the market node's components together.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openagora/agora/adapter/api"
	"github.com/openagora/agora/internal/market/application/commands"
	"github.com/openagora/agora/internal/market/application/queries"
	"github.com/openagora/agora/internal/market/discovery"
	"github.com/openagora/agora/internal/market/matcher"
	"github.com/openagora/agora/internal/market/negotiation"
	marketDomain "github.com/openagora/agora/internal/market/domain"
	sharedApplication "github.com/openagora/agora/internal/shared/application"
	sharedDomain "github.com/openagora/agora/internal/shared/domain"
	"github.com/openagora/agora/internal/shared/infrastructure/database"
	"github.com/openagora/agora/internal/shared/infrastructure/eventbus"
	"github.com/openagora/agora/internal/shared/infrastructure/migrations"
	"github.com/openagora/agora/internal/shared/infrastructure/outbox"
	"github.com/openagora/agora/pkg/config"
	"github.com/openagora/agora/pkg/observability"
	"github.com/redis/go-redis/v9"
)

// Container holds every component of a running market node.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	DBConn      database.Connection
	RedisClient *redis.Client

	// Repositories
	SubscriptionRepo marketDomain.SubscriptionRepository
	ProposalRepo     marketDomain.ProposalRepository
	OutboxRepo       outbox.Repository
	UnitOfWork       sharedApplication.UnitOfWork

	// Messaging
	EventPublisher eventbus.Publisher
	Consumer       *eventbus.RabbitMQConsumer
	InProcessBus   *eventbus.InProcessEventBus

	// Market core
	Engine     *negotiation.Engine
	Matcher    *matcher.Matcher
	PairLedger matcher.PairLedger

	// Discovery
	Propagator       *discovery.Propagator
	RemoteSender     *discovery.RemoteSender
	ProposalReceiver *discovery.ProposalReceiver

	// Command handlers
	SubscribeHandler       *commands.SubscribeHandler
	UnsubscribeHandler     *commands.UnsubscribeHandler
	CounterProposalHandler *commands.CounterProposalHandler
	AcceptProposalHandler  *commands.AcceptProposalHandler
	RejectProposalHandler  *commands.RejectProposalHandler
	InjectProposalHandler  *commands.InjectProposalHandler

	// Query handlers
	CollectEventsHandler     *queries.CollectEventsHandler
	GetProposalHandler       *queries.GetProposalHandler
	ListSubscriptionsHandler *queries.ListSubscriptionsHandler

	// Surfaces
	Health          *observability.HealthRegistry
	APIServer       *api.Server
	OutboxProcessor *outbox.Processor
}

// NewContainer creates a fully wired container for networked deployments.
// PostgreSQL backs persistence, Redis backs the matcher's pair ledger and
// RabbitMQ carries discovery traffic. In development each external service
// degrades to an in-process fallback with a warning instead of failing.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
		Health: observability.NewHealthRegistry(),
	}

	conn, err := database.NewConnection(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	c.DBConn = conn
	c.Health.Register("database", observability.PingChecker("database", true, conn.Ping))
	logger.Info("connected to database", "driver", conn.Driver())

	if err := c.runMigrations(ctx); err != nil {
		c.Close()
		return nil, err
	}

	if err := c.initRepositories(); err != nil {
		c.Close()
		return nil, err
	}

	// Pair ledger: Redis when configured so replicas share match state,
	// in-memory otherwise.
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("invalid Redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			if !cfg.IsDevelopment() {
				c.Close()
				return nil, fmt.Errorf("failed to connect to Redis: %w", err)
			}
			logger.Warn("Redis not available, using in-memory pair ledger", "error", err)
			_ = client.Close()
		} else {
			c.RedisClient = client
			c.PairLedger = matcher.NewRedisLedger(client, cfg.PairLedgerTTL)
			c.Health.Register("redis", observability.PingChecker("redis", false, func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			}))
			logger.Info("connected to Redis")
		}
	}
	if c.PairLedger == nil {
		c.PairLedger = matcher.NewMemoryLedger(cfg.PairLedgerTTL)
	}

	// Event publisher: RabbitMQ, degrading to a noop in development.
	rabbitPublisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
	if err != nil {
		if !cfg.IsDevelopment() {
			c.Close()
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		logger.Warn("RabbitMQ not available, using noop publisher", "error", err)
		c.EventPublisher = eventbus.NewNoopPublisher(logger)
	} else {
		c.EventPublisher = rabbitPublisher
		c.Health.Register("rabbitmq", observability.PingChecker("rabbitmq", false, func(ctx context.Context) error {
			if rabbitPublisher.IsClosed() {
				return fmt.Errorf("connection closed")
			}
			return nil
		}))
	}

	c.initMarketCore()

	// Discovery needs a real broker: announcements and remote proposals
	// ride the same exchange the publisher writes to.
	if cfg.DiscoveryEnabled && rabbitPublisher != nil {
		if err := c.initDiscovery(); err != nil {
			c.Close()
			return nil, err
		}
	}

	c.initHandlers()
	c.initAPIServer()

	if cfg.OutboxProcessorEnabled {
		c.OutboxProcessor = outbox.NewProcessor(c.OutboxRepo, c.EventPublisher, outbox.ProcessorConfig{
			PollInterval: cfg.OutboxPollInterval,
			BatchSize:    cfg.OutboxBatchSize,
			MaxRetries:   cfg.OutboxMaxRetries,
		}, logger)
	}

	return c, nil
}

// NewLocalContainer creates a container for single-node local mode: SQLite
// persistence under the user's home directory, an in-memory pair ledger and
// a synchronous in-process event bus. No external services are required.
func NewLocalContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
		Health: observability.NewHealthRegistry(),
	}

	conn, err := database.NewConnection(ctx, database.Config{Driver: database.DriverSQLite})
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}
	c.DBConn = conn
	c.Health.Register("database", observability.PingChecker("database", true, conn.Ping))
	logger.Info("local mode: using SQLite", "path", database.DefaultSQLitePath())

	if err := c.runMigrations(ctx); err != nil {
		c.Close()
		return nil, err
	}

	if err := c.initRepositories(); err != nil {
		c.Close()
		return nil, err
	}

	c.PairLedger = matcher.NewMemoryLedger(cfg.PairLedgerTTL)

	c.InProcessBus = eventbus.NewInProcessEventBus(logger)
	c.EventPublisher = eventbus.NewInProcessPublisher(c.InProcessBus, logger)

	c.initMarketCore()
	c.initHandlers()
	c.initAPIServer()

	if cfg.OutboxProcessorEnabled {
		c.OutboxProcessor = outbox.NewProcessor(c.OutboxRepo, c.EventPublisher, outbox.ProcessorConfig{
			PollInterval: cfg.OutboxPollInterval,
			BatchSize:    cfg.OutboxBatchSize,
			MaxRetries:   cfg.OutboxMaxRetries,
		}, logger)
	}

	return c, nil
}

func (c *Container) runMigrations(ctx context.Context) error {
	factory := NewRepositoryFactory(c.DBConn)

	switch factory.Driver() {
	case database.DriverPostgres:
		pool, err := factory.getPostgresPool()
		if err != nil {
			return err
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

	case database.DriverSQLite:
		db, err := factory.getSQLiteDB()
		if err != nil {
			return err
		}
		if err := migrations.RunSQLiteMigrations(ctx, db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return nil
}

func (c *Container) initRepositories() error {
	factory := NewRepositoryFactory(c.DBConn)

	subs, err := factory.SubscriptionRepository()
	if err != nil {
		return fmt.Errorf("failed to create subscription repository: %w", err)
	}
	props, err := factory.ProposalRepository()
	if err != nil {
		return fmt.Errorf("failed to create proposal repository: %w", err)
	}
	outboxRepo, err := factory.OutboxRepository()
	if err != nil {
		return fmt.Errorf("failed to create outbox repository: %w", err)
	}
	uow, err := factory.UnitOfWork()
	if err != nil {
		return fmt.Errorf("failed to create unit of work: %w", err)
	}

	c.SubscriptionRepo = subs
	c.ProposalRepo = props
	c.OutboxRepo = outboxRepo
	c.UnitOfWork = uow
	return nil
}

func (c *Container) initMarketCore() {
	engineConfig := negotiation.DefaultEngineConfig()
	engineConfig.SubscriptionTTL = c.Config.SubscriptionTTL
	engineConfig.SweepInterval = c.Config.ExpirySweepInterval

	c.Engine = negotiation.NewEngine(c.SubscriptionRepo, engineConfig, c.Logger)

	if c.Config.MatcherEnabled {
		c.Matcher = matcher.NewMatcher(c.SubscriptionRepo, c.ProposalRepo, c.Engine.Registry(), c.PairLedger, c.Logger)
	}
}

func (c *Container) initDiscovery() error {
	selfKey := sharedDomain.NewNodeKey(c.Config.NodeKey)
	if selfKey.IsEmpty() {
		return fmt.Errorf("discovery requires AGORA_NODE_KEY to be set")
	}

	c.Propagator = discovery.NewPropagator(c.EventPublisher, c.SubscriptionRepo, c.Matcher, selfKey, c.Logger)
	c.RemoteSender = discovery.NewRemoteSender(c.EventPublisher, selfKey, discovery.RemoteSenderConfig{
		SendTimeout: c.Config.RemoteSendTimeout,
	}, c.Logger)
	c.ProposalReceiver = discovery.NewProposalReceiver(c.Engine, c.ProposalRepo, selfKey, c.Logger)

	registry := eventbus.NewConsumerRegistry(c.Logger)
	consumer, err := eventbus.NewRabbitMQConsumer(eventbus.RabbitMQConsumerConfig{
		URL:       c.Config.RabbitMQURL,
		Exchange:  c.Config.AnnounceExchangeName,
		QueueName: "agora.market." + c.Config.NodeKey,
		Logger:    c.Logger,
	}, registry)
	if err != nil {
		return fmt.Errorf("failed to create discovery consumer: %w", err)
	}
	consumer.RegisterConsumer(c.Propagator)
	consumer.RegisterConsumer(c.ProposalReceiver)
	c.Consumer = consumer

	return nil
}

func (c *Container) initHandlers() {
	// Propagator and RemoteSender stay typed-nil unless discovery is on;
	// the handlers take interfaces, so only assign when present.
	var announcer commands.Announcer
	if c.Propagator != nil {
		announcer = c.Propagator
	}
	var sender commands.ProposalSender
	if c.RemoteSender != nil {
		sender = c.RemoteSender
	}

	c.SubscribeHandler = commands.NewSubscribeHandler(
		c.SubscriptionRepo, c.OutboxRepo, c.UnitOfWork, c.Engine, c.Matcher, announcer, c.Config.SubscriptionTTL)
	c.UnsubscribeHandler = commands.NewUnsubscribeHandler(
		c.SubscriptionRepo, c.OutboxRepo, c.UnitOfWork, c.Engine, announcer)
	c.CounterProposalHandler = commands.NewCounterProposalHandler(
		c.ProposalRepo, c.SubscriptionRepo, c.OutboxRepo, c.UnitOfWork, c.Engine, sender)
	c.AcceptProposalHandler = commands.NewAcceptProposalHandler(
		c.ProposalRepo, c.SubscriptionRepo, c.OutboxRepo, c.UnitOfWork, c.Engine, sender)
	c.RejectProposalHandler = commands.NewRejectProposalHandler(
		c.ProposalRepo, c.SubscriptionRepo, c.OutboxRepo, c.UnitOfWork, c.Engine, sender)
	c.InjectProposalHandler = commands.NewInjectProposalHandler(
		c.ProposalRepo, c.SubscriptionRepo, c.OutboxRepo, c.UnitOfWork, c.Engine)

	c.CollectEventsHandler = queries.NewCollectEventsHandler(c.Engine)
	c.GetProposalHandler = queries.NewGetProposalHandler(c.ProposalRepo)
	c.ListSubscriptionsHandler = queries.NewListSubscriptionsHandler(c.SubscriptionRepo)
}

func (c *Container) initAPIServer() {
	handler := api.NewMarketHandler(api.MarketHandlerConfig{
		Subscribe:       c.SubscribeHandler,
		Unsubscribe:     c.UnsubscribeHandler,
		CounterProposal: c.CounterProposalHandler,
		AcceptProposal:  c.AcceptProposalHandler,
		RejectProposal:  c.RejectProposalHandler,
		InjectProposal:  c.InjectProposalHandler,
		CollectEvents:   c.CollectEventsHandler,
		GetProposal:     c.GetProposalHandler,
		ListSubs:        c.ListSubscriptionsHandler,
		Logger:          c.Logger,
	})

	serverConfig := api.DefaultServerConfig()
	serverConfig.Addr = c.Config.APIAddr
	c.APIServer = api.NewServer(serverConfig, handler, c.Logger)
	c.APIServer.SetHealthRegistry(c.Health)
}

// Start brings up the background parts of the node: the negotiation
// engine's janitor, the outbox processor and the discovery consumer.
// The API server is started separately so callers control its lifecycle.
func (c *Container) Start(ctx context.Context) error {
	if err := c.Engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start negotiation engine: %w", err)
	}

	if c.OutboxProcessor != nil {
		if err := c.OutboxProcessor.Start(ctx); err != nil {
			return fmt.Errorf("failed to start outbox processor: %w", err)
		}
	}

	if c.Consumer != nil {
		go func() {
			if err := c.Consumer.Start(ctx); err != nil && ctx.Err() == nil {
				c.Logger.Error("discovery consumer stopped", "error", err)
			}
		}()
	}

	return nil
}

// Close releases all container resources in reverse dependency order.
func (c *Container) Close() {
	if c.OutboxProcessor != nil {
		c.OutboxProcessor.Stop()
	}

	if c.Consumer != nil {
		if err := c.Consumer.Close(); err != nil {
			c.Logger.Error("failed to close discovery consumer", "error", err)
		}
	}

	if c.Engine != nil {
		c.Engine.Stop()
	}

	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Error("failed to close event publisher", "error", err)
		}
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Error("failed to close Redis client", "error", err)
		}
	}

	if c.DBConn != nil {
		if err := c.DBConn.Close(); err != nil {
			c.Logger.Error("failed to close database connection", "error", err)
		}
	}
}
