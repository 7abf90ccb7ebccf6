package event

import (
	"github.com/devtrack/backend/internal/domain/shared"
	"github.com/devtrack/backend/internal/infrastructure/config"
	"github.com/devtrack/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Core bundles the store, bus and publisher into one assembled pipeline.
// Host processes construct a Core once and hand the publisher to their
// domain services.
type Core struct {
	Store     *GormEventStore
	Bus       *InMemorySubscriberBus
	Publisher *Publisher

	logger     *zap.Logger
	idemStore  shared.IdempotencyStore
	idemConfig shared.IdempotencyConfig
}

// CoreOption configures optional pieces of the pipeline
type CoreOption func(*Core)

// WithCoreMetrics attaches OTEL pipeline metrics to the assembled publisher
func WithCoreMetrics(m *telemetry.PipelineMetrics) CoreOption {
	return func(c *Core) {
		c.Publisher.metrics = m
	}
}

// WithIdempotencyStore makes Subscribe wrap subscribers with duplicate
// detection backed by the given store.
func WithIdempotencyStore(store shared.IdempotencyStore) CoreOption {
	return func(c *Core) {
		c.idemStore = store
	}
}

// NewCore assembles the event pipeline over an open database handle. The
// bus fan-out width and idempotency behavior come from configuration.
func NewCore(db *gorm.DB, cfg config.EventConfig, logger *zap.Logger, opts ...CoreOption) *Core {
	if logger == nil {
		logger = zap.NewNop()
	}

	store := NewGormEventStore(db)
	bus := NewInMemorySubscriberBus(logger, WithFanoutParallelism(cfg.FanoutParallelism))
	publisher := NewPublisher(store, bus, NewMigrationRegistry(logger), NewEventSerializer(), logger)

	c := &Core{
		Store:     store,
		Bus:       bus,
		Publisher: publisher,
		logger:    logger,
		idemConfig: shared.IdempotencyConfig{
			TTL:     cfg.IdempotencyTTL,
			Enabled: cfg.IdempotencyEnabled,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers a subscriber on the bus. When an idempotency store is
// configured the subscriber is wrapped with duplicate detection first. The
// returned subscriber is the one actually registered; pass it to Unsubscribe
// to remove it.
func (c *Core) Subscribe(subscriber shared.Subscriber) shared.Subscriber {
	registered := subscriber
	if c.idemStore != nil {
		registered = NewIdempotentSubscriber(subscriber, c.idemStore, c.logger,
			WithIdempotencyConfig(c.idemConfig),
		)
	}
	c.Bus.Subscribe(registered)
	return registered
}

// Unsubscribe removes a previously registered subscriber from the bus
func (c *Core) Unsubscribe(subscriber shared.Subscriber) {
	c.Bus.Unsubscribe(subscriber)
}
