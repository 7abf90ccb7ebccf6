package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/devtrack/backend/internal/domain/shared"
	applogger "github.com/devtrack/backend/internal/infrastructure/logger"
	"github.com/devtrack/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher is the single entry point through which domain events enter the
// store and reach subscribers. Persistence always precedes delivery: an
// event is never announced before it is durable.
type Publisher struct {
	store      shared.EventRecordStore
	bus        shared.SubscriberBus
	migrations *MigrationRegistry
	serializer *EventSerializer
	logger     *zap.Logger
	metrics    *telemetry.PipelineMetrics
}

// PublisherOption configures a Publisher
type PublisherOption func(*Publisher)

// WithPipelineMetrics attaches OTEL pipeline metrics to the publisher
func WithPipelineMetrics(m *telemetry.PipelineMetrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// NewPublisher creates a publisher over the given store and bus. A nil
// migration registry or serializer is replaced with an empty one.
func NewPublisher(
	store shared.EventRecordStore,
	bus shared.SubscriberBus,
	migrations *MigrationRegistry,
	serializer *EventSerializer,
	logger *zap.Logger,
	opts ...PublisherOption,
) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if migrations == nil {
		migrations = NewMigrationRegistry(logger)
	}
	if serializer == nil {
		serializer = NewEventSerializer()
	}

	p := &Publisher{
		store:      store,
		bus:        bus,
		migrations: migrations,
		serializer: serializer,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish persists one event and delivers it to interested subscribers.
// A duplicate event ID is treated as already durable: the insert is skipped
// and delivery proceeds, which makes retrying a publish whose acknowledgement
// was lost safe.
func (p *Publisher) Publish(ctx context.Context, tenantID uuid.UUID, event shared.DomainEvent) error {
	ctx, span := telemetry.StartSpan(ctx, "event_pipeline.publish")
	defer span.End()

	start := time.Now()

	record, err := p.buildRecord(tenantID, event)
	if err != nil {
		telemetry.RecordError(span, err)
		p.metrics.RecordPublishFailure(ctx, eventTypeOf(event), telemetry.StageSerialize)
		return err
	}

	telemetry.SetAttributes(span,
		telemetry.SpanAttrTenantID, tenantID,
		telemetry.SpanAttrEventID, record.EventID,
		telemetry.SpanAttrEventType, record.EventType,
	)

	if err := p.store.Append(ctx, record); err != nil {
		if errors.Is(err, shared.ErrDuplicateEvent) {
			p.logger.Info("event already persisted, delivering again",
				zap.String("event_id", record.EventID.String()),
				zap.String("event_type", record.EventType),
			)
			telemetry.AddEvent(span, "duplicate_event",
				telemetry.SpanAttrEventID, record.EventID,
			)
		} else {
			telemetry.RecordError(span, err)
			p.metrics.RecordPublishFailure(ctx, record.EventType, telemetry.StagePersist)
			return fmt.Errorf("persist event %s: %w", record.EventID, err)
		}
	}

	if err := p.bus.Publish(ctx, event); err != nil {
		telemetry.RecordError(span, err)
		p.metrics.RecordPublishFailure(ctx, record.EventType, telemetry.StageDeliver)
		return fmt.Errorf("deliver event %s: %w", record.EventID, err)
	}

	p.metrics.RecordPublished(ctx, record.EventType, 1)
	p.metrics.RecordPublishDuration(ctx, time.Since(start))
	return nil
}

// PublishAll persists a batch atomically, then delivers the events in order.
// An empty batch touches neither the store nor the bus. Delivery stops at
// the first bus error; everything already persisted stays persisted.
func (p *Publisher) PublishAll(ctx context.Context, tenantID uuid.UUID, events []shared.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "event_pipeline.publish_all",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID),
		telemetry.WithAttribute(telemetry.SpanAttrBatchSize, len(events)),
	)
	defer span.End()

	start := time.Now()

	records := make([]*shared.EventRecord, 0, len(events))
	for _, event := range events {
		record, err := p.buildRecord(tenantID, event)
		if err != nil {
			telemetry.RecordError(span, err)
			p.metrics.RecordPublishFailure(ctx, eventTypeOf(event), telemetry.StageSerialize)
			return err
		}
		records = append(records, record)
	}

	if err := p.store.AppendBatch(ctx, records); err != nil {
		if errors.Is(err, shared.ErrDuplicateEvent) {
			// The whole batch was stored by an earlier attempt; deliver again.
			p.logger.Warn("batch already persisted, delivering again",
				zap.Int("events", len(records)),
			)
			telemetry.AddEvent(span, "duplicate_batch",
				telemetry.SpanAttrBatchSize, len(records),
			)
		} else {
			telemetry.RecordError(span, err)
			p.metrics.RecordPublishFailure(ctx, "", telemetry.StagePersist)
			return fmt.Errorf("persist batch of %d events: %w", len(records), err)
		}
	}

	if err := p.bus.PublishAll(ctx, events); err != nil {
		telemetry.RecordError(span, err)
		p.metrics.RecordPublishFailure(ctx, "", telemetry.StageDeliver)
		return fmt.Errorf("deliver batch: %w", err)
	}

	for _, record := range records {
		p.metrics.RecordPublished(ctx, record.EventType, 1)
	}
	p.metrics.RecordPublishDuration(ctx, time.Since(start))
	return nil
}

// Replay returns the aggregate's history with every readable record carried
// to its latest registered schema version. Redacted records pass through
// untouched; their payload is gone and cannot be migrated.
func (p *Publisher) Replay(ctx context.Context, tenantID, aggregateID uuid.UUID) ([]*shared.EventRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "event_pipeline.replay",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID),
		telemetry.WithAttribute(telemetry.SpanAttrAggregateID, aggregateID),
	)
	defer span.End()

	records, err := p.store.FindByAggregate(ctx, tenantID, aggregateID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("replay aggregate %s: %w", aggregateID, err)
	}

	result := make([]*shared.EventRecord, 0, len(records))
	for _, record := range records {
		if record.IsRedacted {
			result = append(result, record)
			continue
		}
		migrated, err := p.migrations.Migrate(record)
		if err != nil {
			telemetry.RecordError(span, err)
			p.metrics.RecordPublishFailure(ctx, record.EventType, telemetry.StageMigrate)
			return nil, fmt.Errorf("replay aggregate %s: %w", aggregateID, err)
		}
		result = append(result, migrated)
	}

	p.metrics.RecordReplayed(ctx, int64(len(result)))
	return result, nil
}

// EventsSince returns the tenant's records occurring strictly after the
// given time.
func (p *Publisher) EventsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]*shared.EventRecord, error) {
	records, err := p.store.FindSince(ctx, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("read events since %s: %w", since.Format(time.RFC3339), err)
	}
	return records, nil
}

// EventsByType returns the tenant's records of one event type.
func (p *Publisher) EventsByType(ctx context.Context, tenantID uuid.UUID, eventType string) ([]*shared.EventRecord, error) {
	records, err := p.store.FindByEventType(ctx, tenantID, eventType)
	if err != nil {
		return nil, fmt.Errorf("read events of type %s: %w", eventType, err)
	}
	return records, nil
}

// EventsByAggregateType returns the tenant's records of one aggregate type.
func (p *Publisher) EventsByAggregateType(ctx context.Context, tenantID uuid.UUID, aggregateType string) ([]*shared.EventRecord, error) {
	records, err := p.store.FindByAggregateType(ctx, tenantID, aggregateType)
	if err != nil {
		return nil, fmt.Errorf("read events of aggregate type %s: %w", aggregateType, err)
	}
	return records, nil
}

// CountEvents returns the number of stored events for a tenant.
func (p *Publisher) CountEvents(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	count, err := p.store.CountByTenant(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// RedactEvent erases one event's payload, leaving the record and its
// envelope in place.
func (p *Publisher) RedactEvent(ctx context.Context, tenantID, eventID uuid.UUID) error {
	ctx, span := telemetry.StartSpan(ctx, "event_pipeline.redact",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID),
		telemetry.WithAttribute(telemetry.SpanAttrEventID, eventID),
	)
	defer span.End()

	if err := p.store.Redact(ctx, tenantID, eventID); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("redact event %s: %w", eventID, err)
	}

	p.metrics.RecordRedacted(ctx)
	// Audit entry carries the trace so the redaction can be traced back.
	applogger.WithTraceContext(ctx, p.logger).Info("event payload redacted",
		zap.String("tenant_id", tenantID.String()),
		zap.String("event_id", eventID.String()),
	)
	return nil
}

// TagSnapshot marks the aggregate's records occurring strictly after the
// reference event with a snapshot pointer and returns how many were tagged.
func (p *Publisher) TagSnapshot(ctx context.Context, tenantID, aggregateID, snapshotID, afterEventID uuid.UUID) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "event_pipeline.tag_snapshot",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID),
		telemetry.WithAttribute(telemetry.SpanAttrAggregateID, aggregateID),
		telemetry.WithAttribute(telemetry.SpanAttrSnapshotID, snapshotID),
	)
	defer span.End()

	tagged, err := p.store.TagSnapshot(ctx, tenantID, aggregateID, snapshotID, afterEventID)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, fmt.Errorf("tag snapshot %s: %w", snapshotID, err)
	}

	p.logger.Info("snapshot tagged",
		zap.String("aggregate_id", aggregateID.String()),
		zap.String("snapshot_id", snapshotID.String()),
		zap.Int64("tagged", tagged),
	)
	return tagged, nil
}

// WipeTenant deletes every record of a tenant and returns how many were
// removed. Intended for test and offboarding paths.
func (p *Publisher) WipeTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "event_pipeline.wipe_tenant",
		telemetry.WithAttribute(telemetry.SpanAttrTenantID, tenantID),
	)
	defer span.End()

	removed, err := p.store.WipeTenant(ctx, tenantID)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, fmt.Errorf("wipe tenant %s: %w", tenantID, err)
	}

	applogger.WithTraceContext(ctx, p.logger).Warn("tenant event log wiped",
		zap.String("tenant_id", tenantID.String()),
		zap.Int64("removed", removed),
	)
	return removed, nil
}

// RegisterMigration adds a single-step payload transform for an event type.
func (p *Publisher) RegisterMigration(eventType, fromVersion, toVersion string, fn TransformFunc) error {
	return p.migrations.Register(eventType, fromVersion, toVersion, fn)
}

// RegisterEvent registers an event prototype for deserialization.
func (p *Publisher) RegisterEvent(event shared.DomainEvent) {
	p.serializer.Register(event.EventType(), event)
}

// Migrations exposes the registry backing replay migration.
func (p *Publisher) Migrations() *MigrationRegistry {
	return p.migrations
}

// buildRecord validates the envelope and serializes the event into its
// stored form.
func (p *Publisher) buildRecord(tenantID uuid.UUID, event shared.DomainEvent) (*shared.EventRecord, error) {
	if event == nil {
		return nil, fmt.Errorf("publish: nil event: %w", shared.ErrInvalidInput)
	}
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("publish event %s: missing tenant id: %w", event.EventID(), shared.ErrInvalidInput)
	}
	if event.EventID() == uuid.Nil {
		return nil, fmt.Errorf("publish %s event: missing event id: %w", event.EventType(), shared.ErrInvalidInput)
	}
	if event.EventType() == "" {
		return nil, fmt.Errorf("publish event %s: missing event type: %w", event.EventID(), shared.ErrInvalidInput)
	}
	if event.AggregateID() == uuid.Nil || event.AggregateType() == "" {
		return nil, fmt.Errorf("publish event %s: missing aggregate identity: %w", event.EventID(), shared.ErrInvalidInput)
	}
	if event.OccurredAt().IsZero() {
		return nil, fmt.Errorf("publish event %s: missing occurrence time: %w", event.EventID(), shared.ErrInvalidInput)
	}

	payload, err := p.serializer.Serialize(event)
	if err != nil {
		return nil, fmt.Errorf("serialize event %s: %w", event.EventID(), err)
	}

	record := shared.NewEventRecord(tenantID, event, payload)

	if carrier, ok := event.(shared.MetadataCarrier); ok {
		if md := carrier.EventMetadata(); len(md) > 0 {
			raw, err := json.Marshal(md)
			if err != nil {
				return nil, fmt.Errorf("serialize event %s metadata: %w", event.EventID(), err)
			}
			record.Metadata = raw
		}
	}

	return record, nil
}

// eventTypeOf is a nil-safe accessor used for failure metrics.
func eventTypeOf(event shared.DomainEvent) string {
	if event == nil {
		return ""
	}
	return event.EventType()
}

// Ensure Publisher implements EventPublisher
var _ shared.EventPublisher = (*Publisher)(nil)

// Ensure Publisher can feed the store depth gauge
var _ telemetry.EventCountProvider = (*Publisher)(nil)
