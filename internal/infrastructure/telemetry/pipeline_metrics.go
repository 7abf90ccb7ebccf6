// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Publish failure stages recorded on the failure counter.
const (
	StageSerialize = "serialize"
	StagePersist   = "persist"
	StageDeliver   = "deliver"
	StageMigrate   = "migrate"
)

// PipelineMetrics tracks event pipeline activity: publishes, replays,
// redactions and their failures, plus a periodically collected gauge of
// stored events per tenant. All record methods are safe to call on a nil
// receiver so instrumentation stays optional.
type PipelineMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	eventsPublishedTotal *Counter
	eventsReplayedTotal  *Counter
	eventsRedactedTotal  *Counter
	publishFailuresTotal *Counter

	// Histogram metrics
	publishDuration *Histogram

	// Gauge metrics (point-in-time values)
	storedEventsGauge *Gauge

	// Periodic collector
	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	// Data provider for periodic collection
	countProvider EventCountProvider
}

// EventCountProvider provides stored event counts for periodic metrics
// collection. This interface lets the telemetry layer query store depth
// without depending on the persistence layer directly.
type EventCountProvider interface {
	// CountEvents returns the number of stored events for a tenant
	CountEvents(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

// TenantProvider provides tenant IDs for periodic metrics collection.
type TenantProvider interface {
	GetActiveTenantIDs(ctx context.Context) ([]uuid.UUID, error)
}

// PipelineMetricsConfig holds configuration for pipeline metrics.
type PipelineMetricsConfig struct {
	Meter         metric.Meter
	Logger        *zap.Logger
	CountProvider EventCountProvider
}

// NewPipelineMetrics creates a new PipelineMetrics instance.
func NewPipelineMetrics(cfg PipelineMetricsConfig) (*PipelineMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pm := &PipelineMetrics{
		meter:         cfg.Meter,
		logger:        logger,
		stopChan:      make(chan struct{}),
		countProvider: cfg.CountProvider,
	}

	var err error

	pm.eventsPublishedTotal, err = NewCounter(
		cfg.Meter,
		"devtrack_events_published_total",
		"Total number of domain events persisted and delivered",
		"{events}",
	)
	if err != nil {
		return nil, err
	}

	pm.eventsReplayedTotal, err = NewCounter(
		cfg.Meter,
		"devtrack_events_replayed_total",
		"Total number of domain events read back and migrated during replay",
		"{events}",
	)
	if err != nil {
		return nil, err
	}

	pm.eventsRedactedTotal, err = NewCounter(
		cfg.Meter,
		"devtrack_events_redacted_total",
		"Total number of event payloads redacted",
		"{events}",
	)
	if err != nil {
		return nil, err
	}

	pm.publishFailuresTotal, err = NewCounter(
		cfg.Meter,
		"devtrack_event_publish_failures_total",
		"Total number of failed publish attempts by stage",
		"{events}",
	)
	if err != nil {
		return nil, err
	}

	pm.publishDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "devtrack_event_publish_duration_seconds",
		Description: "Duration of publish operations including delivery",
		Unit:        "s",
		Boundaries:  EventDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	pm.storedEventsGauge, err = NewGauge(
		cfg.Meter,
		"devtrack_event_store_events",
		"Current number of stored events per tenant",
		"{events}",
	)
	if err != nil {
		return nil, err
	}

	return pm, nil
}

// RecordPublished increments the published counter for an event type.
func (pm *PipelineMetrics) RecordPublished(ctx context.Context, eventType string, count int64) {
	if pm == nil {
		return
	}
	pm.eventsPublishedTotal.Add(ctx, count, AttrEventType.String(eventType))
}

// RecordReplayed increments the replayed counter.
func (pm *PipelineMetrics) RecordReplayed(ctx context.Context, count int64) {
	if pm == nil {
		return
	}
	pm.eventsReplayedTotal.Add(ctx, count)
}

// RecordRedacted increments the redacted counter.
func (pm *PipelineMetrics) RecordRedacted(ctx context.Context) {
	if pm == nil {
		return
	}
	pm.eventsRedactedTotal.Inc(ctx)
}

// RecordPublishFailure increments the failure counter for a pipeline stage.
func (pm *PipelineMetrics) RecordPublishFailure(ctx context.Context, eventType, stage string) {
	if pm == nil {
		return
	}
	pm.publishFailuresTotal.Inc(ctx,
		AttrEventType.String(eventType),
		AttrPipelineStage.String(stage),
	)
}

// RecordPublishDuration records how long a publish took end to end.
func (pm *PipelineMetrics) RecordPublishDuration(ctx context.Context, d time.Duration) {
	if pm == nil {
		return
	}
	pm.publishDuration.RecordDuration(ctx, d)
}

// RecordStoredEvents records the current stored event count for a tenant.
func (pm *PipelineMetrics) RecordStoredEvents(ctx context.Context, tenantID uuid.UUID, count int64) {
	if pm == nil {
		return
	}
	pm.storedEventsGauge.Record(ctx, count,
		AttrTenantID.String(tenantID.String()),
	)
}

// StartPeriodicCollection starts periodic collection of the store depth
// gauge. It is non-blocking; use Stop() to stop collection.
func (pm *PipelineMetrics) StartPeriodicCollection(ctx context.Context, tenantProvider TenantProvider, interval time.Duration) {
	if pm == nil {
		return
	}
	pm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = 5 * time.Minute
		}

		go pm.runPeriodicCollection(ctx, tenantProvider, interval)
	})
}

// runPeriodicCollection runs the periodic collection loop.
func (pm *PipelineMetrics) runPeriodicCollection(ctx context.Context, tenantProvider TenantProvider, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	pm.collectStoreMetrics(ctx, tenantProvider)

	for {
		select {
		case <-pm.stopChan:
			pm.logger.Info("Stopping periodic pipeline metrics collection")
			return
		case <-ctx.Done():
			pm.logger.Info("Context cancelled, stopping periodic pipeline metrics collection")
			return
		case <-ticker.C:
			pm.collectStoreMetrics(ctx, tenantProvider)
		}
	}
}

// collectStoreMetrics collects the store depth gauge for all tenants.
func (pm *PipelineMetrics) collectStoreMetrics(ctx context.Context, tenantProvider TenantProvider) {
	if pm.countProvider == nil {
		pm.logger.Debug("No event count provider configured, skipping store metrics collection")
		return
	}

	tenantIDs, err := tenantProvider.GetActiveTenantIDs(ctx)
	if err != nil {
		pm.logger.Error("Failed to get tenant IDs for metrics collection", zap.Error(err))
		return
	}

	for _, tenantID := range tenantIDs {
		count, err := pm.countProvider.CountEvents(ctx, tenantID)
		if err != nil {
			pm.logger.Warn("Failed to count stored events for tenant",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
			continue
		}
		pm.RecordStoredEvents(ctx, tenantID, count)
	}
}

// Stop stops the periodic collection.
func (pm *PipelineMetrics) Stop() {
	if pm == nil {
		return
	}
	pm.stopOnce.Do(func() {
		close(pm.stopChan)
	})
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewPipelineMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
