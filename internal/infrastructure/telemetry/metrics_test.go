package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/devtrack/backend/internal/infrastructure/telemetry"
)

func TestNewMeterProvider_Disabled(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	cfg := telemetry.MetricsConfig{
		Enabled:           false,
		CollectorEndpoint: "localhost:14317",
		ExportInterval:    60 * time.Second,
		ServiceName:       "devtrack-test",
	}

	mp, err := telemetry.NewMeterProvider(ctx, cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, mp)

	assert.False(t, mp.IsEnabled())
	assert.NoError(t, mp.Shutdown(ctx))
}

func TestNewMeterProvider_Enabled(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	cfg := telemetry.MetricsConfig{
		Enabled:           true,
		CollectorEndpoint: "localhost:14317",
		ExportInterval:    time.Minute,
		ServiceName:       "devtrack-test",
		Insecure:          true,
	}

	// The OTLP gRPC connection is lazy, so creation succeeds without a collector.
	mp, err := telemetry.NewMeterProvider(ctx, cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, mp)

	assert.True(t, mp.IsEnabled())
	require.NotNil(t, mp.Meter("devtrack-test"))

	// No collector is listening, so shut down with a cancelled context to skip
	// the final export instead of waiting out the exporter retries.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_ = mp.Shutdown(cancelled)
}

func TestMeterProvider_Meter_Disabled(t *testing.T) {
	logger := zaptest.NewLogger(t)

	mp, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{Enabled: false}, logger)
	require.NoError(t, err)

	// A disabled provider falls back to the global no-op meter.
	assert.NotNil(t, mp.Meter("event-pipeline"))
}

func TestMeterProvider_ForceFlush_Disabled(t *testing.T) {
	logger := zaptest.NewLogger(t)

	mp, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{Enabled: false}, logger)
	require.NoError(t, err)

	assert.NoError(t, mp.ForceFlush(context.Background()))
}

func TestMeterProvider_Shutdown_CancelledContext(t *testing.T) {
	logger := zaptest.NewLogger(t)

	mp, err := telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{Enabled: false}, logger)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, mp.Shutdown(cancelled))
}

// ============================================================================
// Counter Tests
// ============================================================================

func TestCounter_Add(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{Enabled: false}, logger)
	require.NoError(t, err)

	meter := mp.Meter("event-pipeline")
	counter, err := telemetry.NewCounter(meter, "devtrack_events_published_total", "Published events", "{event}")
	require.NoError(t, err)
	require.NotNil(t, counter)

	counter.Add(ctx, 5, telemetry.AttrEventType.String("task.created"))
	counter.Add(ctx, 10, telemetry.AttrEventType.String("review.approved"))
	counter.Inc(ctx, telemetry.AttrEventType.String("task.closed"))
}

func TestCounter_Inc(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{Enabled: false}, logger)
	require.NoError(t, err)

	meter := mp.Meter("event-pipeline")
	counter, err := telemetry.NewCounter(meter, "devtrack_events_dispatched_total", "Dispatched events", "{event}")
	require.NoError(t, err)

	counter.Inc(ctx)
	counter.Inc(ctx, telemetry.AttrPipelineStage.String("fanout"))
	counter.Inc(ctx, telemetry.AttrPipelineStage.String("store"))
}

// ============================================================================
// Histogram Tests
// ============================================================================

func TestHistogram_Record(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{Enabled: false}, logger)
	require.NoError(t, err)

	meter := mp.Meter("event-pipeline")
	histogram, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "devtrack_events_publish_duration_seconds",
		Description: "Event publish duration",
		Unit:        "s",
		Boundaries:  telemetry.EventDurationBuckets,
	})
	require.NoError(t, err)
	require.NotNil(t, histogram)

	histogram.Record(ctx, 0.005)
	histogram.Record(ctx, 0.1, telemetry.AttrEventType.String("task.created"))
	histogram.Record(ctx, 2.5, telemetry.AttrEventType.String("review.requested"))
}

func TestHistogram_RecordDuration(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{Enabled: false}, logger)
	require.NoError(t, err)

	meter := mp.Meter("event-pipeline")
	histogram, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "devtrack_db_query_duration_seconds",
		Description: "Database query duration",
		Unit:        "s",
		Boundaries:  telemetry.DBDurationBuckets,
	})
	require.NoError(t, err)

	histogram.RecordDuration(ctx, 5*time.Millisecond)
	histogram.RecordDuration(ctx, 100*time.Millisecond, telemetry.AttrDBOperation.String("SELECT"))
	histogram.RecordDuration(ctx, time.Second, telemetry.AttrDBOperation.String("INSERT"))
}

func TestHistogram_CustomBoundaries(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{Enabled: false}, logger)
	require.NoError(t, err)

	meter := mp.Meter("event-pipeline")
	histogram, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "devtrack_snapshot_build_duration_seconds",
		Description: "Tag snapshot build duration",
		Unit:        "s",
		Boundaries:  []float64{0.1, 0.5, 1.0, 5.0, 10.0},
	})
	require.NoError(t, err)
	require.NotNil(t, histogram)

	histogram.Record(ctx, 0.25)
}

func TestHistogram_NoBoundaries(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{Enabled: false}, logger)
	require.NoError(t, err)

	meter := mp.Meter("event-pipeline")

	// No explicit boundaries means the SDK defaults apply.
	histogram, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "devtrack_migration_step_duration_seconds",
		Description: "Migration step duration",
		Unit:        "s",
	})
	require.NoError(t, err)
	require.NotNil(t, histogram)

	histogram.Record(ctx, 1.5)
}

// ============================================================================
// Gauge Tests
// ============================================================================

func TestGauge_Record(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{Enabled: false}, logger)
	require.NoError(t, err)

	meter := mp.Meter("event-pipeline")
	gauge, err := telemetry.NewGauge(meter, "devtrack_events_stored", "Stored events per tenant", "{event}")
	require.NoError(t, err)
	require.NotNil(t, gauge)

	gauge.Record(ctx, 10)
	gauge.Record(ctx, 15, telemetry.AttrTenantID.String("tenant-a"))
	gauge.Record(ctx, 5, telemetry.AttrTenantID.String("tenant-b"))
}

// ============================================================================
// Common Attributes and Buckets
// ============================================================================

func TestCommonAttributes(t *testing.T) {
	assert.Equal(t, "tenant_id", string(telemetry.AttrTenantID))
	assert.Equal(t, "event_type", string(telemetry.AttrEventType))
	assert.Equal(t, "event_version", string(telemetry.AttrEventVersion))
	assert.Equal(t, "aggregate_type", string(telemetry.AttrAggregateType))
	assert.Equal(t, "stage", string(telemetry.AttrPipelineStage))
	assert.Equal(t, "operation", string(telemetry.AttrDBOperation))
	assert.Equal(t, "table", string(telemetry.AttrDBTable))
	assert.Equal(t, "state", string(telemetry.AttrDBState))
}

func TestDefaultBuckets(t *testing.T) {
	assert.Equal(t, []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}, telemetry.EventDurationBuckets)
	assert.Equal(t, []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}, telemetry.DBDurationBuckets)
}
