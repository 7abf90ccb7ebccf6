package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContext_RoundTrip(t *testing.T) {
	log := zap.NewNop()
	ctx := WithContext(context.Background(), log)

	assert.Same(t, log, FromContext(ctx))
}

func TestFromContext_MissingLoggerIsNoop(t *testing.T) {
	log := FromContext(context.Background())

	require.NotNil(t, log)
	// Must not panic; a bare context yields a usable no-op logger.
	log.Info("ignored")
}

func TestWithTenantID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx, enriched := WithTenantID(context.Background(), zap.New(core), "tenant-7")

	assert.Equal(t, "tenant-7", GetTenantID(ctx))
	assert.Same(t, enriched, FromContext(ctx))

	enriched.Info("appended")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "tenant-7", logs.All()[0].ContextMap()["tenant_id"])
}

func TestGetTenantID_Missing(t *testing.T) {
	assert.Empty(t, GetTenantID(context.Background()))
}

func TestWithTraceContext_ActiveSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	core, logs := observer.New(zap.InfoLevel)
	WithTraceContext(ctx, zap.New(core)).Info("delivered")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"])
}

func TestWithTraceContext_NoSpan(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)

	returned := WithTraceContext(context.Background(), log)
	assert.Same(t, log, returned)

	returned.Info("plain")
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.NotContains(t, fields, "trace_id")
	assert.NotContains(t, fields, "span_id")
}
