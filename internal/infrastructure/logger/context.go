package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// contextKey keeps this package's context values from colliding with keys
// defined elsewhere.
type contextKey string

const (
	loggerKey   contextKey = "logger"
	tenantIDKey contextKey = "tenant_id"
)

// WithContext attaches a logger to the context so deeper layers can log
// with the fields accumulated by their caller.
func WithContext(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, log)
}

// FromContext returns the logger attached by WithContext. Callers that never
// attached one get a no-op logger, not nil.
func FromContext(ctx context.Context) *zap.Logger {
	if log, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return log
	}
	return zap.NewNop()
}

// WithTenantID stores the tenant on the context and returns a logger that
// carries it as a field. Both travel together so every entry below this
// point names the tenant.
func WithTenantID(ctx context.Context, log *zap.Logger, tenantID string) (context.Context, *zap.Logger) {
	enriched := log.With(zap.String("tenant_id", tenantID))
	return WithContext(context.WithValue(ctx, tenantIDKey, tenantID), enriched), enriched
}

// GetTenantID returns the tenant stored by WithTenantID, or "" when absent.
func GetTenantID(ctx context.Context) string {
	tenantID, _ := ctx.Value(tenantIDKey).(string)
	return tenantID
}

// WithTraceContext enriches a logger with the active span's trace_id and
// span_id so log entries can be joined to traces in the collector. Without a
// recording span the logger is returned as-is.
func WithTraceContext(ctx context.Context, log *zap.Logger) *zap.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return log
	}
	return log.With(
		zap.String("trace_id", spanCtx.TraceID().String()),
		zap.String("span_id", spanCtx.SpanID().String()),
	)
}
