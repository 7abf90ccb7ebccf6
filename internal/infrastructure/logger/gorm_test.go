package logger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func newObservedGormLogger(level gormlogger.LogLevel, opts ...GormLoggerOption) (*GormLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewGormLogger(zap.New(core), level, opts...), logs
}

func queryCallback(statement string, rows int64) func() (string, int64) {
	return func() (string, int64) { return statement, rows }
}

func TestGormLogger_Defaults(t *testing.T) {
	gl, _ := newObservedGormLogger(gormlogger.Info)

	assert.Equal(t, 200*time.Millisecond, gl.slowThreshold)
	assert.True(t, gl.skipNotFound)
}

func TestGormLogger_Options(t *testing.T) {
	gl, _ := newObservedGormLogger(gormlogger.Info,
		WithSlowThreshold(time.Second),
		WithIgnoreRecordNotFoundError(false),
	)

	assert.Equal(t, time.Second, gl.slowThreshold)
	assert.False(t, gl.skipNotFound)
}

func TestGormLogger_LogModeReturnsCopy(t *testing.T) {
	gl, _ := newObservedGormLogger(gormlogger.Info)

	quieter := gl.LogMode(gormlogger.Error)

	assert.Equal(t, gormlogger.Info, gl.level)
	assert.Equal(t, gormlogger.Error, quieter.(*GormLogger).level)
}

func TestGormLogger_LevelGating(t *testing.T) {
	gl, logs := newObservedGormLogger(gormlogger.Warn)
	ctx := context.Background()

	gl.Info(ctx, "suppressed %s", "info")
	gl.Warn(ctx, "emitted %s", "warn")
	gl.Error(ctx, "emitted %s", "error")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[1].Level)
}

func TestGormLogger_Trace(t *testing.T) {
	ctx := context.Background()
	begin := time.Now()

	t.Run("silent level drops everything", func(t *testing.T) {
		gl, logs := newObservedGormLogger(gormlogger.Silent)
		gl.Trace(ctx, begin, queryCallback("SELECT 1", 1), assert.AnError)
		assert.Zero(t, logs.Len())
	})

	t.Run("failed query logs at error with sql and rows", func(t *testing.T) {
		gl, logs := newObservedGormLogger(gormlogger.Error)
		gl.Trace(ctx, begin, queryCallback(`SELECT * FROM "domain_events"`, 0), assert.AnError)

		require.Equal(t, 1, logs.Len())
		entry := logs.All()[0]
		assert.Equal(t, zapcore.ErrorLevel, entry.Level)
		assert.Equal(t, "query failed", entry.Message)
		assert.Equal(t, `SELECT * FROM "domain_events"`, entry.ContextMap()["sql"])
		assert.Equal(t, int64(0), entry.ContextMap()["rows"])
	})

	t.Run("record not found is suppressed by default", func(t *testing.T) {
		gl, logs := newObservedGormLogger(gormlogger.Error)
		gl.Trace(ctx, begin, queryCallback("SELECT 1", 0), gormlogger.ErrRecordNotFound)
		assert.Zero(t, logs.Len())
	})

	t.Run("record not found logs when suppression is off", func(t *testing.T) {
		gl, logs := newObservedGormLogger(gormlogger.Error, WithIgnoreRecordNotFoundError(false))
		gl.Trace(ctx, begin, queryCallback("SELECT 1", 0), gormlogger.ErrRecordNotFound)
		assert.Equal(t, 1, logs.Len())
	})

	t.Run("slow query logs at warn with threshold", func(t *testing.T) {
		gl, logs := newObservedGormLogger(gormlogger.Warn, WithSlowThreshold(time.Nanosecond))
		gl.Trace(ctx, time.Now().Add(-time.Millisecond), queryCallback("SELECT 1", 1), nil)

		require.Equal(t, 1, logs.Len())
		entry := logs.All()[0]
		assert.Equal(t, "slow query", entry.Message)
		assert.Equal(t, time.Nanosecond, entry.ContextMap()["threshold"])
	})

	t.Run("zero threshold disables slow detection", func(t *testing.T) {
		gl, logs := newObservedGormLogger(gormlogger.Warn, WithSlowThreshold(0))
		gl.Trace(ctx, time.Now().Add(-time.Hour), queryCallback("SELECT 1", 1), nil)
		assert.Zero(t, logs.Len())
	})

	t.Run("healthy query logs at debug on info level", func(t *testing.T) {
		gl, logs := newObservedGormLogger(gormlogger.Info)
		gl.Trace(ctx, begin, queryCallback("SELECT 1", 1), nil)

		require.Equal(t, 1, logs.Len())
		assert.Equal(t, zapcore.DebugLevel, logs.All()[0].Level)
		assert.Equal(t, "query", logs.All()[0].Message)
	})

	t.Run("tenant on the context is carried into the query log", func(t *testing.T) {
		gl, logs := newObservedGormLogger(gormlogger.Info)
		tenantCtx, _ := WithTenantID(context.Background(), zap.NewNop(), "tenant-42")

		gl.Trace(tenantCtx, begin, queryCallback("SELECT 1", 1), nil)

		require.Equal(t, 1, logs.Len())
		assert.Equal(t, "tenant-42", logs.All()[0].ContextMap()["tenant_id"])
	})
}

func TestGormLogger_ImplementsInterface(t *testing.T) {
	gl, _ := newObservedGormLogger(gormlogger.Info)
	var _ gormlogger.Interface = gl
}

func TestMapGormLogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want gormlogger.LogLevel
	}{
		{"silent", gormlogger.Silent},
		{"error", gormlogger.Error},
		{"warn", gormlogger.Warn},
		{"info", gormlogger.Info},
		{"debug", gormlogger.Info},
		{"", gormlogger.Warn},
		{"bogus", gormlogger.Warn},
	}
	for _, tc := range cases {
		t.Run("level "+tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, MapGormLogLevel(tc.in))
		})
	}
}
