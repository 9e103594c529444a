package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := NewDefaultConfig()
	bad.Level = "loud"
	assert.Error(t, bad.Validate())

	bad = NewDefaultConfig()
	bad.Format = "xml"
	assert.Error(t, bad.Validate())

	bad = NewDefaultConfig()
	bad.Caller.Skip = -1
	assert.Error(t, bad.Validate())

	bad = NewDefaultConfig()
	bad.Fields = map[string]string{"": "x"}
	assert.Error(t, bad.Validate())
}

func TestNewLoggerRejectsInvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithTaskID(ctx, "task_abc123def456")
	ctx = WithRequestID(ctx, "req-42")

	fields := ContextFields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "task.id", fields[0].Key)
	assert.Equal(t, "task_abc123def456", fields[0].String)
	assert.Equal(t, "request.id", fields[1].Key)
}

func TestWithTaskIDValidates(t *testing.T) {
	assert.Panics(t, func() { WithTaskID(context.Background(), "") })
	assert.Panics(t, func() { WithTaskID(context.Background(), "has spaces") })
}

func TestLoggerCarriesContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithTaskID(context.Background(), "task_abc123def456")

	tl.Info(ctx, "stage started", zap.String("stage", "planning"))

	tl.AssertLogged(t, zapcore.InfoLevel, "stage started")
	tl.AssertField(t, "stage started", "task.id", "task_abc123def456")
	tl.AssertField(t, "stage started", "stage", "planning")
}

func TestFromContextFallsBackToNop(t *testing.T) {
	log := FromContext(context.Background())
	require.NotNil(t, log)
	// Must not panic.
	log.Info(context.Background(), "discarded")

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}

func TestNamedAndWith(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Logger.Named("engine").With(zap.String("component", "registry"))
	child.Warn(context.Background(), "slot contention")

	entries := tl.FilterMessage("slot contention").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "engine", entries[0].LoggerName)
}
