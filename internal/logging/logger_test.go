package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/athena/internal/learning"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, logger.Underlying())
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
	assert.NoError(t, logger.Sync())
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestNewLogger_OTELWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stdout = false
	cfg.Output.OTEL = true

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one output")
}

func TestLogger_Levels(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Trace(ctx, "trace message")
	tl.Debug(ctx, "debug message")
	tl.Info(ctx, "info message")
	tl.Warn(ctx, "warn message")
	tl.Error(ctx, "error message")

	tl.AssertLogged(t, TraceLevel, "trace message")
	tl.AssertLogged(t, zapcore.DebugLevel, "debug message")
	tl.AssertLogged(t, zapcore.InfoLevel, "info message")
	tl.AssertLogged(t, zapcore.WarnLevel, "warn message")
	tl.AssertLogged(t, zapcore.ErrorLevel, "error message")
	assert.Len(t, tl.All(), 5)
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRequestID(WithRunID(context.Background(), "run-1"), "req-9")

	tl.Info(ctx, "run finished", zap.Int("patterns", 4))

	tl.AssertField(t, "run finished", "run_id", "run-1")
	tl.AssertField(t, "run finished", "request_id", "req-9")
	tl.AssertField(t, "run finished", "patterns", int64(4))
}

type loggingSink struct{ logger *TestLogger }

func (s loggingSink) SavePatterns(ctx context.Context, patterns []learning.Pattern) error {
	s.logger.Info(ctx, "saving patterns", zap.Int("count", len(patterns)))
	return nil
}

func TestLogger_LearningRunID(t *testing.T) {
	tl := NewTestLogger()
	orch, err := learning.NewOrchestrator(learning.DefaultConfig(), learning.EvaluatorFunc(
		func(context.Context, learning.PatternSummary) (learning.Judgment, error) {
			return learning.Judgment{IsValid: true}, nil
		}), nil, learning.WithSink(loggingSink{logger: tl}))
	require.NoError(t, err)

	res, err := orch.Run(context.Background(), nil)
	require.NoError(t, err)

	tl.AssertField(t, "saving patterns", "run_id", res.RunID)
	assert.Empty(t, RunIDFromContext(context.Background()))
}

func TestLogger_TraceCorrelation(t *testing.T) {
	tp := trace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	tl := NewTestLogger()
	tl.Info(ctx, "inside span")

	tl.AssertField(t, "inside span", "trace_id", span.SpanContext().TraceID().String())
	tl.AssertField(t, "inside span", "trace_sampled", true)
}

func TestLogger_WithAndNamed(t *testing.T) {
	tl := NewTestLogger()
	child := tl.With(zap.String("component", "scheduler")).Named("cron")

	child.Info(context.Background(), "tick")

	entries := tl.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "cron", entries[0].LoggerName)
	assert.Equal(t, "scheduler", entries[0].ContextMap()["component"])
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "from context")
	tl.AssertLogged(t, zapcore.InfoLevel, "from context")
}

func TestWithRunID_Invalid(t *testing.T) {
	assert.Panics(t, func() { WithRunID(context.Background(), "") })
	assert.Panics(t, func() { WithRunID(context.Background(), "bad id") })
	assert.NotPanics(t, func() { WithRunID(context.Background(), "5d1c6b0e-0b44-4a52-8d35-0f2f8c7a9e11") })
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"trace", TraceLevel, false},
		{"DEBUG", zapcore.DebugLevel, false},
		{" info ", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
