package learning

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/athena/internal/learning"

// Evaluator call outcomes recorded on athena.learning.evaluations_total.
const (
	outcomeOK        = "ok"
	outcomeError     = "error"
	outcomeTimeout   = "timeout"
	outcomePanic     = "panic"
	outcomeMalformed = "malformed"
)

// Metrics holds the OpenTelemetry instruments of the learning pipeline.
// A nil *Metrics records nothing.
type Metrics struct {
	logger *zap.Logger

	patternsExtracted  metric.Int64Counter
	groupsUndersampled metric.Int64Counter
	evaluations        metric.Int64Counter
	evaluationDuration metric.Float64Histogram
	fallbacks          metric.Int64Counter
	adjustmentsClamped metric.Int64Counter
	runs               metric.Int64Counter
	runDuration        metric.Float64Histogram
}

// NewMetrics creates the learning instruments on meter. A nil meter uses
// the global meter provider.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	m := &Metrics{logger: logger}
	var err error

	m.patternsExtracted, err = meter.Int64Counter(
		"athena.learning.patterns_extracted_total",
		metric.WithDescription("Patterns emitted by extraction, labeled by pattern type"),
		metric.WithUnit("{pattern}"),
	)
	if err != nil {
		logger.Warn("failed to create patterns extracted counter", zap.Error(err))
	}

	m.groupsUndersampled, err = meter.Int64Counter(
		"athena.learning.groups_undersampled_total",
		metric.WithDescription("Candidate groups dropped for having fewer members than the minimum group size"),
		metric.WithUnit("{group}"),
	)
	if err != nil {
		logger.Warn("failed to create undersampled counter", zap.Error(err))
	}

	m.evaluations, err = meter.Int64Counter(
		"athena.learning.evaluations_total",
		metric.WithDescription("Evaluator calls labeled by outcome (ok, error, timeout, panic, malformed)"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		logger.Warn("failed to create evaluations counter", zap.Error(err))
	}

	m.evaluationDuration, err = meter.Float64Histogram(
		"athena.learning.evaluation_duration_seconds",
		metric.WithDescription("Evaluator call latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		logger.Warn("failed to create evaluation duration histogram", zap.Error(err))
	}

	m.fallbacks, err = meter.Int64Counter(
		"athena.learning.fallbacks_total",
		metric.WithDescription("Validations answered by the heuristic fallback"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		logger.Warn("failed to create fallbacks counter", zap.Error(err))
	}

	m.adjustmentsClamped, err = meter.Int64Counter(
		"athena.learning.adjustments_clamped_total",
		metric.WithDescription("Evaluator confidence adjustments outside the configured bounds"),
		metric.WithUnit("{adjustment}"),
	)
	if err != nil {
		logger.Warn("failed to create clamped adjustments counter", zap.Error(err))
	}

	m.runs, err = meter.Int64Counter(
		"athena.learning.runs_total",
		metric.WithDescription("Learning runs labeled by result (success, error)"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		logger.Warn("failed to create runs counter", zap.Error(err))
	}

	m.runDuration, err = meter.Float64Histogram(
		"athena.learning.run_duration_seconds",
		metric.WithDescription("End-to-end learning run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create run duration histogram", zap.Error(err))
	}

	return m
}

func (m *Metrics) recordPatterns(ctx context.Context, t PatternType, n int) {
	if m == nil || m.patternsExtracted == nil || n == 0 {
		return
	}
	m.patternsExtracted.Add(ctx, int64(n), metric.WithAttributes(attribute.String("type", string(t))))
}

func (m *Metrics) recordUndersampled(ctx context.Context, n int) {
	if m == nil || m.groupsUndersampled == nil || n == 0 {
		return
	}
	m.groupsUndersampled.Add(ctx, int64(n))
}

func (m *Metrics) recordEvaluation(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if m.evaluations != nil {
		m.evaluations.Add(ctx, 1, attrs)
	}
	if m.evaluationDuration != nil {
		m.evaluationDuration.Record(ctx, d.Seconds(), attrs)
	}
}

func (m *Metrics) recordFallback(ctx context.Context) {
	if m == nil || m.fallbacks == nil {
		return
	}
	m.fallbacks.Add(ctx, 1)
}

func (m *Metrics) recordClamped(ctx context.Context) {
	if m == nil || m.adjustmentsClamped == nil {
		return
	}
	m.adjustmentsClamped.Add(ctx, 1)
}

func (m *Metrics) recordRun(ctx context.Context, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	if m.runs != nil {
		m.runs.Add(ctx, 1, attrs)
	}
	if m.runDuration != nil {
		m.runDuration.Record(ctx, d.Seconds(), attrs)
	}
}
