package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RecordSource supplies a snapshot of execution history.
type RecordSource interface {
	Records(ctx context.Context) ([]ExecutionRecord, error)
}

// PatternSink receives the patterns produced by a run.
type PatternSink interface {
	SavePatterns(ctx context.Context, patterns []Pattern) error
}

// Sinks fans patterns out to every sink in order. Every sink is called
// even if an earlier one fails; the errors are joined.
type Sinks []PatternSink

// SavePatterns implements PatternSink.
func (s Sinks) SavePatterns(ctx context.Context, patterns []Pattern) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.SavePatterns(ctx, patterns); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type runIDKey struct{}

// RunIDFromContext returns the ID of the run whose sink call received ctx,
// or "" outside a run.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// RunStats summarizes a learning run.
type RunStats struct {
	Records      int           `json:"records"`
	Groups       int           `json:"groups"`
	Undersampled int           `json:"undersampled"`
	Extracted    int           `json:"extracted"`
	Confident    int           `json:"confident"`
	Uncertain    int           `json:"uncertain"`
	Validated    int           `json:"validated"`
	Fallbacks    int           `json:"fallbacks"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// RunResult is the output of one learning run.
type RunResult struct {
	RunID    string    `json:"run_id"`
	Patterns []Pattern `json:"patterns"`
	Stats    RunStats  `json:"stats"`
}

// Orchestrator runs the learning pipeline: extract, partition by
// confidence, validate only the uncertain patterns, apply the results and
// hand the full set to the sink.
type Orchestrator struct {
	cfg       Config
	extractor *Extractor
	validator *Validator
	sink      PatternSink
	logger    *zap.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithSink sets the sink that receives each run's patterns.
func WithSink(sink PatternSink) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithMetrics sets the metrics recorder shared by the pipeline stages.
func WithMetrics(m *Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer sets the tracer for run spans.
func WithTracer(t trace.Tracer) OrchestratorOption {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator creates an Orchestrator that validates with evaluator.
func NewOrchestrator(cfg Config, evaluator Evaluator, logger *zap.Logger, opts ...OrchestratorOption) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil, logger)
	}

	extractor, err := NewExtractor(cfg, logger.Named("extractor"),
		WithExtractorMetrics(o.metrics),
		WithExtractorClock(o.now))
	if err != nil {
		return nil, err
	}
	validator, err := NewValidator(evaluator, cfg, logger.Named("validator"),
		WithValidatorMetrics(o.metrics))
	if err != nil {
		return nil, err
	}
	o.extractor = extractor
	o.validator = validator

	return o, nil
}

// Partition splits patterns into confident (confidence >= threshold) and
// uncertain ones, preserving order.
func Partition(patterns []Pattern, threshold float64) (confident, uncertain []Pattern) {
	confident = make([]Pattern, 0, len(patterns))
	uncertain = make([]Pattern, 0, len(patterns))
	for _, p := range patterns {
		if p.ConfidenceScore >= threshold {
			confident = append(confident, p)
		} else {
			uncertain = append(uncertain, p)
		}
	}
	return confident, uncertain
}

// RunFromSource loads records from src and runs the pipeline over them.
func (o *Orchestrator) RunFromSource(ctx context.Context, src RecordSource) (*RunResult, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	records, err := src.Records(ctx)
	if err != nil {
		o.metrics.recordRun(ctx, err, 0)
		return nil, fmt.Errorf("loading execution records: %w", err)
	}
	return o.Run(ctx, records)
}

// Run executes one learning pass over records.
//
// Confident patterns never reach the evaluator and are returned
// unchanged. The only error is a sink failure, in which case the result
// is still returned.
func (o *Orchestrator) Run(ctx context.Context, records []ExecutionRecord) (*RunResult, error) {
	runID := uuid.NewString()
	start := o.now()

	ctx = context.WithValue(ctx, runIDKey{}, runID)
	ctx, span := o.tracer.Start(ctx, "learning.Orchestrator.Run",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.Int("records", len(records)),
		))
	defer span.End()

	logger := o.logger.With(zap.String("run_id", runID))

	patterns, extraction := o.extractor.extract(ctx, records)
	confident, uncertain := Partition(patterns, o.cfg.ValidationThreshold)

	logger.Info("extracted patterns",
		zap.Int("records", len(records)),
		zap.Int("patterns", len(patterns)),
		zap.Int("confident", len(confident)),
		zap.Int("uncertain", len(uncertain)))

	results := map[string]ValidationResult{}
	if len(uncertain) > 0 {
		results = o.validator.ValidatePatternsBatch(ctx, uncertain)
	}

	stats := RunStats{
		Records:      len(records),
		Groups:       extraction.groups,
		Undersampled: extraction.undersampled,
		Extracted:    len(patterns),
		Confident:    len(confident),
		Uncertain:    len(uncertain),
		StartedAt:    start.UTC(),
	}

	updated := make([]Pattern, 0, len(patterns))
	for _, p := range patterns {
		r, ok := results[p.ID]
		if !ok || p.ConfidenceScore >= o.cfg.ValidationThreshold {
			updated = append(updated, p)
			continue
		}
		updated = append(updated, ApplyValidationResult(p, r))
		stats.Validated++
		if IsFallback(r) {
			stats.Fallbacks++
		}
	}

	result := &RunResult{
		RunID:    runID,
		Patterns: updated,
	}

	span.SetAttributes(
		attribute.Int("patterns", len(updated)),
		attribute.Int("uncertain", stats.Uncertain),
		attribute.Int("fallbacks", stats.Fallbacks),
	)

	var err error
	if o.sink != nil {
		if sinkErr := o.sink.SavePatterns(ctx, updated); sinkErr != nil {
			err = fmt.Errorf("saving patterns: %w", sinkErr)
			span.RecordError(err)
			span.SetStatus(codes.Error, "sink failed")
			logger.Error("failed to hand off patterns", zap.Error(sinkErr))
		}
	}

	stats.Duration = o.now().Sub(start)
	result.Stats = stats
	o.metrics.recordRun(ctx, err, stats.Duration)

	logger.Info("learning run complete",
		zap.Int("validated", stats.Validated),
		zap.Int("fallbacks", stats.Fallbacks),
		zap.Duration("duration", stats.Duration))

	return result, err
}
