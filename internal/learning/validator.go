package learning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Evaluator is an external deliberative reviewer of patterns, typically
// backed by an LLM. Implementations must honor ctx cancellation; the
// Validator enforces the per-call deadline regardless.
type Evaluator interface {
	Evaluate(ctx context.Context, summary PatternSummary) (Judgment, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, summary PatternSummary) (Judgment, error)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(ctx context.Context, summary PatternSummary) (Judgment, error) {
	return f(ctx, summary)
}

// defaultValidationNotes is recorded when the evaluator gives no notes.
const defaultValidationNotes = "deliberative review"

// Validator reviews patterns with an Evaluator and degrades to a
// deterministic heuristic when the evaluator fails. Validation never
// returns an error.
//
// At most Concurrency evaluator calls are live per Validator. A call
// abandoned at its deadline keeps its slot until the evaluator returns,
// so a stuck evaluator makes later calls time out into the fallback
// instead of piling up goroutines.
type Validator struct {
	evaluator Evaluator
	cfg       Config
	logger    *zap.Logger
	metrics   *Metrics
	calls     chan struct{}
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithValidatorMetrics sets the metrics recorder.
func WithValidatorMetrics(m *Metrics) ValidatorOption {
	return func(v *Validator) {
		v.metrics = m
	}
}

// NewValidator creates a Validator.
func NewValidator(evaluator Evaluator, cfg Config, logger *zap.Logger, opts ...ValidatorOption) (*Validator, error) {
	if evaluator == nil {
		return nil, ErrNilEvaluator
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Validator{
		evaluator: evaluator,
		cfg:       cfg,
		logger:    logger,
		calls:     make(chan struct{}, cfg.Concurrency),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// ValidatePattern submits p to the evaluator and returns its bounded
// judgment, or a fallback result if the evaluator fails or returns
// a malformed judgment.
func (v *Validator) ValidatePattern(ctx context.Context, p Pattern) ValidationResult {
	start := time.Now()
	judgment, outcome, err := v.evaluate(ctx, p.Summary())
	v.metrics.recordEvaluation(ctx, outcome, time.Since(start))

	if err != nil {
		v.logger.Warn("evaluator failed, using fallback validation",
			zap.String("pattern_id", p.ID),
			zap.String("outcome", outcome),
			zap.Error(err))
		v.metrics.recordFallback(ctx)
		return FallbackValidation(p, v.cfg)
	}

	adjustment := clamp(judgment.ConfidenceAdjustment, v.cfg.MinAdjustment, v.cfg.MaxAdjustment)
	if adjustment != judgment.ConfidenceAdjustment {
		v.metrics.recordClamped(ctx)
		v.logger.Debug("clamped out-of-range confidence adjustment",
			zap.String("pattern_id", p.ID),
			zap.Float64("adjustment", judgment.ConfidenceAdjustment),
			zap.Float64("clamped", adjustment))
	}

	notes := strings.TrimSpace(judgment.ValidationNotes)
	if notes == "" {
		notes = defaultValidationNotes
	}
	recs := make([]string, 0, len(judgment.Recommendations))
	for _, r := range judgment.Recommendations {
		if r = strings.TrimSpace(r); r != "" {
			recs = append(recs, r)
		}
	}

	return ValidationResult{
		IsValid:              judgment.IsValid,
		ConfidenceAdjustment: adjustment,
		ValidationNotes:      notes,
		Recommendations:      recs,
	}
}

type evaluation struct {
	judgment Judgment
	err      error
}

var errEvaluatorPanic = errors.New("evaluator panicked")

// evaluate runs one bounded evaluator call. The call runs on its own
// goroutine so a non-cooperative evaluator cannot hold the caller past
// the deadline; its late result is discarded. Waiting for a call slot
// counts against the same deadline.
func (v *Validator) evaluate(ctx context.Context, summary PatternSummary) (Judgment, string, error) {
	callCtx, cancel := context.WithTimeout(ctx, v.cfg.EvaluatorTimeout)
	defer cancel()

	select {
	case v.calls <- struct{}{}:
	case <-callCtx.Done():
		return classify(evaluation{err: callCtx.Err()})
	}

	done := make(chan evaluation, 1)
	go func() {
		defer func() { <-v.calls }()
		defer func() {
			if r := recover(); r != nil {
				done <- evaluation{err: fmt.Errorf("%w: %v", errEvaluatorPanic, r)}
			}
		}()
		j, err := v.evaluator.Evaluate(callCtx, summary)
		done <- evaluation{judgment: j, err: err}
	}()

	var res evaluation
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = evaluation{err: callCtx.Err()}
	}
	return classify(res)
}

// classify maps an evaluation to its judgment, metric outcome and error.
func classify(res evaluation) (Judgment, string, error) {
	switch {
	case res.err == nil:
	case errors.Is(res.err, errEvaluatorPanic):
		return Judgment{}, outcomePanic, res.err
	case errors.Is(res.err, context.DeadlineExceeded):
		return Judgment{}, outcomeTimeout, fmt.Errorf("%w: %w", ErrEvaluatorUnavailable, res.err)
	default:
		return Judgment{}, outcomeError, res.err
	}

	adj := res.judgment.ConfidenceAdjustment
	if math.IsNaN(adj) || math.IsInf(adj, 0) {
		return Judgment{}, outcomeMalformed, fmt.Errorf("%w: confidence adjustment %v", ErrMalformedJudgment, adj)
	}
	return res.judgment, outcomeOK, nil
}

// ValidatePatternsBatch validates patterns concurrently, at most
// Concurrency at a time. Every input ID appears in the result exactly
// once; patterns sharing an ID are validated once, using the first.
// A failure in one pattern's validation never affects another's.
func (v *Validator) ValidatePatternsBatch(ctx context.Context, patterns []Pattern) map[string]ValidationResult {
	unique := make([]Pattern, 0, len(patterns))
	seen := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		if seen[p.ID] {
			v.logger.Debug("skipping duplicate pattern in batch", zap.String("pattern_id", p.ID))
			continue
		}
		seen[p.ID] = true
		unique = append(unique, p)
	}

	// Each worker writes only its own slot.
	slots := make([]ValidationResult, len(unique))
	g := new(errgroup.Group)
	g.SetLimit(v.cfg.Concurrency)
	for i := range unique {
		g.Go(func() error {
			slots[i] = v.ValidatePattern(ctx, unique[i])
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]ValidationResult, len(unique))
	for i, p := range unique {
		results[p.ID] = slots[i]
	}
	return results
}

// ApplyValidationResult returns p updated with r: the adjustment is added
// to the confidence (clamped to [0,1]), the pattern is marked validated
// and the notes are recorded. SuccessRate is never rewritten.
//
// A pattern that is already validated keeps its confidence and notes.
// NaN adjustments count as 0.
func ApplyValidationResult(p Pattern, r ValidationResult) Pattern {
	out := p
	if p.Validated {
		out.ConfidenceScore = clampUnit(p.ConfidenceScore)
		return out
	}

	adj := r.ConfidenceAdjustment
	if math.IsNaN(adj) {
		adj = 0
	}
	out.ConfidenceScore = clampUnit(clampUnit(p.ConfidenceScore) + adj)
	out.Validated = true
	out.ValidationNotes = r.ValidationNotes
	return out
}
