package learning

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

type memorySource struct {
	records []ExecutionRecord
	err     error
}

func (s memorySource) Records(context.Context) ([]ExecutionRecord, error) {
	return s.records, s.err
}

type memorySink struct {
	saved  [][]Pattern
	runIDs []string
	err    error
}

func (s *memorySink) SavePatterns(ctx context.Context, patterns []Pattern) error {
	s.saved = append(s.saved, patterns)
	s.runIDs = append(s.runIDs, RunIDFromContext(ctx))
	return s.err
}

func newTestOrchestrator(t *testing.T, cfg Config, ev Evaluator, opts ...OrchestratorOption) *Orchestrator {
	t.Helper()
	opts = append([]OrchestratorOption{WithClock(fixedClock)}, opts...)
	o, err := NewOrchestrator(cfg, ev, zap.NewNop(), opts...)
	require.NoError(t, err)
	return o
}

func TestNewOrchestrator_Errors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ValidationThreshold = 1.5
	_, err := NewOrchestrator(cfg, &fixedEvaluator{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewOrchestrator(DefaultConfig(), nil, nil)
	assert.ErrorIs(t, err, ErrNilEvaluator)
}

func TestPartition(t *testing.T) {
	patterns := []Pattern{
		testPattern("a", 0.9, 10, 0.95),
		testPattern("b", 0.9, 10, 0.8),
		testPattern("c", 0.9, 10, 0.79),
	}

	confident, uncertain := Partition(patterns, 0.8)
	require.Len(t, confident, 2)
	require.Len(t, uncertain, 1)
	assert.Equal(t, "c", uncertain[0].ID)
}

func TestRun_OnlyUncertainPatternsReachEvaluator(t *testing.T) {
	// 100 successful high-priority tasks form a confident pattern; 10
	// low-priority tasks at a coin flip form an uncertain one.
	recs := records("high", 100, 100)
	recs = append(recs, records("low", 10, 5)...)

	ev := &fixedEvaluator{judgment: Judgment{IsValid: false, ConfidenceAdjustment: -0.1, ValidationNotes: "weak"}}
	o := newTestOrchestrator(t, DefaultConfig(), ev)

	result, err := o.Run(context.Background(), recs)
	require.NoError(t, err)
	require.Len(t, result.Patterns, 2)

	calls := ev.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "priority low")

	byPriority := map[any]Pattern{}
	for _, p := range result.Patterns {
		byPriority[p.Condition["priority"]] = p
	}

	high := byPriority["high"]
	assert.False(t, high.Validated)
	assert.InDelta(t, 100.0/102.0, high.ConfidenceScore, 1e-9)
	assert.Empty(t, high.ValidationNotes)

	low := byPriority["low"]
	assert.True(t, low.Validated)
	assert.InDelta(t, 10.0/12.0*0.5-0.1, low.ConfidenceScore, 1e-9)
	assert.Equal(t, "weak", low.ValidationNotes)

	assert.Equal(t, 110, result.Stats.Records)
	assert.Equal(t, 2, result.Stats.Extracted)
	assert.Equal(t, 1, result.Stats.Confident)
	assert.Equal(t, 1, result.Stats.Uncertain)
	assert.Equal(t, 1, result.Stats.Validated)
	assert.Equal(t, 0, result.Stats.Fallbacks)
	assert.NotEmpty(t, result.RunID)
}

func TestRun_ShortHighPriorityTasks(t *testing.T) {
	// 10 short high-priority tasks, 9 succeed. Priority and duration
	// select the same records, so one pattern carries both.
	recs := records("high", 10, 9)
	for i := range recs {
		recs[i].EstimatedMinutes = 20
	}
	want := Condition{
		"priority":          "high",
		"estimated_minutes": map[string]any{"<": 30.0},
	}

	ev := &fixedEvaluator{judgment: Judgment{IsValid: true}}
	result, err := newTestOrchestrator(t, DefaultConfig(), ev).Run(context.Background(), recs)
	require.NoError(t, err)
	require.Len(t, result.Patterns, 1)

	p := result.Patterns[0]
	assert.Equal(t, want, p.Condition)
	assert.Equal(t, PatternTypeSuccessRate, p.Type)
	assert.InDelta(t, 0.9, p.SuccessRate, 1e-9)
	assert.Equal(t, 10, p.SampleSize)

	// 10/12 * 0.9 = 0.75 is below the default 0.8 threshold.
	assert.Len(t, ev.Calls(), 1)
	assert.True(t, p.Validated)

	// Above the threshold the pattern skips validation.
	cfg := DefaultConfig()
	cfg.ValidationThreshold = 0.7
	ev = &fixedEvaluator{}
	result, err = newTestOrchestrator(t, cfg, ev).Run(context.Background(), recs)
	require.NoError(t, err)
	require.Len(t, result.Patterns, 1)
	assert.Empty(t, ev.Calls())
	assert.False(t, result.Patterns[0].Validated)
	assert.InDelta(t, 0.75, result.Patterns[0].ConfidenceScore, 1e-9)
	assert.Equal(t, 1, result.Stats.Confident)
}

func TestRun_AmbiguousLowPriorityRoutedToValidation(t *testing.T) {
	recs := records("high", 10, 9)
	recs = append(recs, records("low", 10, 4)...)

	ev := &fixedEvaluator{judgment: Judgment{IsValid: false, ConfidenceAdjustment: -0.05, ValidationNotes: "noisy"}}
	result, err := newTestOrchestrator(t, DefaultConfig(), ev).Run(context.Background(), recs)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(result.Patterns), 2)

	var low *Pattern
	for i := range result.Patterns {
		if result.Patterns[i].Condition.Key() == (Condition{"priority": "low"}).Key() {
			low = &result.Patterns[i]
		}
	}
	require.NotNil(t, low)
	assert.InDelta(t, 0.4, low.SuccessRate, 1e-9)

	var askedLow bool
	for _, name := range ev.Calls() {
		if strings.Contains(name, "priority low") {
			askedLow = true
		}
	}
	assert.True(t, askedLow, "low-priority pattern reaches the evaluator")
	assert.True(t, low.Validated)
	assert.Equal(t, "noisy", low.ValidationNotes)
	assert.InDelta(t, 10.0/12.0*0.4-0.05, low.ConfidenceScore, 1e-9)
}

func TestRun_ThresholdControlsValidation(t *testing.T) {
	// 10 tasks at 90% score 0.75: validated at the default threshold and
	// passed through when the threshold is lowered below the score.
	recs := records("high", 10, 9)

	ev := &fixedEvaluator{judgment: Judgment{IsValid: true, ConfidenceAdjustment: 0.1}}
	result, err := newTestOrchestrator(t, DefaultConfig(), ev).Run(context.Background(), recs)
	require.NoError(t, err)
	require.Len(t, result.Patterns, 1)
	assert.Len(t, ev.Calls(), 1)
	assert.True(t, result.Patterns[0].Validated)
	assert.InDelta(t, 0.85, result.Patterns[0].ConfidenceScore, 1e-9)

	cfg := DefaultConfig()
	cfg.ValidationThreshold = 0.7
	ev = &fixedEvaluator{}
	result, err = newTestOrchestrator(t, cfg, ev).Run(context.Background(), recs)
	require.NoError(t, err)
	require.Len(t, result.Patterns, 1)
	assert.Empty(t, ev.Calls())
	assert.False(t, result.Patterns[0].Validated)
}

func TestRun_EvaluatorUnavailable(t *testing.T) {
	ev := EvaluatorFunc(func(context.Context, PatternSummary) (Judgment, error) {
		return Judgment{}, ErrEvaluatorUnavailable
	})
	o := newTestOrchestrator(t, DefaultConfig(), ev)

	result, err := o.Run(context.Background(), records("medium", 50, 26))
	require.NoError(t, err)
	require.Len(t, result.Patterns, 1)

	p := result.Patterns[0]
	assert.True(t, p.Validated)
	assert.True(t, strings.HasPrefix(p.ValidationNotes, FallbackNotePrefix))
	assert.Equal(t, 1, result.Stats.Fallbacks)
}

func TestRun_Empty(t *testing.T) {
	ev := &fixedEvaluator{}
	sink := &memorySink{}
	o := newTestOrchestrator(t, DefaultConfig(), ev, WithSink(sink))

	result, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Patterns)
	assert.Empty(t, ev.Calls())
	require.Len(t, sink.saved, 1)
	assert.Empty(t, sink.saved[0])
}

func TestRun_HandsOffToSink(t *testing.T) {
	sink := &memorySink{}
	o := newTestOrchestrator(t, DefaultConfig(), &fixedEvaluator{judgment: Judgment{IsValid: true}}, WithSink(sink))

	result, err := o.Run(context.Background(), records("high", 10, 9))
	require.NoError(t, err)
	require.Len(t, sink.saved, 1)
	assert.Equal(t, result.Patterns, sink.saved[0])
	assert.Equal(t, []string{result.RunID}, sink.runIDs)
	assert.Empty(t, RunIDFromContext(context.Background()))
}

func TestSinks(t *testing.T) {
	failing := &memorySink{err: errors.New("nats down")}
	ok := &memorySink{}
	sinks := Sinks{failing, nil, ok}

	err := sinks.SavePatterns(context.Background(), []Pattern{testPattern("a", 0.9, 10, 0.8)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats down")
	assert.Len(t, failing.saved, 1)
	assert.Len(t, ok.saved, 1, "later sinks still run")

	assert.NoError(t, Sinks{ok}.SavePatterns(context.Background(), nil))
}

func TestRun_SinkError(t *testing.T) {
	sinkErr := errors.New("store offline")
	o := newTestOrchestrator(t, DefaultConfig(), &fixedEvaluator{}, WithSink(&memorySink{err: sinkErr}))

	result, err := o.Run(context.Background(), records("high", 10, 9))
	require.Error(t, err)
	assert.ErrorIs(t, err, sinkErr)
	require.NotNil(t, result)
	assert.Len(t, result.Patterns, 1)
}

func TestRunFromSource(t *testing.T) {
	o := newTestOrchestrator(t, DefaultConfig(), &fixedEvaluator{})

	result, err := o.RunFromSource(context.Background(), memorySource{records: records("high", 5, 5)})
	require.NoError(t, err)
	assert.Len(t, result.Patterns, 1)

	loadErr := errors.New("db locked")
	_, err = o.RunFromSource(context.Background(), memorySource{err: loadErr})
	assert.ErrorIs(t, err, loadErr)

	_, err = o.RunFromSource(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilSource)
}

func TestRun_RecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	o := newTestOrchestrator(t, DefaultConfig(), &fixedEvaluator{}, WithTracer(tp.Tracer("test")))

	result, err := o.Run(context.Background(), records("high", 10, 9))
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "learning.Orchestrator.Run", spans[0].Name())

	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, result.RunID, attrs["run_id"])
	assert.EqualValues(t, 10, attrs["records"])
}

func TestRun_ConfidentPatternsUnchanged(t *testing.T) {
	ev := &fixedEvaluator{}
	o := newTestOrchestrator(t, DefaultConfig(), ev)

	recs := records("high", 100, 100)
	want := newTestExtractor(t, DefaultConfig()).ExtractAllPatterns(recs)

	result, err := o.Run(context.Background(), recs)
	require.NoError(t, err)
	assert.Equal(t, want, result.Patterns)
	assert.Empty(t, ev.Calls())
}
