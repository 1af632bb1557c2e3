package learning

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// records builds n records with the given priority, the first successes
// of which succeed. Records carry no estimate and no category.
func records(priority string, n, successes int) []ExecutionRecord {
	out := make([]ExecutionRecord, n)
	for i := range out {
		out[i] = ExecutionRecord{
			TaskID:      fmt.Sprintf("%s-%d", priority, i),
			Success:     i < successes,
			Priority:    priority,
			CompletedAt: fixedNow.Add(-time.Duration(i) * time.Hour),
		}
	}
	return out
}

func newTestExtractor(t *testing.T, cfg Config) *Extractor {
	t.Helper()
	e, err := NewExtractor(cfg, zap.NewNop(), WithExtractorClock(fixedClock))
	require.NoError(t, err)
	return e
}

func newTestValidator(t *testing.T, ev Evaluator, cfg Config) *Validator {
	t.Helper()
	v, err := NewValidator(ev, cfg, zap.NewNop())
	require.NoError(t, err)
	return v
}

func ofType(patterns []Pattern, pt PatternType) []Pattern {
	var out []Pattern
	for _, p := range patterns {
		if p.Type == pt {
			out = append(out, p)
		}
	}
	return out
}

// fixedEvaluator returns the same judgment for every pattern and records
// the names it was asked about.
type fixedEvaluator struct {
	judgment Judgment
	err      error

	mu    sync.Mutex
	calls []string
}

func (f *fixedEvaluator) Evaluate(_ context.Context, s PatternSummary) (Judgment, error) {
	f.mu.Lock()
	f.calls = append(f.calls, s.PatternName)
	f.mu.Unlock()
	return f.judgment, f.err
}

func (f *fixedEvaluator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func testPattern(id string, rate float64, n int, confidence float64) Pattern {
	return Pattern{
		ID:              id,
		Name:            "pattern " + id,
		Type:            PatternTypeSuccessRate,
		Description:     "test pattern",
		Condition:       Condition{"priority": "high"},
		Prediction:      successPrediction(rate),
		SuccessRate:     rate,
		SampleSize:      n,
		ConfidenceScore: confidence,
		CreatedAt:       fixedNow,
	}
}
