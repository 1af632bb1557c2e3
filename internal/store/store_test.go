package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/athena/internal/learning"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "athena.db"), zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func execution(id string, ago time.Duration, success bool) learning.ExecutionRecord {
	return learning.ExecutionRecord{
		TaskID:           id,
		EstimatedMinutes: 60,
		ActualMinutes:    45,
		Success:          success,
		Priority:         "high",
		Category:         "backend",
		Tags:             []string{"api"},
		CompletedAt:      now.Add(-ago),
	}
}

func TestStore_RecordsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordExecution(ctx, execution("t-2", time.Hour, false)))
	require.NoError(t, s.RecordExecution(ctx, execution("t-1", 2*time.Hour, true)))

	got, err := s.Records(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "t-1", got[0].TaskID, "oldest first")
	assert.Equal(t, execution("t-1", 2*time.Hour, true), got[0])
	assert.False(t, got[1].Success)
}

func TestStore_RecordExecutionReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordExecution(ctx, execution("t-1", time.Hour, false)))
	require.NoError(t, s.RecordExecution(ctx, execution("t-1", time.Hour, true)))

	got, err := s.Records(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Success)
}

func TestStore_RecordExecutionDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.RecordExecution(ctx, learning.ExecutionRecord{}))

	require.NoError(t, s.RecordExecution(ctx, learning.ExecutionRecord{TaskID: "bare", Success: true}))
	got, err := s.Records(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Tags)
	assert.Equal(t, now, got[0].CompletedAt)
}

func TestStore_Window(t *testing.T) {
	s := newTestStore(t, WithWindow(24*time.Hour))
	ctx := context.Background()

	require.NoError(t, s.RecordExecution(ctx, execution("recent", time.Hour, true)))
	require.NoError(t, s.RecordExecution(ctx, execution("old", 48*time.Hour, true)))

	got, err := s.Records(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "recent", got[0].TaskID)
}

func testPattern(confidence float64, validated bool, notes string) learning.Pattern {
	cond := learning.Condition{"priority": "high"}
	return learning.Pattern{
		ID:              learning.PatternID(learning.PatternTypeSuccessRate, cond),
		Name:            "Success rate: priority high",
		Type:            learning.PatternTypeSuccessRate,
		Description:     "Tasks with priority high succeeded 9 of 10 times (90%)",
		Condition:       cond,
		Prediction:      "likely to succeed (90% success rate)",
		SuccessRate:     0.9,
		SampleSize:      10,
		ConfidenceScore: confidence,
		Validated:       validated,
		ValidationNotes: notes,
		CreatedAt:       now.Add(-time.Hour),
	}
}

func TestStore_SavePatterns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testPattern(0.62, true, "plausible")
	require.NoError(t, s.SavePatterns(ctx, []learning.Pattern{p}))

	got, err := s.Pattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	all, err := s.Patterns(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_SavePatternsUpsertKeepsHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testPattern(0.62, true, "plausible")
	require.NoError(t, s.SavePatterns(ctx, []learning.Pattern{first}))

	// A later run re-extracts the same rule unvalidated.
	second := testPattern(0.85, false, "")
	second.CreatedAt = now
	second.SampleSize = 14
	require.NoError(t, s.SavePatterns(ctx, []learning.Pattern{second}))

	got, err := s.Pattern(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.62, got.ConfidenceScore, "calibrated confidence is kept")
	assert.Equal(t, 14, got.SampleSize)
	assert.True(t, got.Validated, "validated is never reset")
	assert.Equal(t, "plausible", got.ValidationNotes)
	assert.Equal(t, first.CreatedAt, got.CreatedAt)
}

func TestStore_SavePatternsRevalidationReplacesConfidence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SavePatterns(ctx, []learning.Pattern{testPattern(0.40, false, "")}))
	require.NoError(t, s.SavePatterns(ctx, []learning.Pattern{testPattern(0.62, true, "plausible")}))
	require.NoError(t, s.SavePatterns(ctx, []learning.Pattern{testPattern(0.71, true, "still plausible")}))

	got, err := s.Pattern(ctx, testPattern(0, false, "").ID)
	require.NoError(t, err)
	assert.Equal(t, 0.71, got.ConfidenceScore)
	assert.Equal(t, "still plausible", got.ValidationNotes)
}

func TestStore_RecordExecutions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordExecutions(ctx, nil))
	require.NoError(t, s.RecordExecutions(ctx, []learning.ExecutionRecord{
		execution("t-1", 2*time.Hour, true),
		execution("t-2", time.Hour, false),
	}))

	got, err := s.Records(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t-1", got[0].TaskID)
	assert.Equal(t, "t-2", got[1].TaskID)
}

func TestStore_RecordExecutionsAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordExecution(ctx, execution("t-1", time.Hour, false)))

	err := s.RecordExecutions(ctx, []learning.ExecutionRecord{
		execution("t-1", time.Hour, true),
		execution("t-2", time.Hour, true),
		{TaskID: "  "},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 2")

	got, err := s.Records(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1, "no record of the failed batch is stored")
	assert.Equal(t, "t-1", got[0].TaskID)
	assert.False(t, got[0].Success, "existing rows are not overwritten")
}

func TestStore_PatternsOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	low := testPattern(0.4, false, "")
	high := testPattern(0.9, false, "")
	high.Condition = learning.Condition{"priority": "low"}
	high.ID = learning.PatternID(high.Type, high.Condition)

	require.NoError(t, s.SavePatterns(ctx, []learning.Pattern{low, high}))
	all, err := s.Patterns(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, high.ID, all[0].ID)
}

func TestStore_OperatorConditionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := testPattern(0.5, false, "")
	p.Type = learning.PatternTypeTiming
	p.Condition = learning.Condition{"estimated_minutes": map[string]any{">=": 30.0, "<": 120.0}}
	p.ID = learning.PatternID(p.Type, p.Condition)

	require.NoError(t, s.SavePatterns(ctx, []learning.Pattern{p}))
	got, err := s.Pattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Condition.Key(), got.Condition.Key())
	assert.Equal(t, p.ID, learning.PatternID(got.Type, got.Condition))
}

func TestStore_PatternNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Pattern(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_EmptySave(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.SavePatterns(context.Background(), nil))
}

func TestStore_FeedsOrchestrator(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		r := execution(string(rune('a'+i)), time.Duration(i+1)*time.Hour, i < 9)
		r.EstimatedMinutes, r.ActualMinutes = 0, 0
		r.Category = ""
		require.NoError(t, s.RecordExecution(ctx, r))
	}

	cfg := learning.DefaultConfig()
	orch, err := learning.NewOrchestrator(cfg, &unavailable{}, zap.NewNop(), learning.WithSink(s))
	require.NoError(t, err)

	res, err := orch.RunFromSource(ctx, s)
	require.NoError(t, err)
	require.NotEmpty(t, res.Patterns)

	stored, err := s.Patterns(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, len(res.Patterns))
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(context.Background(), "", nil)
	assert.Error(t, err)
}

type unavailable struct{}

func (unavailable) Evaluate(context.Context, learning.PatternSummary) (learning.Judgment, error) {
	return learning.Judgment{}, learning.ErrEvaluatorUnavailable
}
