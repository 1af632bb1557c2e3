package learning

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewExtractor_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinGroupSize = 0

	_, err := NewExtractor(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestExtractAllPatterns_Empty(t *testing.T) {
	e := newTestExtractor(t, DefaultConfig())

	patterns := e.ExtractAllPatterns(nil)
	require.NotNil(t, patterns)
	assert.Empty(t, patterns)
}

func TestExtractAllPatterns_SingleGroup(t *testing.T) {
	// 10 high-priority tasks, 9 succeed.
	e := newTestExtractor(t, DefaultConfig())

	patterns := e.ExtractAllPatterns(records("high", 10, 9))
	require.Len(t, patterns, 1)

	p := patterns[0]
	assert.Equal(t, PatternTypeSuccessRate, p.Type)
	assert.Equal(t, Condition{"priority": "high"}, p.Condition)
	assert.InDelta(t, 0.9, p.SuccessRate, 1e-9)
	assert.Equal(t, 10, p.SampleSize)
	assert.InDelta(t, 10.0/12.0*0.9, p.ConfidenceScore, 1e-9)
	assert.False(t, p.Validated)
	assert.Empty(t, p.ValidationNotes)
	assert.Equal(t, fixedNow, p.CreatedAt)
	assert.Contains(t, p.Prediction, "likely to succeed")
	assert.Contains(t, p.Description, "9 of 10")
	assert.Equal(t, PatternID(PatternTypeSuccessRate, Condition{"priority": "high"}), p.ID)
}

func TestExtractAllPatterns_BelowMinimumGroupSize(t *testing.T) {
	e := newTestExtractor(t, DefaultConfig())

	patterns := e.ExtractAllPatterns(records("high", 2, 2))
	assert.Empty(t, patterns)
}

func TestExtractAllPatterns_SkipsEmptyAttributes(t *testing.T) {
	e := newTestExtractor(t, DefaultConfig())

	recs := records("", 5, 3)
	recs = append(recs, records("  ", 5, 3)...)
	assert.Empty(t, e.ExtractAllPatterns(recs))
}

func TestExtractAllPatterns_NormalizesValues(t *testing.T) {
	e := newTestExtractor(t, DefaultConfig())

	recs := records("High", 2, 2)
	recs = append(recs, records(" high ", 2, 1)...)

	patterns := e.ExtractAllPatterns(recs)
	require.Len(t, patterns, 1)
	assert.Equal(t, "high", patterns[0].Condition["priority"])
	assert.Equal(t, 4, patterns[0].SampleSize)
}

func TestExtractAllPatterns_TimingPattern(t *testing.T) {
	e := newTestExtractor(t, DefaultConfig())

	recs := make([]ExecutionRecord, 4)
	for i := range recs {
		recs[i] = ExecutionRecord{
			TaskID:           "t",
			Category:         "backend",
			EstimatedMinutes: 60,
			ActualMinutes:    90,
			Success:          true,
		}
	}

	patterns := e.ExtractAllPatterns(recs)

	// The category and duration groups share members; only one of each
	// type survives.
	require.Len(t, patterns, 2)

	timing := ofType(patterns, PatternTypeTiming)
	require.Len(t, timing, 1)
	assert.Equal(t, Condition{"category": "backend"}, timing[0].Condition)
	assert.Equal(t, 0.0, timing[0].SuccessRate)
	assert.Equal(t, 4, timing[0].SampleSize)
	assert.Contains(t, timing[0].Prediction, "overrun")
	assert.Contains(t, timing[0].Prediction, "50%")

	success := ofType(patterns, PatternTypeSuccessRate)
	require.Len(t, success, 1)
	assert.Equal(t, 1.0, success[0].SuccessRate)
}

func TestExtractAllPatterns_TimingNeedsTimedRecords(t *testing.T) {
	e := newTestExtractor(t, DefaultConfig())

	recs := records("low", 5, 2)
	// Only two records carry effort data.
	recs[0].EstimatedMinutes, recs[0].ActualMinutes = 20, 10
	recs[1].EstimatedMinutes, recs[1].ActualMinutes = 20, 15

	patterns := e.ExtractAllPatterns(recs)
	assert.Empty(t, ofType(patterns, PatternTypeTiming))
	assert.NotEmpty(t, ofType(patterns, PatternTypeSuccessRate))
}

func TestExtractAllPatterns_KeepsMostSpecificCondition(t *testing.T) {
	e := newTestExtractor(t, DefaultConfig())

	// Every high-priority task is short, so the priority group and the
	// priority x duration group have the same members.
	recs := records("high", 4, 4)
	for i := range recs {
		recs[i].EstimatedMinutes = 15
	}
	// Long low-priority tasks mirror the same overlap.
	low := records("low", 4, 1)
	for i := range low {
		low[i].EstimatedMinutes = 240
	}
	recs = append(recs, low...)

	patterns := ofType(e.ExtractAllPatterns(recs), PatternTypeSuccessRate)

	var conditions []Condition
	for _, p := range patterns {
		conditions = append(conditions, p.Condition)
	}
	assert.Contains(t, conditions, Condition{
		"priority":          "high",
		"estimated_minutes": map[string]any{"<": shortTaskMinutes},
	})
	assert.NotContains(t, conditions, Condition{"priority": "high"})
	assert.NotContains(t, conditions, Condition{"estimated_minutes": map[string]any{"<": shortTaskMinutes}})
	assert.Len(t, patterns, 2)
}

func TestExtractAllPatterns_ConditionsAreIndependent(t *testing.T) {
	e := newTestExtractor(t, DefaultConfig())

	recs := records("high", 4, 4)
	for i := range recs {
		recs[i].EstimatedMinutes, recs[i].ActualMinutes = 15, 10
	}
	want := Condition{
		"priority":          "high",
		"estimated_minutes": map[string]any{"<": shortTaskMinutes},
	}

	patterns := e.ExtractAllPatterns(recs)
	var success, timing *Pattern
	for i := range patterns {
		if patterns[i].Condition.Key() != want.Key() {
			continue
		}
		if patterns[i].Type == PatternTypeTiming {
			timing = &patterns[i]
		} else {
			success = &patterns[i]
		}
	}
	require.NotNil(t, success)
	require.NotNil(t, timing)

	success.Condition["priority"] = "low"
	success.Condition["estimated_minutes"].(map[string]any)["<"] = 999.0

	assert.Equal(t, want, timing.Condition)
	assert.Equal(t, PatternID(PatternTypeTiming, want), timing.ID)
}

func TestCondition_Clone(t *testing.T) {
	c := Condition{"estimated_minutes": map[string]any{">=": 30.0, "<": 120.0}, "priority": "high"}
	clone := c.Clone()
	assert.Equal(t, c, clone)

	clone["estimated_minutes"].(map[string]any)[">="] = 0.0
	clone["category"] = "backend"
	assert.Equal(t, 30.0, c["estimated_minutes"].(map[string]any)[">="])
	assert.NotContains(t, c, "category")

	assert.Nil(t, Condition(nil).Clone())
}

func TestExtractAllPatterns_DistinctGroups(t *testing.T) {
	e := newTestExtractor(t, DefaultConfig())

	recs := records("high", 6, 5)
	recs = append(recs, records("low", 6, 1)...)
	for i := range recs {
		recs[i].Category = "backend"
	}

	patterns := ofType(e.ExtractAllPatterns(recs), PatternTypeSuccessRate)

	byCond := map[string]Pattern{}
	for _, p := range patterns {
		byCond[p.Condition.Key()] = p
	}
	require.Contains(t, byCond, Condition{"category": "backend"}.Key())
	assert.Equal(t, 12, byCond[Condition{"category": "backend"}.Key()].SampleSize)

	high := byCond[Condition{"category": "backend", "priority": "high"}.Key()]
	assert.Equal(t, 6, high.SampleSize)
	assert.InDelta(t, 5.0/6.0, high.SuccessRate, 1e-9)
	assert.Contains(t, high.Prediction, "likely to succeed")

	low := byCond[Condition{"category": "backend", "priority": "low"}.Key()]
	assert.Contains(t, low.Prediction, "likely to fail")
}

func TestExtractAllPatterns_Deterministic(t *testing.T) {
	recs := randomRecords(rand.New(rand.NewSource(7)), 300)

	e1, err := NewExtractor(DefaultConfig(), zap.NewNop(), WithExtractorClock(fixedClock))
	require.NoError(t, err)
	e2, err := NewExtractor(DefaultConfig(), zap.NewNop(), WithExtractorClock(func() time.Time {
		return fixedNow.Add(24 * time.Hour)
	}))
	require.NoError(t, err)

	first := e1.ExtractAllPatterns(recs)
	second := e2.ExtractAllPatterns(recs)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].ConfidenceScore, second[i].ConfidenceScore)
	}
}

func TestExtractAllPatterns_Invariants(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinGroupSize = 5
	e := newTestExtractor(t, cfg)

	patterns := e.ExtractAllPatterns(randomRecords(rand.New(rand.NewSource(42)), 500))
	require.NotEmpty(t, patterns)

	ids := map[string]bool{}
	for i, p := range patterns {
		assert.GreaterOrEqual(t, p.SampleSize, cfg.MinGroupSize)
		assert.GreaterOrEqual(t, p.SuccessRate, 0.0)
		assert.LessOrEqual(t, p.SuccessRate, 1.0)
		assert.GreaterOrEqual(t, p.ConfidenceScore, 0.0)
		assert.LessOrEqual(t, p.ConfidenceScore, 1.0)
		assert.False(t, p.Validated)
		assert.False(t, ids[p.ID], "duplicate id %s", p.ID)
		ids[p.ID] = true

		if i > 0 {
			assert.GreaterOrEqual(t, patterns[i-1].ConfidenceScore, p.ConfidenceScore)
		}
	}
}

func TestPatternID_StableAcrossKeyOrder(t *testing.T) {
	a := Condition{"priority": "high", "category": "ops"}
	b := Condition{"category": "ops", "priority": "high"}

	assert.Equal(t, PatternID(PatternTypeSuccessRate, a), PatternID(PatternTypeSuccessRate, b))
	assert.NotEqual(t, PatternID(PatternTypeSuccessRate, a), PatternID(PatternTypeTiming, a))
}

func randomRecords(rng *rand.Rand, n int) []ExecutionRecord {
	priorities := []string{"low", "medium", "high", ""}
	categories := []string{"backend", "frontend", "ops", ""}

	out := make([]ExecutionRecord, n)
	for i := range out {
		est := float64(rng.Intn(240))
		out[i] = ExecutionRecord{
			TaskID:           "r",
			EstimatedMinutes: est,
			ActualMinutes:    est * (0.5 + rng.Float64()),
			Success:          rng.Float64() < 0.7,
			Priority:         priorities[rng.Intn(len(priorities))],
			Category:         categories[rng.Intn(len(categories))],
			CompletedAt:      fixedNow,
		}
	}
	return out
}
