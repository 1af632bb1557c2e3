package learning

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfidenceScore_Bounded(t *testing.T) {
	rates := []float64{-1, 0, 0.1, 0.5, 0.9, 1, 2, math.NaN(), math.Inf(1)}
	sizes := []int{-5, 0, 1, 3, 10, 1000, math.MaxInt32}

	for _, r := range rates {
		for _, n := range sizes {
			c := ConfidenceScore(r, n, DefaultPriorStrength)
			assert.GreaterOrEqual(t, c, 0.0, "rate=%v n=%d", r, n)
			assert.LessOrEqual(t, c, 1.0, "rate=%v n=%d", r, n)
			assert.False(t, math.IsNaN(c), "rate=%v n=%d", r, n)
		}
	}
}

func TestConfidenceScore_NonDecreasingInSampleSize(t *testing.T) {
	for _, r := range []float64{0, 0.25, 0.5, 0.52, 0.9, 1} {
		prev := 0.0
		for n := 1; n <= 500; n++ {
			c := ConfidenceScore(r, n, DefaultPriorStrength)
			assert.GreaterOrEqual(t, c, prev, "rate=%v n=%d", r, n)
			prev = c
		}
	}
}

func TestConfidenceScore_LowestAtCoinFlip(t *testing.T) {
	for _, n := range []int{1, 3, 10, 50, 500} {
		mid := ConfidenceScore(0.5, n, DefaultPriorStrength)
		for _, r := range []float64{0, 0.1, 0.3, 0.49, 0.51, 0.7, 1} {
			assert.LessOrEqual(t, mid, ConfidenceScore(r, n, DefaultPriorStrength), "rate=%v n=%d", r, n)
		}
	}
}

func TestConfidenceScore_SymmetricAroundCoinFlip(t *testing.T) {
	assert.InDelta(t, ConfidenceScore(0.2, 20, 2), ConfidenceScore(0.8, 20, 2), 1e-12)
}

func TestConfidenceScore_Values(t *testing.T) {
	tests := []struct {
		name  string
		rate  float64
		n     int
		prior float64
		want  float64
	}{
		{"ten at ninety percent", 0.9, 10, 2, 10.0 / 12.0 * 0.9},
		{"fifty at coin flip", 0.52, 50, 2, 50.0 / 52.0 * 0.52},
		{"no samples", 1, 0, 2, 0},
		{"invalid prior uses default", 1, 2, -1, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ConfidenceScore(tt.rate, tt.n, tt.prior), 1e-9)
		})
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clampUnit(math.NaN()))
	assert.Equal(t, 1.0, clampUnit(math.Inf(1)))
	assert.Equal(t, 0.0, clampUnit(math.Inf(-1)))
	assert.Equal(t, 0.3, clamp(5, -0.3, 0.3))
	assert.Equal(t, -0.3, clamp(-5, -0.3, 0.3))
	assert.Equal(t, 0.0, clamp(math.NaN(), -0.3, 0.3))
}
