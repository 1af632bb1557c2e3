package learning

import "math"

// ConfidenceScore scores how much a rule can be trusted from its sample
// size and success rate.
//
// The score is evidence(n) * decisiveness(rate) where
//
//	evidence(n)     = n / (n + priorStrength)
//	decisiveness(r) = 0.5 + |r - 0.5|
//
// evidence is the share of a Beta posterior mean carried by observed data
// rather than the uniform prior. The result is non-decreasing in n for a
// fixed rate, lowest at rate 0.5 for a fixed n, and always in [0,1].
func ConfidenceScore(successRate float64, sampleSize int, priorStrength float64) float64 {
	if sampleSize <= 0 {
		return 0
	}
	if math.IsNaN(priorStrength) || priorStrength <= 0 {
		priorStrength = DefaultPriorStrength
	}
	r := clampUnit(successRate)
	n := float64(sampleSize)

	evidence := n / (n + priorStrength)
	decisiveness := 0.5 + math.Abs(r-0.5)

	return clampUnit(evidence * decisiveness)
}

// clampUnit clamps v to [0,1]. NaN maps to 0.
func clampUnit(v float64) float64 {
	return clamp(v, 0, 1)
}

// clamp bounds v to [lo, hi]. NaN maps to the bound closest to zero.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return clamp(0, lo, hi)
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
