package learning

import (
	"fmt"
	"math"
	"strings"
)

// FallbackNotePrefix tags validation notes produced without the evaluator.
const FallbackNotePrefix = "[fallback]"

// Heuristic fallback tuning.
const (
	// fallbackValidStrength is the evidence*decisiveness score at or above
	// which a pattern is considered valid.
	fallbackValidStrength = 0.25

	// fallbackDamping scales the fallback adjustment range relative to the
	// configured bounds, keeping heuristic nudges smaller than deliberative
	// ones.
	fallbackDamping = 0.5

	// narrowDecisiveness flags success rates within 0.2 of a coin flip.
	narrowDecisiveness = 0.4
)

// FallbackValidation computes a deterministic validation result from a
// pattern's sample size and the distance of its success rate from 0.5.
// The same pattern and config always yield the same result.
func FallbackValidation(p Pattern, cfg Config) ValidationResult {
	prior := cfg.PriorStrength
	if math.IsNaN(prior) || prior <= 0 {
		prior = DefaultPriorStrength
	}

	n := float64(max(p.SampleSize, 0))
	r := clampUnit(p.SuccessRate)

	evidence := 0.0
	if n > 0 {
		evidence = n / (n + prior)
	}
	decisiveness := math.Abs(r-0.5) * 2
	strength := evidence * decisiveness

	span := (cfg.MaxAdjustment - cfg.MinAdjustment) / 2 * fallbackDamping
	adjustment := clamp((strength-0.5)*span, cfg.MinAdjustment, cfg.MaxAdjustment)

	var recs []string
	if p.SampleSize < 2*cfg.MinGroupSize {
		recs = append(recs, fmt.Sprintf("collect more execution records (have %d, want at least %d)", p.SampleSize, 2*cfg.MinGroupSize))
	}
	if decisiveness < narrowDecisiveness {
		recs = append(recs, "success rate is close to 50%; narrow the condition with additional attributes")
	}
	if len(recs) == 0 {
		recs = append(recs, "re-run deliberative validation when the evaluator is available")
	}

	return ValidationResult{
		IsValid:              strength >= fallbackValidStrength,
		ConfidenceAdjustment: adjustment,
		ValidationNotes: fmt.Sprintf("%s heuristic review (sample_size=%d, success_rate=%.2f, strength=%.2f); evaluator unavailable",
			FallbackNotePrefix, p.SampleSize, r, strength),
		Recommendations: recs,
		Fallback:        true,
	}
}

// IsFallback reports whether r was produced without the evaluator.
func IsFallback(r ValidationResult) bool {
	return r.Fallback || strings.HasPrefix(r.ValidationNotes, FallbackNotePrefix)
}
