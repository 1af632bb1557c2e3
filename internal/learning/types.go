package learning

import (
	"encoding/json"
	"errors"
	"maps"
	"math"
	"time"

	"github.com/google/uuid"
)

// Common errors for pattern learning operations.
var (
	ErrInvalidConfig        = errors.New("invalid learning config")
	ErrEvaluatorUnavailable = errors.New("evaluator unavailable")
	ErrMalformedJudgment    = errors.New("malformed evaluator judgment")
	ErrNilEvaluator         = errors.New("evaluator cannot be nil")
	ErrNilSource            = errors.New("record source cannot be nil")
)

// PatternType identifies the kind of rule a pattern describes.
type PatternType string

const (
	// PatternTypeSuccessRate predicts whether matching tasks succeed.
	PatternTypeSuccessRate PatternType = "success_rate"

	// PatternTypeTiming predicts whether matching tasks finish within
	// their estimate.
	PatternTypeTiming PatternType = "timing"
)

// ExecutionRecord is one completed unit of work.
//
// Records are produced by an external task store and are read-only input
// to extraction.
type ExecutionRecord struct {
	TaskID           string    `json:"task_id"`
	EstimatedMinutes float64   `json:"estimated_minutes"`
	ActualMinutes    float64   `json:"actual_minutes"`
	Success          bool      `json:"success"`
	Priority         string    `json:"priority,omitempty"`
	Category         string    `json:"category,omitempty"`
	Tags             []string  `json:"tags,omitempty"`
	CompletedAt      time.Time `json:"completed_at"`
}

// timed reports whether the record carries usable effort data.
func (r ExecutionRecord) timed() bool {
	return finitePositive(r.EstimatedMinutes) && finitePositive(r.ActualMinutes)
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// Condition maps an attribute name to a constraint on it. Constraints are
// either an exact value ("priority": "high") or an operator map
// ("estimated_minutes": {">=": 30, "<": 120}).
type Condition map[string]any

// Clone returns a copy that shares no maps with c, operator maps included.
func (c Condition) Clone() Condition {
	if c == nil {
		return nil
	}
	out := maps.Clone(c)
	for k, v := range out {
		if ops, ok := v.(map[string]any); ok {
			out[k] = maps.Clone(ops)
		}
	}
	return out
}

// Key returns the canonical encoding of the condition. Map keys are
// sorted by encoding/json, so equal conditions yield equal keys.
func (c Condition) Key() string {
	if len(c) == 0 {
		return "{}"
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Pattern is a learned rule predicting task outcomes for records that
// satisfy its condition.
//
// SuccessRate and ConfidenceScore always lie in [0,1]. Validated moves
// from false to true exactly once and is never reset.
type Pattern struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Type            PatternType `json:"pattern_type"`
	Description     string      `json:"description"`
	Condition       Condition   `json:"condition"`
	Prediction      string      `json:"prediction"`
	SuccessRate     float64     `json:"success_rate"`
	SampleSize      int         `json:"sample_size"`
	ConfidenceScore float64     `json:"confidence_score"`
	Validated       bool        `json:"validated"`
	ValidationNotes string      `json:"validation_notes,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Summary returns the view of the pattern submitted to an Evaluator.
func (p Pattern) Summary() PatternSummary {
	return PatternSummary{
		PatternName: p.Name,
		Description: p.Description,
		Condition:   p.Condition,
		SuccessRate: p.SuccessRate,
		SampleSize:  p.SampleSize,
		Prediction:  p.Prediction,
	}
}

// patternNamespace scopes pattern IDs so the same rule extracted by two
// runs maps to the same ID.
var patternNamespace = uuid.MustParse("6f0d1c8e-3b2a-5e47-9a61-2c4d8b7f0e13")

// PatternID returns the deterministic ID for a rule of the given type and
// condition.
func PatternID(t PatternType, cond Condition) string {
	return uuid.NewSHA1(patternNamespace, []byte(string(t)+"|"+cond.Key())).String()
}

// ValidationResult is the outcome of reviewing one pattern. It is
// transient: consumed by ApplyValidationResult and then discarded.
type ValidationResult struct {
	IsValid              bool     `json:"is_valid"`
	ConfidenceAdjustment float64  `json:"confidence_adjustment"`
	ValidationNotes      string   `json:"validation_notes"`
	Recommendations      []string `json:"recommendations"`

	// Fallback is set when the result was computed heuristically because
	// the evaluator could not be used.
	Fallback bool `json:"fallback"`
}

// PatternSummary is what an Evaluator sees of a pattern.
type PatternSummary struct {
	PatternName string    `json:"pattern_name"`
	Description string    `json:"description"`
	Condition   Condition `json:"condition"`
	SuccessRate float64   `json:"success_rate"`
	SampleSize  int       `json:"sample_size"`
	Prediction  string    `json:"prediction"`
}

// Judgment is an evaluator's raw verdict on a pattern. The adjustment is
// unclamped; the Validator bounds it.
type Judgment struct {
	IsValid              bool     `json:"is_valid"`
	ConfidenceAdjustment float64  `json:"confidence_adjustment"`
	ValidationNotes      string   `json:"validation_notes"`
	Recommendations      []string `json:"recommendations"`
}
