package learning

import (
	"fmt"
	"math"
	"time"
)

// Default configuration values.
const (
	DefaultMinGroupSize        = 3
	DefaultValidationThreshold = 0.8
	DefaultMinAdjustment       = -0.3
	DefaultMaxAdjustment       = 0.3
	DefaultEvaluatorTimeout    = 30 * time.Second
	DefaultConcurrency         = 4
	DefaultPriorStrength       = 2.0
)

// Config holds the tunables of a learning run.
type Config struct {
	// MinGroupSize is the smallest group that may produce a pattern.
	MinGroupSize int

	// ValidationThreshold splits confident patterns (>=) from uncertain
	// ones (<). Only uncertain patterns are sent to the evaluator.
	ValidationThreshold float64

	// MinAdjustment and MaxAdjustment bound the confidence change a
	// single validation may apply.
	MinAdjustment float64
	MaxAdjustment float64

	// EvaluatorTimeout bounds each evaluator call.
	EvaluatorTimeout time.Duration

	// Concurrency caps in-flight evaluator calls during batch validation.
	Concurrency int

	// PriorStrength is the pseudo-count of the uniform prior used when
	// weighing sample size into confidence.
	PriorStrength float64
}

// DefaultConfig returns the default learning configuration.
func DefaultConfig() Config {
	return Config{
		MinGroupSize:        DefaultMinGroupSize,
		ValidationThreshold: DefaultValidationThreshold,
		MinAdjustment:       DefaultMinAdjustment,
		MaxAdjustment:       DefaultMaxAdjustment,
		EvaluatorTimeout:    DefaultEvaluatorTimeout,
		Concurrency:         DefaultConcurrency,
		PriorStrength:       DefaultPriorStrength,
	}
}

// Validate checks the configuration. Errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	if c.MinGroupSize < 1 {
		return fmt.Errorf("%w: min group size must be >= 1, got %d", ErrInvalidConfig, c.MinGroupSize)
	}
	if !inUnit(c.ValidationThreshold) {
		return fmt.Errorf("%w: validation threshold must be in [0,1], got %v", ErrInvalidConfig, c.ValidationThreshold)
	}
	if math.IsNaN(c.MinAdjustment) || c.MinAdjustment > 0 || c.MinAdjustment < -1 {
		return fmt.Errorf("%w: min adjustment must be in [-1,0], got %v", ErrInvalidConfig, c.MinAdjustment)
	}
	if math.IsNaN(c.MaxAdjustment) || c.MaxAdjustment < 0 || c.MaxAdjustment > 1 {
		return fmt.Errorf("%w: max adjustment must be in [0,1], got %v", ErrInvalidConfig, c.MaxAdjustment)
	}
	if c.EvaluatorTimeout <= 0 {
		return fmt.Errorf("%w: evaluator timeout must be > 0, got %s", ErrInvalidConfig, c.EvaluatorTimeout)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be >= 1, got %d", ErrInvalidConfig, c.Concurrency)
	}
	if math.IsNaN(c.PriorStrength) || math.IsInf(c.PriorStrength, 0) || c.PriorStrength <= 0 {
		return fmt.Errorf("%w: prior strength must be > 0, got %v", ErrInvalidConfig, c.PriorStrength)
	}
	return nil
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
