package evaluator

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/athena/internal/learning"
)

// Supported providers.
const (
	ProviderDisabled  = "disabled"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Config selects and configures the model behind the evaluator.
type Config struct {
	// Provider is one of "disabled", "anthropic" or "openai". Empty means
	// disabled.
	Provider string

	Model   string
	APIKey  string
	BaseURL string

	MaxTokens         int
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int
}

// New builds the evaluator for cfg.Provider.
func New(cfg Config, logger *zap.Logger) (learning.Evaluator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var client LLMClient
	switch cfg.Provider {
	case "", ProviderDisabled:
		logger.Info("evaluator disabled, uncertain patterns will use heuristic validation")
		return Unavailable{}, nil
	case ProviderAnthropic:
		c, err := newAnthropicClient(cfg)
		if err != nil {
			return nil, err
		}
		client = c
	case ProviderOpenAI:
		c, err := newOpenAIClient(cfg)
		if err != nil {
			return nil, err
		}
		client = c
	default:
		return nil, fmt.Errorf("unknown evaluator provider %q", cfg.Provider)
	}

	logger.Info("evaluator configured",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model))
	return NewLLMEvaluator(client, logger)
}
