package evaluator

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// langchainClient implements LLMClient over any langchaingo model.
type langchainClient struct {
	model     llms.Model
	maxTokens int
}

// newOpenAIClient creates a client for OpenAI or any OpenAI-compatible
// endpoint (Ollama, vLLM) selected by BaseURL.
func newOpenAIClient(cfg Config) (*langchainClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		if cfg.BaseURL == "" {
			return nil, errors.New("openai API key required")
		}
		// Local OpenAI-compatible servers ignore the token but the
		// client requires one.
		apiKey = "placeholder"
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	opts := []openai.Option{
		openai.WithModel(model),
		openai.WithToken(apiKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &langchainClient{model: llm, maxTokens: maxTokens}, nil
}

// Complete implements LLMClient.
func (c *langchainClient) Complete(ctx context.Context, prompt string) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, c.model, prompt,
		llms.WithTemperature(0.2),
		llms.WithMaxTokens(c.maxTokens),
	)
}
