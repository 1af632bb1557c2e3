// Package evaluator provides LLM-backed implementations of
// learning.Evaluator.
package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/athena/internal/learning"
)

// ErrMalformedResponse indicates the model reply could not be parsed into
// a judgment.
var ErrMalformedResponse = errors.New("malformed evaluator response")

// LLMClient sends a prompt to a language model and returns its reply.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// validationPrompt instructs the model to review a pattern summary.
const validationPrompt = `You are reviewing a statistical rule learned from a team's task history.
Decide whether the rule is a meaningful predictor or an artifact of noise,
small samples, or confounding attributes.

Respond with a single JSON object and nothing else:
{
  "is_valid": true or false,
  "confidence_adjustment": number between -0.3 and 0.3,
  "validation_notes": "one or two sentences explaining the judgment",
  "recommendations": ["short actionable suggestion", "..."]
}

Rule:
`

// LLMEvaluator reviews patterns by prompting a language model.
type LLMEvaluator struct {
	client LLMClient
	logger *zap.Logger
}

// NewLLMEvaluator creates an evaluator over client.
func NewLLMEvaluator(client LLMClient, logger *zap.Logger) (*LLMEvaluator, error) {
	if client == nil {
		return nil, errors.New("llm client cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMEvaluator{client: client, logger: logger}, nil
}

// Evaluate implements learning.Evaluator.
func (e *LLMEvaluator) Evaluate(ctx context.Context, summary learning.PatternSummary) (learning.Judgment, error) {
	body, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return learning.Judgment{}, fmt.Errorf("encoding pattern summary: %w", err)
	}

	reply, err := e.client.Complete(ctx, validationPrompt+string(body))
	if err != nil {
		return learning.Judgment{}, fmt.Errorf("%w: %w", learning.ErrEvaluatorUnavailable, err)
	}

	judgment, err := parseJudgment(reply)
	if err != nil {
		e.logger.Debug("unparseable evaluator reply",
			zap.String("pattern", summary.PatternName),
			zap.Int("reply_len", len(reply)),
			zap.Error(err))
		return learning.Judgment{}, err
	}
	return judgment, nil
}

// judgmentPayload uses pointers so missing required fields are detected.
type judgmentPayload struct {
	IsValid              *bool    `json:"is_valid"`
	ConfidenceAdjustment *float64 `json:"confidence_adjustment"`
	ValidationNotes      string   `json:"validation_notes"`
	Recommendations      []string `json:"recommendations"`
}

// parseJudgment extracts the judgment object from a model reply. Replies
// wrapped in markdown fences or surrounded by prose are tolerated.
func parseJudgment(reply string) (learning.Judgment, error) {
	content := strings.TrimSpace(reply)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return learning.Judgment{}, fmt.Errorf("%w: no JSON object in reply", ErrMalformedResponse)
	}

	var payload judgmentPayload
	if err := json.Unmarshal([]byte(content[start:end+1]), &payload); err != nil {
		return learning.Judgment{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if payload.IsValid == nil {
		return learning.Judgment{}, fmt.Errorf("%w: missing is_valid", ErrMalformedResponse)
	}
	if payload.ConfidenceAdjustment == nil {
		return learning.Judgment{}, fmt.Errorf("%w: missing confidence_adjustment", ErrMalformedResponse)
	}

	return learning.Judgment{
		IsValid:              *payload.IsValid,
		ConfidenceAdjustment: *payload.ConfidenceAdjustment,
		ValidationNotes:      strings.TrimSpace(payload.ValidationNotes),
		Recommendations:      payload.Recommendations,
	}, nil
}

// Unavailable is an evaluator for deployments without a model. Every call
// fails with learning.ErrEvaluatorUnavailable, so all uncertain patterns
// receive heuristic validation.
type Unavailable struct{}

// Evaluate implements learning.Evaluator.
func (Unavailable) Evaluate(context.Context, learning.PatternSummary) (learning.Judgment, error) {
	return learning.Judgment{}, learning.ErrEvaluatorUnavailable
}
