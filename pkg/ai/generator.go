package ai

import (
	"context"
	"errors"
	"fmt"
)

// TextGenerator generates text from a system prompt and user prompt.
// All model backends (OpenAI-compatible, Gemini, Ollama) implement this
// interface.
type TextGenerator interface {
	Name() string
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Classified upstream error conditions. Retryable classes advance the
// fallback list; anything else aborts the unit of work immediately.
var (
	ErrRateLimited   = errors.New("model_rate_limited")
	ErrModelNotFound = errors.New("model_not_found")
	ErrUpstream      = errors.New("model_upstream_error")
)

// IsRetryable reports whether the next backend in the fallback list should
// be attempted.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrModelNotFound) ||
		errors.Is(err, ErrUpstream)
}

func classifyStatus(backend string, status int, detail string) error {
	switch {
	case status == 429:
		return fmt.Errorf("%s: %s: %w", backend, detail, ErrRateLimited)
	case status == 404:
		return fmt.Errorf("%s: %s: %w", backend, detail, ErrModelNotFound)
	case status >= 500:
		return fmt.Errorf("%s: %s: %w", backend, detail, ErrUpstream)
	default:
		return fmt.Errorf("%s api error: %s", backend, detail)
	}
}
