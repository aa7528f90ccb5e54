package ai

import (
	"context"
	"errors"
	"fmt"
)

// FallbackGenerator tries a prioritized list of backends in order. A
// retryable error advances to the next backend; a permanent error aborts
// immediately; exhausting the list fails the call.
type FallbackGenerator struct {
	backends []TextGenerator
}

func NewFallbackGenerator(backends ...TextGenerator) (*FallbackGenerator, error) {
	filtered := make([]TextGenerator, 0, len(backends))
	for _, b := range backends {
		if b != nil {
			filtered = append(filtered, b)
		}
	}
	if len(filtered) == 0 {
		return nil, errors.New("at least one generation backend required")
	}
	return &FallbackGenerator{backends: filtered}, nil
}

func (g *FallbackGenerator) Name() string { return "fallback" }

func (g *FallbackGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var lastErr error
	for _, backend := range g.backends {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := backend.GenerateText(ctx, systemPrompt, userPrompt)
		if err == nil {
			return text, nil
		}
		if !IsRetryable(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("all generation backends exhausted: %w", lastErr)
}
