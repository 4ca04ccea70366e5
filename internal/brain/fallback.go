package brain

import (
	"context"
	"errors"
	"fmt"
)

// FallbackInvoker attempts a primary invoker first and falls back on error.
// Context cancellation is never masked by the fallback.
type FallbackInvoker struct {
	primary  Invoker
	fallback Invoker
}

func NewFallbackInvoker(primary, fallback Invoker) *FallbackInvoker {
	return &FallbackInvoker{primary: primary, fallback: fallback}
}

func (a *FallbackInvoker) Invoke(ctx context.Context, prompt string) (string, error) {
	text, err := a.primary.Invoke(ctx, prompt)
	if err == nil {
		return text, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}
	if a.fallback == nil {
		return "", err
	}

	text, fallbackErr := a.fallback.Invoke(ctx, prompt)
	if fallbackErr != nil {
		return "", fmt.Errorf("primary invoker error: %w; fallback invoker error: %v", err, fallbackErr)
	}
	return text, nil
}
