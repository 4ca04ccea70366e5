package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvocation wraps any failure to obtain a reply from the model backend.
// Callers match it to distinguish backend trouble from their own bad input.
var ErrInvocation = errors.New("model invocation failed")

// Invoker produces an assistant reply for a fully assembled prompt. The
// prompt already carries history and memory context; invokers are stateless.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// Config controls invoker construction.
type Config struct {
	Mode    string
	HTTPURL string
}

func NewInvoker(cfg Config) (Invoker, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoInvoker(cfg), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("brain HTTP url is required for http mode")
		}
		return NewHTTPInvoker(cfg.HTTPURL), nil
	case "mock":
		return NewMockInvoker(), nil
	default:
		return nil, fmt.Errorf("unsupported brain invoker mode %q", cfg.Mode)
	}
}

func newAutoInvoker(cfg Config) Invoker {
	httpURL := strings.TrimSpace(cfg.HTTPURL)
	if httpURL != "" {
		// Keep the mock behind the HTTP backend so a flaky endpoint degrades
		// to a canned reply instead of failing the whole turn.
		return NewFallbackInvoker(NewHTTPInvoker(httpURL), NewMockInvoker())
	}
	return NewMockInvoker()
}
