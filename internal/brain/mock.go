package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockInvoker provides deterministic local replies when no model backend is
// configured.
type MockInvoker struct{}

func NewMockInvoker() *MockInvoker { return &MockInvoker{} }

func (a *MockInvoker) Invoke(ctx context.Context, prompt string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	// Echo the last non-empty line, which is the current request in an
	// assembled prompt.
	var last string
	for _, line := range strings.Split(prompt, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			last = s
		}
	}
	if last == "" {
		return "I am listening.", nil
	}
	return fmt.Sprintf("I heard you: %s", last), nil
}
