package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPInvoker forwards prompts to a model-serving HTTP endpoint.
type HTTPInvoker struct {
	url    string
	client *http.Client
}

func NewHTTPInvoker(url string) *HTTPInvoker {
	return &HTTPInvoker{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type invokeRequest struct {
	Prompt string `json:"prompt"`
}

func (a *HTTPInvoker) Invoke(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(invokeRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrInvocation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", ErrInvocation, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		// Keep the transport error in the chain so context cancellation
		// stays visible to errors.Is through the invocation wrapper.
		return "", fmt.Errorf("%w: send request: %w", ErrInvocation, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("%w: http status %d: %s", ErrInvocation, res.StatusCode, string(body))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrInvocation, err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		// Plain-text endpoints are accepted as-is.
		text := strings.TrimSpace(string(body))
		if text == "" {
			return "", fmt.Errorf("%w: empty response", ErrInvocation)
		}
		return text, nil
	}

	text := extractText(obj)
	if text == "" {
		return "", fmt.Errorf("%w: response carried no text", ErrInvocation)
	}
	return text, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "output", "message", "response"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
