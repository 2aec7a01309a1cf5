package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trialworks/venire/internal/resilience"
)

// HTTPGenerator calls a text-completion service over HTTP. Downstream logic
// never depends on its output being well-formed; callers fall back to
// deterministic templates on failure.
type HTTPGenerator struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

type completeRequest struct {
	Model     string  `json:"model,omitempty"`
	Prompt    string  `json:"prompt"`
	MaxTokens int     `json:"max_tokens,omitempty"`
	Temp      float64 `json:"temperature,omitempty"`
}

type completeResponse struct {
	Text string `json:"text"`
}

// NewHTTPGenerator creates a completion adapter with circuit breaker and retry
func NewHTTPGenerator(baseURL, apiKey, model string) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			SuccessThreshold: 3,
		}),
		retry: resilience.DefaultRetryConfig(),
	}
}

// Complete implements Generator
func (g *HTTPGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	var text string

	err := resilience.RetryWithConfig(ctx, g.retry, func() error {
		return g.breaker.Call(func() error {
			t, err := g.completeOnce(ctx, prompt)
			if err != nil {
				return err
			}
			text = t
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("completion call failed: %w", err)
	}

	return text, nil
}

func (g *HTTPGenerator) completeOnce(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(completeRequest{
		Model:     g.model,
		Prompt:    prompt,
		MaxTokens: 1024,
		Temp:      0.4,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/complete", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("completion API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var decoded completeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode completion: %w", err)
	}

	return decoded.Text, nil
}
