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

// HTTPEmbedder calls an embedding service over HTTP. Any backend satisfying
// "more semantically similar text yields higher cosine similarity" works;
// the adapter is deliberately schema-minimal.
type HTTPEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

type embedRequest struct {
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewHTTPEmbedder creates an embedding adapter with circuit breaker and retry
func NewHTTPEmbedder(baseURL, apiKey, model string) *HTTPEmbedder {
	return &HTTPEmbedder{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			SuccessThreshold: 3,
		}),
		retry: resilience.DefaultRetryConfig(),
	}
}

// Embed implements Embedder
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	var vector []float64

	err := resilience.RetryWithConfig(ctx, e.retry, func() error {
		return e.breaker.Call(func() error {
			v, err := e.embedOnce(ctx, text)
			if err != nil {
				return err
			}
			vector = v
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("embedding call failed: %w", err)
	}

	return vector, nil
}

func (e *HTTPEmbedder) embedOnce(ctx context.Context, text string) ([]float64, error) {
	payload, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode embedding: %w", err)
	}

	if len(decoded.Embedding) == 0 {
		return nil, fmt.Errorf("embedding API returned an empty vector")
	}

	return decoded.Embedding, nil
}
