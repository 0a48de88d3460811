package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scrypster/mnemo/internal/storeerr"
)

// OllamaBackend calls a local embedding server's /api/embed endpoint (the
// "neural-framework" provider), protected by a circuit breaker so a down or
// slow server degrades cleanly instead of stalling every write.
type OllamaBackend struct {
	baseURL string
	model   string
	client  *http.Client
	breaker *circuitBreaker
	dim     int
}

// OllamaConfig configures OllamaBackend.
type OllamaConfig struct {
	BaseURL string        // default: http://localhost:11434
	Model   string        // default: nomic-embed-text
	Timeout time.Duration // default: 5s
}

// NewOllamaBackend constructs a backend with the given configuration,
// applying the same defaults as the reference HTTP client.
func NewOllamaBackend(cfg OllamaConfig) *OllamaBackend {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &OllamaBackend{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: newCircuitBreaker(defaultCircuitBreakerConfig()),
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed sends text to the embedding server through the circuit breaker.
func (b *OllamaBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := b.breaker.execute(ctx, func() ([]float32, error) {
		return b.embed(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storeerr.ErrEmbeddingFailure, err)
	}
	if b.dim == 0 {
		b.dim = len(vec)
	}
	return vec, nil
}

func (b *OllamaBackend) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: b.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(decoded.Embeddings) == 0 || len(decoded.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embedding server returned an empty vector")
	}
	return decoded.Embeddings[0], nil
}

// HealthCheck verifies the embedding server is reachable.
func (b *OllamaBackend) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/version", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Dimension returns the vector length observed from the first successful
// call, or 0 before the first call has completed.
func (b *OllamaBackend) Dimension() int { return b.dim }

// State reports the circuit breaker's current state ("closed"/"open"/"half-open").
func (b *OllamaBackend) State() string { return b.breaker.state() }

var _ Provider = (*OllamaBackend)(nil)
