// Package ollama provides a network-bound EmbeddingProvider backed by
// Ollama's HTTP embeddings API, the cloud-scale alternative to the
// in-process TF-IDF embedder (spec §6: "embedder.dimension... 1536 for
// cloud").
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/memkit/memkit/pkg/resilience"
)

// EmbedClient implements engine/pipeline.EmbeddingProvider against an
// Ollama server's /api/embeddings endpoint. Calls are guarded by a
// circuit breaker and rate limiter, since this is the one network-bound
// EmbeddingProvider and a slow or failing Ollama instance must not be
// allowed to stall the pipeline's batch scheduler indefinitely.
type EmbedClient struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
	breaker   *resilience.Breaker
	limiter   *resilience.Limiter
}

// NewEmbedClient creates an Ollama embedding client. dimension must match
// the model's actual output width; it is never inferred from a response,
// since callers need it before the first embed call to size collections.
func NewEmbedClient(baseURL, model string, dimension int) *EmbedClient {
	return &EmbedClient{
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
		client:    &http.Client{Timeout: 30 * time.Second},
		breaker:   resilience.NewBreaker(resilience.DefaultBreakerOpts),
		limiter:   resilience.NewLimiter(resilience.LimiterOpts{Rate: 20, Burst: 40}),
	}
}

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed implements EmbeddingProvider. The request is gated by a circuit
// breaker and a token bucket limiter: once repeated failures have tripped
// the breaker, calls fail fast with ErrCircuitOpen, and when the limiter
// has no token a call waits for the next one until ctx ends.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		return c.limiter.CallWait(ctx, func(ctx context.Context) error {
			vals, err := c.doEmbed(ctx, text)
			if err != nil {
				return err
			}
			out = vals
			return nil
		})
	})
	return out, err
}

func (c *EmbedClient) doEmbed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedReq{Model: c.model, Prompt: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed: status %d", resp.StatusCode)
	}

	var result ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// EmbedBatch implements EmbeddingProvider. Ollama's embeddings endpoint has
// no native batch form, so this issues one request per text; the pipeline
// already amortizes call volume upstream via its batch scheduler.
func (c *EmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vals, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d]: %w", i, err)
		}
		out[i] = vals
	}
	return out, nil
}

// Dimension implements EmbeddingProvider.
func (c *EmbedClient) Dimension() int { return c.dimension }

// IsHealthy implements the EmbeddingProvider contract's health probe
// (spec §6) by hitting Ollama's root endpoint.
func (c *EmbedClient) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close implements the EmbeddingProvider contract; the HTTP client owns no
// closable resources.
func (c *EmbedClient) Close() error { return nil }
