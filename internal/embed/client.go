// Package embed turns record texts into fixed-length vectors via an
// OpenAI-compatible /v1/embeddings endpoint. Any provider speaking that
// format works (OpenAI, Ollama, OpenRouter, self-hosted).
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/levelhq/level-engine/pkg/models"
)

// Embedder generates one vector per input text. Implementations must be
// deterministic for identical inputs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// batchSize is the number of texts sent per API call. Large uploads are
// chunked so a single oversized request cannot take down the whole ingestion.
const batchSize = 100

// Config holds embedding provider settings, normally filled from environment
// variables at startup.
type Config struct {
	Endpoint   string // full URL of the /v1/embeddings endpoint
	Model      string
	APIKey     string // optional, e.g. local Ollama needs none
	MaxRetries int    // default 3
	Timeout    time.Duration
}

// Client implements Embedder against an OpenAI-compatible HTTP API.
type Client struct {
	config Config
	http   *http.Client
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// httpError carries the status code so the retry loop can distinguish
// throttling and server faults from permanent request errors.
type httpError struct {
	statusCode int
	message    string
	retryAfter time.Duration
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.message)
}

func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}, nil
}

// EmbedBatch embeds all texts, chunking into API-sized batches and retrying
// transient failures with exponential backoff. A definitive failure aborts
// the whole call: ingestion must never silently skip records. All returned
// vectors are L2-normalized so cosine math downstream can use plain dot
// products.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		chunk, err := c.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding rows %d-%d: %w: %v", start, end-1, models.ErrUpstreamFailure, err)
		}
		vectors = append(vectors, chunk...)
	}

	for _, v := range vectors {
		normalize(v)
	}
	return vectors, nil
}

func (c *Client) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		vectors, err := c.attempt(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		if attempt == c.config.MaxRetries || !retryable(err) {
			break
		}

		backoff := time.Duration(1<<attempt) * time.Second
		if httpErr, ok := err.(*httpError); ok && httpErr.retryAfter > 0 {
			backoff = httpErr.retryAfter
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// retryable reports whether an attempt error is worth repeating: rate limits
// and server faults are, malformed requests are not.
func retryable(err error) bool {
	httpErr, ok := err.(*httpError)
	if !ok {
		return true // transport errors
	}
	return httpErr.statusCode == http.StatusTooManyRequests || httpErr.statusCode >= 500
}

func (c *Client) attempt(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var retryAfter time.Duration
		if header := resp.Header.Get("Retry-After"); header != "" {
			if seconds, err := strconv.Atoi(header); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, &httpError{statusCode: resp.StatusCode, message: string(respBody), retryAfter: retryAfter}
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(parsed.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return vectors, nil
}

// normalize scales v to unit length in place. Zero vectors stay zero.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}
