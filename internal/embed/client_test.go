package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/levelhq/level-engine/pkg/models"
)

func embedServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// respondVectors answers with one fixed vector per input, preserving order
// via the index field.
func respondVectors(w http.ResponseWriter, r *http.Request, vector []float32) {
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var resp embedResponse
	for i := range req.Input {
		resp.Data = append(resp.Data, struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{Embedding: vector, Index: i})
	}
	json.NewEncoder(w).Encode(resp)
}

func TestEmbedBatch_Normalizes(t *testing.T) {
	server := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		respondVectors(w, r, []float32{3, 4})
	})

	client, err := NewClient(Config{Endpoint: server.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	vectors, err := client.EmbedBatch(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("Expected 2 vectors. Got: %d", len(vectors))
	}

	// [3,4] normalizes to [0.6, 0.8].
	if math.Abs(float64(vectors[0][0])-0.6) > 1e-6 || math.Abs(float64(vectors[0][1])-0.8) > 1e-6 {
		t.Errorf("Vector not L2-normalized: %v", vectors[0])
	}
}

func TestEmbedBatch_ChunksLargeInputs(t *testing.T) {
	var requests atomic.Int32
	server := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		respondVectors(w, r, []float32{1, 0})
	})

	client, _ := NewClient(Config{Endpoint: server.URL, Model: "test-model"})

	texts := make([]string, batchSize+10)
	for i := range texts {
		texts[i] = fmt.Sprintf("row %d", i)
	}

	vectors, err := client.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(vectors) != len(texts) {
		t.Errorf("Expected %d vectors. Got: %d", len(texts), len(vectors))
	}
	if requests.Load() != 2 {
		t.Errorf("Expected 2 API calls for %d texts. Got: %d", len(texts), requests.Load())
	}
}

func TestEmbedBatch_RetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	server := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		respondVectors(w, r, []float32{1, 0})
	})

	client, _ := NewClient(Config{Endpoint: server.URL, Model: "test-model", MaxRetries: 2})

	vectors, err := client.EmbedBatch(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("Expected retry to recover: %v", err)
	}
	if len(vectors) != 1 || calls.Load() != 2 {
		t.Errorf("Expected success on second call. Calls: %d", calls.Load())
	}
}

func TestEmbedBatch_PermanentErrorFailsFast(t *testing.T) {
	var calls atomic.Int32
	server := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad input", http.StatusBadRequest)
	})

	client, _ := NewClient(Config{Endpoint: server.URL, Model: "test-model", MaxRetries: 3})

	_, err := client.EmbedBatch(context.Background(), []string{"a"})
	if !errors.Is(err, models.ErrUpstreamFailure) {
		t.Fatalf("Expected ErrUpstreamFailure. Got: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("400 must not be retried. Calls: %d", calls.Load())
	}
}

func TestEmbedBatch_CountMismatchRejected(t *testing.T) {
	server := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{}) // zero embeddings back
	})

	client, _ := NewClient(Config{Endpoint: server.URL, Model: "test-model", MaxRetries: 0})

	if _, err := client.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("Expected error on embedding count mismatch")
	}
}

func TestEmbedBatch_ContextCancellation(t *testing.T) {
	server := embedServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	client, _ := NewClient(Config{Endpoint: server.URL, Model: "test-model", MaxRetries: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := client.EmbedBatch(ctx, []string{"a"}); err == nil {
		t.Fatal("Expected error when context expires during backoff")
	}
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(Config{Model: "m"}); err == nil {
		t.Error("Expected error for missing endpoint")
	}
	if _, err := NewClient(Config{Endpoint: "http://x"}); err == nil {
		t.Error("Expected error for missing model")
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	client, _ := NewClient(Config{Endpoint: "http://unused", Model: "m"})
	vectors, err := client.EmbedBatch(context.Background(), nil)
	if err != nil || vectors != nil {
		t.Errorf("Expected nil, nil for empty input. Got: %v, %v", vectors, err)
	}
}
