package label

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/levelhq/level-engine/pkg/models"
)

// geminiStub answers generateContent calls with the text produced by reply,
// which receives the concatenated prompt text.
func geminiStub(t *testing.T, reply func(prompt string) (string, int)) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var prompt strings.Builder
		for _, content := range req.Contents {
			for _, part := range content.Parts {
				prompt.WriteString(part.Text)
			}
		}

		text, status := reply(prompt.String())
		if status != http.StatusOK {
			http.Error(w, text, status)
			return
		}
		resp := geminiResponse{}
		resp.Candidates = append(resp.Candidates, struct {
			Content struct {
				Parts []geminiPart `json:"parts"`
			} `json:"content"`
		}{})
		resp.Candidates[0].Content.Parts = []geminiPart{{Text: text}}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)

	return NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
}

func labeledDataset() *models.DatasetState {
	return &models.DatasetState{
		Clusters: []models.Cluster{
			{ID: 0, SampleCount: 90, Label: "Support tickets"},
			{ID: 1, SampleCount: 10, Label: "Bug reports"},
		},
		Adjustments: map[int]models.Adjustment{
			0: {SelectedCount: 90, Weight: 1.0},
			1: {SelectedCount: 10, Weight: 1.0},
		},
		TotalPoints: 100,
		Metrics:     models.Metrics{GiniCoefficient: 0.4, FlatnessScore: 0.6},
	}
}

func TestLabelCluster(t *testing.T) {
	client := geminiStub(t, func(string) (string, int) {
		return `{"label": "Login errors", "description": "Users unable to sign in"}`, http.StatusOK
	})

	analysis, err := client.LabelCluster(context.Background(), 0, []string{"cannot log in", "password reset loops"})
	if err != nil {
		t.Fatalf("LabelCluster failed: %v", err)
	}
	if analysis.Label != "Login errors" || analysis.Description != "Users unable to sign in" {
		t.Errorf("Wrong analysis: %+v", analysis)
	}
}

func TestAnalyzeAll_IsolatesFailures(t *testing.T) {
	client := geminiStub(t, func(prompt string) (string, int) {
		if strings.Contains(prompt, "poisoned") {
			return "upstream exploded", http.StatusInternalServerError
		}
		return `{"label": "Healthy"}`, http.StatusOK
	})

	results := client.AnalyzeAll(context.Background(), map[int][]string{
		0: {"fine sample"},
		1: {"poisoned sample"},
		2: {"another fine sample"},
	})

	if len(results) != 2 {
		t.Fatalf("Expected 2 successful analyses. Got: %d", len(results))
	}
	if _, ok := results[1]; ok {
		t.Error("Failed cluster must be absent, not present with junk")
	}
	if results[0].Label != "Healthy" || results[2].Label != "Healthy" {
		t.Errorf("Successful clusters corrupted: %+v", results)
	}
}

func TestAnalyzeAll_NoKeyReturnsEmpty(t *testing.T) {
	client := NewClient(Config{})
	results := client.AnalyzeAll(context.Background(), map[int][]string{0: {"a"}})
	if len(results) != 0 {
		t.Errorf("Expected no analyses without an API key. Got: %+v", results)
	}
}

func TestSuggestBalance_ValidatesAgainstRegistry(t *testing.T) {
	client := geminiStub(t, func(string) (string, int) {
		return `{"strategy": "shrink the dominant cluster",
			"adjustments": [
				{"clusterId": 0, "selectedCount": 30},
				{"clusterId": 1, "selectedCount": 500},
				{"clusterId": 7, "selectedCount": 10}
			]}`, http.StatusOK
	})

	suggested, strategy, err := client.SuggestBalance(context.Background(), labeledDataset(), "")
	if err != nil {
		t.Fatalf("SuggestBalance failed: %v", err)
	}

	if strategy != "shrink the dominant cluster" {
		t.Errorf("Wrong strategy: %q", strategy)
	}
	if len(suggested) != 2 {
		t.Fatalf("Unknown cluster 7 must be dropped. Got: %+v", suggested)
	}
	if suggested[0].SelectedCount != 30 || suggested[0].Weight != 30.0/90.0 {
		t.Errorf("Wrong suggestion for cluster 0: %+v", suggested[0])
	}
	// 500 > sampleCount 10: clamped.
	if suggested[1].SelectedCount != 10 || suggested[1].Weight != 1.0 {
		t.Errorf("Out-of-range suggestion not clamped: %+v", suggested[1])
	}
}

func TestSuggestBalance_AllUnknownClustersFails(t *testing.T) {
	client := geminiStub(t, func(string) (string, int) {
		return `{"strategy": "x", "adjustments": [{"clusterId": 42, "selectedCount": 1}]}`, http.StatusOK
	})

	_, _, err := client.SuggestBalance(context.Background(), labeledDataset(), "")
	if !errors.Is(err, models.ErrUpstreamFailure) {
		t.Errorf("Expected ErrUpstreamFailure. Got: %v", err)
	}
}

func TestChat_CarriesDatasetContext(t *testing.T) {
	var seenPrompt string
	client := geminiStub(t, func(prompt string) (string, int) {
		seenPrompt = prompt
		return "The dataset leans heavily toward support tickets.", http.StatusOK
	})

	answer, err := client.Chat(context.Background(), labeledDataset(), "what dominates this dataset?")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if answer == "" {
		t.Error("Expected a non-empty answer")
	}
	if !strings.Contains(seenPrompt, "Support tickets") || !strings.Contains(seenPrompt, "what dominates") {
		t.Errorf("Prompt missing dataset context or question:\n%s", seenPrompt)
	}
}

func TestGenerate_NoKey(t *testing.T) {
	client := NewClient(Config{})
	_, err := client.Chat(context.Background(), labeledDataset(), "hello")
	if !errors.Is(err, models.ErrUpstreamFailure) {
		t.Errorf("Expected ErrUpstreamFailure without API key. Got: %v", err)
	}
}
