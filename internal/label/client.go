// Package label talks to the Google AI Studio (Gemini) REST API for the
// three language tasks around a dataset: naming clusters, proposing a
// balance strategy, and answering free-form questions. The whole package is
// optional — without an API key every caller degrades to its documented
// fallback and the engine keeps working.
package label

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/levelhq/level-engine/internal/registry"
	"github.com/levelhq/level-engine/pkg/models"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.0-flash"
)

type Config struct {
	APIKey  string
	Model   string // default gemini-2.0-flash
	BaseURL string // overridable for tests
	Timeout time.Duration
}

type Client struct {
	config Config
	http   *http.Client
}

func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// Available reports whether the client has credentials to call out at all.
func (c *Client) Available() bool {
	return c != nil && c.config.APIKey != ""
}

// Gemini generateContent wire types.
type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// generate runs one generateContent call. jsonMode forces a JSON response
// body for the structured tasks.
func (c *Client) generate(ctx context.Context, system, prompt string, jsonMode bool) (string, error) {
	if !c.Available() {
		return "", fmt.Errorf("no API key configured: %w", models.ErrUpstreamFailure)
	}

	req := geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: prompt}}, Role: "user"},
		},
		GenerationConfig: &geminiGenConfig{Temperature: 0.2},
	}
	if system != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	if jsonMode {
		req.GenerationConfig.ResponseMimeType = "application/json"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.config.BaseURL, c.config.Model, c.config.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w: %v", models.ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini status %d: %s: %w", resp.StatusCode, string(respBody), models.ErrUpstreamFailure)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("gemini error %d: %s: %w", parsed.Error.Code, parsed.Error.Message, models.ErrUpstreamFailure)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty gemini response: %w", models.ErrUpstreamFailure)
	}
	return strings.TrimSpace(parsed.Candidates[0].Content.Parts[0].Text), nil
}

// LabelCluster names one cluster from its representative samples.
func (c *Client) LabelCluster(ctx context.Context, clusterID int, samples []string) (registry.Analysis, error) {
	raw, err := c.generate(ctx, labelSystem, buildLabelPrompt(samples), true)
	if err != nil {
		return registry.Analysis{}, err
	}

	var analysis registry.Analysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return registry.Analysis{}, fmt.Errorf("cluster %d: unparseable label response: %w", clusterID, err)
	}
	if analysis.Label == "" {
		return registry.Analysis{}, fmt.Errorf("cluster %d: empty label: %w", clusterID, models.ErrUpstreamFailure)
	}
	return analysis, nil
}

// AnalyzeAll labels every cluster concurrently. A failure on one cluster is
// isolated: that cluster is simply absent from the result and the registry
// falls back to its generic name.
func (c *Client) AnalyzeAll(ctx context.Context, samplesByCluster map[int][]string) map[int]registry.Analysis {
	results := make(map[int]registry.Analysis, len(samplesByCluster))
	if !c.Available() {
		return results
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for clusterID, samples := range samplesByCluster {
		wg.Add(1)
		go func(clusterID int, samples []string) {
			defer wg.Done()
			analysis, err := c.LabelCluster(ctx, clusterID, samples)
			if err != nil {
				return
			}
			mu.Lock()
			results[clusterID] = analysis
			mu.Unlock()
		}(clusterID, samples)
	}
	wg.Wait()
	return results
}

// suggestion is the JSON shape the balance prompt asks for.
type suggestion struct {
	Strategy    string `json:"strategy"`
	Adjustments []struct {
		ClusterID     int `json:"clusterId"`
		SelectedCount int `json:"selectedCount"`
	} `json:"adjustments"`
}

// SuggestBalance asks for an advisory adjustment set over the dataset's
// current shape. The result is validated against the cluster registry —
// unknown clusters are dropped, counts are clamped into [0, sampleCount] —
// and returned as a side-table for the caller to store; nothing is applied.
func (c *Client) SuggestBalance(ctx context.Context, ds *models.DatasetState, request string) (map[int]models.Adjustment, string, error) {
	raw, err := c.generate(ctx, suggestSystem, buildSuggestPrompt(ds, request), true)
	if err != nil {
		return nil, "", err
	}

	var parsed suggestion
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, "", fmt.Errorf("unparseable suggestion: %w: %v", models.ErrUpstreamFailure, err)
	}

	suggested := make(map[int]models.Adjustment, len(parsed.Adjustments))
	for _, adj := range parsed.Adjustments {
		cluster := ds.ClusterByID(adj.ClusterID)
		if cluster == nil {
			continue
		}
		count := adj.SelectedCount
		if count < 0 {
			count = 0
		}
		if count > cluster.SampleCount {
			count = cluster.SampleCount
		}
		weight := 0.0
		if cluster.SampleCount > 0 {
			weight = float64(count) / float64(cluster.SampleCount)
		}
		suggested[adj.ClusterID] = models.Adjustment{SelectedCount: count, Weight: weight}
	}
	if len(suggested) == 0 {
		return nil, "", fmt.Errorf("suggestion named no known clusters: %w", models.ErrUpstreamFailure)
	}
	return suggested, parsed.Strategy, nil
}

// Chat answers a free-form question about the dataset using the cluster
// summary and current adjustment state as context.
func (c *Client) Chat(ctx context.Context, ds *models.DatasetState, message string) (string, error) {
	return c.generate(ctx, chatSystem, buildChatPrompt(ds, message), false)
}
