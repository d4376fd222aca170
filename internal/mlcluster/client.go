// Package mlcluster is the HTTP client for the ML clustering sidecar, which
// serves sentence embeddings for similarity scoring. The sidecar is
// optional: when its health probe fails the pipeline falls back to keyword
// overlap scoring.
package mlcluster

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	// healthTimeout bounds the per-batch health probe so an unreachable
	// sidecar cannot stall the batch.
	healthTimeout = 5 * time.Second

	defaultHTTPTimeout = 30 * time.Second
)

// Client talks to the ML clustering service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Model      string      `json:"model"`
}

type similarityRequest struct {
	Text1 string `json:"text1"`
	Text2 string `json:"text2"`
}

// SimilarityResult is the service's verdict on a text pair.
type SimilarityResult struct {
	Similarity float64 `json:"similarity"`
	IsSimilar  bool    `json:"is_similar"`
}

type clusterBatchRequest struct {
	Days  int `json:"days,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// ClusterBatchResult is the outcome of a service-side clustering run.
type ClusterBatchResult struct {
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Duplicates int    `json:"duplicates"`
	Outliers   int    `json:"outliers"`
	Processed  int    `json:"processed"`
	Message    string `json:"message"`
}

// Healthy probes GET /health with a short deadline. Any transport error,
// non-2xx status, or status other than "ok" counts as unhealthy.
func (c *Client) Healthy(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false
	}
	return health.Status == "ok" || health.Status == "healthy"
}

// Embed returns one embedding vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send embed request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodySnippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embed API error (status=%d): %s",
			resp.StatusCode, strings.TrimSpace(string(bodySnippet)))
	}

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("decode embed response from %s: %w", c.baseURL, err)
	}

	if len(embedResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed API returned %d embeddings for %d inputs",
			len(embedResp.Embeddings), len(texts))
	}
	return embedResp.Embeddings, nil
}

// Similarity asks the service to score a single text pair.
func (c *Client) Similarity(ctx context.Context, text1, text2 string) (*SimilarityResult, error) {
	var result SimilarityResult
	if err := c.post(ctx, "/api/similarity", similarityRequest{Text1: text1, Text2: text2}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ClusterBatch asks the service to run a full clustering pass on its side.
// Zero days or limit let the service apply its own defaults.
func (c *Client) ClusterBatch(ctx context.Context, days, limit int) (*ClusterBatchResult, error) {
	var result ClusterBatchResult
	if err := c.post(ctx, "/api/cluster", clusterBatchRequest{Days: days, Limit: limit}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// post sends a JSON request and decodes a JSON response.
func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send %s request to %s: %w", path, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodySnippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s API error (status=%d): %s",
			path, resp.StatusCode, strings.TrimSpace(string(bodySnippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response from %s: %w", path, c.baseURL, err)
	}
	return nil
}
