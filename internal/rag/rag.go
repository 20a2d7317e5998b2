// Package rag implements the use_rag_tool call: retrieval queries against a
// remote document index over HTTP.
package rag

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

const (
	defaultMaxResults  = 5
	maxMaxResults      = 20
	defaultThreshold   = 0.7
	defaultContentCap  = 500
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 1 << 20
)

// Config locates the retrieval service.
type Config struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"api_key" json:"api_key"`
	// MaxResults is the default result count when a query names none.
	MaxResults int `yaml:"max_results" json:"max_results"`
	// Threshold is the minimum similarity score forwarded to the service.
	Threshold float32 `yaml:"threshold" json:"threshold"`
	// ContentCap truncates chunk content in rendered results.
	ContentCap int           `yaml:"content_cap" json:"content_cap"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// Chunk is one retrieved passage.
type Chunk struct {
	Document string  `json:"document"`
	Source   string  `json:"source,omitempty"`
	Content  string  `json:"content"`
	Score    float32 `json:"score"`
}

// Client queries the retrieval service.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient applies defaults and builds the client.
func NewClient(cfg Config) *Client {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.ContentCap <= 0 {
		cfg.ContentCap = defaultContentCap
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Retrieve posts the query and returns scored chunks, best first as the
// service ranks them.
func (c *Client) Retrieve(ctx context.Context, query string, max int) ([]Chunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if c.cfg.BaseURL == "" {
		return nil, fmt.Errorf("no retrieval endpoint configured")
	}
	if max <= 0 {
		max = c.cfg.MaxResults
	}
	if max > maxMaxResults {
		max = maxMaxResults
	}

	body, err := json.Marshal(map[string]any{
		"query":     query,
		"limit":     max,
		"threshold": c.cfg.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/query"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query retrieval service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("retrieval service returned %s", resp.Status)
	}

	var out struct {
		Chunks []Chunk `json:"chunks"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Chunks) > max {
		out.Chunks = out.Chunks[:max]
	}
	return out.Chunks, nil
}

// ContentCap returns the configured render truncation limit.
func (c *Client) ContentCap() int {
	return c.cfg.ContentCap
}
