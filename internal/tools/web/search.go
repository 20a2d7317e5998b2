// Package web implements the network tools: multi-backend search with a TTL
// cache and multi-provider page crawling on a bounded worker pool.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Backend identifies a search backend.
type Backend string

const (
	BackendSearXNG    Backend = "searxng"
	BackendDuckDuckGo Backend = "duckduckgo"
	BackendBrave      Backend = "brave"

	// maxCacheSize bounds the cached query responses.
	maxCacheSize = 256

	defaultDuckDuckGoURL = "https://api.duckduckgo.com"
	defaultBraveURL      = "https://api.search.brave.com/res/v1"
)

// SearchConfig holds search backend credentials and defaults.
type SearchConfig struct {
	SearXNGURL     string        `json:"searxng_url,omitempty" yaml:"searxng_url"`
	BraveAPIKey    string        `json:"brave_api_key,omitempty" yaml:"brave_api_key"`
	DefaultBackend Backend       `json:"default_backend,omitempty" yaml:"default_backend"`
	MaxResults     int           `json:"max_results,omitempty" yaml:"max_results"`
	CacheTTL       time.Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl"`
}

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

type searchCacheEntry struct {
	results []Result
	backend Backend
	expires time.Time
}

// Searcher queries the configured backend, falling back to DuckDuckGo when the
// primary fails. Responses are cached per (backend, count, query) with a TTL.
type Searcher struct {
	cfg    SearchConfig
	client *http.Client

	// overridable in tests
	duckDuckGoURL string
	braveURL      string

	mu    sync.RWMutex
	cache map[string]searchCacheEntry
}

// NewSearcher creates a searcher with defaults applied.
func NewSearcher(cfg SearchConfig) *Searcher {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.DefaultBackend == "" {
		if cfg.SearXNGURL != "" {
			cfg.DefaultBackend = BackendSearXNG
		} else {
			cfg.DefaultBackend = BackendDuckDuckGo
		}
	}
	return &Searcher{
		cfg:           cfg,
		client:        &http.Client{Timeout: 30 * time.Second},
		duckDuckGoURL: defaultDuckDuckGoURL,
		braveURL:      defaultBraveURL,
		cache:         make(map[string]searchCacheEntry),
	}
}

// Search runs the query and returns up to max results with the backend that
// actually served them.
func (s *Searcher) Search(ctx context.Context, query string, max int) ([]Result, Backend, error) {
	if max <= 0 {
		max = s.cfg.MaxResults
	}
	if max > 20 {
		max = 20
	}

	key := fmt.Sprintf("%s:%d:%s", s.cfg.DefaultBackend, max, query)
	if entry, ok := s.fromCache(key); ok {
		return entry.results, entry.backend, nil
	}

	backend := s.cfg.DefaultBackend
	results, err := s.searchBackend(ctx, backend, query, max)
	if err != nil && backend != BackendDuckDuckGo {
		if fallback, ferr := s.searchBackend(ctx, BackendDuckDuckGo, query, max); ferr == nil {
			results, err, backend = fallback, nil, BackendDuckDuckGo
		}
	}
	if err != nil {
		return nil, backend, fmt.Errorf("search failed: %w", err)
	}

	s.putCache(key, searchCacheEntry{results: results, backend: backend})
	return results, backend, nil
}

func (s *Searcher) searchBackend(ctx context.Context, backend Backend, query string, max int) ([]Result, error) {
	switch backend {
	case BackendSearXNG:
		return s.searchSearXNG(ctx, query, max)
	case BackendDuckDuckGo:
		return s.searchDuckDuckGo(ctx, query, max)
	case BackendBrave:
		return s.searchBrave(ctx, query, max)
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func (s *Searcher) fromCache(key string) (searchCacheEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[key]
	if !ok || time.Now().After(entry.expires) {
		return searchCacheEntry{}, false
	}
	return entry, true
}

func (s *Searcher) putCache(key string, entry searchCacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, v := range s.cache {
		if now.After(v.expires) {
			delete(s.cache, k)
		}
	}
	for len(s.cache) >= maxCacheSize {
		var oldestKey string
		var oldest time.Time
		for k, v := range s.cache {
			if oldestKey == "" || v.expires.Before(oldest) {
				oldestKey, oldest = k, v.expires
			}
		}
		delete(s.cache, oldestKey)
	}

	entry.expires = now.Add(s.cfg.CacheTTL)
	s.cache[key] = entry
}

func (s *Searcher) searchSearXNG(ctx context.Context, query string, max int) ([]Result, error) {
	if s.cfg.SearXNGURL == "" {
		return nil, fmt.Errorf("searxng url not configured")
	}
	base, err := url.Parse(s.cfg.SearXNGURL)
	if err != nil {
		return nil, fmt.Errorf("invalid searxng url: %w", err)
	}
	base.Path = "/search"
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("categories", "general")
	base.RawQuery = params.Encode()

	body, err := s.getJSON(ctx, base.String(), nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse searxng response: %w", err)
	}

	results := make([]Result, 0, max)
	for _, r := range payload.Results {
		if len(results) == max {
			break
		}
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return results, nil
}

func (s *Searcher) searchDuckDuckGo(ctx context.Context, query string, max int) ([]Result, error) {
	endpoint := fmt.Sprintf("%s/?q=%s&format=json&no_html=1", s.duckDuckGoURL, url.QueryEscape(query))
	body, err := s.getJSON(ctx, endpoint, map[string]string{
		"User-Agent": "Mozilla/5.0 (compatible; AdzeBot/1.0)",
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse duckduckgo response: %w", err)
	}

	var results []Result
	if payload.AbstractText != "" && payload.AbstractURL != "" {
		results = append(results, Result{Title: payload.Heading, URL: payload.AbstractURL, Snippet: payload.AbstractText})
	}
	for _, topic := range payload.RelatedTopics {
		if len(results) == max {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, Result{Title: title, URL: topic.FirstURL, Snippet: topic.Text})
	}
	return results, nil
}

func (s *Searcher) searchBrave(ctx context.Context, query string, max int) ([]Result, error) {
	if s.cfg.BraveAPIKey == "" {
		return nil, fmt.Errorf("brave api key not configured")
	}
	endpoint := fmt.Sprintf("%s/web/search?q=%s&count=%d", s.braveURL, url.QueryEscape(query), max)
	body, err := s.getJSON(ctx, endpoint, map[string]string{
		"Accept":               "application/json",
		"X-Subscription-Token": s.cfg.BraveAPIKey,
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse brave response: %w", err)
	}

	results := make([]Result, 0, max)
	for _, r := range payload.Web.Results {
		if len(results) == max {
			break
		}
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return results, nil
}

func (s *Searcher) getJSON(ctx context.Context, endpoint string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
