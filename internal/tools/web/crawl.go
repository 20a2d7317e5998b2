package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// maxCrawlWorkers caps the crawl fan-out pool.
const maxCrawlWorkers = 4

// Provider is one crawl API: a reader endpoint that renders a page to text.
type Provider struct {
	Name    string `json:"name" yaml:"name"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	APIKey  string `json:"api_key,omitempty" yaml:"api_key"`
}

// CrawlConfig holds the crawl providers and page limits.
type CrawlConfig struct {
	Providers    []Provider `json:"providers" yaml:"providers"`
	MaxPageChars int        `json:"max_page_chars,omitempty" yaml:"max_page_chars"`
}

// Page is one successfully crawled page.
type Page struct {
	URL      string
	Provider string
	Content  string
}

// Crawler fans page fetches out across every configured provider on a bounded
// worker pool and keeps one page per URL from the fan-in.
type Crawler struct {
	cfg    CrawlConfig
	client *http.Client
}

// NewCrawler creates a crawler with defaults applied.
func NewCrawler(cfg CrawlConfig) *Crawler {
	if cfg.MaxPageChars <= 0 {
		cfg.MaxPageChars = 20000
	}
	return &Crawler{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type crawlJob struct {
	url         string
	providerIdx int
}

type crawlResult struct {
	crawlJob
	content string
	err     error
}

// Crawl fetches every URL through every provider. Each (url, provider) pair is
// attempted at most once; per URL the first provider (in configuration order)
// that succeeds wins. Provider failures are tolerated while at least one page
// comes back; only a total miss is an error.
func (c *Crawler) Crawl(ctx context.Context, urls []string, query string) ([]Page, error) {
	if len(c.cfg.Providers) == 0 {
		return nil, fmt.Errorf("no crawl providers configured")
	}

	var unique []string
	seen := map[string]bool{}
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		unique = append(unique, u)
	}
	if len(unique) == 0 {
		return nil, fmt.Errorf("no urls to crawl")
	}

	jobs := make(chan crawlJob)
	results := make(chan crawlResult, len(unique)*len(c.cfg.Providers))

	workers := len(c.cfg.Providers)
	if workers > maxCrawlWorkers {
		workers = maxCrawlWorkers
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				content, err := c.fetch(ctx, c.cfg.Providers[job.providerIdx], job.url, query)
				results <- crawlResult{crawlJob: job, content: content, err: err}
			}
		}()
	}

	dispatched := map[crawlJob]bool{}
	go func() {
		defer close(jobs)
		for _, u := range unique {
			for idx := range c.cfg.Providers {
				job := crawlJob{url: u, providerIdx: idx}
				if dispatched[job] {
					continue
				}
				dispatched[job] = true
				select {
				case jobs <- job:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	best := map[string]crawlResult{}
	var failures []string
	for res := range results {
		if res.err != nil {
			failures = append(failures, fmt.Sprintf("%s via %s: %v", res.url, c.cfg.Providers[res.providerIdx].Name, res.err))
			continue
		}
		if prev, ok := best[res.url]; !ok || res.providerIdx < prev.providerIdx {
			best[res.url] = res
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(best) == 0 {
		return nil, fmt.Errorf("all providers failed: %s", strings.Join(failures, "; "))
	}

	pages := make([]Page, 0, len(unique))
	for _, u := range unique {
		res, ok := best[u]
		if !ok {
			continue
		}
		pages = append(pages, Page{
			URL:      u,
			Provider: c.cfg.Providers[res.providerIdx].Name,
			Content:  res.content,
		})
	}
	return pages, nil
}

func (c *Crawler) fetch(ctx context.Context, provider Provider, target, query string) (string, error) {
	endpoint, err := url.Parse(provider.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid provider url: %w", err)
	}
	params := endpoint.Query()
	params.Set("url", target)
	if query != "" {
		params.Set("query", query)
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if provider.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.cfg.MaxPageChars)+1))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	content := strings.TrimSpace(string(body))
	if len(content) > c.cfg.MaxPageChars {
		content = content[:c.cfg.MaxPageChars] + "..."
	}
	if content == "" {
		return "", fmt.Errorf("provider returned empty page")
	}
	return content, nil
}
