package web

import (
	"context"
	"fmt"
	"strings"

	"github.com/adze-dev/adze/internal/tools"
	"github.com/adze-dev/adze/pkg/models"
)

// Config bundles the web tool settings.
type Config struct {
	Search SearchConfig `json:"search" yaml:"search"`
	Crawl  CrawlConfig  `json:"crawl" yaml:"crawl"`
}

// Service resolves the web tool calls.
type Service struct {
	searcher *Searcher
	crawler  *Crawler
}

// New creates the web service.
func New(cfg Config) *Service {
	return &Service{
		searcher: NewSearcher(cfg.Search),
		crawler:  NewCrawler(cfg.Crawl),
	}
}

// Register binds the web tools.
func (s *Service) Register(reg *tools.Registry) {
	reg.BindFunc("web_search", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.webSearch(ctx, call.(*models.WebSearch))
	})
	reg.BindFunc("web_crawl", func(ctx context.Context, call models.ToolCall) (*models.ToolResult, error) {
		return s.webCrawl(ctx, call.(*models.WebCrawl))
	})
}

func (s *Service) webSearch(ctx context.Context, call *models.WebSearch) (*models.ToolResult, error) {
	query := strings.TrimSpace(call.Query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	results, backend, err := s.searcher.Search(ctx, query, call.MaxResults)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &models.ToolResult{Content: fmt.Sprintf("no results for %q (backend %s)", query, backend)}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d result(s) for %q via %s:\n", len(results), query, backend)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return &models.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}

func (s *Service) webCrawl(ctx context.Context, call *models.WebCrawl) (*models.ToolResult, error) {
	pages, err := s.crawler.Crawl(ctx, call.URLs, call.Query)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "crawled %d of %d page(s):\n", len(pages), len(call.URLs))
	for _, p := range pages {
		fmt.Fprintf(&b, "\n## %s (via %s)\n%s\n", p.URL, p.Provider, p.Content)
	}
	return &models.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}
