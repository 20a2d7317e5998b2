package web

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/adze-dev/adze/internal/tools"
	"github.com/adze-dev/adze/pkg/models"
)

func TestWebSearchResolver(t *testing.T) {
	server := httptest.NewServer(searxngHandler(t, []map[string]string{
		{"title": "Go docs", "url": "https://go.dev/doc", "content": "official documentation"},
	}))
	defer server.Close()

	svc := New(Config{Search: SearchConfig{SearXNGURL: server.URL}})
	reg := tools.NewRegistry()
	svc.Register(reg)

	resolver, ok := reg.Lookup(&models.WebSearch{})
	if !ok {
		t.Fatal("web_search not bound")
	}
	res, err := resolver.Resolve(context.Background(), &models.WebSearch{Query: "go docs"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(res.Content, "Go docs") || !strings.Contains(res.Content, "https://go.dev/doc") {
		t.Errorf("content = %q", res.Content)
	}
	if !strings.Contains(res.Content, "via searxng") {
		t.Errorf("content = %q, want backend note", res.Content)
	}
}

func TestWebSearchResolverRequiresQuery(t *testing.T) {
	svc := New(Config{})
	if _, err := svc.webSearch(context.Background(), &models.WebSearch{Query: "  "}); err == nil {
		t.Fatal("expected error for blank query")
	}
}

func TestWebCrawlResolver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "content of %s", r.URL.Query().Get("url"))
	}))
	defer server.Close()

	svc := New(Config{Crawl: CrawlConfig{Providers: []Provider{{Name: "reader", BaseURL: server.URL}}}})
	reg := tools.NewRegistry()
	svc.Register(reg)

	resolver, ok := reg.Lookup(&models.WebCrawl{})
	if !ok {
		t.Fatal("web_crawl not bound")
	}
	res, err := resolver.Resolve(context.Background(), &models.WebCrawl{URLs: []string{"https://a.test", "https://b.test"}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(res.Content, "crawled 2 of 2 page(s)") {
		t.Errorf("content = %q", res.Content)
	}
	if !strings.Contains(res.Content, "## https://a.test (via reader)") {
		t.Errorf("content = %q, want per-page header", res.Content)
	}
}
