package web

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func countingProvider(t *testing.T, name string, hits *sync.Map) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		if target == "" {
			t.Error("missing url parameter")
		}
		key := name + "|" + target
		count, _ := hits.LoadOrStore(key, new(int32))
		atomic.AddInt32(count.(*int32), 1)
		fmt.Fprintf(w, "%s rendered by %s", target, name)
	}))
}

func TestCrawlFansOutWithPairDedup(t *testing.T) {
	var hits sync.Map
	alpha := countingProvider(t, "alpha", &hits)
	defer alpha.Close()
	beta := countingProvider(t, "beta", &hits)
	defer beta.Close()

	c := NewCrawler(CrawlConfig{Providers: []Provider{
		{Name: "alpha", BaseURL: alpha.URL},
		{Name: "beta", BaseURL: beta.URL},
	}})

	urls := []string{"https://a.test/page", "https://b.test/page", "https://a.test/page"}
	pages, err := c.Crawl(context.Background(), urls, "")
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("pages = %d, want 2 (duplicate url collapsed)", len(pages))
	}
	for _, p := range pages {
		if p.Provider != "alpha" {
			t.Errorf("page %s served by %s, want first provider", p.URL, p.Provider)
		}
	}

	hits.Range(func(key, value any) bool {
		if n := atomic.LoadInt32(value.(*int32)); n != 1 {
			t.Errorf("pair %v fetched %d times, want exactly once", key, n)
		}
		return true
	})
}

func TestCrawlToleratesPartialProviderFailure(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "recovered content")
	}))
	defer healthy.Close()

	c := NewCrawler(CrawlConfig{Providers: []Provider{
		{Name: "broken", BaseURL: broken.URL},
		{Name: "healthy", BaseURL: healthy.URL},
	}})

	pages, err := c.Crawl(context.Background(), []string{"https://a.test"}, "")
	if err != nil {
		t.Fatalf("Crawl should tolerate one failing provider: %v", err)
	}
	if len(pages) != 1 || pages[0].Provider != "healthy" {
		t.Fatalf("pages = %+v, want one page via healthy", pages)
	}
}

func TestCrawlFailsWhenEveryProviderFails(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	c := NewCrawler(CrawlConfig{Providers: []Provider{
		{Name: "a", BaseURL: broken.URL},
		{Name: "b", BaseURL: broken.URL},
	}})

	_, err := c.Crawl(context.Background(), []string{"https://a.test"}, "")
	if err == nil {
		t.Fatal("expected error when all providers fail")
	}
	if !strings.Contains(err.Error(), "all providers failed") {
		t.Errorf("err = %v", err)
	}
}

func TestCrawlRequiresProvidersAndURLs(t *testing.T) {
	if _, err := NewCrawler(CrawlConfig{}).Crawl(context.Background(), []string{"https://a.test"}, ""); err == nil {
		t.Error("expected error with no providers")
	}

	c := NewCrawler(CrawlConfig{Providers: []Provider{{Name: "a", BaseURL: "http://unused.test"}}})
	if _, err := c.Crawl(context.Background(), []string{" ", ""}, ""); err == nil {
		t.Error("expected error with no usable urls")
	}
}

func TestCrawlBoundsWorkerPool(t *testing.T) {
	var inflight, peak int32
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		fmt.Fprint(w, "ok")
	}))
	defer slow.Close()

	providers := make([]Provider, 6)
	for i := range providers {
		providers[i] = Provider{Name: fmt.Sprintf("p%d", i), BaseURL: slow.URL}
	}
	c := NewCrawler(CrawlConfig{Providers: providers})

	if _, err := c.Crawl(context.Background(), []string{"https://a.test", "https://b.test"}, ""); err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if got := atomic.LoadInt32(&peak); got > maxCrawlWorkers {
		t.Errorf("peak concurrency = %d, want <= %d", got, maxCrawlWorkers)
	}
}

func TestCrawlTruncatesLongPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 500))
	}))
	defer server.Close()

	c := NewCrawler(CrawlConfig{
		Providers:    []Provider{{Name: "a", BaseURL: server.URL}},
		MaxPageChars: 100,
	})
	pages, err := c.Crawl(context.Background(), []string{"https://a.test"}, "")
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if !strings.HasSuffix(pages[0].Content, "...") {
		t.Error("expected truncation marker")
	}
	if len(pages[0].Content) != 103 {
		t.Errorf("content length = %d, want 100 + marker", len(pages[0].Content))
	}
}

func TestCrawlForwardsQueryAndAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("query"); got != "docs" {
			t.Errorf("query = %q, want docs", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("auth = %q", got)
		}
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	c := NewCrawler(CrawlConfig{Providers: []Provider{{Name: "a", BaseURL: server.URL, APIKey: "secret"}}})
	if _, err := c.Crawl(context.Background(), []string{"https://a.test"}, "docs"); err != nil {
		t.Fatalf("Crawl: %v", err)
	}
}
