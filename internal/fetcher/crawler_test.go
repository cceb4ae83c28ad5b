package fetcher

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

// pageGraph serves a tiny three-page site: / links to /a and /b, /a links
// back to / and to an external-looking absolute URL that should be dropped
// by same-domain filtering, /b is a dead end.
func pageGraph(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><main><p>home page content long enough for extraction to work well here.</p></main><a href="/a">a</a><a href="/b">b</a></body></html>`)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><main><p>page a content long enough for extraction to work well here too.</p></main><a href="/">home</a><a href="https://example.com/elsewhere">external</a></body></html>`)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><main><p>page b content long enough for extraction to work well here also.</p></main></body></html>`)
	})
	return httptest.NewServer(mux)
}

func TestCrawlerDiscoversSameDomainPages(t *testing.T) {
	srv := pageGraph(t)
	defer srv.Close()

	scraper := NewWebScraper()
	scraper.limiter.SetLimit(rate.Limit(1000)) // unbounded for the test
	c := NewCrawler(scraper)

	pages, err := c.Crawl(t.Context(), srv.URL+"/", CrawlConfig{
		MaxPages:       10,
		MaxDepth:       2,
		Delay:          time.Millisecond,
		SameDomainOnly: true,
	})
	require.NoError(t, err)

	var urls []string
	for _, p := range pages {
		urls = append(urls, p.URL)
	}
	assert.Contains(t, urls, srv.URL+"/")
	assert.Contains(t, urls, srv.URL+"/a")
	assert.Contains(t, urls, srv.URL+"/b")
	for _, u := range urls {
		assert.NotContains(t, u, "example.com")
	}
}

func TestCrawlerRespectsMaxPages(t *testing.T) {
	srv := pageGraph(t)
	defer srv.Close()

	scraper := NewWebScraper()
	scraper.limiter.SetLimit(rate.Limit(1000))
	c := NewCrawler(scraper)

	pages, err := c.Crawl(t.Context(), srv.URL+"/", CrawlConfig{
		MaxPages:       1,
		MaxDepth:       2,
		Delay:          time.Millisecond,
		SameDomainOnly: true,
	})
	require.NoError(t, err)
	assert.Len(t, pages, 1)
}

func TestResolveLinkDropsNonHTTPAndBinaryTargets(t *testing.T) {
	base := mustParseURL(t, "https://docs.example.com/guide/")
	assert.Equal(t, "", resolveLink(base, "mailto:someone@example.com"))
	assert.Equal(t, "", resolveLink(base, "javascript:void(0)"))
	assert.Equal(t, "", resolveLink(base, "/assets/logo.png"))
	assert.Equal(t, "https://docs.example.com/guide/next", resolveLink(base, "next"))
}
