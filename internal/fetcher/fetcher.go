// Package fetcher implements the URL→document adapters (C4): a single-page
// scraper, a same-domain crawler, a GitHub blob/repo adapter, and a headless
// browser adapter, all behind one fetch(url, hint) -> Document contract.
package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Hint nudges adapter selection when the caller already knows the nature of
// a URL; HintAuto inspects the URL itself.
type Hint string

const (
	HintAuto     Hint = ""
	HintWeb      Hint = "web"
	HintCrawl    Hint = "crawl"
	HintGitHub   Hint = "github"
	HintHeadless Hint = "headless"
)

// Document is the normalized result of fetching one URL.
type Document struct {
	Title    string
	Text     string
	FinalURL string
	Metadata map[string]string
}

// Page is one page gathered by the Crawler; the seed page, when reachable,
// is the first Page returned.
type Page struct {
	URL      string
	Title    string
	Text     string
	Depth    int
}

// Adapter fetches a single URL and returns its normalized content.
type Adapter interface {
	Fetch(ctx context.Context, rawURL string) (Document, error)
}

// Fetcher dispatches to the adapter selected by hint, or by inspecting the
// URL when hint is HintAuto.
type Fetcher struct {
	web      Adapter
	github   Adapter
	headless Adapter
	crawler  *Crawler
}

// New constructs a Fetcher. headless may be nil when no headless browser
// endpoint is configured; HintHeadless then falls back to web. crawler may
// be nil when Crawl is never called.
func New(web, github, headless Adapter, crawler *Crawler) *Fetcher {
	return &Fetcher{web: web, github: github, headless: headless, crawler: crawler}
}

// NewDefault wires the standard adapter set: a WebScraper, a GitHubAdapter,
// a Crawler built over that same WebScraper, and a HeadlessAdapter pointed
// at chromeAllocatorURL (empty for a local headless Chrome instance).
func NewDefault(chromeAllocatorURL string) *Fetcher {
	web := NewWebScraper()
	return New(web, NewGitHubAdapter(), NewHeadlessAdapter(chromeAllocatorURL), NewCrawler(web))
}

// Crawl runs a BFS crawl starting at seedURL using the Fetcher's configured
// Crawler.
func (f *Fetcher) Crawl(ctx context.Context, seedURL string, cfg CrawlConfig) ([]Page, error) {
	if f.crawler == nil {
		return nil, fmt.Errorf("fetcher: no crawler configured")
	}
	return f.crawler.Crawl(ctx, seedURL, cfg)
}

// Fetch resolves rawURL to the adapter implied by hint (or by the URL's
// shape, when hint is HintAuto) and fetches it.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, hint Hint) (Document, error) {
	switch resolveHint(rawURL, hint) {
	case HintGitHub:
		return f.github.Fetch(ctx, rawURL)
	case HintHeadless:
		if f.headless != nil {
			return f.headless.Fetch(ctx, rawURL)
		}
		return f.web.Fetch(ctx, rawURL)
	default:
		return f.web.Fetch(ctx, rawURL)
	}
}

func resolveHint(rawURL string, hint Hint) Hint {
	if hint != HintAuto {
		return hint
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return HintWeb
	}
	host := strings.ToLower(u.Hostname())
	if host == "github.com" || host == "raw.githubusercontent.com" {
		return HintGitHub
	}
	return HintWeb
}

// errUnsupportedScheme reports a URL whose scheme isn't http(s).
func errUnsupportedScheme(scheme string) error {
	return fmt.Errorf("fetcher: unsupported scheme %q", scheme)
}
