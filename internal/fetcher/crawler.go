package fetcher

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// binaryExtensions are skipped during link discovery; the crawler only
// follows links likely to resolve to HTML or plain text.
var binaryExtensions = map[string]bool{
	".pdf": true, ".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".zip": true, ".mp4": true, ".mp3": true, ".css": true, ".js": true,
	".woff": true, ".woff2": true, ".svg": true, ".ico": true,
}

// CrawlConfig bounds one BFS crawl.
type CrawlConfig struct {
	MaxPages       int
	MaxDepth       int
	Delay          time.Duration
	SameDomainOnly bool
	PreloadSitemap bool
}

func (c CrawlConfig) withDefaults() CrawlConfig {
	if c.MaxPages <= 0 {
		c.MaxPages = 50
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 2
	}
	if c.Delay <= 0 {
		c.Delay = 500 * time.Millisecond
	}
	return c
}

type queuedURL struct {
	url   string
	depth int
}

// Crawler performs a breadth-first crawl from a seed URL, fetching each page
// through a WebScraper and discovering further links from the rendered DOM.
type Crawler struct {
	scraper *WebScraper
	client  *http.Client
}

// NewCrawler constructs a Crawler over the given WebScraper (reused for
// rate-limiting and retry policy).
func NewCrawler(scraper *WebScraper) *Crawler {
	return &Crawler{scraper: scraper, client: &http.Client{Timeout: webScraperTimeout}}
}

// Crawl runs a BFS starting at seedURL and returns one Page per fetched URL,
// in discovery order. The seed page is always first when reachable.
func (c *Crawler) Crawl(ctx context.Context, seedURL string, cfg CrawlConfig) ([]Page, error) {
	cfg = cfg.withDefaults()
	seed, err := url.Parse(seedURL)
	if err != nil {
		return nil, fmt.Errorf("fetcher: invalid seed url: %w", err)
	}

	queue := []queuedURL{{url: seedURL, depth: 0}}
	if cfg.PreloadSitemap {
		queue = append(queue, c.sitemapURLs(ctx, seed)...)
	}

	visited := make(map[string]bool)
	discovered := make(map[string]bool)
	discovered[seedURL] = true

	var pages []Page
	for len(queue) > 0 && len(pages) < cfg.MaxPages {
		next := queue[0]
		queue = queue[1:]

		if visited[next.url] || next.depth > cfg.MaxDepth {
			continue
		}
		visited[next.url] = true

		doc, rawHTML, ferr := c.fetchWithLinks(ctx, next.url)
		if ferr != nil {
			continue
		}
		pages = append(pages, Page{URL: next.url, Title: doc.Title, Text: doc.Text, Depth: next.depth})

		if next.depth < cfg.MaxDepth {
			for _, link := range discoverLinks(rawHTML, next.url) {
				if cfg.SameDomainOnly && !sameDomain(seed, link) {
					continue
				}
				if discovered[link] {
					continue
				}
				discovered[link] = true
				queue = append(queue, queuedURL{url: link, depth: next.depth + 1})
			}
		}

		select {
		case <-ctx.Done():
			return pages, ctx.Err()
		case <-time.After(cfg.Delay):
		}
	}
	return pages, nil
}

func (c *Crawler) fetchWithLinks(ctx context.Context, rawURL string) (Document, string, error) {
	doc, err := c.scraper.Fetch(ctx, rawURL)
	if err != nil {
		return Document{}, "", err
	}
	// Re-fetch the raw body once more for link discovery; the scraper only
	// returns normalized text. This mirrors the reference crawler's
	// separation between content extraction and link discovery.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return doc, "", nil
	}
	req.Header.Set("User-Agent", webScraperUserAgent)
	resp, err := c.client.Do(req)
	if err != nil {
		return doc, "", nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, webScraperMaxBytes))
	return doc, string(body), nil
}

func discoverLinks(rawHTML, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				if link := resolveLink(base, a.Val); link != "" {
					links = append(links, link)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return links
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	for _, prefix := range []string{"mailto:", "tel:", "javascript:"} {
		if strings.HasPrefix(href, prefix) {
			return ""
		}
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	if binaryExtensions[strings.ToLower(pathExt(resolved.Path))] {
		return ""
	}
	return resolved.String()
}

func pathExt(p string) string {
	if i := strings.LastIndexByte(p, '.'); i >= 0 {
		return p[i:]
	}
	return ""
}

func sameDomain(seed *url.URL, link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), seed.Hostname())
}

// sitemapURLs fetches /sitemap.xml and /sitemap_index.xml under seed's
// origin and returns any <loc> entries found, at depth 0.
func (c *Crawler) sitemapURLs(ctx context.Context, seed *url.URL) []queuedURL {
	var out []queuedURL
	for _, path := range []string{"/sitemap.xml", "/sitemap_index.xml"} {
		sitemapURL := seed.Scheme + "://" + seed.Host + path
		locs, err := c.fetchSitemap(ctx, sitemapURL)
		if err != nil {
			continue
		}
		for _, loc := range locs {
			out = append(out, queuedURL{url: loc, depth: 0})
		}
	}
	return out
}

// sitemapXML models the subset of the sitemaps.org 0.9 schema this crawler
// needs: a flat list of <url><loc> entries (sitemap index files use the same
// <loc> element under <sitemap> and parse identically for our purposes).
type sitemapXML struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

func (c *Crawler) fetchSitemap(ctx context.Context, sitemapURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetcher: sitemap %s returned %d", sitemapURL, resp.StatusCode)
	}
	var parsed sitemapXML
	if err := xml.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	var locs []string
	for _, u := range parsed.URLs {
		if u.Loc != "" {
			locs = append(locs, u.Loc)
		}
	}
	for _, s := range parsed.Sitemaps {
		if s.Loc != "" {
			locs = append(locs, s.Loc)
		}
	}
	return locs, nil
}
