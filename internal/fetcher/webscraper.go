package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"ragserv/internal/retry"
)

const (
	webScraperTimeout    = 30 * time.Second
	webScraperRatePerSec = 1
	webScraperMaxBytes   = 8 << 20
	webScraperUserAgent  = "ragserv-fetcher/1.0 (+https://ragserv.internal)"
)

// unwantedTags are stripped wherever they appear before content is scored
// or converted, mirroring the reference scraper's content-pruning pass.
var unwantedTags = map[string]bool{
	"script": true, "style": true, "nav": true, "footer": true, "header": true,
}

// contentSelectors names elements preferred as the main-content root, tried
// in order; the first match wins.
type selector struct {
	tag, attr, want string
}

var contentSelectors = []selector{
	{tag: "main"},
	{tag: "article"},
	{attr: "role", want: "main"},
	{attr: "class", want: "content"},
	{attr: "id", want: "content"},
}

// WebScraper fetches a single page with a shared, rate-limited HTTP client.
type WebScraper struct {
	client  *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
}

// NewWebScraper constructs a WebScraper that never issues more than one
// request per second across all callers (a rolling limit, not per-host).
func NewWebScraper() *WebScraper {
	return &WebScraper{
		client:  &http.Client{Timeout: webScraperTimeout},
		limiter: rate.NewLimiter(rate.Limit(webScraperRatePerSec), 1),
		policy:  retry.Policy{MaxAttempts: 3},
	}
}

// Fetch implements Adapter.
func (s *WebScraper) Fetch(ctx context.Context, rawURL string) (Document, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Document{}, err
	}

	var doc Document
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		d, ferr := s.fetchOnce(ctx, rawURL)
		if ferr != nil {
			return ferr
		}
		doc = d
		return nil
	})
	return doc, err
}

func (s *WebScraper) fetchOnce(ctx context.Context, rawURL string) (Document, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Document{}, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Document{}, errUnsupportedScheme(parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Document{}, err
	}
	req.Header.Set("User-Agent", webScraperUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return Document{}, err
	}
	defer resp.Body.Close()

	finalURL := resp.Request.URL.String()
	if resp.StatusCode >= 400 {
		return Document{}, fmt.Errorf("fetcher: %s returned status %d", finalURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, webScraperMaxBytes+1))
	if err != nil {
		return Document{}, fmt.Errorf("fetcher: read body: %w", err)
	}
	if len(body) > webScraperMaxBytes {
		return Document{}, fmt.Errorf("fetcher: %s exceeds max bytes", finalURL)
	}

	rawHTML := string(body)
	title, text, usedReadable, err := extractArticle(rawHTML, finalURL)
	if err != nil || strings.TrimSpace(text) == "" {
		title, text = scrapeManually(rawHTML)
		usedReadable = false
	}
	if title == "" {
		title = scrapeTitle(rawHTML)
	}

	return Document{
		Title:    title,
		Text:     text,
		FinalURL: finalURL,
		Metadata: map[string]string{
			"content_type":  resp.Header.Get("Content-Type"),
			"status":        fmt.Sprintf("%d", resp.StatusCode),
			"used_readable": fmt.Sprintf("%t", usedReadable),
		},
	}, nil
}

// scrapeManually parses rawHTML, strips non-content tags, locates the
// preferred content root by contentSelectors (falling back to <body>), and
// converts it to Markdown. Used when readability yields nothing usable.
func scrapeManually(rawHTML string) (title, markdown string) {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", ""
	}
	stripUnwanted(root)
	title = findTitle(root)
	content := findContentNode(root)
	if content == nil {
		content = findNodeByTag(root, "body")
	}
	if content == nil {
		return title, ""
	}
	md, err := htmlNodeToMarkdown(content)
	if err != nil {
		return title, ""
	}
	return title, md
}

func scrapeTitle(rawHTML string) string {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	return findTitle(root)
}

// findTitle tries <title>, then the first <h1>, then an og:title meta tag.
func findTitle(n *html.Node) string {
	if t := textOfTag(n, "title"); t != "" {
		return t
	}
	if t := textOfTag(n, "h1"); t != "" {
		return t
	}
	return metaContent(n, "og:title")
}

func textOfTag(n *html.Node, tag string) string {
	node := findNodeByTag(n, tag)
	if node == nil || node.FirstChild == nil {
		return ""
	}
	return strings.TrimSpace(node.FirstChild.Data)
}

func metaContent(n *html.Node, property string) string {
	var found string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "meta" {
			var prop, content string
			for _, a := range n.Attr {
				switch a.Key {
				case "property", "name":
					prop = a.Val
				case "content":
					content = a.Val
				}
			}
			if prop == property {
				found = strings.TrimSpace(content)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return found
}

func findNodeByTag(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNodeByTag(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findContentNode(n *html.Node) *html.Node {
	for _, sel := range contentSelectors {
		if node := findBySelector(n, sel); node != nil {
			return node
		}
	}
	return nil
}

func findBySelector(n *html.Node, sel selector) *html.Node {
	if n.Type == html.ElementNode {
		if sel.tag != "" && n.Data == sel.tag {
			return n
		}
		if sel.attr != "" {
			for _, a := range n.Attr {
				if a.Key == sel.attr && strings.Contains(a.Val, sel.want) {
					return n
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findBySelector(c, sel); found != nil {
			return found
		}
	}
	return nil
}

func stripUnwanted(n *html.Node) {
	if n == nil {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && unwantedTags[c.Data] {
			n.RemoveChild(c)
		} else {
			stripUnwanted(c)
		}
		c = next
	}
}

func htmlNodeToMarkdown(n *html.Node) (string, error) {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return "", err
	}
	md, err := htmltomarkdown.ConvertString(b.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md), nil
}
