package fetcher

import (
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"
)

// extractArticle runs readability over the raw HTML document and converts
// the extracted article (or, failing that, the whole document) to Markdown
// with links resolved against finalURL's origin. This is the shared
// content-extraction step used by the WebScraper, the GitHub adapter, and
// the headless adapter.
func extractArticle(html, finalURL string) (title, markdown string, usedReadable bool, err error) {
	base, _ := url.Parse(finalURL)
	articleHTML := html

	if base != nil {
		if art, rerr := readability.FromReader(strings.NewReader(html), base); rerr == nil && strings.TrimSpace(art.Content) != "" {
			articleHTML = art.Content
			title = strings.TrimSpace(art.Title)
			usedReadable = true
		}
	}

	md, mdErr := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(origin(finalURL)))
	if mdErr != nil {
		return "", "", false, mdErr
	}
	markdown = strings.TrimSpace(md)
	if title != "" && !strings.HasPrefix(strings.TrimLeft(markdown, "\n"), "# ") {
		markdown = "# " + title + "\n\n" + markdown
	}
	return title, markdown, usedReadable, nil
}

func origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
