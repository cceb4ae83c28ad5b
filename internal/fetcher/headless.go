package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	headlessTimeout       = 45 * time.Second
	headlessMaxScrolls    = 10
	headlessScrollPause   = 300 * time.Millisecond
	headlessNetworkIdleFor = 500 * time.Millisecond
)

// autoScrollScript scrolls the page down by one viewport height and reports
// the document scroll height; autoScroll repeats it with a pause between
// calls.
const autoScrollScript = `
(() => {
  window.scrollTo(0, window.scrollY + window.innerHeight);
  return document.body.scrollHeight;
})()`

// HeadlessAdapter renders a page in a real browser via chromedp, for sites
// whose content only appears after JavaScript execution.
type HeadlessAdapter struct {
	allocatorURL string // remote Chrome DevTools endpoint; "" uses a local headless instance
}

// NewHeadlessAdapter constructs a HeadlessAdapter. allocatorURL may be empty
// to launch a local headless Chrome instance instead of dialing a remote one.
func NewHeadlessAdapter(allocatorURL string) *HeadlessAdapter {
	return &HeadlessAdapter{allocatorURL: allocatorURL}
}

// Fetch implements Adapter. It navigates to rawURL, pauses for a fixed
// headlessNetworkIdleFor interval (network activity itself is not watched),
// auto-scrolls until the page stops growing (or ten viewports have
// been scrolled), and extracts the main article content from the resulting
// DOM the same way the WebScraper does.
func (h *HeadlessAdapter) Fetch(ctx context.Context, rawURL string) (Document, error) {
	allocCtx, cancelAlloc := h.newAllocator(ctx)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, headlessTimeout)
	defer cancelTimeout()

	var renderedHTML string
	var visibleText string

	tasks := chromedp.Tasks{
		chromedp.Navigate(rawURL),
		chromedp.Sleep(headlessNetworkIdleFor),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return autoScroll(ctx)
		}),
		chromedp.OuterHTML("html", &renderedHTML),
		chromedp.Text("body", &visibleText, chromedp.NodeVisible),
	}
	if err := chromedp.Run(browserCtx, tasks); err != nil {
		return Document{}, fmt.Errorf("fetcher: headless render of %s: %w", rawURL, err)
	}

	title, markdown, _, err := extractArticle(renderedHTML, rawURL)
	if err != nil || markdown == "" {
		markdown = visibleText
	}

	return Document{
		Title:    title,
		Text:     markdown,
		FinalURL: rawURL,
		Metadata: map[string]string{"rendered": "true"},
	}, nil
}

func (h *HeadlessAdapter) newAllocator(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.allocatorURL != "" {
		return chromedp.NewRemoteAllocator(ctx, h.allocatorURL)
	}
	return chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
}

// autoScroll scrolls in viewport increments until the document stops
// growing or headlessMaxScrolls is reached.
func autoScroll(ctx context.Context) error {
	var lastHeight int64
	for i := 0; i < headlessMaxScrolls; i++ {
		var height int64
		if err := chromedp.Evaluate(autoScrollScript, &height).Do(ctx); err != nil {
			return err
		}
		if height == lastHeight {
			return nil
		}
		lastHeight = height
		if err := chromedp.Sleep(headlessScrollPause).Do(ctx); err != nil {
			return err
		}
	}
	return nil
}
