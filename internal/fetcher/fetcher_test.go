package fetcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	name string
	doc  Document
	err  error
}

func (s *stubAdapter) Fetch(context.Context, string) (Document, error) {
	return s.doc, s.err
}

func TestResolveHintAutoDetectsGitHub(t *testing.T) {
	assert.Equal(t, HintGitHub, resolveHint("https://github.com/acme/widgets", HintAuto))
	assert.Equal(t, HintGitHub, resolveHint("https://raw.githubusercontent.com/acme/widgets/main/x", HintAuto))
	assert.Equal(t, HintWeb, resolveHint("https://example.com/page", HintAuto))
}

func TestResolveHintExplicitWins(t *testing.T) {
	assert.Equal(t, HintHeadless, resolveHint("https://github.com/acme/widgets", HintHeadless))
}

func TestFetcherDispatchesToGitHubAdapter(t *testing.T) {
	web := &stubAdapter{doc: Document{Title: "web"}}
	gh := &stubAdapter{doc: Document{Title: "github"}}
	f := New(web, gh, nil, nil)

	doc, err := f.Fetch(context.Background(), "https://github.com/acme/widgets", HintAuto)
	require.NoError(t, err)
	assert.Equal(t, "github", doc.Title)
}

func TestFetcherFallsBackToWebWhenHeadlessUnset(t *testing.T) {
	web := &stubAdapter{doc: Document{Title: "web"}}
	f := New(web, &stubAdapter{}, nil, nil)

	doc, err := f.Fetch(context.Background(), "https://example.com", HintHeadless)
	require.NoError(t, err)
	assert.Equal(t, "web", doc.Title)
}

func TestFetcherCrawlRequiresConfiguredCrawler(t *testing.T) {
	f := New(&stubAdapter{}, &stubAdapter{}, nil, nil)
	_, err := f.Crawl(context.Background(), "https://example.com", CrawlConfig{})
	assert.Error(t, err)
}
