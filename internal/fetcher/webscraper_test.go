package fetcher

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebScraperExtractsMainContentAndStripsBoilerplate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Doc Title</title></head>
<body>
<nav>site nav</nav>
<header>site header</header>
<main><article><h2>Heading</h2><p>The main article body text.</p></article></main>
<script>console.log("noise")</script>
<footer>site footer</footer>
</body></html>`))
	}))
	defer srv.Close()

	s := NewWebScraper()
	doc, err := s.Fetch(t.Context(), srv.URL)
	require.NoError(t, err)

	assert.Contains(t, doc.Text, "main article body text")
	assert.NotContains(t, doc.Text, "site nav")
	assert.NotContains(t, doc.Text, "site footer")
	assert.NotContains(t, doc.Text, "console.log")
	assert.Equal(t, srv.URL, doc.FinalURL)
}

func TestWebScraperTitleFallsBackToH1(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><h1>Fallback Heading</h1><main><p>content here that is long enough to extract as an article body for readability to accept it as real text.</p></main></body></html>`))
	}))
	defer srv.Close()

	s := NewWebScraper()
	doc, err := s.Fetch(t.Context(), srv.URL)
	require.NoError(t, err)
	assert.NotEmpty(t, doc.Title)
}

func TestWebScraperRejectsNonHTTPScheme(t *testing.T) {
	s := NewWebScraper()
	_, err := s.Fetch(t.Context(), "file:///etc/passwd")
	require.Error(t, err)
}

func TestWebScraperPropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewWebScraper()
	_, err := s.Fetch(t.Context(), srv.URL)
	require.Error(t, err)
}
