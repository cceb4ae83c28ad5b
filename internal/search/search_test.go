package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragserv/internal/config"
	"ragserv/internal/embedding"
	"ragserv/internal/persistence"
)

type stubStore struct {
	hybridCalls int
	vectorCalls int
	lastWVec    float64
	lastWKw     float64
	rows        []persistence.SearchRow
}

func (s *stubStore) HybridSearch(_ context.Context, _ []float32, _, _ string, _ int, wVec, wKw float64) ([]persistence.SearchRow, error) {
	s.hybridCalls++
	s.lastWVec, s.lastWKw = wVec, wKw
	return s.rows, nil
}

func (s *stubStore) VectorSearchOnly(context.Context, []float32, string, int) ([]persistence.SearchRow, error) {
	s.vectorCalls++
	return s.rows, nil
}

func newTestSearcher(t *testing.T, store persistence.SearchStore) *Searcher {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{0.1, 0.2, 0.3}}}})
	}))
	t.Cleanup(srv.Close)
	emb := embedding.New(config.EmbeddingConfig{BaseURL: srv.URL, Path: "/embed", Dimension: 3})
	return New(store, emb)
}

func TestSearchUsesDefaultWeights(t *testing.T) {
	store := &stubStore{rows: []persistence.SearchRow{{ChunkID: "c1", SimilarityScore: 0.9, Rank: 1}}}
	s := newTestSearcher(t, store)

	results, err := s.Search(context.Background(), "hello", "user-1", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, store.hybridCalls)
	assert.InDelta(t, 0.7, store.lastWVec, 0.001)
	assert.InDelta(t, 0.3, store.lastWKw, 0.001)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
}

func TestSearchRejectsInvalidUserID(t *testing.T) {
	store := &stubStore{}
	s := newTestSearcher(t, store)

	_, err := s.Search(context.Background(), "hello", "", 5)
	require.Error(t, err)
	assert.Equal(t, 0, store.hybridCalls)
}

func TestVectorOnlyDelegatesToVectorSearch(t *testing.T) {
	store := &stubStore{rows: []persistence.SearchRow{{ChunkID: "c2", SimilarityScore: 0.5, Rank: 1}}}
	s := newTestSearcher(t, store)

	results, err := s.VectorOnly(context.Background(), "hello", "user-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, store.vectorCalls)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].ChunkID)
}
