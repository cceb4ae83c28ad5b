// Package search implements hybrid retrieval (C8): embed the query, then
// run the store's fused vector+lexical search (Search, SearchWeighted) or,
// through the separate VectorOnly method, a pure vector search. Search does
// not fall back to VectorOnly.
package search

import (
	"context"
	"fmt"

	"ragserv/internal/embedding"
	"ragserv/internal/persistence"
	"ragserv/internal/validation"
)

const (
	defaultTopK         = 10
	defaultVectorWeight = 0.7
	defaultKeywordWeight = 0.3
)

// Result mirrors persistence.SearchRow with the field names the query
// pipeline and prompt builder consume.
type Result struct {
	ChunkID         string
	DocumentID      string
	Content         string
	SimilarityScore float64
	Rank            int
}

type Searcher struct {
	store    persistence.SearchStore
	embedder *embedding.Embedder
}

func New(store persistence.SearchStore, embedder *embedding.Embedder) *Searcher {
	return &Searcher{store: store, embedder: embedder}
}

// Search runs hybrid_search with the default 0.7/0.3 vector/keyword weights.
// Results come back already sorted by fused score descending with 1-based
// rank, similarity_score clamped to [0,1].
func (s *Searcher) Search(ctx context.Context, query, userID string, topK int) ([]Result, error) {
	return s.SearchWeighted(ctx, query, userID, topK, defaultVectorWeight, defaultKeywordWeight)
}

// SearchWeighted runs hybrid_search with caller-supplied vector/keyword
// weights.
func (s *Searcher) SearchWeighted(ctx context.Context, query, userID string, topK int, wVec, wKw float64) ([]Result, error) {
	if err := validation.UserID(userID); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	qvec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	rows, err := s.store.HybridSearch(ctx, qvec, query, userID, topK, wVec, wKw)
	if err != nil {
		return nil, fmt.Errorf("search: hybrid search: %w", err)
	}
	return toResults(rows), nil
}

// VectorOnly ranks purely by cosine similarity (1 - cosine_distance),
// ordered ascending by distance and scoped to the user's own and global
// documents, ties broken by chunk_id ascending at the store layer.
func (s *Searcher) VectorOnly(ctx context.Context, query, userID string, topK int) ([]Result, error) {
	if err := validation.UserID(userID); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	qvec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	rows, err := s.store.VectorSearchOnly(ctx, qvec, userID, topK)
	if err != nil {
		return nil, fmt.Errorf("search: vector search: %w", err)
	}
	return toResults(rows), nil
}

func toResults(rows []persistence.SearchRow) []Result {
	out := make([]Result, len(rows))
	for i, r := range rows {
		out[i] = Result{
			ChunkID:         r.ChunkID,
			DocumentID:      r.DocumentID,
			Content:         r.Content,
			SimilarityScore: r.SimilarityScore,
			Rank:            r.Rank,
		}
	}
	return out
}
