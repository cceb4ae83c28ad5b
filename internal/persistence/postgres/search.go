package postgres

import (
	"context"

	"ragserv/internal/persistence"
)

// HybridSearch invokes the hybrid_search SQL function installed by
// persistence.Migrate, unless an alternate vector backend has been wired in
// via WithVectorBackend, in which case the call is delegated to it.
func (s *Store) HybridSearch(ctx context.Context, queryVec []float32, queryText, userID string, topK int, wVec, wKw float64) ([]persistence.SearchRow, error) {
	if s.vector != nil {
		return s.vector.HybridSearch(ctx, queryVec, queryText, userID, topK, wVec, wKw)
	}
	ctx = mustCtx(ctx)
	if topK <= 0 {
		topK = 10
	}
	rows, err := s.pool.Query(ctx, `
SELECT chunk_id, document_id, content, similarity_score, rank
FROM hybrid_search($1::vector, $2, $3, $4, $5, $6)`,
		toVectorLiteral(queryVec), queryText, userID, topK, wVec, wKw)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []persistence.SearchRow
	for rows.Next() {
		var r persistence.SearchRow
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Content, &r.SimilarityScore, &r.Rank); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// VectorSearchOnly ranks by cosine similarity alone, ties broken by chunk_id
// ascending, scoped to the user's own and global documents.
func (s *Store) VectorSearchOnly(ctx context.Context, queryVec []float32, userID string, topK int) ([]persistence.SearchRow, error) {
	if s.vector != nil {
		return s.vector.VectorSearchOnly(ctx, queryVec, userID, topK)
	}
	ctx = mustCtx(ctx)
	if topK <= 0 {
		topK = 10
	}
	rows, err := s.pool.Query(ctx, `
SELECT c.id, c.document_id, c.content, GREATEST(0, LEAST(1, 1 - (c.embedding <=> $1::vector))) AS score
FROM document_chunks c
JOIN documents d ON d.id = c.document_id
WHERE (d.user_id = $2 OR d.is_global) AND c.embedding IS NOT NULL
ORDER BY c.embedding <=> $1::vector ASC, c.id ASC
LIMIT $3`, toVectorLiteral(queryVec), userID, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []persistence.SearchRow
	rank := 1
	for rows.Next() {
		var r persistence.SearchRow
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Content, &r.SimilarityScore); err != nil {
			return nil, err
		}
		r.Rank = rank
		rank++
		out = append(out, r)
	}
	return out, rows.Err()
}
