// Package qdrant adapts Qdrant as an alternate persistence.SearchStore,
// wired in via postgres.Store.WithVectorBackend when the document and chunk
// text still live in Postgres but similarity search should run against a
// dedicated vector database instead of the pgvector column.
package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"ragserv/internal/persistence"
)

const payloadOriginalID = "_chunk_id"

// Store indexes chunk vectors in a Qdrant collection and answers
// persistence.SearchStore queries against it. Chunk text and metadata stay
// the source of truth in Postgres; Store only needs enough payload to
// reconstruct a SearchRow and to scope results by owner.
type Store struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// New dials dsn (a Qdrant gRPC endpoint, e.g. "http://localhost:6334", with
// an optional "?api_key=" query parameter) and ensures collection exists
// with the given vector dimension, cosine distance.
func New(ctx context.Context, dsn, collection string, dimension int) (*Store, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	s := &Store{client: client, collection: collection, dimension: dimension}
	if err := s.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if s.dimension <= 0 {
		return fmt.Errorf("qdrant requires dimension > 0")
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (s *Store) Close() error {
	return s.client.Close()
}

func chunkPointID(chunkID string) *qdrant.PointId {
	if _, err := uuid.Parse(chunkID); err == nil {
		return qdrant.NewIDUUID(chunkID)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String())
}

// IndexChunk upserts one chunk's vector and the payload needed to answer
// search queries without going back to Postgres for every hit. The ingestion
// pipeline does not call it: chunks are written only through
// persistence.Store.InsertChunks, so the collection holds only points that
// some other caller indexed.
func (s *Store) IndexChunk(ctx context.Context, chunk persistence.DocumentChunk, userID string, isGlobal bool) error {
	payload := map[string]any{
		"document_id":     chunk.DocumentID,
		"content":         chunk.Content,
		"user_id":         userID,
		"is_global":       strconv.FormatBool(isGlobal),
		payloadOriginalID: chunk.ID,
	}
	vec := make([]float32, len(chunk.Embedding))
	copy(vec, chunk.Embedding)
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      chunkPointID(chunk.ID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	return err
}

// DeleteChunks removes the points for the given chunk IDs. The ingestion
// pipeline does not call it; deleting a document in Postgres leaves any
// points indexed for its chunks in place.
func (s *Store) DeleteChunks(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		ids = append(ids, chunkPointID(id))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(ids...),
	})
	return err
}

func ownerFilter(userID string) *qdrant.Filter {
	return &qdrant.Filter{
		Should: []*qdrant.Condition{
			qdrant.NewMatch("user_id", userID),
			qdrant.NewMatch("is_global", "true"),
		},
	}
}

func (s *Store) query(ctx context.Context, queryVec []float32, userID string, limit int) ([]persistence.SearchRow, error) {
	vec := make([]float32, len(queryVec))
	copy(vec, queryVec)
	l := uint64(limit)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &l,
		Filter:         ownerFilter(userID),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]persistence.SearchRow, 0, len(hits))
	for _, hit := range hits {
		row := persistence.SearchRow{SimilarityScore: clamp01(float64(hit.Score))}
		if hit.Payload != nil {
			if v, ok := hit.Payload["document_id"]; ok {
				row.DocumentID = v.GetStringValue()
			}
			if v, ok := hit.Payload["content"]; ok {
				row.Content = v.GetStringValue()
			}
			if v, ok := hit.Payload[payloadOriginalID]; ok {
				row.ChunkID = v.GetStringValue()
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// VectorSearchOnly ranks by cosine similarity alone, as reported by Qdrant.
func (s *Store) VectorSearchOnly(ctx context.Context, queryVec []float32, userID string, topK int) ([]persistence.SearchRow, error) {
	if topK <= 0 {
		topK = 10
	}
	rows, err := s.query(ctx, queryVec, userID, topK)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

// HybridSearch fuses Qdrant's vector score with a lexical overlap score
// computed client-side over the returned payload content, since Qdrant has
// no built-in text-ranking function comparable to Postgres's ts_rank. It
// over-fetches by 4x on the vector leg so the lexical pass has a wide enough
// candidate pool to re-rank within.
func (s *Store) HybridSearch(ctx context.Context, queryVec []float32, queryText, userID string, topK int, wVec, wKw float64) ([]persistence.SearchRow, error) {
	if topK <= 0 {
		topK = 10
	}
	candidates, err := s.query(ctx, queryVec, userID, topK*4)
	if err != nil {
		return nil, err
	}
	terms := tokenize(queryText)
	for i := range candidates {
		lex := lexicalOverlap(candidates[i].Content, terms)
		candidates[i].SimilarityScore = clamp01(wVec*candidates[i].SimilarityScore + wKw*lex)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].SimilarityScore > candidates[j].SimilarityScore
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
	return candidates, nil
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:()\"'")
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

func lexicalOverlap(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var _ persistence.SearchStore = (*Store)(nil)
