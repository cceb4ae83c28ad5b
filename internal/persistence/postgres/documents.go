package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"ragserv/internal/persistence"
)

func (s *Store) CreateDocument(ctx context.Context, d persistence.Document) (persistence.Document, error) {
	ctx = mustCtx(ctx)
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	md, err := json.Marshal(d.Metadata)
	if err != nil {
		return persistence.Document{}, err
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO documents (id, user_id, title, content, type, source_url, metadata, is_global)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, user_id, title, content, type, source_url, metadata, is_global, created_at, updated_at`,
		d.ID, d.UserID, d.Title, d.Content, string(d.Type), d.SourceURL, jsonOrEmpty(md), d.IsGlobal)
	return scanDocument(row)
}

func (s *Store) GetDocument(ctx context.Context, userID, id string) (persistence.Document, error) {
	ctx = mustCtx(ctx)
	row := s.pool.QueryRow(ctx, `
SELECT id, user_id, title, content, type, source_url, metadata, is_global, created_at, updated_at
FROM documents WHERE id = $1 AND (user_id = $2 OR is_global)`, id, userID)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return persistence.Document{}, persistence.ErrNotFound
	}
	return doc, err
}

func (s *Store) ListDocuments(ctx context.Context, userID string) ([]persistence.Document, error) {
	ctx = mustCtx(ctx)
	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, title, content, type, source_url, metadata, is_global, created_at, updated_at
FROM documents WHERE user_id = $1 OR is_global ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []persistence.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDocument(ctx context.Context, userID, id string) (int, error) {
	ctx = mustCtx(ctx)
	var chunkCount int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM document_chunks WHERE document_id = $1`, id).Scan(&chunkCount); err != nil {
		return 0, err
	}
	cmd, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return 0, err
	}
	if cmd.RowsAffected() == 0 {
		return 0, persistence.ErrNotFound
	}
	return chunkCount, nil
}

func (s *Store) InsertChunks(ctx context.Context, chunks []persistence.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	ctx = mustCtx(ctx)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		md, err := json.Marshal(c.Metadata)
		if err != nil {
			return err
		}
		var vecLit any
		if len(c.Embedding) > 0 {
			vecLit = toVectorLiteral(c.Embedding)
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO document_chunks (id, document_id, chunk_index, content, embedding, metadata)
VALUES ($1, $2, $3, $4, $5::vector, $6)
ON CONFLICT (document_id, chunk_index) DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata`,
			c.ID, c.DocumentID, c.ChunkIndex, c.Content, vecLit, jsonOrEmpty(md)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) UpdateChunkEmbeddings(ctx context.Context, chunkIDs []string, embeddings [][]float32) error {
	if len(chunkIDs) != len(embeddings) {
		return errors.New("chunkIDs and embeddings length mismatch")
	}
	ctx = mustCtx(ctx)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, id := range chunkIDs {
		if _, err := tx.Exec(ctx, `UPDATE document_chunks SET embedding = $2::vector WHERE id = $1`, id, toVectorLiteral(embeddings[i])); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListChunksByDocument(ctx context.Context, documentID string) ([]persistence.DocumentChunk, error) {
	ctx = mustCtx(ctx)
	rows, err := s.pool.Query(ctx, `
SELECT id, document_id, chunk_index, content, metadata, created_at
FROM document_chunks WHERE document_id = $1 ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []persistence.DocumentChunk
	for rows.Next() {
		var c persistence.DocumentChunk
		var md []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &md, &c.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(md, &c.Metadata); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetChunk(ctx context.Context, chunkID string) (persistence.DocumentChunk, error) {
	ctx = mustCtx(ctx)
	row := s.pool.QueryRow(ctx, `
SELECT id, document_id, chunk_index, content, metadata, created_at
FROM document_chunks WHERE id = $1`, chunkID)
	var c persistence.DocumentChunk
	var md []byte
	if err := row.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &md, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return persistence.DocumentChunk{}, persistence.ErrNotFound
		}
		return persistence.DocumentChunk{}, err
	}
	if err := json.Unmarshal(md, &c.Metadata); err != nil {
		return persistence.DocumentChunk{}, err
	}
	return c, nil
}

func scanDocument(row pgx.Row) (persistence.Document, error) {
	var d persistence.Document
	var docType string
	var md []byte
	if err := row.Scan(&d.ID, &d.UserID, &d.Title, &d.Content, &docType, &d.SourceURL, &md, &d.IsGlobal, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return persistence.Document{}, err
	}
	d.Type = persistence.DocumentType(docType)
	if err := json.Unmarshal(md, &d.Metadata); err != nil {
		return persistence.Document{}, err
	}
	return d, nil
}
