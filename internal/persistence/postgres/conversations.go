package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"ragserv/internal/persistence"
)

func (s *Store) EnsureConversation(ctx context.Context, userID, id string) (persistence.Conversation, error) {
	ctx = mustCtx(ctx)
	row := s.pool.QueryRow(ctx, `
WITH ins AS (
  INSERT INTO conversations (id, user_id)
  VALUES ($1, $2)
  ON CONFLICT (id) DO NOTHING
  RETURNING id, user_id, title, metadata, created_at, updated_at
)
SELECT id, user_id, title, metadata, created_at, updated_at FROM ins
UNION ALL
SELECT id, user_id, title, metadata, created_at, updated_at FROM conversations WHERE id = $1
LIMIT 1`, id, userID)
	c, err := scanConversation(row)
	if err != nil {
		return persistence.Conversation{}, err
	}
	if c.UserID != userID {
		return persistence.Conversation{}, persistence.ErrForbidden
	}
	return c, nil
}

func (s *Store) CreateConversation(ctx context.Context, userID, title string) (persistence.Conversation, error) {
	ctx = mustCtx(ctx)
	id := uuid.NewString()
	row := s.pool.QueryRow(ctx, `
INSERT INTO conversations (id, user_id, title)
VALUES ($1, $2, $3)
RETURNING id, user_id, title, metadata, created_at, updated_at`, id, userID, title)
	return scanConversation(row)
}

func (s *Store) GetConversation(ctx context.Context, userID, id string) (persistence.Conversation, error) {
	ctx = mustCtx(ctx)
	row := s.pool.QueryRow(ctx, `
SELECT id, user_id, title, metadata, created_at, updated_at
FROM conversations WHERE id = $1 AND user_id = $2`, id, userID)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return persistence.Conversation{}, persistence.ErrNotFound
	}
	return c, err
}

// DeleteConversation removes a conversation and, via ON DELETE CASCADE, all
// of its messages. Only the owning user may delete it.
func (s *Store) DeleteConversation(ctx context.Context, userID, id string) error {
	ctx = mustCtx(ctx)
	cmd, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// SetConversationTitle updates a conversation's title, e.g. after a
// GenerateTitle call. Only the owning user may set it.
func (s *Store) SetConversationTitle(ctx context.Context, userID, id, title string) error {
	ctx = mustCtx(ctx)
	cmd, err := s.pool.Exec(ctx, `UPDATE conversations SET title = $3, updated_at = NOW() WHERE id = $1 AND user_id = $2`, id, userID, title)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// ListMessages implements the offset-cursor pagination of get_conversation:
// it fetches limit+1 rows to determine hasMore without a separate COUNT.
func (s *Store) ListMessages(ctx context.Context, userID, conversationID string, limit, offset int) ([]persistence.ChatMessage, bool, error) {
	ctx = mustCtx(ctx)
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, false, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, conversation_id, role, content, sources, metadata, created_at
FROM chat_messages
WHERE conversation_id = $1
ORDER BY created_at ASC, id ASC
LIMIT $2 OFFSET $3`, conversationID, limit+1, offset)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	var out []persistence.ChatMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, false, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

func (s *Store) AllMessages(ctx context.Context, userID, conversationID string) ([]persistence.ChatMessage, error) {
	ctx = mustCtx(ctx)
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, conversation_id, role, content, sources, metadata, created_at
FROM chat_messages WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []persistence.ChatMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) AppendMessage(ctx context.Context, msg persistence.ChatMessage) (persistence.ChatMessage, error) {
	ctx = mustCtx(ctx)
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	sources, err := json.Marshal(msg.Sources)
	if err != nil {
		return persistence.ChatMessage{}, err
	}
	md, err := json.Marshal(msg.Metadata)
	if err != nil {
		return persistence.ChatMessage{}, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return persistence.ChatMessage{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
INSERT INTO chat_messages (id, conversation_id, role, content, sources, metadata)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, conversation_id, role, content, sources, metadata, created_at`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, jsonOrArray(sources), jsonOrEmpty(md))
	out, err := scanMessage(row)
	if err != nil {
		return persistence.ChatMessage{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, msg.ConversationID); err != nil {
		return persistence.ChatMessage{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return persistence.ChatMessage{}, err
	}
	return out, nil
}

func (s *Store) GetMemory(ctx context.Context, userID string) (persistence.UserMemory, bool, error) {
	ctx = mustCtx(ctx)
	row := s.pool.QueryRow(ctx, `SELECT user_id, memory, metadata, updated_at FROM user_memories WHERE user_id = $1`, userID)
	var m persistence.UserMemory
	var md []byte
	if err := row.Scan(&m.UserID, &m.Memory, &md, &m.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return persistence.UserMemory{}, false, nil
		}
		return persistence.UserMemory{}, false, err
	}
	if err := json.Unmarshal(md, &m.Metadata); err != nil {
		return persistence.UserMemory{}, false, err
	}
	return m, true, nil
}

func (s *Store) UpsertMemory(ctx context.Context, userID, memory string) error {
	ctx = mustCtx(ctx)
	_, err := s.pool.Exec(ctx, `
INSERT INTO user_memories (user_id, memory)
VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET memory = EXCLUDED.memory, updated_at = NOW()`, userID, memory)
	return err
}

func (s *Store) DeleteMemory(ctx context.Context, userID string) error {
	ctx = mustCtx(ctx)
	_, err := s.pool.Exec(ctx, `DELETE FROM user_memories WHERE user_id = $1`, userID)
	return err
}

func scanConversation(row pgx.Row) (persistence.Conversation, error) {
	var c persistence.Conversation
	var md []byte
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &md, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return persistence.Conversation{}, err
	}
	if err := json.Unmarshal(md, &c.Metadata); err != nil {
		return persistence.Conversation{}, err
	}
	return c, nil
}

func scanMessage(row pgx.Row) (persistence.ChatMessage, error) {
	var m persistence.ChatMessage
	var sources, md []byte
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &sources, &md, &m.CreatedAt); err != nil {
		return persistence.ChatMessage{}, err
	}
	if err := json.Unmarshal(sources, &m.Sources); err != nil {
		return persistence.ChatMessage{}, err
	}
	if err := json.Unmarshal(md, &m.Metadata); err != nil {
		return persistence.ChatMessage{}, err
	}
	return m, nil
}

func jsonOrArray(b []byte) []byte {
	if len(b) == 0 || strings.TrimSpace(string(b)) == "null" {
		return []byte("[]")
	}
	return b
}
