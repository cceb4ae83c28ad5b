// Package persistence defines the entity types and storage contract for the
// RAG backend (documents, chunks, ingestion jobs, conversations, messages,
// and per-user memory) and provides a Postgres-backed implementation with an
// optional Qdrant vector-store backend.
package persistence

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

// DocumentType mirrors cleaner.DocumentType at the storage boundary.
type DocumentType string

const (
	DocText     DocumentType = "TEXT"
	DocMarkdown DocumentType = "MARKDOWN"
	DocHTML     DocumentType = "HTML"
	DocPDF      DocumentType = "PDF"
	DocCode     DocumentType = "CODE"
	DocWebsite  DocumentType = "WEBSITE"
)

// Document is the top-level ingested unit. It owns its Chunks; deleting a
// Document cascades to all of its DocumentChunk rows.
type Document struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Type      DocumentType      `json:"type"`
	SourceURL string            `json:"sourceUrl,omitempty"`
	Metadata  map[string]string `json:"metadata"`
	IsGlobal  bool              `json:"isGlobal"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// DocumentChunk is one chunk of a Document, optionally embedded.
// (document_id, chunk_index) is unique; embedding may be nil in the narrow
// window between chunk insert and the batch embed-write that follows it.
type DocumentChunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"documentId"`
	ChunkIndex int               `json:"chunkIndex"`
	Content    string            `json:"content"`
	Embedding  []float32         `json:"embedding,omitempty"`
	Metadata   map[string]string `json:"metadata"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// JobStatus is the IngestionJob lifecycle state.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobPartial    JobStatus = "partial"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// IngestionJob tracks the progress of one process_batch call. Counts are
// monotone until a terminal status is reached.
type IngestionJob struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Status      JobStatus `json:"status"`
	Total       int       `json:"total"`
	Processed   int       `json:"processed"`
	Failed      int       `json:"failed"`
	Errors      []string  `json:"errors"`
	CancelledBy string    `json:"cancelledBy,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ProgressPercent returns processed+failed as a percentage of total.
func (j IngestionJob) ProgressPercent() float64 {
	if j.Total == 0 {
		return 0
	}
	return float64(j.Processed+j.Failed) / float64(j.Total) * 100
}

// Conversation owns its ChatMessages; deletion cascades.
type Conversation struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Title     string            `json:"title,omitempty"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// SourceRef attributes a retrieved chunk backing a ChatMessage.
type SourceRef struct {
	ChunkID        string  `json:"chunkId"`
	DocumentID     string  `json:"documentId"`
	RelevanceScore float64 `json:"relevanceScore"`
	Content        string  `json:"content,omitempty"`
}

// ChatMessage is one append-only turn of a Conversation.
type ChatMessage struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversationId"`
	Role           string            `json:"role"` // user|assistant|system
	Content        string            `json:"content"`
	Sources        []SourceRef       `json:"sources,omitempty"`
	Metadata       map[string]string `json:"metadata"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// UserMemory is the at-most-one-row-per-user durable fact store.
type UserMemory struct {
	UserID    string            `json:"userId"`
	Memory    string            `json:"memory"`
	Metadata  map[string]string `json:"metadata"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// DocumentStore persists Documents and their Chunks.
type DocumentStore interface {
	CreateDocument(ctx context.Context, d Document) (Document, error)
	GetDocument(ctx context.Context, userID, id string) (Document, error)
	ListDocuments(ctx context.Context, userID string) ([]Document, error)
	DeleteDocument(ctx context.Context, userID, id string) (chunksDeleted int, err error)
	InsertChunks(ctx context.Context, chunks []DocumentChunk) error
	UpdateChunkEmbeddings(ctx context.Context, chunkIDs []string, embeddings [][]float32) error
	ListChunksByDocument(ctx context.Context, documentID string) ([]DocumentChunk, error)
	GetChunk(ctx context.Context, chunkID string) (DocumentChunk, error)
}

// JobStore tracks IngestionJob lifecycle.
type JobStore interface {
	CreateJob(ctx context.Context, userID string, total int) (IngestionJob, error)
	SetJobStatus(ctx context.Context, jobID string, status JobStatus) error
	IncrementProcessed(ctx context.Context, jobID string) error
	IncrementFailed(ctx context.Context, jobID string, errMsg string) error
	CompleteJob(ctx context.Context, jobID string) (IngestionJob, error)
	GetJob(ctx context.Context, userID, jobID string) (IngestionJob, error)
	CancelJob(ctx context.Context, userID, jobID, cancelledBy string) error
}

// SearchRow is one ranked result of a hybrid or vector-only search.
type SearchRow struct {
	ChunkID         string
	DocumentID      string
	Content         string
	SimilarityScore float64
	Rank            int
}

// SearchStore runs the hybrid_search store function and a separate
// vector-only search (C8).
type SearchStore interface {
	HybridSearch(ctx context.Context, queryVec []float32, queryText, userID string, topK int, wVec, wKw float64) ([]SearchRow, error)
	VectorSearchOnly(ctx context.Context, queryVec []float32, userID string, topK int) ([]SearchRow, error)
}

// ConversationStore persists Conversations, ChatMessages, and UserMemory
// (C11/C12).
type ConversationStore interface {
	EnsureConversation(ctx context.Context, userID, id string) (Conversation, error)
	CreateConversation(ctx context.Context, userID, title string) (Conversation, error)
	GetConversation(ctx context.Context, userID, id string) (Conversation, error)
	DeleteConversation(ctx context.Context, userID, id string) error
	SetConversationTitle(ctx context.Context, userID, id, title string) error
	ListMessages(ctx context.Context, userID, conversationID string, limit, offset int) (msgs []ChatMessage, hasMore bool, err error)
	AllMessages(ctx context.Context, userID, conversationID string) ([]ChatMessage, error)
	AppendMessage(ctx context.Context, msg ChatMessage) (ChatMessage, error)

	GetMemory(ctx context.Context, userID string) (UserMemory, bool, error)
	UpsertMemory(ctx context.Context, userID, memory string) error
	DeleteMemory(ctx context.Context, userID string) error
}

// Store aggregates every persisted capability the RAG backend needs.
type Store interface {
	DocumentStore
	JobStore
	SearchStore
	ConversationStore
	Close()
}
