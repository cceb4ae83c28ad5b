// Package ingestion implements process_batch: validating, cleaning,
// chunking, embedding, and persisting a batch of documents under one
// ingestion job, with per-document isolation so one bad document never
// aborts the batch.
package ingestion

import (
	"context"
	"errors"
	"fmt"

	"ragserv/internal/chunker"
	"ragserv/internal/cleaner"
	"ragserv/internal/config"
	"ragserv/internal/embedding"
	"ragserv/internal/jobevents"
	"ragserv/internal/observability"
	"ragserv/internal/persistence"
	"ragserv/internal/validation"
)

// DocumentInput is one document submitted to process_batch, before
// validation/cleaning/chunking.
type DocumentInput struct {
	Title        string
	Content      string
	Type         persistence.DocumentType
	SourceURL    string
	Metadata     map[string]any
	IsGlobal     bool
	ChunkSize    int // 0 = use cfg.ChunkSize
	ChunkOverlap int // 0 = use cfg.ChunkOverlap
}

// Pipeline runs process_batch against a persistence.Store, bounding how
// many jobs run concurrently via cfg.MaxConcurrency (jobs are reentrant;
// documents within one job are always sequential).
type Pipeline struct {
	store    persistence.Store
	embedder *embedding.Embedder
	cfg      config.IngestionConfig
	sem      chan struct{}
	events   *jobevents.Publisher
}

func New(store persistence.Store, embedder *embedding.Embedder, cfg config.IngestionConfig) *Pipeline {
	n := cfg.MaxConcurrency
	if n <= 0 {
		n = 4
	}
	return &Pipeline{store: store, embedder: embedder, cfg: cfg, sem: make(chan struct{}, n)}
}

// WithEvents attaches a jobevents.Publisher that receives a best-effort
// notification on every job status transition. pub may be nil, disabling
// publishing.
func (p *Pipeline) WithEvents(pub *jobevents.Publisher) *Pipeline {
	p.events = pub
	return p
}

func (p *Pipeline) publish(ctx context.Context, job persistence.IngestionJob) {
	if p.events == nil {
		return
	}
	p.events.Publish(ctx, jobevents.JobEvent{
		JobID:     job.ID,
		UserID:    job.UserID,
		Status:    job.Status,
		Total:     job.Total,
		Processed: job.Processed,
		Failed:    job.Failed,
		Timestamp: job.StartedAt,
	})
}

// ProcessBatch creates a job for userID and total=len(docs), then processes
// each document sequentially, rolling back and recording a failure for any
// document that errors without aborting the rest of the batch.
func (p *Pipeline) ProcessBatch(ctx context.Context, userID string, docs []DocumentInput) (persistence.IngestionJob, error) {
	if err := validation.UserID(userID); err != nil {
		return persistence.IngestionJob{}, fmt.Errorf("ingestion: %w", err)
	}

	p.sem <- struct{}{}
	defer func() { <-p.sem }()

	log := observability.LoggerWithTrace(ctx)

	job, err := p.store.CreateJob(ctx, userID, len(docs))
	if err != nil {
		return persistence.IngestionJob{}, fmt.Errorf("ingestion: create job: %w", err)
	}
	if err := p.store.SetJobStatus(ctx, job.ID, persistence.JobProcessing); err != nil {
		return persistence.IngestionJob{}, fmt.Errorf("ingestion: start job: %w", err)
	}
	job.Status = persistence.JobProcessing
	p.publish(ctx, job)

	for i, d := range docs {
		current, cerr := p.store.GetJob(ctx, userID, job.ID)
		if cerr == nil && current.Status == persistence.JobCancelled {
			log.Info().Str("job_id", job.ID).Int("remaining", len(docs)-i).Msg("ingestion job cancelled, stopping before remaining documents")
			break
		}
		if err := p.processOne(ctx, userID, job.ID, d); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Int("doc_index", i).Msg("document ingestion failed")
			if ferr := p.store.IncrementFailed(ctx, job.ID, err.Error()); ferr != nil {
				return persistence.IngestionJob{}, fmt.Errorf("ingestion: record failure: %w", ferr)
			}
			continue
		}
		if err := p.store.IncrementProcessed(ctx, job.ID); err != nil {
			return persistence.IngestionJob{}, fmt.Errorf("ingestion: record success: %w", err)
		}
	}

	completed, err := p.store.CompleteJob(ctx, job.ID)
	if err != nil {
		return persistence.IngestionJob{}, fmt.Errorf("ingestion: complete job: %w", err)
	}
	p.publish(ctx, completed)
	return completed, nil
}

// processOne runs validate→clean→chunk→embed→persist for a single document,
// rolling back (deleting the document and its chunks) on any failure after
// the document row was inserted.
func (p *Pipeline) processOne(ctx context.Context, userID, jobID string, d DocumentInput) error {
	title, err := validation.DocumentTitle(d.Title, 0)
	if err != nil {
		title = "Untitled"
	}
	content := d.Content
	if err := validation.ContentLength(content, 0); err != nil {
		return fmt.Errorf("content too long: %w", err)
	}
	if content == "" {
		return errors.New("content must not be empty")
	}

	docType := d.Type
	if docType == "" {
		docType = persistence.DocText
	}
	if p.cfg.AutoClean {
		cleaned, _ := cleaner.Clean(content, cleaner.DocumentType(docType), cleaner.Standard)
		content = cleaned
	}

	chunkSize := d.ChunkSize
	if chunkSize <= 0 {
		chunkSize = p.cfg.ChunkSize
	}
	chunkOverlap := d.ChunkOverlap
	if chunkOverlap <= 0 {
		chunkOverlap = p.cfg.ChunkOverlap
	}
	if err := validation.ChunkParams(chunkSize, chunkOverlap); err != nil {
		return fmt.Errorf("invalid chunk params: %w", err)
	}

	metadata := validation.SanitizeMetadata(d.Metadata)
	metadata["job_id"] = jobID

	sourceURL := d.SourceURL
	if sourceURL != "" {
		normalized, err := validation.URL(sourceURL)
		if err == nil {
			sourceURL = normalized
		}
	}

	doc, err := p.store.CreateDocument(ctx, persistence.Document{
		UserID:    userID,
		Title:     title,
		Content:   content,
		Type:      docType,
		SourceURL: sourceURL,
		Metadata:  metadata,
		IsGlobal:  d.IsGlobal,
	})
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}

	if err := p.chunkAndEmbed(ctx, doc, chunkSize, chunkOverlap); err != nil {
		if _, derr := p.store.DeleteDocument(ctx, userID, doc.ID); derr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, derr)
		}
		return err
	}
	return nil
}

func (p *Pipeline) chunkAndEmbed(ctx context.Context, doc persistence.Document, chunkSize, chunkOverlap int) error {
	spans, err := chunker.Split(doc.Content, chunkSize, chunkOverlap, nil)
	if err != nil {
		return fmt.Errorf("chunk document: %w", err)
	}
	if len(spans) == 0 {
		return errors.New("document produced no chunks")
	}

	chunks := make([]persistence.DocumentChunk, len(spans))
	texts := make([]string, len(spans))
	for i, s := range spans {
		chunks[i] = persistence.DocumentChunk{
			DocumentID: doc.ID,
			ChunkIndex: s.Index,
			Content:    s.Content,
			Metadata:   s.Metadata,
		}
		texts[i] = s.Content
	}
	if err := p.store.InsertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}

	inserted, err := p.store.ListChunksByDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("list inserted chunks: %w", err)
	}
	if len(inserted) != len(spans) {
		return fmt.Errorf("expected %d inserted chunks, got %d", len(spans), len(inserted))
	}

	result, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(result.Embeddings) != len(inserted) {
		return fmt.Errorf("expected %d embeddings, got %d", len(inserted), len(result.Embeddings))
	}

	ids := make([]string, len(inserted))
	for i, c := range inserted {
		ids[i] = c.ID
	}
	if err := p.store.UpdateChunkEmbeddings(ctx, ids, result.Embeddings); err != nil {
		return fmt.Errorf("write embeddings: %w", err)
	}
	return nil
}

// CancelIngestion marks a queued or processing job cancelled. In-flight
// documents already started continue to completion; ProcessBatch checks job
// status before starting each subsequent document.
func (p *Pipeline) CancelIngestion(ctx context.Context, userID, jobID, cancelledBy string) error {
	if err := p.store.CancelJob(ctx, userID, jobID, cancelledBy); err != nil {
		return err
	}
	if job, err := p.store.GetJob(ctx, userID, jobID); err == nil {
		p.publish(ctx, job)
	}
	return nil
}
