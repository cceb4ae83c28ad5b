package httpapi

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ragserv/internal/fetcher"
	"ragserv/internal/ingestion"
	"ragserv/internal/objectstore"
	"ragserv/internal/persistence"
)

const (
	maxChunkBytes      = 10 << 20 // 10 MiB
	maxCumulativeBytes = 1 << 30  // 1 GiB
)

type resourceSourceDTO struct {
	Kind       string `json:"kind"` // "url" | "text" | "file"
	URL        string `json:"url,omitempty"`
	Text       string `json:"text,omitempty"`
	FileBase64 string `json:"fileBase64,omitempty"`
}

type addResourceRequest struct {
	UserID       string            `json:"userId"`
	Title        string            `json:"title,omitempty"`
	Type         string            `json:"type,omitempty"`
	IsGlobal     bool              `json:"isGlobal,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Source       resourceSourceDTO `json:"source"`
	ChunkSize    int               `json:"chunkSize,omitempty"`
	ChunkOverlap int               `json:"chunkOverlap,omitempty"`
}

type addResourceResponse struct {
	JobID      string `json:"jobId"`
	ResourceID string `json:"resourceId"`
	Status     string `json:"status"`
}

func metadataToAny(m map[string]string) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// resolveSource turns the tagged content variant into plain text plus the
// source_url (only populated for kind="url").
func (s *Server) resolveSource(r *http.Request, src resourceSourceDTO) (content, sourceURL string, err error) {
	switch src.Kind {
	case "text":
		return src.Text, "", nil
	case "url":
		if s.fetch == nil {
			return "", "", withCode(CodeInvalidArgument, errors.New("httpapi: no fetcher configured for url sources"))
		}
		doc, ferr := s.fetch.Fetch(r.Context(), src.URL, fetcher.HintAuto)
		if ferr != nil {
			return "", "", fmt.Errorf("httpapi: fetch url: %w", ferr)
		}
		return doc.Text, doc.FinalURL, nil
	case "file":
		raw, derr := base64.StdEncoding.DecodeString(src.FileBase64)
		if derr != nil {
			return "", "", withCode(CodeInvalidArgument, fmt.Errorf("httpapi: decode file content: %w", derr))
		}
		return string(raw), "", nil
	default:
		return "", "", withCode(CodeInvalidArgument, fmt.Errorf("httpapi: unknown source kind %q", src.Kind))
	}
}

// handleAddResource implements POST /api/v1/resources: ingest one resource
// of oneof{url,text,file} content through the ingestion pipeline as a
// single-document batch. The returned job_id doubles as resource_id: this
// service tracks ingestion by job, not by a separate per-resource row, so
// GetResourceStatus/CancelIngestion both key off the same id.
func (s *Server) handleAddResource(w http.ResponseWriter, r *http.Request) {
	var req addResourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	content, sourceURL, err := s.resolveSource(r, req.Source)
	if err != nil {
		respondError(w, err)
		return
	}

	docType := persistence.DocumentType(strings.ToUpper(req.Type))
	if docType == "" {
		docType = persistence.DocText
	}
	job, err := s.ingestion.ProcessBatch(r.Context(), req.UserID, []ingestion.DocumentInput{{
		Title:        req.Title,
		Content:      content,
		Type:         docType,
		SourceURL:    sourceURL,
		Metadata:     metadataToAny(req.Metadata),
		IsGlobal:     req.IsGlobal,
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
	}})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, addResourceResponse{
		JobID:      job.ID,
		ResourceID: job.ID,
		Status:     string(job.Status),
	})
}

type resourceStatusResponse struct {
	Status          string   `json:"status"`
	ChunksCreated   int      `json:"chunksCreated"`
	ProgressPercent float64  `json:"progressPercent"`
	Errors          []string `json:"errors,omitempty"`
}

// handleGetResourceStatus implements GET /api/v1/resources/{id}/status. id
// is the job_id returned by AddResource (see handleAddResource's comment).
func (s *Server) handleGetResourceStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	userID := r.URL.Query().Get("user_id")
	job, err := s.store.GetJob(r.Context(), userID, id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resourceStatusResponse{
		Status:          string(job.Status),
		ChunksCreated:   job.Processed,
		ProgressPercent: job.ProgressPercent(),
		Errors:          job.Errors,
	})
}

type resourceItemDTO struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"createdAt"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Stats     resourceStatsDTO  `json:"stats"`
}

type resourceStatsDTO struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
}

type listResourcesResponse struct {
	Items      []resourceItemDTO `json:"items"`
	TotalCount int               `json:"totalCount"`
}

// handleListResources implements GET /api/v1/resources. Every persisted
// Document already represents a successfully completed ingestion (failed
// documents are rolled back by the pipeline), so status is always
// "completed" here.
func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	docs, err := s.store.ListDocuments(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	items := make([]resourceItemDTO, len(docs))
	for i, d := range docs {
		chunks, cerr := s.store.ListChunksByDocument(r.Context(), d.ID)
		if cerr != nil {
			respondError(w, cerr)
			return
		}
		items[i] = resourceItemDTO{
			ID:        d.ID,
			Type:      string(d.Type),
			Title:     d.Title,
			Status:    "completed",
			CreatedAt: d.CreatedAt,
			Metadata:  d.Metadata,
			Stats:     resourceStatsDTO{Documents: 1, Chunks: len(chunks)},
		}
	}
	respondJSON(w, http.StatusOK, listResourcesResponse{Items: items, TotalCount: len(items)})
}

type deleteResourceResponse struct {
	ChunksDeleted int `json:"chunksDeleted"`
}

// handleDeleteResource implements DELETE /api/v1/resources/{id}.
func (s *Server) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	userID := r.URL.Query().Get("user_id")
	n, err := s.store.DeleteDocument(r.Context(), userID, id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, deleteResourceResponse{ChunksDeleted: n})
}

type cancelIngestionRequest struct {
	UserID      string `json:"userId"`
	CancelledBy string `json:"cancelledBy,omitempty"`
}

type cancelIngestionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// handleCancelIngestion implements POST /api/v1/resources/jobs/{id}/cancel.
// CancelJob's SQL collapses "not found" and "already terminal" into the
// same error, so this fetches the job first to produce the more descriptive
// terminal-state message the spec's job-lifecycle scenario expects.
func (s *Server) handleCancelIngestion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req cancelIngestionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	job, err := s.store.GetJob(r.Context(), req.UserID, id)
	if err != nil {
		respondError(w, err)
		return
	}
	if job.Status != persistence.JobQueued && job.Status != persistence.JobProcessing {
		respondJSON(w, http.StatusOK, cancelIngestionResponse{
			Success: false,
			Message: fmt.Sprintf("Cannot cancel job in %s state", job.Status),
		})
		return
	}

	cancelledBy := req.CancelledBy
	if cancelledBy == "" {
		cancelledBy = req.UserID
	}
	if err := s.ingestion.CancelIngestion(r.Context(), req.UserID, id, cancelledBy); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cancelIngestionResponse{Success: true, Message: "cancelled"})
}

type chunkedUploadMetadataDTO struct {
	UserID      string            `json:"userId"`
	ResourceID  string            `json:"resourceId,omitempty"`
	Filename    string            `json:"filename"`
	TotalSize   int64             `json:"totalSize"`
	TotalChunks int               `json:"totalChunks"`
	Checksum    string            `json:"checksum,omitempty"`
	Title       string            `json:"title,omitempty"`
	Type        string            `json:"type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type chunkedUploadFrameDTO struct {
	ChunkIndex int    `json:"chunkIndex"`
	Data       string `json:"data"` // base64
}

type chunkedUploadRequest struct {
	Metadata chunkedUploadMetadataDTO `json:"metadata"`
	Chunks   []chunkedUploadFrameDTO  `json:"chunks"`
}

type chunkedUploadResponse struct {
	JobID          string `json:"jobId"`
	ResourceID     string `json:"resourceId"`
	Status         string `json:"status"`
	ChunksReceived int    `json:"chunksReceived"`
	Checksum       string `json:"checksum"`
}

// handleChunkedUpload implements POST /api/v1/resources/upload. The wire
// protocol (§13.3) describes a multi-frame stream; expressed over a single
// JSON POST here as one metadata object plus an ordered chunk array, since
// this transport has no persistent connection to stream frames over.
// Chunk indices are 1-based (frame #0 is the metadata); the assembled bytes
// are hashed and size-checked against the declared total before being
// persisted to the object store and handed to the ingestion pipeline.
func (s *Server) handleChunkedUpload(w http.ResponseWriter, r *http.Request) {
	var req chunkedUploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Metadata.TotalChunks != len(req.Chunks) {
		respondError(w, withCode(CodeInvalidArgument, fmt.Errorf("httpapi: expected %d chunks, got %d", req.Metadata.TotalChunks, len(req.Chunks))))
		return
	}

	hasher := sha256.New()
	var assembled []byte
	var cumulative int64
	for i, chunk := range req.Chunks {
		wantIndex := i + 1
		if chunk.ChunkIndex != wantIndex {
			respondError(w, withCode(CodeInvalidArgument, fmt.Errorf("httpapi: expected chunk_index %d, got %d", wantIndex, chunk.ChunkIndex)))
			return
		}
		data, err := base64.StdEncoding.DecodeString(chunk.Data)
		if err != nil {
			respondError(w, withCode(CodeInvalidArgument, fmt.Errorf("httpapi: decode chunk %d: %w", chunk.ChunkIndex, err)))
			return
		}
		if len(data) > maxChunkBytes {
			respondError(w, withCode(CodeInvalidArgument, fmt.Errorf("httpapi: chunk %d exceeds %d bytes", chunk.ChunkIndex, maxChunkBytes)))
			return
		}
		cumulative += int64(len(data))
		if cumulative > maxCumulativeBytes {
			respondError(w, withCode(CodeInvalidArgument, fmt.Errorf("httpapi: cumulative upload exceeds %d bytes", maxCumulativeBytes)))
			return
		}
		hasher.Write(data)
		assembled = append(assembled, data...)
	}

	if cumulative != req.Metadata.TotalSize {
		respondError(w, withCode(CodeDataLoss, fmt.Errorf("httpapi: assembled %d bytes, expected %d", cumulative, req.Metadata.TotalSize)))
		return
	}
	checksum := hex.EncodeToString(hasher.Sum(nil))
	if req.Metadata.Checksum != "" && !strings.EqualFold(checksum, req.Metadata.Checksum) {
		respondError(w, withCode(CodeDataLoss, fmt.Errorf("httpapi: checksum mismatch: computed %s, expected %s", checksum, req.Metadata.Checksum)))
		return
	}

	if s.objects == nil {
		respondError(w, withCode(CodeInvalidArgument, errors.New("httpapi: no object store configured for chunked uploads")))
		return
	}
	objectKey := fmt.Sprintf("uploads/%s/%s", req.Metadata.UserID, req.Metadata.Filename)
	if _, err := s.objects.Put(r.Context(), objectKey, strings.NewReader(string(assembled)), objectstore.PutOptions{}); err != nil {
		respondError(w, fmt.Errorf("httpapi: persist assembled upload: %w", err))
		return
	}

	docType := persistence.DocumentType(strings.ToUpper(req.Metadata.Type))
	if docType == "" {
		docType = persistence.DocText
	}
	job, err := s.ingestion.ProcessBatch(r.Context(), req.Metadata.UserID, []ingestion.DocumentInput{{
		Title:    req.Metadata.Title,
		Content:  string(assembled),
		Type:     docType,
		Metadata: metadataToAny(req.Metadata.Metadata),
	}})
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, chunkedUploadResponse{
		JobID:          job.ID,
		ResourceID:     job.ID,
		Status:         string(job.Status),
		ChunksReceived: len(req.Chunks) + 1,
		Checksum:       checksum,
	})
}

type syncResourceMetadataRequest struct {
	UserID         string   `json:"userId"`
	SinceTimestamp string   `json:"sinceTimestamp,omitempty"`
	ResourceIDs    []string `json:"resourceIds,omitempty"`
}

type syncResourceMetadataResponse struct {
	ResourcesSynced int       `json:"resourcesSynced"`
	Conflicts       int       `json:"conflicts"`
	SyncTimestamp   time.Time `json:"syncTimestamp"`
}

// handleSyncResourceMetadata implements POST /api/v1/resources/sync: a
// polling-based sync that reports how many of the caller's resources
// changed since since_timestamp, optionally narrowed to resource_ids.
// Conflicts is always 0: resources have no concurrent-editor concept in
// this design, so nothing can collide.
func (s *Server) handleSyncResourceMetadata(w http.ResponseWriter, r *http.Request) {
	var req syncResourceMetadataRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var since time.Time
	if req.SinceTimestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.SinceTimestamp)
		if err != nil {
			respondError(w, withCode(CodeInvalidArgument, fmt.Errorf("httpapi: invalid since_timestamp: %w", err)))
			return
		}
		since = parsed
	}

	docs, err := s.store.ListDocuments(r.Context(), req.UserID)
	if err != nil {
		respondError(w, err)
		return
	}
	want := make(map[string]bool, len(req.ResourceIDs))
	for _, id := range req.ResourceIDs {
		want[id] = true
	}

	synced := 0
	for _, d := range docs {
		if len(want) > 0 && !want[d.ID] {
			continue
		}
		if d.UpdatedAt.Before(since) {
			continue
		}
		synced++
	}

	respondJSON(w, http.StatusOK, syncResourceMetadataResponse{
		ResourcesSynced: synced,
		Conflicts:       0,
		SyncTimestamp:   time.Now().UTC(),
	})
}
