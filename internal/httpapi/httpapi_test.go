package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragserv/internal/chatsession"
	"ragserv/internal/config"
	"ragserv/internal/embedding"
	"ragserv/internal/ingestion"
	"ragserv/internal/llm"
	"ragserv/internal/objectstore"
	"ragserv/internal/persistence"
	"ragserv/internal/querypipeline"
)

// fakeStore is a minimal in-memory persistence.Store exercising only the
// control flow the HTTP handlers drive; it does not aim to reproduce
// Postgres's cascade/constraint semantics.
type fakeStore struct {
	mu     sync.Mutex
	docs   map[string]persistence.Document
	chunks map[string][]persistence.DocumentChunk
	jobs   map[string]persistence.IngestionJob
	convs  map[string]persistence.Conversation
	msgs   map[string][]persistence.ChatMessage
	mem    map[string]persistence.UserMemory
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:   make(map[string]persistence.Document),
		chunks: make(map[string][]persistence.DocumentChunk),
		jobs:   make(map[string]persistence.IngestionJob),
		convs:  make(map[string]persistence.Conversation),
		msgs:   make(map[string][]persistence.ChatMessage),
		mem:    make(map[string]persistence.UserMemory),
	}
}

func (m *fakeStore) CreateDocument(_ context.Context, d persistence.Document) (persistence.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = uuid.NewString()
	d.CreatedAt = time.Unix(0, 0)
	d.UpdatedAt = time.Unix(0, 0)
	m.docs[d.ID] = d
	return d, nil
}

func (m *fakeStore) GetDocument(_ context.Context, _, id string) (persistence.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return persistence.Document{}, persistence.ErrNotFound
	}
	return d, nil
}

func (m *fakeStore) ListDocuments(_ context.Context, userID string) ([]persistence.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []persistence.Document
	for _, d := range m.docs {
		if d.UserID == userID || d.IsGlobal {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *fakeStore) DeleteDocument(_ context.Context, userID, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.docs[id]; !ok || d.UserID != userID {
		return 0, persistence.ErrNotFound
	}
	n := len(m.chunks[id])
	delete(m.docs, id)
	delete(m.chunks, id)
	return n, nil
}

func (m *fakeStore) InsertChunks(_ context.Context, chunks []persistence.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		m.chunks[c.DocumentID] = append(m.chunks[c.DocumentID], c)
	}
	return nil
}

func (m *fakeStore) UpdateChunkEmbeddings(_ context.Context, chunkIDs []string, embeddings [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := make(map[string]int, len(chunkIDs))
	for i, id := range chunkIDs {
		byID[id] = i
	}
	for docID, cs := range m.chunks {
		for i, c := range cs {
			if idx, ok := byID[c.ID]; ok {
				m.chunks[docID][i].Embedding = embeddings[idx]
			}
		}
	}
	return nil
}

func (m *fakeStore) ListChunksByDocument(_ context.Context, documentID string) ([]persistence.DocumentChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]persistence.DocumentChunk(nil), m.chunks[documentID]...), nil
}

func (m *fakeStore) GetChunk(_ context.Context, chunkID string) (persistence.DocumentChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cs := range m.chunks {
		for _, c := range cs {
			if c.ID == chunkID {
				return c, nil
			}
		}
	}
	return persistence.DocumentChunk{}, persistence.ErrNotFound
}

func (m *fakeStore) CreateJob(_ context.Context, userID string, total int) (persistence.IngestionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := persistence.IngestionJob{ID: uuid.NewString(), UserID: userID, Status: persistence.JobQueued, Total: total}
	m.jobs[j.ID] = j
	return j, nil
}

func (m *fakeStore) SetJobStatus(_ context.Context, jobID string, status persistence.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[jobID]
	j.Status = status
	m.jobs[jobID] = j
	return nil
}

func (m *fakeStore) IncrementProcessed(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[jobID]
	j.Processed++
	m.jobs[jobID] = j
	return nil
}

func (m *fakeStore) IncrementFailed(_ context.Context, jobID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[jobID]
	j.Failed++
	j.Errors = append(j.Errors, errMsg)
	m.jobs[jobID] = j
	return nil
}

func (m *fakeStore) CompleteJob(_ context.Context, jobID string) (persistence.IngestionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[jobID]
	switch {
	case j.Failed == 0:
		j.Status = persistence.JobCompleted
	case j.Processed == 0:
		j.Status = persistence.JobFailed
	default:
		j.Status = persistence.JobPartial
	}
	m.jobs[jobID] = j
	return j, nil
}

func (m *fakeStore) GetJob(_ context.Context, _, jobID string) (persistence.IngestionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return persistence.IngestionJob{}, persistence.ErrNotFound
	}
	return j, nil
}

func (m *fakeStore) CancelJob(_ context.Context, _, jobID, cancelledBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || (j.Status != persistence.JobQueued && j.Status != persistence.JobProcessing) {
		return persistence.ErrNotFound
	}
	j.Status = persistence.JobCancelled
	j.CancelledBy = cancelledBy
	m.jobs[jobID] = j
	return nil
}

func (m *fakeStore) HybridSearch(context.Context, []float32, string, string, int, float64, float64) ([]persistence.SearchRow, error) {
	return nil, nil
}
func (m *fakeStore) VectorSearchOnly(context.Context, []float32, string, int) ([]persistence.SearchRow, error) {
	return nil, nil
}

func (m *fakeStore) EnsureConversation(_ context.Context, userID, id string) (persistence.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.convs[id]; ok {
		return c, nil
	}
	c := persistence.Conversation{ID: id, UserID: userID}
	m.convs[id] = c
	return c, nil
}

func (m *fakeStore) CreateConversation(_ context.Context, userID, title string) (persistence.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := persistence.Conversation{ID: uuid.NewString(), UserID: userID, Title: title}
	m.convs[c.ID] = c
	return c, nil
}

func (m *fakeStore) GetConversation(_ context.Context, userID, id string) (persistence.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok || c.UserID != userID {
		return persistence.Conversation{}, persistence.ErrNotFound
	}
	return c, nil
}

func (m *fakeStore) DeleteConversation(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok || c.UserID != userID {
		return persistence.ErrNotFound
	}
	delete(m.convs, id)
	delete(m.msgs, id)
	return nil
}

func (m *fakeStore) SetConversationTitle(_ context.Context, userID, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok || c.UserID != userID {
		return persistence.ErrNotFound
	}
	c.Title = title
	m.convs[id] = c
	return nil
}

func (m *fakeStore) ListMessages(_ context.Context, _, conversationID string, limit, offset int) ([]persistence.ChatMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.msgs[conversationID]
	if offset >= len(all) {
		return nil, false, nil
	}
	end := offset + limit
	hasMore := end < len(all)
	if end > len(all) {
		end = len(all)
	}
	return append([]persistence.ChatMessage(nil), all[offset:end]...), hasMore, nil
}

func (m *fakeStore) AllMessages(_ context.Context, _, conversationID string) ([]persistence.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]persistence.ChatMessage(nil), m.msgs[conversationID]...), nil
}

func (m *fakeStore) AppendMessage(_ context.Context, msg persistence.ChatMessage) (persistence.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = uuid.NewString()
	m.msgs[msg.ConversationID] = append(m.msgs[msg.ConversationID], msg)
	return msg, nil
}

func (m *fakeStore) GetMemory(_ context.Context, userID string) (persistence.UserMemory, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.mem[userID]
	return mem, ok, nil
}

func (m *fakeStore) UpsertMemory(_ context.Context, userID, memory string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mem[userID] = persistence.UserMemory{UserID: userID, Memory: memory}
	return nil
}

func (m *fakeStore) DeleteMemory(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mem, userID)
	return nil
}

func (m *fakeStore) Close() {}

var _ persistence.Store = (*fakeStore)(nil)

type fakeProvider struct {
	reply        llm.Message
	streamChunks []string
}

func (f *fakeProvider) Chat(context.Context, []llm.Message, string) (llm.Message, error) {
	return f.reply, nil
}

func (f *fakeProvider) ChatStream(_ context.Context, _ []llm.Message, _ string, h llm.StreamHandler) error {
	for _, c := range f.streamChunks {
		h.OnDelta(c)
	}
	return nil
}

func fakeEmbedServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		var resp struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		for range req.Input {
			vec := make([]float32, dim)
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: vec})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestServer(t *testing.T) (*Server, *fakeStore, *fakeProvider) {
	t.Helper()
	store := newFakeStore()
	provider := &fakeProvider{reply: llm.Message{Role: "assistant", Content: "test reply"}}

	embedSrv := fakeEmbedServer(t, 4)
	t.Cleanup(embedSrv.Close)
	embedCfg := config.EmbeddingConfig{BaseURL: embedSrv.URL, Path: "/embed", Dimension: 4}
	embedder := embedding.New(embedCfg)
	ingestCfg := config.IngestionConfig{ChunkSize: 200, ChunkOverlap: 20, AutoClean: true}
	pipeline := ingestion.New(store, embedder, ingestCfg)

	// useRAG stays false in tests that exercise chat, so a nil *search.Searcher
	// is safe: the pipeline never calls it.
	qp := querypipeline.New(nil, provider, "test-model")
	chat := chatsession.New(store, qp, nil, provider, "test-model")

	srv := NewServer(Deps{
		Chat:          chat,
		Ingestion:     pipeline,
		Store:         store,
		EmbeddingConf: embedCfg,
		Objects:       objectstore.NewMemoryStore(),
	})
	return srv, store, provider
}

func doJSON(t *testing.T, srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, target, bytes.NewReader(b))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)
	return rec
}

func TestHealthCheckEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthCheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHealthReadyEndpointReportsEmbeddingDependency(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.DependencyStatus["database"], "nil pool should report healthy")
	assert.True(t, resp.DependencyStatus["embeddings"])
	assert.True(t, resp.Ready)
}

func TestAddResourceThenListGetStatusAndDelete(t *testing.T) {
	srv, _, _ := newTestServer(t)

	addRec := doJSON(t, srv, http.MethodPost, "/api/v1/resources", addResourceRequest{
		UserID: "user-1",
		Title:  "Doc One",
		Type:   "text",
		Source: resourceSourceDTO{Kind: "text", Text: "Paragraph one.\n\nParagraph two with more words to chunk over."},
	})
	require.Equal(t, http.StatusAccepted, addRec.Code)
	var added addResourceResponse
	require.NoError(t, json.Unmarshal(addRec.Body.Bytes(), &added))
	require.NotEmpty(t, added.JobID)
	assert.Equal(t, string(persistence.JobCompleted), added.Status)

	statusRec := doJSON(t, srv, http.MethodGet, "/api/v1/resources/"+added.JobID+"/status?user_id=user-1", nil)
	require.Equal(t, http.StatusOK, statusRec.Code)
	var status resourceStatusResponse
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &status))
	assert.Equal(t, string(persistence.JobCompleted), status.Status)
	assert.Equal(t, 1, status.ChunksCreated)

	listRec := doJSON(t, srv, http.MethodGet, "/api/v1/resources?user_id=user-1", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var listed listResourcesResponse
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listed))
	require.Len(t, listed.Items, 1)
	assert.Greater(t, listed.Items[0].Stats.Chunks, 0)

	delRec := doJSON(t, srv, http.MethodDelete, "/api/v1/resources/"+listed.Items[0].ID+"?user_id=user-1", nil)
	require.Equal(t, http.StatusOK, delRec.Code)
	var delResp deleteResourceResponse
	require.NoError(t, json.Unmarshal(delRec.Body.Bytes(), &delResp))
	assert.Greater(t, delResp.ChunksDeleted, 0)
}

func TestCancelIngestionOnCompletedJobReportsTerminalState(t *testing.T) {
	srv, _, _ := newTestServer(t)

	addRec := doJSON(t, srv, http.MethodPost, "/api/v1/resources", addResourceRequest{
		UserID: "user-1",
		Source: resourceSourceDTO{Kind: "text", Text: "Some content that chunks fine across the board."},
	})
	require.Equal(t, http.StatusAccepted, addRec.Code)
	var added addResourceResponse
	require.NoError(t, json.Unmarshal(addRec.Body.Bytes(), &added))

	cancelRec := doJSON(t, srv, http.MethodPost, "/api/v1/resources/jobs/"+added.JobID+"/cancel", cancelIngestionRequest{UserID: "user-1"})
	require.Equal(t, http.StatusOK, cancelRec.Code)
	var cancelResp cancelIngestionResponse
	require.NoError(t, json.Unmarshal(cancelRec.Body.Bytes(), &cancelResp))
	assert.False(t, cancelResp.Success)
	assert.Contains(t, cancelResp.Message, "completed")
}

func TestChunkedUploadSucceeds(t *testing.T) {
	srv, _, _ := newTestServer(t)

	payload := []byte("Chunked content that is long enough to produce at least one chunk.")
	half := len(payload) / 2
	chunks := []chunkedUploadFrameDTO{
		{ChunkIndex: 1, Data: base64.StdEncoding.EncodeToString(payload[:half])},
		{ChunkIndex: 2, Data: base64.StdEncoding.EncodeToString(payload[half:])},
	}

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/resources/upload", chunkedUploadRequest{
		Metadata: chunkedUploadMetadataDTO{
			UserID:      "user-1",
			Filename:    "note.txt",
			TotalSize:   int64(len(payload)),
			TotalChunks: 2,
			Type:        "text",
		},
		Chunks: chunks,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp chunkedUploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.ChunksReceived)
	assert.NotEmpty(t, resp.Checksum)
}

func TestChunkedUploadChecksumMismatchIsDataLoss(t *testing.T) {
	srv, _, _ := newTestServer(t)

	payload := []byte("Some bytes that will not match the declared checksum at all.")
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/resources/upload", chunkedUploadRequest{
		Metadata: chunkedUploadMetadataDTO{
			UserID:      "user-1",
			Filename:    "note.txt",
			TotalSize:   int64(len(payload)),
			TotalChunks: 1,
			Checksum:    "0000000000000000000000000000000000000000000000000000000000000",
			Type:        "text",
		},
		Chunks: []chunkedUploadFrameDTO{{ChunkIndex: 1, Data: base64.StdEncoding.EncodeToString(payload)}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var errBody errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.Equal(t, CodeDataLoss, errBody.Code)
}

func TestSendMessageEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat/messages", sendMessageRequest{
		UserID:  "user-1",
		Message: "hello",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp sendMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "test reply", resp.Response)
	assert.NotEmpty(t, resp.ConversationID)
}

func TestStreamChatEndpointEmitsTokensThenMetrics(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{streamChunks: []string{"he", "llo"}}
	qp := querypipeline.New(nil, provider, "test-model")
	chat := chatsession.New(store, qp, nil, provider, "test-model")
	srv := NewServer(Deps{Chat: chat, Store: store, Objects: objectstore.NewMemoryStore()})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", bytes.NewReader(mustJSON(t, sendMessageRequest{UserID: "user-1", Message: "hi"})))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	tokenIdx := strings.Index(body, "event: token")
	metricsIdx := strings.Index(body, "event: metrics")
	require.NotEqual(t, -1, tokenIdx)
	require.NotEqual(t, -1, metricsIdx)
	assert.Less(t, tokenIdx, metricsIdx, "tokens must precede the final metrics event")
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDeleteConversationEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)
	conv, err := store.CreateConversation(context.Background(), "user-1", "")
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodDelete, "/api/v1/chat/conversations/"+conv.ID+"?user_id=user-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err = store.GetConversation(context.Background(), "user-1", conv.ID)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestGenerateTitleEndpointPersistsTitle(t *testing.T) {
	srv, store, provider := newTestServer(t)
	provider.reply = llm.Message{Content: "A Generated Title"}
	conv, err := store.CreateConversation(context.Background(), "user-1", "")
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/chat/conversations/"+conv.ID+"/title", generateTitleRequest{
		UserID:      "user-1",
		UserMessage: "What is the capital of France?",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp generateTitleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "A Generated Title", resp.Title)

	updated, err := store.GetConversation(context.Background(), "user-1", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "A Generated Title", updated.Title)
}

func TestBearerTokenGateRejectsMissingToken(t *testing.T) {
	store := newFakeStore()
	srv := NewServer(Deps{Store: store, Objects: objectstore.NewMemoryStore(), APIBearerToken: "secret"})

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/resources?user_id=user-1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// health stays open even with a bearer token configured.
	healthRec := doJSON(t, srv, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, healthRec.Code)
}
