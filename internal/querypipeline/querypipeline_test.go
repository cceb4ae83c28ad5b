package querypipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragserv/internal/config"
	"ragserv/internal/embedding"
	"ragserv/internal/llm"
	"ragserv/internal/persistence"
	"ragserv/internal/queryevents"
	"ragserv/internal/search"
)

type stubSearchStore struct {
	rows []persistence.SearchRow
}

func (s *stubSearchStore) HybridSearch(context.Context, []float32, string, string, int, float64, float64) ([]persistence.SearchRow, error) {
	return s.rows, nil
}

func (s *stubSearchStore) VectorSearchOnly(context.Context, []float32, string, int) ([]persistence.SearchRow, error) {
	return s.rows, nil
}

func newTestSearcher(t *testing.T, rows []persistence.SearchRow) *search.Searcher {
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
	return search.New(&stubSearchStore{rows: rows}, emb)
}

type fakeProvider struct {
	reply       llm.Message
	chatErr     error
	streamChunks []string
	streamErr   error
}

func (f *fakeProvider) Chat(context.Context, []llm.Message, string) (llm.Message, error) {
	return f.reply, f.chatErr
}

func (f *fakeProvider) ChatStream(_ context.Context, _ []llm.Message, _ string, h llm.StreamHandler) error {
	for _, c := range f.streamChunks {
		h.OnDelta(c)
	}
	return f.streamErr
}

func fixedClock(t time.Time) func() time.Time {
	calls := 0
	return func() time.Time {
		calls++
		return t.Add(time.Duration(calls) * 10 * time.Millisecond)
	}
}

func TestGenerateResponseSucceeds(t *testing.T) {
	rows := []persistence.SearchRow{
		{ChunkID: "c1", DocumentID: "d1", Content: "Paris is the capital of France.", SimilarityScore: 0.9, Rank: 1},
	}
	searcher := newTestSearcher(t, rows)
	provider := &fakeProvider{reply: llm.Message{Role: "assistant", Content: "Paris."}}
	p := New(searcher, provider, "test-model").WithClock(fixedClock(time.Unix(0, 0)))

	resp, err := p.GenerateResponse(context.Background(), "What is the capital of France?", "user-1", nil, 0, true, "")
	require.NoError(t, err)
	assert.Equal(t, "Paris.", resp.Response)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "c1", resp.Sources[0].ChunkID)
	assert.Equal(t, 1, resp.Metrics.SourcesRetrieved)
	assert.InDelta(t, 0.9, resp.Metrics.AvgSimilarity, 0.001)
	assert.Greater(t, resp.Metrics.TotalTokens, 0)
	assert.Contains(t, resp.Context, "Paris is the capital of France.")
}

func TestGenerateResponseSkipsRetrievalWhenRAGDisabled(t *testing.T) {
	rows := []persistence.SearchRow{{ChunkID: "c1", DocumentID: "d1", Content: "irrelevant", SimilarityScore: 0.9, Rank: 1}}
	searcher := newTestSearcher(t, rows)
	provider := &fakeProvider{reply: llm.Message{Role: "assistant", Content: "hi"}}
	p := New(searcher, provider, "test-model")

	resp, err := p.GenerateResponse(context.Background(), "hello", "user-1", nil, 0, false, "")
	require.NoError(t, err)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, "", resp.Context)
}

func TestGenerateResponseReturnsApologyOnProviderFailure(t *testing.T) {
	searcher := newTestSearcher(t, nil)
	provider := &fakeProvider{chatErr: errors.New("model unavailable")}
	p := New(searcher, provider, "test-model")

	resp, err := p.GenerateResponse(context.Background(), "hello", "user-1", nil, 0, true, "")
	require.NoError(t, err)
	assert.Equal(t, apologyResponse, resp.Response)
	assert.Equal(t, 0, resp.Metrics.TotalTokens)
}

func TestOptimizeContextRespectsBudgetAndOrdering(t *testing.T) {
	results := []search.Result{
		{ChunkID: "low", DocumentID: "d1", Content: "short", SimilarityScore: 0.1},
		{ChunkID: "high", DocumentID: "d2", Content: "also short", SimilarityScore: 0.9},
	}
	block, kept := optimizeContext(results, 1000)
	require.Len(t, kept, 2)
	assert.Equal(t, "high", kept[0].ChunkID)
	assert.Equal(t, "low", kept[1].ChunkID)
	assert.Contains(t, block, "[Source 1")

	_, keptOne := optimizeContext(results, 1)
	assert.Len(t, keptOne, 1)
	assert.Equal(t, "high", keptOne[0].ChunkID)
}

func TestStreamResponseEventOrder(t *testing.T) {
	rows := []persistence.SearchRow{{ChunkID: "c1", DocumentID: "d1", Content: "fact", SimilarityScore: 0.8, Rank: 1}}
	searcher := newTestSearcher(t, rows)
	provider := &fakeProvider{streamChunks: []string{"hel", "lo"}}
	p := New(searcher, provider, "test-model")

	var events []queryevents.Event
	err := p.StreamResponse(context.Background(), "hi", "user-1", nil, 0, true, "", func(ev queryevents.Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 4)

	_, isSources := events[0].(queryevents.Sources)
	assert.True(t, isSources)
	tok1, ok := events[1].(queryevents.Token)
	require.True(t, ok)
	assert.Equal(t, "hel", tok1.Content)
	tok2, ok := events[2].(queryevents.Token)
	require.True(t, ok)
	assert.Equal(t, "lo", tok2.Content)
	metrics, ok := events[3].(queryevents.Metrics)
	require.True(t, ok)
	assert.True(t, metrics.IsFinal)
}

func TestStreamResponseEmitsErrorOnProviderFailure(t *testing.T) {
	searcher := newTestSearcher(t, nil)
	provider := &fakeProvider{streamErr: errors.New("timeout")}
	p := New(searcher, provider, "test-model")

	var events []queryevents.Event
	err := p.StreamResponse(context.Background(), "hi", "user-1", nil, 0, true, "", func(ev queryevents.Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	_, isSources := events[0].(queryevents.Sources)
	assert.True(t, isSources)
	errEvent, ok := events[1].(queryevents.Error)
	require.True(t, ok)
	assert.True(t, errEvent.IsFinal)
	assert.Contains(t, errEvent.Message, "timeout")
}
