package embedding

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ragserv/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEmbedServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := embedResp{}
		for range req.Input {
			vec := make([]float32, dim)
			for i := range vec {
				vec[i] = 0.1
			}
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: vec})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestEmbedBatchReturnsOneVectorPerInput(t *testing.T) {
	srv := fakeEmbedServer(t, 4)
	defer srv.Close()

	e := New(config.EmbeddingConfig{BaseURL: srv.URL, Path: "/embed", Dimension: 4, MicroBatch: 2, MaxConcurrent: 2})
	result, err := e.EmbedBatch(t.Context(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, result.Embeddings, 5)
	for _, v := range result.Embeddings {
		assert.Len(t, v, 4)
	}
}

func TestEmbedQueryCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(embedResp{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{1, 2, 3}}}})
	}))
	defer srv.Close()

	e := New(config.EmbeddingConfig{BaseURL: srv.URL, Path: "/embed", Dimension: 3})
	v1, err := e.EmbedQuery(t.Context(), "hello")
	require.NoError(t, err)
	v2, err := e.EmbedQuery(t.Context(), "hello")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls)
}
