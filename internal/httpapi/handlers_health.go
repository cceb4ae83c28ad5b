package httpapi

import (
	"net/http"
	"time"

	"ragserv/internal/version"
)

type healthCheckResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, healthCheckResponse{
		Status:        "ok",
		Version:       version.Version,
		UptimeSeconds: int64(time.Since(s.startedAt) / time.Second),
	})
}

type healthReadyResponse struct {
	Ready            bool            `json:"ready"`
	DependencyStatus map[string]bool `json:"dependencyStatus"`
}

func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dbOK := ping(ctx, s.pool) == nil
	embedOK := checkEmbeddings(ctx, s.embedCfg) == nil

	resp := healthReadyResponse{
		Ready: dbOK && embedOK,
		DependencyStatus: map[string]bool{
			"database":   dbOK,
			"embeddings": embedOK,
		},
	}
	respondJSON(w, http.StatusOK, resp)
}
