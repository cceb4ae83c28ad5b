// Package httpapi exposes the RAG backend's five logical services (Health,
// Chat, Resource) over a plain net/http.ServeMux using Go 1.22+
// method-pattern routes, JSON bodies, and Server-Sent Events for the
// streaming chat endpoint.
package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ragserv/internal/chatsession"
	"ragserv/internal/config"
	"ragserv/internal/embedding"
	"ragserv/internal/fetcher"
	"ragserv/internal/ingestion"
	"ragserv/internal/objectstore"
	"ragserv/internal/persistence"
)

// Server wires the service layer (chat session, ingestion pipeline, store)
// to HTTP routes.
type Server struct {
	chat      *chatsession.Session
	ingestion *ingestion.Pipeline
	store     persistence.Store
	pool      *pgxpool.Pool
	embedCfg  config.EmbeddingConfig
	objects   objectstore.ObjectStore
	fetch     *fetcher.Fetcher // may be nil; AddResource then rejects source_url inputs

	bearerToken string
	startedAt   time.Time
	mux         *http.ServeMux
}

// Deps collects Server's collaborators. Objects and Fetch may be left zero
// valued: ChunkedUpload and source_url-based AddResource calls then fail
// with INVALID_ARGUMENT instead of panicking.
type Deps struct {
	Chat           *chatsession.Session
	Ingestion      *ingestion.Pipeline
	Store          persistence.Store
	Pool           *pgxpool.Pool
	EmbeddingConf  config.EmbeddingConfig
	Objects        objectstore.ObjectStore
	Fetch          *fetcher.Fetcher
	APIBearerToken string
}

// NewServer constructs a Server and registers its routes.
func NewServer(d Deps) *Server {
	s := &Server{
		chat:        d.Chat,
		ingestion:   d.Ingestion,
		store:       d.Store,
		pool:        d.Pool,
		embedCfg:    d.EmbeddingConf,
		objects:     d.Objects,
		fetch:       d.Fetch,
		bearerToken: d.APIBearerToken,
		startedAt:   time.Now(),
		mux:         http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler, applying the bearer-token gate before
// dispatching to the mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		respondError(w, withCode(CodePermissionDenied, errUnauthorized))
		return
	}
	s.mux.ServeHTTP(w, r)
}

// authorized reports whether r may proceed: always true when no bearer
// token is configured, always true for the health endpoint, and otherwise
// a constant-time comparison against the configured token.
func (s *Server) authorized(r *http.Request) bool {
	if s.bearerToken == "" {
		return true
	}
	if r.URL.Path == "/api/v1/health" {
		return true
	}
	const prefix = "Bearer "
	authz := r.Header.Get("Authorization")
	if len(authz) <= len(prefix) || authz[:len(prefix)] != prefix {
		return false
	}
	given := authz[len(prefix):]
	return subtle.ConstantTimeCompare([]byte(given), []byte(s.bearerToken)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealthCheck)
	s.mux.HandleFunc("GET /api/v1/health/ready", s.handleHealthReady)

	s.mux.HandleFunc("POST /api/v1/chat/messages", s.handleSendMessage)
	s.mux.HandleFunc("POST /api/v1/chat/stream", s.handleStreamChat)
	s.mux.HandleFunc("GET /api/v1/chat/conversations/{id}", s.handleGetConversation)
	s.mux.HandleFunc("DELETE /api/v1/chat/conversations/{id}", s.handleDeleteConversation)
	s.mux.HandleFunc("POST /api/v1/chat/conversations/{id}/title", s.handleGenerateTitle)

	s.mux.HandleFunc("POST /api/v1/resources", s.handleAddResource)
	s.mux.HandleFunc("GET /api/v1/resources/{id}/status", s.handleGetResourceStatus)
	s.mux.HandleFunc("GET /api/v1/resources", s.handleListResources)
	s.mux.HandleFunc("DELETE /api/v1/resources/{id}", s.handleDeleteResource)
	s.mux.HandleFunc("POST /api/v1/resources/jobs/{id}/cancel", s.handleCancelIngestion)
	s.mux.HandleFunc("POST /api/v1/resources/upload", s.handleChunkedUpload)
	s.mux.HandleFunc("POST /api/v1/resources/sync", s.handleSyncResourceMetadata)
}

var errUnauthorized = &authError{}

type authError struct{}

func (*authError) Error() string { return "missing or invalid bearer token" }

var errStreamingUnsupported = &streamingUnsupportedError{}

type streamingUnsupportedError struct{}

func (*streamingUnsupportedError) Error() string { return "response writer does not support streaming" }

func ping(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return pool.Ping(ctx)
}

func checkEmbeddings(ctx context.Context, cfg config.EmbeddingConfig) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return embedding.CheckReachability(ctx, cfg)
}
