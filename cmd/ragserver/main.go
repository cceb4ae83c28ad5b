// Command ragserver is the process entry point: it loads configuration,
// wires every component (persistence, embedding, retrieval, chat, ingestion)
// and serves the HTTP API until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"ragserv/internal/chatsession"
	"ragserv/internal/config"
	"ragserv/internal/embedding"
	"ragserv/internal/fetcher"
	"ragserv/internal/httpapi"
	"ragserv/internal/ingestion"
	"ragserv/internal/jobevents"
	"ragserv/internal/llm"
	"ragserv/internal/llm/providers"
	"ragserv/internal/memory"
	"ragserv/internal/objectstore"
	"ragserv/internal/observability"
	"ragserv/internal/persistence"
	"ragserv/internal/persistence/postgres"
	"ragserv/internal/persistence/qdrant"
	"ragserv/internal/querypipeline"
	"ragserv/internal/search"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("ragserver")
	}
}

func run() error {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)
	llm.ConfigureLogging(cfg.LLM.LogPrompts, cfg.LLM.LogTruncateBytes)

	baseCtx := context.Background()

	shutdown, err := observability.InitOTel(baseCtx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	pool, err := pgxpool.New(baseCtx, cfg.DB.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := persistence.Migrate(baseCtx, pool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	store := postgres.New(pool)
	if cfg.DB.VectorBackend == "qdrant" {
		vector, err := qdrant.New(baseCtx, cfg.DB.VectorDSN, cfg.DB.VectorIndex, cfg.DB.VectorDimension)
		if err != nil {
			return fmt.Errorf("connect qdrant: %w", err)
		}
		defer vector.Close()
		store.WithVectorBackend(vector)
	}

	httpClient := observability.NewHTTPClient(nil)
	embedder := embedding.New(cfg.Embedding)
	provider, err := providers.Build(cfg, httpClient)
	if err != nil {
		return fmt.Errorf("build llm provider: %w", err)
	}

	searcher := search.New(store, embedder)
	queryPipeline := querypipeline.New(searcher, provider, cfg.LLM.Model)
	extractor := memory.New(provider, cfg.LLM.Model)
	chat := chatsession.New(store, queryPipeline, extractor, provider, cfg.LLM.Model)

	events := jobevents.New(cfg.Kafka)
	defer events.Close()
	ingestionPipeline := ingestion.New(store, embedder, cfg.Ingestion).WithEvents(events)

	fetch := fetcher.NewDefault("")

	var objects objectstore.ObjectStore
	if cfg.Objects.Bucket != "" {
		s3, err := objectstore.NewS3Store(baseCtx, cfg.Objects)
		if err != nil {
			return fmt.Errorf("connect object store: %w", err)
		}
		objects = s3
	} else {
		objects = objectstore.NewMemoryStore()
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Chat:           chat,
		Ingestion:      ingestionPipeline,
		Store:          store,
		Pool:           pool,
		EmbeddingConf:  cfg.Embedding,
		Objects:        objects,
		Fetch:          fetch,
		APIBearerToken: cfg.APIBearerToken,
	})

	httpSrv := &http.Server{Addr: ":" + cfg.GRPCPort, Handler: srv}

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpSrv.Addr).Msg("ragserver listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	return nil
}
