package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"ragserv/internal/persistence"
)

// Store implements persistence.Store against a Postgres pool. When vector is
// non-nil, similarity search is delegated to it (e.g. Qdrant) instead of the
// pgvector column on document_chunks.
type Store struct {
	pool   *pgxpool.Pool
	vector persistence.SearchStore // non-nil only when an alternate vector backend replaces pgvector search
}

// New returns a Store backed by pool. Call persistence.Migrate(ctx, pool)
// once at startup before using it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithVectorBackend swaps similarity search to an alternate SearchStore
// (e.g. a Qdrant-backed one), leaving document/job/conversation storage on
// Postgres.
func (s *Store) WithVectorBackend(v persistence.SearchStore) *Store {
	s.vector = v
	return s
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

var _ persistence.Store = (*Store)(nil)

func jsonOrEmpty(b []byte) []byte {
	if len(b) == 0 || string(b) == "null" {
		return []byte("{}")
	}
	return b
}

func mustCtx(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
