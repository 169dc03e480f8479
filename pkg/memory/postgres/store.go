package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomctx/loomctx/pkg/memory"
)

// Store owns a PostgreSQL connection pool and constructs a [Provider] per
// [memory.Layer] on demand, all sharing a single [Backend] for vector
// operations.
type Store struct {
	pool    *pgxpool.Pool
	backend *Backend
}

// NewStore creates a new connection pool to dsn, registers pgvector types
// on every connection, and runs [Migrate].
//
// embeddingDimensions must match the output dimension of the embedding
// model used platform-wide (see [embeddings.Provider.Dimensions]).
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("memory postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = RegisterTypes

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("memory postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool, backend: NewBackend(pool)}, nil
}

// Backend returns the shared [Backend] every layer's provider is backed by.
func (s *Store) Backend() *Backend { return s.backend }

// Pool returns the underlying connection pool. No other component in this
// module uses it; the graph store and authorization CDC open their own.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Provider returns a [Provider] for layer, backed by this Store's pool and
// shared Backend.
func (s *Store) Provider(layer memory.Layer) *Provider {
	return NewProvider(s.pool, s.backend, layer)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
