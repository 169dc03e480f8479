// Package postgres implements [memory.VectorBackend] and [memory.ProviderAdapter]
// over a shared PostgreSQL connection pool using the pgvector extension for
// approximate nearest-neighbour search.
//
// Usage:
//
//	pool, _ := pgxpool.New(ctx, dsn)
//	_ = postgres.Migrate(ctx, pool, 1536)
//	backend := postgres.NewBackend(pool)
//	agentProvider := postgres.NewProvider(pool, backend, memory.LayerAgent)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// ─────────────────────────────────────────────────────────────────────────────
// Vector store DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlVectors = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_vectors (
    tenant_id  TEXT         NOT NULL,
    id         TEXT         NOT NULL,
    embedding  vector(%d),
    metadata   JSONB        NOT NULL DEFAULT '{}',
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_memory_vectors_embedding
    ON memory_vectors USING hnsw (embedding vector_cosine_ops);
`

// ─────────────────────────────────────────────────────────────────────────────
// Entry store DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlEntries = `
CREATE TABLE IF NOT EXISTS memory_entries (
    tenant_id   TEXT             NOT NULL,
    layer       SMALLINT         NOT NULL,
    id          TEXT             NOT NULL,
    content     TEXT             NOT NULL,
    metadata    JSONB            NOT NULL DEFAULT '{}',
    importance  DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ      NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ      NOT NULL DEFAULT now(),
    PRIMARY KEY (tenant_id, layer, id)
);

CREATE INDEX IF NOT EXISTS idx_memory_entries_layer
    ON memory_entries (tenant_id, layer);

CREATE INDEX IF NOT EXISTS idx_memory_entries_created_at
    ON memory_entries (tenant_id, layer, created_at);
`

// Migrate creates the memory_vectors and memory_entries tables if they do
// not already exist and installs the pgvector extension.
//
// embeddingDimensions must match the output dimension of the configured
// [embeddings.Provider] (e.g. 1536 for OpenAI text-embedding-3-small).
// Changing this value after the first migration requires a manual schema
// change. Migrate is idempotent and safe to call on every application
// start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		fmt.Sprintf(ddlVectors, embeddingDimensions),
		ddlEntries,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("memory postgres: migrate: %w", err)
		}
	}
	return nil
}

// RegisterTypes registers pgvector's wire codec on conn. Pass this as (or
// call it from) a [pgxpool.Config.AfterConnect] hook so that every pooled
// connection can scan into and construct from pgvector.Vector values.
func RegisterTypes(ctx context.Context, conn *pgx.Conn) error {
	return pgxvec.RegisterTypes(ctx, conn)
}
