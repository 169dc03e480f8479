package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/loomctx/loomctx/internal/resilience"
	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/memory"
)

// Compile-time assertion that Backend satisfies the memory.VectorBackend
// interface.
var _ memory.VectorBackend = (*Backend)(nil)

// Backend is a pgvector-backed [memory.VectorBackend]. A single Backend may
// be shared across every layer's [Provider] — rows are not scoped by
// layer, only by tenant, mirroring the in-memory mock's sharing model — or
// a dedicated Backend per layer can be used where each layer's embeddings
// should never collide by id.
type Backend struct {
	pool *pgxpool.Pool
	cb   *resilience.CircuitBreaker
}

// NewBackend wraps an existing pool. Call [Migrate] once at startup to
// ensure memory_vectors exists first. Every round trip to Postgres is
// guarded by a per-Backend [resilience.CircuitBreaker] so a stalled pool
// fails fast for callers instead of queuing behind dead connections.
func NewBackend(pool *pgxpool.Pool) *Backend {
	return &Backend{
		pool: pool,
		cb: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "memory-postgres-backend",
		}),
	}
}

// HealthCheck implements [memory.VectorBackend.HealthCheck].
func (b *Backend) HealthCheck(ctx context.Context) (memory.HealthStatus, error) {
	start := time.Now()
	if err := b.pool.Ping(ctx); err != nil {
		return memory.HealthStatus{Healthy: false, Backend: "postgres"}, fmt.Errorf("memory postgres: health check: %w", err)
	}
	return memory.HealthStatus{
		Healthy:   true,
		Backend:   "postgres",
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Capabilities implements [memory.VectorBackend.Capabilities].
func (b *Backend) Capabilities() memory.Capabilities {
	return memory.Capabilities{
		MaxBatchSize:           1000,
		SupportsMetadataFilter: true,
		SupportsHybridSearch:   false,
		SupportsBatchUpsert:    true,
	}
}

// Upsert implements [memory.VectorBackend.Upsert]. Rows are written one
// statement per record inside a single transaction, so a partial failure
// rolls back the whole batch rather than reporting per-record failures.
func (b *Backend) Upsert(ctx context.Context, tenant identity.TenantID, records []memory.Record) (memory.UpsertResult, error) {
	if len(records) == 0 {
		return memory.UpsertResult{}, nil
	}

	var result memory.UpsertResult
	err := b.cb.Execute(func() error {
		tx, err := b.pool.Begin(ctx)
		if err != nil {
			return newRetryableError("upsert", err)
		}
		defer tx.Rollback(ctx)

		const q = `
			INSERT INTO memory_vectors (tenant_id, id, embedding, metadata)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tenant_id, id) DO UPDATE SET
			    embedding = EXCLUDED.embedding,
			    metadata  = EXCLUDED.metadata`

		for _, r := range records {
			metaJSON, err := json.Marshal(r.Metadata)
			if err != nil {
				return fmt.Errorf("memory postgres: marshal metadata: %w", err)
			}
			vec := pgvector.NewVector(r.Vector)
			if _, err := tx.Exec(ctx, q, string(tenant), r.ID, vec, metaJSON); err != nil {
				return newRetryableError("upsert", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return newRetryableError("upsert", err)
		}
		result = memory.UpsertResult{UpsertedCount: len(records)}
		return nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return memory.UpsertResult{}, newRetryableError("upsert", err)
		}
		return memory.UpsertResult{}, err
	}
	return result, nil
}

// Search implements [memory.VectorBackend.Search] using pgvector's cosine
// distance operator (<=>), converted to a similarity score (1 - distance)
// so that higher is always more similar, matching the contract's ordering.
func (b *Backend) Search(ctx context.Context, tenant identity.TenantID, q memory.SearchQuery) ([]memory.ScoredRecord, error) {
	queryVec := pgvector.NewVector(q.Vector)

	args := []any{string(tenant), queryVec}
	conditions := ""
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	for k, want := range q.Filter.MetadataEquals {
		conditions += fmt.Sprintf(" AND metadata->>%s = %s", quoteLiteral(k), next(fmt.Sprint(want)))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	query := fmt.Sprintf(`
		SELECT id, embedding, metadata, 1 - (embedding <=> $2) AS score
		FROM   memory_vectors
		WHERE  tenant_id = $1 %s
		ORDER  BY embedding <=> $2
		LIMIT  %s`, conditions, limitArg)

	var results []memory.ScoredRecord
	err := b.cb.Execute(func() error {
		rows, err := b.pool.Query(ctx, query, args...)
		if err != nil {
			return newRetryableError("search", err)
		}

		collected, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.ScoredRecord, error) {
			var (
				sr       memory.ScoredRecord
				vec      pgvector.Vector
				metaJSON []byte
			)
			if err := row.Scan(&sr.Record.ID, &vec, &metaJSON, &sr.Score); err != nil {
				return memory.ScoredRecord{}, err
			}
			sr.Record.Vector = vec.Slice()
			if err := json.Unmarshal(metaJSON, &sr.Record.Metadata); err != nil {
				return memory.ScoredRecord{}, err
			}
			return sr, nil
		})
		if err != nil {
			return fmt.Errorf("memory postgres: scan search rows: %w", err)
		}
		results = collected
		return nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, newRetryableError("search", err)
		}
		return nil, err
	}
	if results == nil {
		results = []memory.ScoredRecord{}
	}
	return results, nil
}

// Delete implements [memory.VectorBackend.Delete].
func (b *Backend) Delete(ctx context.Context, tenant identity.TenantID, ids []string) (memory.DeleteResult, error) {
	if len(ids) == 0 {
		return memory.DeleteResult{}, nil
	}
	const q = `DELETE FROM memory_vectors WHERE tenant_id = $1 AND id = ANY($2)`

	var result memory.DeleteResult
	err := b.cb.Execute(func() error {
		tag, err := b.pool.Exec(ctx, q, string(tenant), ids)
		if err != nil {
			return newRetryableError("delete", err)
		}
		result = memory.DeleteResult{DeletedCount: int(tag.RowsAffected())}
		return nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return memory.DeleteResult{}, newRetryableError("delete", err)
		}
		return memory.DeleteResult{}, err
	}
	return result, nil
}

// Get implements [memory.VectorBackend.Get].
func (b *Backend) Get(ctx context.Context, tenant identity.TenantID, id string) (*memory.Record, error) {
	const q = `SELECT id, embedding, metadata FROM memory_vectors WHERE tenant_id = $1 AND id = $2`

	var notFound bool
	var r memory.Record
	err := b.cb.Execute(func() error {
		var (
			vec      pgvector.Vector
			metaJSON []byte
		)
		scanErr := b.pool.QueryRow(ctx, q, string(tenant), id).Scan(&r.ID, &vec, &metaJSON)
		if scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				notFound = true
				return nil
			}
			return newRetryableError("get", scanErr)
		}
		r.Vector = vec.Slice()
		if scanErr := json.Unmarshal(metaJSON, &r.Metadata); scanErr != nil {
			return fmt.Errorf("memory postgres: unmarshal metadata: %w", scanErr)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, newRetryableError("get", err)
		}
		return nil, err
	}
	if notFound {
		return nil, nil
	}
	return &r, nil
}

// quoteLiteral escapes k for safe inline use as a SQL string literal in a
// JSONB ->> path. Metadata keys are developer-controlled (not end-user
// input), but values always travel as bind parameters.
func quoteLiteral(k string) string {
	return "'" + stripQuotes(k) + "'"
}

func stripQuotes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

// newRetryableError wraps any non-nil Postgres driver error as a retryable
// [memory.BackendError] with RetryAfter set to
// [memory.DefaultRetryConnection]. It does not distinguish connection and
// timeout failures from other errors.
func newRetryableError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &memory.BackendError{
		Op:          op,
		Err:         err,
		IsRetryable: true,
		RetryAfter:  memory.DefaultRetryConnection,
	}
}
