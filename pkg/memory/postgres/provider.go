package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomctx/loomctx/internal/loomerr"
	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/memory"
)

// Compile-time assertion that Provider satisfies the memory.ProviderAdapter
// interface.
var _ memory.ProviderAdapter = (*Provider)(nil)

// Provider is a PostgreSQL-backed [memory.ProviderAdapter] for a single
// [memory.Layer]. Full entry data (content, importance, timestamps) lives
// in memory_entries; vector data is delegated to a [Backend] so that
// multiple layers can share one vector index or each use a dedicated one.
type Provider struct {
	pool    *pgxpool.Pool
	backend *Backend
	layer   memory.Layer
}

// NewProvider returns a Provider for layer, storing entries in this pool
// and delegating vector operations to backend.
func NewProvider(pool *pgxpool.Pool, backend *Backend, layer memory.Layer) *Provider {
	return &Provider{pool: pool, backend: backend, layer: layer}
}

// Add implements [memory.ProviderAdapter.Add].
func (p *Provider) Add(ctx context.Context, tc identity.TenantContext, entry memory.Entry) (memory.Entry, error) {
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	entry.Layer = p.layer

	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return memory.Entry{}, fmt.Errorf("memory postgres: marshal metadata: %w", err)
	}

	const q = `
		INSERT INTO memory_entries (tenant_id, layer, id, content, metadata, importance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, layer, id) DO UPDATE SET
		    content    = EXCLUDED.content,
		    metadata   = EXCLUDED.metadata,
		    importance = EXCLUDED.importance,
		    updated_at = EXCLUDED.updated_at`

	if _, err := p.pool.Exec(ctx, q, string(tc.TenantID), int(p.layer), entry.ID, entry.Content, metaJSON,
		entry.Importance, entry.CreatedAt, entry.UpdatedAt); err != nil {
		return memory.Entry{}, loomerr.Internal("memory_add_failed", "failed to insert memory entry", err)
	}

	if _, err := p.backend.Upsert(ctx, tc.TenantID, []memory.Record{{ID: entry.ID, Vector: entry.Embedding, Metadata: entry.Metadata}}); err != nil {
		return memory.Entry{}, loomerr.Internal("memory_add_backend_failed", "vector backend upsert failed", err)
	}
	return entry, nil
}

// Search implements [memory.ProviderAdapter.Search]. It delegates
// similarity ranking to the backend and joins the returned ids back
// against memory_entries for full entry data.
func (p *Provider) Search(ctx context.Context, tc identity.TenantContext, vector []float32, limit int, filter memory.Filter) ([]memory.SearchResult, error) {
	scored, err := p.backend.Search(ctx, tc.TenantID, memory.SearchQuery{Vector: vector, Limit: limit, Filter: filter})
	if err != nil {
		return nil, loomerr.Internal("memory_search_backend_failed", "vector backend search failed", err)
	}
	if len(scored) == 0 {
		return []memory.SearchResult{}, nil
	}

	ids := make([]string, len(scored))
	scoreByID := make(map[string]float64, len(scored))
	for i, s := range scored {
		ids[i] = s.ID
		scoreByID[s.ID] = s.Score
	}

	const q = `
		SELECT id, content, metadata, importance, created_at, updated_at
		FROM   memory_entries
		WHERE  tenant_id = $1 AND layer = $2 AND id = ANY($3)`

	rows, err := p.pool.Query(ctx, q, string(tc.TenantID), int(p.layer), ids)
	if err != nil {
		return nil, loomerr.Internal("memory_search_join_failed", "failed to load entries for search results", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Entry, error) {
		var (
			e        memory.Entry
			metaJSON []byte
		)
		if err := row.Scan(&e.ID, &e.Content, &metaJSON, &e.Importance, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return memory.Entry{}, err
		}
		if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
			return memory.Entry{}, err
		}
		e.Layer = p.layer
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory postgres: scan search entries: %w", err)
	}

	byID := make(map[string]memory.Entry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	out := make([]memory.SearchResult, 0, len(scored))
	for _, s := range scored {
		e, ok := byID[s.ID]
		if !ok {
			continue
		}
		out = append(out, memory.SearchResult{Entry: e, Score: scoreByID[s.ID], Layer: p.layer})
	}
	return out, nil
}

// Get implements [memory.ProviderAdapter.Get].
func (p *Provider) Get(ctx context.Context, tc identity.TenantContext, id string) (*memory.Entry, error) {
	const q = `
		SELECT id, content, metadata, importance, created_at, updated_at
		FROM   memory_entries
		WHERE  tenant_id = $1 AND layer = $2 AND id = $3`

	var (
		e        memory.Entry
		metaJSON []byte
	)
	err := p.pool.QueryRow(ctx, q, string(tc.TenantID), int(p.layer), id).
		Scan(&e.ID, &e.Content, &metaJSON, &e.Importance, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, loomerr.Internal("memory_get_failed", "failed to load memory entry", err)
	}
	if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
		return nil, fmt.Errorf("memory postgres: unmarshal metadata: %w", err)
	}
	e.Layer = p.layer

	embedding, err := p.backend.Get(ctx, tc.TenantID, id)
	if err == nil && embedding != nil {
		e.Embedding = embedding.Vector
	}
	return &e, nil
}

// Update implements [memory.ProviderAdapter.Update].
func (p *Provider) Update(ctx context.Context, tc identity.TenantContext, entry memory.Entry) error {
	entry.Layer = p.layer
	entry.UpdatedAt = time.Now()

	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("memory postgres: marshal metadata: %w", err)
	}

	const q = `
		UPDATE memory_entries
		SET    content = $4, metadata = $5, importance = $6, updated_at = $7
		WHERE  tenant_id = $1 AND layer = $2 AND id = $3`

	tag, err := p.pool.Exec(ctx, q, string(tc.TenantID), int(p.layer), entry.ID,
		entry.Content, metaJSON, entry.Importance, entry.UpdatedAt)
	if err != nil {
		return loomerr.Internal("memory_update_failed", "failed to update memory entry", err)
	}
	if tag.RowsAffected() == 0 {
		return loomerr.Validation("memory_entry_not_found", "entry does not exist")
	}

	_, err = p.backend.Upsert(ctx, tc.TenantID, []memory.Record{{ID: entry.ID, Vector: entry.Embedding, Metadata: entry.Metadata}})
	return err
}

// Delete implements [memory.ProviderAdapter.Delete].
func (p *Provider) Delete(ctx context.Context, tc identity.TenantContext, id string) error {
	const q = `DELETE FROM memory_entries WHERE tenant_id = $1 AND layer = $2 AND id = $3`
	if _, err := p.pool.Exec(ctx, q, string(tc.TenantID), int(p.layer), id); err != nil {
		return loomerr.Internal("memory_delete_failed", "failed to delete memory entry", err)
	}
	_, err := p.backend.Delete(ctx, tc.TenantID, []string{id})
	return err
}

// List implements [memory.ProviderAdapter.List]. The cursor is the
// created_at,id of the last row returned, encoded as a decimal Unix
// nanosecond timestamp and id joined by a pipe, so pagination remains
// stable under concurrent inserts.
func (p *Provider) List(ctx context.Context, tc identity.TenantContext, limit int, cursor memory.Cursor) ([]memory.Entry, memory.Cursor, error) {
	if limit <= 0 {
		limit = 50
	}
	afterNanos, afterID := decodeEntryCursor(cursor)

	const q = `
		SELECT id, content, metadata, importance, created_at, updated_at
		FROM   memory_entries
		WHERE  tenant_id = $1 AND layer = $2
		  AND  (created_at, id) > (to_timestamp($3 / 1000000000.0), $4)
		ORDER  BY created_at, id
		LIMIT  $5`

	rows, err := p.pool.Query(ctx, q, string(tc.TenantID), int(p.layer), afterNanos, afterID, limit+1)
	if err != nil {
		return nil, "", loomerr.Internal("memory_list_failed", "failed to list memory entries", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Entry, error) {
		var (
			e        memory.Entry
			metaJSON []byte
		)
		if err := row.Scan(&e.ID, &e.Content, &metaJSON, &e.Importance, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return memory.Entry{}, err
		}
		if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
			return memory.Entry{}, err
		}
		e.Layer = p.layer
		return e, nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("memory postgres: scan list rows: %w", err)
	}

	next := memory.Cursor("")
	if len(entries) > limit {
		last := entries[limit-1]
		next = encodeEntryCursor(last.CreatedAt, last.ID)
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	return entries, next, nil
}

func encodeEntryCursor(t time.Time, id string) memory.Cursor {
	return memory.Cursor(strconv.FormatInt(t.UnixNano(), 10) + "|" + id)
}

func decodeEntryCursor(c memory.Cursor) (int64, string) {
	s := string(c)
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			nanos, err := strconv.ParseInt(s[:i], 10, 64)
			if err != nil {
				return 0, ""
			}
			return nanos, s[i+1:]
		}
	}
	return 0, ""
}
