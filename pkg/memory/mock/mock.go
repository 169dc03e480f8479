// Package mock provides in-memory implementations of [memory.VectorBackend]
// and [memory.ProviderAdapter], suitable for tests and for environments
// without a Postgres backend. Similarity is computed via cosine distance
// over the full tenant-scoped record set — adequate for small test fixtures,
// not for production-scale search.
package mock

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/loomctx/loomctx/internal/loomerr"
	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/memory"
)

// Compile-time assertions.
var (
	_ memory.VectorBackend   = (*Backend)(nil)
	_ memory.ProviderAdapter = (*Provider)(nil)
)

// Backend is a thread-safe, in-memory [memory.VectorBackend].
// The zero value is ready to use.
type Backend struct {
	mu      sync.RWMutex
	records map[identity.TenantID]map[string]memory.Record
}

// NewBackend returns an initialized Backend.
func NewBackend() *Backend {
	return &Backend{records: make(map[identity.TenantID]map[string]memory.Record)}
}

// HealthCheck implements [memory.VectorBackend.HealthCheck]. The in-memory
// backend is always healthy.
func (b *Backend) HealthCheck(ctx context.Context) (memory.HealthStatus, error) {
	return memory.HealthStatus{Healthy: true, Backend: "mock", LatencyMs: 0}, nil
}

// Capabilities implements [memory.VectorBackend.Capabilities].
func (b *Backend) Capabilities() memory.Capabilities {
	return memory.Capabilities{
		MaxBatchSize:           10000,
		SupportsMetadataFilter: true,
		SupportsHybridSearch:   false,
		SupportsBatchUpsert:    true,
	}
}

// Upsert implements [memory.VectorBackend.Upsert].
func (b *Backend) Upsert(ctx context.Context, tenant identity.TenantID, records []memory.Record) (memory.UpsertResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.records == nil {
		b.records = make(map[identity.TenantID]map[string]memory.Record)
	}
	if b.records[tenant] == nil {
		b.records[tenant] = make(map[string]memory.Record)
	}
	for _, r := range records {
		b.records[tenant][r.ID] = r
	}
	return memory.UpsertResult{UpsertedCount: len(records)}, nil
}

// Search implements [memory.VectorBackend.Search]. When q.Vector is nil, all
// matching tenant records are returned with a score of 1.0 up to q.Limit,
// in no particular order.
func (b *Backend) Search(ctx context.Context, tenant identity.TenantID, q memory.SearchQuery) ([]memory.ScoredRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []memory.ScoredRecord
	for _, r := range b.records[tenant] {
		if !matchesFilter(r.Metadata, q.Filter) {
			continue
		}
		score := 1.0
		if q.Vector != nil {
			score = cosineSimilarity(q.Vector, r.Vector)
		}
		out = append(out, memory.ScoredRecord{Record: r, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	if out == nil {
		out = []memory.ScoredRecord{}
	}
	return out, nil
}

// Delete implements [memory.VectorBackend.Delete].
func (b *Backend) Delete(ctx context.Context, tenant identity.TenantID, ids []string) (memory.DeleteResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, id := range ids {
		if _, ok := b.records[tenant][id]; ok {
			delete(b.records[tenant], id)
			n++
		}
	}
	return memory.DeleteResult{DeletedCount: n}, nil
}

// Get implements [memory.VectorBackend.Get].
func (b *Backend) Get(ctx context.Context, tenant identity.TenantID, id string) (*memory.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.records[tenant][id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func matchesFilter(metadata map[string]any, f memory.Filter) bool {
	if f.SessionID != "" {
		if v, _ := metadata[memory.MetaSessionID].(string); v != f.SessionID {
			return false
		}
	}
	if f.AgentID != "" {
		if v, _ := metadata[memory.MetaAgentID].(string); v != f.AgentID {
			return false
		}
	}
	for k, want := range f.MetadataEquals {
		if metadata[k] != want {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Provider is a thread-safe, in-memory [memory.ProviderAdapter] for a single
// [memory.Layer], backed by a [Backend] for vector search and its own entry
// store for full [memory.Entry] data (content, importance, timestamps).
type Provider struct {
	layer   memory.Layer
	backend *Backend

	mu      sync.RWMutex
	entries map[identity.TenantID]map[string]memory.Entry
	order   map[identity.TenantID][]string
}

// NewProvider returns a Provider for layer backed by backend. Pass a shared
// *Backend across layers to let [memory.Engine] promote entries between
// layers that share the same underlying vector store, or a dedicated
// Backend per layer to mirror separately configured backends.
func NewProvider(layer memory.Layer, backend *Backend) *Provider {
	return &Provider{
		layer:   layer,
		backend: backend,
		entries: make(map[identity.TenantID]map[string]memory.Entry),
		order:   make(map[identity.TenantID][]string),
	}
}

// Add implements [memory.ProviderAdapter.Add].
func (p *Provider) Add(ctx context.Context, tc identity.TenantContext, entry memory.Entry) (memory.Entry, error) {
	now := time.Now()
	entry.Layer = p.layer
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	p.mu.Lock()
	if p.entries[tc.TenantID] == nil {
		p.entries[tc.TenantID] = make(map[string]memory.Entry)
	}
	if _, exists := p.entries[tc.TenantID][entry.ID]; !exists {
		p.order[tc.TenantID] = append(p.order[tc.TenantID], entry.ID)
	}
	p.entries[tc.TenantID][entry.ID] = entry
	p.mu.Unlock()

	_, err := p.backend.Upsert(ctx, tc.TenantID, []memory.Record{{ID: entry.ID, Vector: entry.Embedding, Metadata: entry.Metadata}})
	if err != nil {
		return memory.Entry{}, loomerr.Internal("memory_add_backend_failed", "vector backend upsert failed", err)
	}
	return entry, nil
}

// Search implements [memory.ProviderAdapter.Search].
func (p *Provider) Search(ctx context.Context, tc identity.TenantContext, vector []float32, limit int, filter memory.Filter) ([]memory.SearchResult, error) {
	scored, err := p.backend.Search(ctx, tc.TenantID, memory.SearchQuery{Vector: vector, Limit: limit, Filter: filter})
	if err != nil {
		return nil, loomerr.Internal("memory_search_backend_failed", "vector backend search failed", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]memory.SearchResult, 0, len(scored))
	for _, s := range scored {
		e, ok := p.entries[tc.TenantID][s.ID]
		if !ok {
			continue
		}
		out = append(out, memory.SearchResult{Entry: e, Score: s.Score, Layer: p.layer})
	}
	return out, nil
}

// Get implements [memory.ProviderAdapter.Get].
func (p *Provider) Get(ctx context.Context, tc identity.TenantContext, id string) (*memory.Entry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[tc.TenantID][id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// Update implements [memory.ProviderAdapter.Update].
func (p *Provider) Update(ctx context.Context, tc identity.TenantContext, entry memory.Entry) error {
	p.mu.Lock()
	if _, ok := p.entries[tc.TenantID][entry.ID]; !ok {
		p.mu.Unlock()
		return loomerr.Validation("memory_entry_not_found", "entry does not exist")
	}
	entry.Layer = p.layer
	entry.UpdatedAt = time.Now()
	p.entries[tc.TenantID][entry.ID] = entry
	p.mu.Unlock()

	_, err := p.backend.Upsert(ctx, tc.TenantID, []memory.Record{{ID: entry.ID, Vector: entry.Embedding, Metadata: entry.Metadata}})
	return err
}

// Delete implements [memory.ProviderAdapter.Delete].
func (p *Provider) Delete(ctx context.Context, tc identity.TenantContext, id string) error {
	p.mu.Lock()
	delete(p.entries[tc.TenantID], id)
	order := p.order[tc.TenantID]
	for i, oid := range order {
		if oid == id {
			p.order[tc.TenantID] = append(order[:i], order[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	_, err := p.backend.Delete(ctx, tc.TenantID, []string{id})
	return err
}

// List implements [memory.ProviderAdapter.List]. The cursor is the 0-based
// index, in insertion order, of the next entry to return, encoded as a
// decimal string.
func (p *Provider) List(ctx context.Context, tc identity.TenantContext, limit int, cursor memory.Cursor) ([]memory.Entry, memory.Cursor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	offset := decodeCursor(cursor)
	order := p.order[tc.TenantID]
	if offset >= len(order) {
		return []memory.Entry{}, "", nil
	}
	end := len(order)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]memory.Entry, 0, end-offset)
	for _, id := range order[offset:end] {
		out = append(out, p.entries[tc.TenantID][id])
	}

	next := memory.Cursor("")
	if end < len(order) {
		next = encodeCursor(end)
	}
	return out, next, nil
}

func decodeCursor(c memory.Cursor) int {
	n := 0
	for _, r := range string(c) {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func encodeCursor(n int) memory.Cursor {
	if n == 0 {
		return "0"
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	return memory.Cursor(buf)
}
