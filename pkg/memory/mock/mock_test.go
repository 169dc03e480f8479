package mock_test

import (
	"context"
	"testing"

	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/memory"
	"github.com/loomctx/loomctx/pkg/memory/mock"
)

func testTenant() identity.TenantContext {
	return identity.TenantContext{TenantID: "tenant-a"}
}

func TestProviderAddAssignsTimestamps(t *testing.T) {
	p := mock.NewProvider(memory.LayerAgent, mock.NewBackend())
	ctx := context.Background()
	tc := testTenant()

	created, err := p.Add(ctx, tc, memory.Entry{ID: "e-1", Content: "hello"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Fatal("expected Add to populate CreatedAt/UpdatedAt")
	}
	if created.Layer != memory.LayerAgent {
		t.Fatalf("expected Layer to be set to LayerAgent, got %v", created.Layer)
	}
}

func TestProviderGetMissingReturnsNilNil(t *testing.T) {
	p := mock.NewProvider(memory.LayerAgent, mock.NewBackend())
	got, err := p.Get(context.Background(), testTenant(), "nonexistent")
	if err != nil {
		t.Fatalf("expected no error for missing entry, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil entry for missing id, got %+v", got)
	}
}

func TestProviderUpdateRejectsMissingEntry(t *testing.T) {
	p := mock.NewProvider(memory.LayerAgent, mock.NewBackend())
	err := p.Update(context.Background(), testTenant(), memory.Entry{ID: "ghost"})
	if err == nil {
		t.Fatal("expected error updating a nonexistent entry")
	}
}

func TestProviderSearchRanksBySimilarity(t *testing.T) {
	backend := mock.NewBackend()
	p := mock.NewProvider(memory.LayerAgent, backend)
	ctx := context.Background()
	tc := testTenant()

	if _, err := p.Add(ctx, tc, memory.Entry{ID: "close", Content: "a", Embedding: []float32{1, 0, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := p.Add(ctx, tc, memory.Entry{ID: "orthogonal", Content: "b", Embedding: []float32{0, 1, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := p.Search(ctx, tc, []float32{1, 0, 0}, 10, memory.Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Entry.ID != "close" {
		t.Fatalf("expected 'close' to rank first, got %s", results[0].Entry.ID)
	}
}

func TestProviderSearchAppliesMetadataFilter(t *testing.T) {
	backend := mock.NewBackend()
	p := mock.NewProvider(memory.LayerAgent, backend)
	ctx := context.Background()
	tc := testTenant()

	if _, err := p.Add(ctx, tc, memory.Entry{ID: "s1", Content: "a", Embedding: []float32{1, 0}, Metadata: map[string]any{memory.MetaSessionID: "session-1"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := p.Add(ctx, tc, memory.Entry{ID: "s2", Content: "b", Embedding: []float32{1, 0}, Metadata: map[string]any{memory.MetaSessionID: "session-2"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := p.Search(ctx, tc, []float32{1, 0}, 10, memory.Filter{SessionID: "session-1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Entry.ID != "s1" {
		t.Fatalf("expected only s1 to match session-1 filter, got %+v", results)
	}
}

func TestProviderDeleteRemovesFromListAndSearch(t *testing.T) {
	backend := mock.NewBackend()
	p := mock.NewProvider(memory.LayerAgent, backend)
	ctx := context.Background()
	tc := testTenant()

	if _, err := p.Add(ctx, tc, memory.Entry{ID: "e-1", Content: "x", Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.Delete(ctx, tc, "e-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := p.Get(ctx, tc, "e-1")
	if err != nil || got != nil {
		t.Fatalf("expected entry gone after delete, got %+v err=%v", got, err)
	}

	entries, _, err := p.List(ctx, tc, 10, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty list after delete, got %d entries", len(entries))
	}
}

func TestProviderListPaginates(t *testing.T) {
	backend := mock.NewBackend()
	p := mock.NewProvider(memory.LayerAgent, backend)
	ctx := context.Background()
	tc := testTenant()

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		if _, err := p.Add(ctx, tc, memory.Entry{ID: id, Content: id}); err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
	}

	page1, cursor1, err := p.List(ctx, tc, 2, "")
	if err != nil {
		t.Fatalf("List page1: %v", err)
	}
	if len(page1) != 2 || cursor1 == "" {
		t.Fatalf("expected 2 entries and a next cursor, got %d entries, cursor=%q", len(page1), cursor1)
	}

	page2, cursor2, err := p.List(ctx, tc, 2, cursor1)
	if err != nil {
		t.Fatalf("List page2: %v", err)
	}
	if len(page2) != 2 || cursor2 == "" {
		t.Fatalf("expected 2 more entries and a next cursor, got %d entries, cursor=%q", len(page2), cursor2)
	}

	page3, cursor3, err := p.List(ctx, tc, 2, cursor2)
	if err != nil {
		t.Fatalf("List page3: %v", err)
	}
	if len(page3) != 1 || cursor3 != "" {
		t.Fatalf("expected 1 final entry and an empty cursor, got %d entries, cursor=%q", len(page3), cursor3)
	}
}

func TestBackendTenantIsolation(t *testing.T) {
	backend := mock.NewBackend()
	ctx := context.Background()

	if _, err := backend.Upsert(ctx, "tenant-a", []memory.Record{{ID: "shared", Vector: []float32{1, 0}}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := backend.Get(ctx, "tenant-b", "shared")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatal("expected tenant-b to not see tenant-a's record")
	}
}

func TestBackendHealthCheckAlwaysHealthy(t *testing.T) {
	backend := mock.NewBackend()
	status, err := backend.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if !status.Healthy {
		t.Fatal("expected mock backend to always report healthy")
	}
}
