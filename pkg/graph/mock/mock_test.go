package mock_test

import (
	"context"
	"testing"

	"github.com/loomctx/loomctx/pkg/graph"
	"github.com/loomctx/loomctx/pkg/graph/mock"
	"github.com/loomctx/loomctx/pkg/identity"
)

func testTenant() identity.TenantContext {
	return identity.TenantContext{TenantID: "tenant-a"}
}

func buildChain(t *testing.T, s *mock.Store, tc identity.TenantContext, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		if err := s.AddNode(ctx, tc, graph.Node{ID: id, Label: id}); err != nil {
			t.Fatalf("AddNode(%s): %v", id, err)
		}
	}
	for i := 0; i < len(ids)-1; i++ {
		edge := graph.Edge{ID: ids[i] + "-" + ids[i+1], SourceID: ids[i], TargetID: ids[i+1], Relation: "next"}
		if err := s.AddEdge(ctx, tc, edge); err != nil {
			t.Fatalf("AddEdge(%s->%s): %v", ids[i], ids[i+1], err)
		}
	}
}

func TestFindPathSameStartAndEnd(t *testing.T) {
	s := mock.New()
	tc := testTenant()
	path, err := s.FindPath(context.Background(), tc, "a", "a", graph.DefaultMaxDepth)
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if len(path) != 0 {
		t.Fatalf("expected empty path for start==end, got %d edges", len(path))
	}
}

func TestFindPathNoPathExists(t *testing.T) {
	s := mock.New()
	tc := testTenant()
	buildChain(t, s, tc, "a", "b")

	path, err := s.FindPath(context.Background(), tc, "a", "z", graph.DefaultMaxDepth)
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if len(path) != 0 {
		t.Fatalf("expected empty path when no route exists, got %d edges", len(path))
	}
}

func TestFindPathReturnsShortestByHopCount(t *testing.T) {
	s := mock.New()
	tc := testTenant()
	ctx := context.Background()

	// Long chain a->b->c->d plus a direct shortcut a->d.
	buildChain(t, s, tc, "a", "b", "c", "d")
	if err := s.AddEdge(ctx, tc, graph.Edge{ID: "a-d-shortcut", SourceID: "a", TargetID: "d", Relation: "shortcut"}); err != nil {
		t.Fatalf("AddEdge shortcut: %v", err)
	}

	path, err := s.FindPath(ctx, tc, "a", "d", graph.DefaultMaxDepth)
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if len(path) != 1 {
		t.Fatalf("expected shortest 1-hop path via shortcut, got %d edges: %+v", len(path), path)
	}
}

func TestFindPathRespectsMaxDepth(t *testing.T) {
	s := mock.New()
	tc := testTenant()
	buildChain(t, s, tc, "a", "b", "c", "d", "e")

	path, err := s.FindPath(context.Background(), tc, "a", "e", 2)
	if err != nil {
		t.Fatalf("FindPath: %v", err)
	}
	if len(path) != 0 {
		t.Fatalf("expected no path within depth 2 for a 4-hop chain, got %d edges", len(path))
	}
}

func TestGetNeighborsReturnsOutgoingEdgesOnly(t *testing.T) {
	s := mock.New()
	tc := testTenant()
	buildChain(t, s, tc, "a", "b")
	buildChain(t, s, tc, "c", "a")

	neighbors, err := s.GetNeighbors(context.Background(), tc, "a")
	if err != nil {
		t.Fatalf("GetNeighbors: %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].Node.ID != "b" {
		t.Fatalf("expected exactly one outgoing neighbor b, got %+v", neighbors)
	}
}

func TestTenantIsolation(t *testing.T) {
	s := mock.New()
	ctx := context.Background()
	tenantA := identity.TenantContext{TenantID: "tenant-a"}
	tenantB := identity.TenantContext{TenantID: "tenant-b"}

	buildChain(t, s, tenantA, "a", "b")

	neighbors, err := s.GetNeighbors(ctx, tenantB, "a")
	if err != nil {
		t.Fatalf("GetNeighbors: %v", err)
	}
	if len(neighbors) != 0 {
		t.Fatalf("expected tenant-b to see no nodes from tenant-a, got %+v", neighbors)
	}
}

func TestSearchNodesCaseInsensitiveSubstring(t *testing.T) {
	s := mock.New()
	tc := testTenant()
	ctx := context.Background()
	for _, n := range []graph.Node{{ID: "1", Label: "Blacksmith Gorim"}, {ID: "2", Label: "Tavern Keeper"}} {
		if err := s.AddNode(ctx, tc, n); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}

	results, err := s.SearchNodes(ctx, tc, "smith", 10)
	if err != nil {
		t.Fatalf("SearchNodes: %v", err)
	}
	if len(results) != 1 || results[0].ID != "1" {
		t.Fatalf("expected one match for 'smith', got %+v", results)
	}
}
