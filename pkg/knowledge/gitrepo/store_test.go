package gitrepo_test

import (
	"context"
	"testing"

	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/knowledge"
	"github.com/loomctx/loomctx/pkg/knowledge/gitrepo"
)

func testTenant() identity.TenantContext {
	return identity.TenantContext{TenantID: "tenant-a", UserID: "alice"}
}

func TestGetHeadCommitNilBeforeAnyWrite(t *testing.T) {
	s := gitrepo.New()
	head, err := s.GetHeadCommit(context.Background(), testTenant())
	if err != nil {
		t.Fatalf("GetHeadCommit: %v", err)
	}
	if head != nil {
		t.Fatalf("expected nil HEAD before any commit, got %v", *head)
	}
}

func TestStoreThenGetRoundTrips(t *testing.T) {
	s := gitrepo.New()
	ctx := context.Background()
	tc := testTenant()

	entry := knowledge.Entry{
		Path:    "0001-use-postgres.md",
		Content: "# ADR 1\n\nUse Postgres for storage.",
		Layer:   knowledge.LayerProject,
		Kind:    knowledge.KindADR,
		Status:  knowledge.StatusAccepted,
		Metadata: map[string]any{
			"tags": []any{"storage"},
		},
	}

	hash, err := s.Store(ctx, tc, entry, "add ADR 1")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if hash == "" {
		t.Fatal("expected non-empty commit hash")
	}

	got, err := s.Get(ctx, tc, knowledge.LayerProject, entry.Path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected entry to be found")
	}
	if got.Content != entry.Content {
		t.Fatalf("expected content round trip, got %q", got.Content)
	}
	if got.Kind != knowledge.KindADR || got.Status != knowledge.StatusAccepted {
		t.Fatalf("expected kind/status round trip, got %+v", got)
	}
	if got.CommitHash != hash {
		t.Fatalf("expected CommitHash %q, got %q", hash, got.CommitHash)
	}
	if got.Author != "alice" {
		t.Fatalf("expected author 'alice', got %q", got.Author)
	}
}

func TestGetMissingEntryReturnsNilNil(t *testing.T) {
	s := gitrepo.New()
	got, err := s.Get(context.Background(), testTenant(), knowledge.LayerCompany, "missing.md")
	if err != nil {
		t.Fatalf("expected no error for missing entry, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing entry, got %+v", got)
	}
}

func TestDeleteRemovesEntryAndAppendsCommit(t *testing.T) {
	s := gitrepo.New()
	ctx := context.Background()
	tc := testTenant()

	if _, err := s.Store(ctx, tc, knowledge.Entry{Path: "p.md", Content: "x", Layer: knowledge.LayerTeam, Kind: knowledge.KindPolicy}, "add"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	hash, err := s.Delete(ctx, tc, knowledge.LayerTeam, "p.md", "remove p")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if hash == "" {
		t.Fatal("expected non-empty delete commit hash")
	}

	got, err := s.Get(ctx, tc, knowledge.LayerTeam, "p.md")
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if got != nil {
		t.Fatal("expected entry to be gone after delete")
	}
}

func TestDeleteMissingEntryErrors(t *testing.T) {
	s := gitrepo.New()
	_, err := s.Delete(context.Background(), testTenant(), knowledge.LayerTeam, "nope.md", "remove")
	if err == nil {
		t.Fatal("expected error deleting a nonexistent entry")
	}
}

func TestListFiltersByPrefixWithinLayer(t *testing.T) {
	s := gitrepo.New()
	ctx := context.Background()
	tc := testTenant()

	entries := []knowledge.Entry{
		{Path: "adr/0001.md", Content: "a", Layer: knowledge.LayerOrg, Kind: knowledge.KindADR},
		{Path: "adr/0002.md", Content: "b", Layer: knowledge.LayerOrg, Kind: knowledge.KindADR},
		{Path: "policy/data.md", Content: "c", Layer: knowledge.LayerOrg, Kind: knowledge.KindPolicy},
	}
	for _, e := range entries {
		if _, err := s.Store(ctx, tc, e, "add "+e.Path); err != nil {
			t.Fatalf("Store %s: %v", e.Path, err)
		}
	}

	got, err := s.List(ctx, tc, knowledge.LayerOrg, "adr/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 ADR entries, got %d: %+v", len(got), got)
	}
}

func TestGetAffectedItemsSinceCommitInOrder(t *testing.T) {
	s := gitrepo.New()
	ctx := context.Background()
	tc := testTenant()

	hash1, err := s.Store(ctx, tc, knowledge.Entry{Path: "a.md", Content: "a", Layer: knowledge.LayerProject, Kind: knowledge.KindSpec}, "add a")
	if err != nil {
		t.Fatalf("Store a: %v", err)
	}
	if _, err := s.Store(ctx, tc, knowledge.Entry{Path: "b.md", Content: "b", Layer: knowledge.LayerProject, Kind: knowledge.KindSpec}, "add b"); err != nil {
		t.Fatalf("Store b: %v", err)
	}
	if _, err := s.Store(ctx, tc, knowledge.Entry{Path: "c.md", Content: "c", Layer: knowledge.LayerProject, Kind: knowledge.KindSpec}, "add c"); err != nil {
		t.Fatalf("Store c: %v", err)
	}

	items, err := s.GetAffectedItems(ctx, tc, hash1)
	if err != nil {
		t.Fatalf("GetAffectedItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 affected items after hash1, got %d: %+v", len(items), items)
	}
	if items[0].Path != "b.md" || items[1].Path != "c.md" {
		t.Fatalf("expected b.md then c.md in commit order, got %+v", items)
	}
}

func TestTenantIsolationSeparateRepositories(t *testing.T) {
	s := gitrepo.New()
	ctx := context.Background()
	tenantA := identity.TenantContext{TenantID: "tenant-a"}
	tenantB := identity.TenantContext{TenantID: "tenant-b"}

	if _, err := s.Store(ctx, tenantA, knowledge.Entry{Path: "secret.md", Content: "a-only", Layer: knowledge.LayerCompany, Kind: knowledge.KindPolicy}, "add"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := s.Get(ctx, tenantB, knowledge.LayerCompany, "secret.md")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatal("expected tenant-b to not see tenant-a's entry")
	}
}

func TestSearchMatchesContentCaseInsensitive(t *testing.T) {
	s := gitrepo.New()
	ctx := context.Background()
	tc := testTenant()

	if _, err := s.Store(ctx, tc, knowledge.Entry{Path: "a.md", Content: "Use PostgreSQL for storage", Layer: knowledge.LayerProject, Kind: knowledge.KindADR}, "add"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := s.Store(ctx, tc, knowledge.Entry{Path: "b.md", Content: "Use Redis for caching", Layer: knowledge.LayerProject, Kind: knowledge.KindADR}, "add"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	results, err := s.Search(ctx, tc, "postgresql", nil, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "a.md" {
		t.Fatalf("expected single match a.md, got %+v", results)
	}
}
