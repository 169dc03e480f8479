package authz_test

import (
	"testing"

	"github.com/loomctx/loomctx/pkg/authz"
	"github.com/loomctx/loomctx/pkg/identity"
)

const tenantA identity.TenantID = "tenant-a"

func seedHierarchy(c *authz.Cache) {
	c.LoadSnapshot(tenantA,
		[]authz.Unit{
			{ID: "company-1", TenantID: tenantA, Type: authz.UnitCompany},
			{ID: "org-1", TenantID: tenantA, Type: authz.UnitOrganization, ParentID: "company-1"},
			{ID: "team-1", TenantID: tenantA, Type: authz.UnitTeam, ParentID: "org-1"},
			{ID: "project-1", TenantID: tenantA, Type: authz.UnitProject, ParentID: "team-1"},
		},
		nil, nil, nil,
	)
}

func TestAncestorChainOrdersResourceFirst(t *testing.T) {
	c := authz.NewCache()
	seedHierarchy(c)

	chain := c.AncestorChain(tenantA, "project-1")
	want := []string{"project-1", "team-1", "org-1", "company-1"}
	if len(chain) != len(want) {
		t.Fatalf("expected chain length %d, got %d: %+v", len(want), len(chain), chain)
	}
	for i, id := range want {
		if chain[i].ID != id {
			t.Fatalf("chain[%d] = %q, want %q", i, chain[i].ID, id)
		}
	}
}

func TestAncestorChainUnknownUnitReturnsNil(t *testing.T) {
	c := authz.NewCache()
	seedHierarchy(c)

	if chain := c.AncestorChain(tenantA, "does-not-exist"); chain != nil {
		t.Fatalf("expected nil chain for unknown unit, got %+v", chain)
	}
}

func TestCrossTenantLookupMisses(t *testing.T) {
	c := authz.NewCache()
	seedHierarchy(c)

	if _, ok := c.Unit(identity.TenantID("tenant-b"), "company-1"); ok {
		t.Fatal("expected cross-tenant unit lookup to miss")
	}
}

func TestApplyUpsertAndRemoveUnit(t *testing.T) {
	c := authz.NewCache()

	c.Apply(tenantA, authz.NewUnitChange(authz.Unit{ID: "u1", TenantID: tenantA, Type: authz.UnitCompany}))
	if _, ok := c.Unit(tenantA, "u1"); !ok {
		t.Fatal("expected unit to be present after upsert")
	}

	c.Apply(tenantA, authz.NewRemoveUnitChange("u1"))
	if _, ok := c.Unit(tenantA, "u1"); ok {
		t.Fatal("expected unit to be gone after remove")
	}
}

func TestSnapshotIsolationAcrossUpdates(t *testing.T) {
	c := authz.NewCache()
	seedHierarchy(c)

	before := c.Hierarchy(tenantA)
	c.Apply(tenantA, authz.NewUnitChange(authz.Unit{ID: "org-2", TenantID: tenantA, Type: authz.UnitOrganization, ParentID: "company-1"}))
	after := c.Hierarchy(tenantA)

	if len(after) != len(before)+1 {
		t.Fatalf("expected one more unit after the update, before=%d after=%d", len(before), len(after))
	}
	if len(before) != 4 {
		t.Fatalf("expected the earlier snapshot slice itself to remain 4 long, got %d", len(before))
	}
}
