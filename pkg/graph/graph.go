// Package graph defines the tenant-scoped node/edge graph store used to
// record relationships between memories and to support multi-hop traversal
// for the recursive query planner.
package graph

import (
	"context"

	"github.com/loomctx/loomctx/pkg/identity"
)

// DefaultMaxDepth is the default bound applied to [Store.FindPath] and
// traversal operations when the caller does not specify one.
const DefaultMaxDepth = 5

// Node is a tenant-scoped vertex in the graph.
type Node struct {
	ID         string
	Label      string
	Properties map[string]any
	TenantID   identity.TenantID
}

// Edge is a directed, tenant-scoped connection between two nodes.
type Edge struct {
	ID         string
	SourceID   string
	TargetID   string
	Relation   string
	Properties map[string]any
	TenantID   identity.TenantID
}

// Neighbor pairs an edge with the node it leads to.
type Neighbor struct {
	Edge Edge
	Node Node
}

// Store is the tenant-scoped graph contract. All operations are scoped to
// the tenant named in the supplied [identity.TenantContext]; implementations
// must reject or silently ignore cross-tenant references rather than
// exposing them.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// AddNode upserts node under tc's tenant.
	AddNode(ctx context.Context, tc identity.TenantContext, node Node) error

	// AddEdge upserts a directed edge under tc's tenant. Its endpoint ids
	// are resolved within tc's tenant only, so an edge never links nodes of
	// different tenants; implementations do not check that the endpoints
	// exist.
	AddEdge(ctx context.Context, tc identity.TenantContext, edge Edge) error

	// GetNeighbors returns every (edge, node) pair reachable by one outgoing
	// hop from nodeID.
	GetNeighbors(ctx context.Context, tc identity.TenantContext, nodeID string) ([]Neighbor, error)

	// FindPath returns the first path found by breadth-first search from
	// startID to endID — the shortest path by hop count — bounded by
	// maxDepth. Returns an empty (non-nil) slice when startID == endID, when
	// no path exists, or when the search exhausts maxDepth without reaching
	// endID.
	FindPath(ctx context.Context, tc identity.TenantContext, startID, endID string, maxDepth int) ([]Edge, error)

	// SearchNodes returns up to limit nodes whose label or properties match
	// query.
	SearchNodes(ctx context.Context, tc identity.TenantContext, query string, limit int) ([]Node, error)
}
