// Package mock provides an in-memory [graph.Store] implementation suitable
// for tests and for environments without a Postgres backend.
package mock

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/loomctx/loomctx/pkg/graph"
	"github.com/loomctx/loomctx/pkg/identity"
)

// Compile-time assertion that Store satisfies the graph.Store interface.
var _ graph.Store = (*Store)(nil)

// Store is a thread-safe, in-memory implementation of [graph.Store].
// The zero value is ready to use.
type Store struct {
	mu    sync.RWMutex
	nodes map[identity.TenantID]map[string]graph.Node
	edges map[identity.TenantID][]graph.Edge
}

// New returns an initialized Store.
func New() *Store {
	return &Store{
		nodes: make(map[identity.TenantID]map[string]graph.Node),
		edges: make(map[identity.TenantID][]graph.Edge),
	}
}

// AddNode implements [graph.Store.AddNode].
func (s *Store) AddNode(ctx context.Context, tc identity.TenantContext, node graph.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node.TenantID = tc.TenantID
	if s.nodes[tc.TenantID] == nil {
		s.nodes[tc.TenantID] = make(map[string]graph.Node)
	}
	s.nodes[tc.TenantID][node.ID] = node
	return nil
}

// AddEdge implements [graph.Store.AddEdge].
func (s *Store) AddEdge(ctx context.Context, tc identity.TenantContext, edge graph.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	edge.TenantID = tc.TenantID
	edges := s.edges[tc.TenantID]
	for i, e := range edges {
		if e.SourceID == edge.SourceID && e.TargetID == edge.TargetID && e.Relation == edge.Relation {
			edges[i] = edge
			return nil
		}
	}
	s.edges[tc.TenantID] = append(edges, edge)
	return nil
}

// GetNeighbors implements [graph.Store.GetNeighbors].
func (s *Store) GetNeighbors(ctx context.Context, tc identity.TenantContext, nodeID string) ([]graph.Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []graph.Neighbor
	for _, e := range s.edges[tc.TenantID] {
		if e.SourceID != nodeID {
			continue
		}
		n, ok := s.nodes[tc.TenantID][e.TargetID]
		if !ok {
			continue
		}
		out = append(out, graph.Neighbor{Edge: e, Node: n})
	}
	if out == nil {
		out = []graph.Neighbor{}
	}
	return out, nil
}

// FindPath implements [graph.Store.FindPath] via breadth-first search,
// returning the first (shortest, by hop count) path found.
func (s *Store) FindPath(ctx context.Context, tc identity.TenantContext, startID, endID string, maxDepth int) ([]graph.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if startID == endID {
		return []graph.Edge{}, nil
	}
	if maxDepth <= 0 {
		maxDepth = graph.DefaultMaxDepth
	}

	type frame struct {
		nodeID string
		path   []graph.Edge
	}

	visited := map[string]bool{startID: true}
	queue := []frame{{nodeID: startID}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if len(cur.path) >= maxDepth {
			continue
		}

		for _, e := range s.edges[tc.TenantID] {
			if e.SourceID != cur.nodeID || visited[e.TargetID] {
				continue
			}
			nextPath := append(append([]graph.Edge{}, cur.path...), e)
			if e.TargetID == endID {
				return nextPath, nil
			}
			visited[e.TargetID] = true
			queue = append(queue, frame{nodeID: e.TargetID, path: nextPath})
		}
	}
	return []graph.Edge{}, nil
}

// SearchNodes implements [graph.Store.SearchNodes]. It matches query as a
// case-insensitive substring of the node label.
func (s *Store) SearchNodes(ctx context.Context, tc identity.TenantContext, query string, limit int) ([]graph.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := s.nodes[tc.TenantID]
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	q := strings.ToLower(query)
	out := make([]graph.Node, 0, limit)
	for _, id := range ids {
		n := nodes[id]
		if q != "" && !strings.Contains(strings.ToLower(n.Label), q) {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
