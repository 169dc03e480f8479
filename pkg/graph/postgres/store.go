// Package postgres implements [graph.Store] over a shared PostgreSQL
// connection pool, using a recursive CTE for bounded breadth-first shortest
// path search.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomctx/loomctx/pkg/graph"
	"github.com/loomctx/loomctx/pkg/identity"
)

// Compile-time assertion that Store satisfies the graph.Store interface.
var _ graph.Store = (*Store)(nil)

// Store is a PostgreSQL-backed implementation of [graph.Store]. It wraps a
// connection pool supplied by its caller (see [New]) and does not open one
// itself.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. Call [Migrate] once at startup to ensure the
// required tables exist.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the graph_nodes and graph_edges tables if they do not
// already exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS graph_nodes (
		    tenant_id  TEXT NOT NULL,
		    id         TEXT NOT NULL,
		    label      TEXT NOT NULL,
		    properties JSONB NOT NULL DEFAULT '{}',
		    PRIMARY KEY (tenant_id, id)
		);
		CREATE TABLE IF NOT EXISTS graph_edges (
		    tenant_id  TEXT NOT NULL,
		    id         TEXT NOT NULL,
		    source_id  TEXT NOT NULL,
		    target_id  TEXT NOT NULL,
		    relation   TEXT NOT NULL,
		    properties JSONB NOT NULL DEFAULT '{}',
		    PRIMARY KEY (tenant_id, id)
		);
		CREATE INDEX IF NOT EXISTS graph_edges_source_idx ON graph_edges (tenant_id, source_id);`

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("graph postgres: migrate: %w", err)
	}
	return nil
}

// AddNode implements [graph.Store.AddNode].
func (s *Store) AddNode(ctx context.Context, tc identity.TenantContext, node graph.Node) error {
	propsJSON, err := json.Marshal(node.Properties)
	if err != nil {
		return fmt.Errorf("graph postgres: marshal node properties: %w", err)
	}

	const q = `
		INSERT INTO graph_nodes (tenant_id, id, label, properties)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
		    label      = EXCLUDED.label,
		    properties = EXCLUDED.properties`

	if _, err := s.pool.Exec(ctx, q, string(tc.TenantID), node.ID, node.Label, propsJSON); err != nil {
		return fmt.Errorf("graph postgres: add node: %w", err)
	}
	return nil
}

// AddEdge implements [graph.Store.AddEdge].
func (s *Store) AddEdge(ctx context.Context, tc identity.TenantContext, edge graph.Edge) error {
	propsJSON, err := json.Marshal(edge.Properties)
	if err != nil {
		return fmt.Errorf("graph postgres: marshal edge properties: %w", err)
	}

	const q = `
		INSERT INTO graph_edges (tenant_id, id, source_id, target_id, relation, properties)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
		    source_id  = EXCLUDED.source_id,
		    target_id  = EXCLUDED.target_id,
		    relation   = EXCLUDED.relation,
		    properties = EXCLUDED.properties`

	if _, err := s.pool.Exec(ctx, q, string(tc.TenantID), edge.ID, edge.SourceID, edge.TargetID, edge.Relation, propsJSON); err != nil {
		return fmt.Errorf("graph postgres: add edge: %w", err)
	}
	return nil
}

// GetNeighbors implements [graph.Store.GetNeighbors].
func (s *Store) GetNeighbors(ctx context.Context, tc identity.TenantContext, nodeID string) ([]graph.Neighbor, error) {
	const q = `
		SELECT e.id, e.source_id, e.target_id, e.relation, e.properties,
		       n.id, n.label, n.properties
		FROM   graph_edges e
		JOIN   graph_nodes n ON n.tenant_id = e.tenant_id AND n.id = e.target_id
		WHERE  e.tenant_id = $1 AND e.source_id = $2`

	rows, err := s.pool.Query(ctx, q, string(tc.TenantID), nodeID)
	if err != nil {
		return nil, fmt.Errorf("graph postgres: get neighbors: %w", err)
	}
	defer rows.Close()

	out := []graph.Neighbor{}
	for rows.Next() {
		var (
			n          graph.Neighbor
			edgeProps  []byte
			nodeProps  []byte
		)
		if err := rows.Scan(&n.Edge.ID, &n.Edge.SourceID, &n.Edge.TargetID, &n.Edge.Relation, &edgeProps,
			&n.Node.ID, &n.Node.Label, &nodeProps); err != nil {
			return nil, fmt.Errorf("graph postgres: scan neighbor: %w", err)
		}
		n.Edge.TenantID = tc.TenantID
		n.Node.TenantID = tc.TenantID
		if err := json.Unmarshal(edgeProps, &n.Edge.Properties); err != nil {
			return nil, fmt.Errorf("graph postgres: unmarshal edge properties: %w", err)
		}
		if err := json.Unmarshal(nodeProps, &n.Node.Properties); err != nil {
			return nil, fmt.Errorf("graph postgres: unmarshal node properties: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// FindPath implements [graph.Store.FindPath] using a recursive CTE that
// tracks each candidate path as a TEXT[] of edge ids, returning the
// shallowest (BFS-first) path found.
func (s *Store) FindPath(ctx context.Context, tc identity.TenantContext, startID, endID string, maxDepth int) ([]graph.Edge, error) {
	if startID == endID {
		return []graph.Edge{}, nil
	}
	if maxDepth <= 0 {
		maxDepth = graph.DefaultMaxDepth
	}

	const q = `
		WITH RECURSIVE path_search AS (
		    SELECT id AS node_id,
		           ARRAY[]::TEXT[] AS edge_path,
		           ARRAY[id]::TEXT[] AS node_path,
		           0 AS depth
		    FROM   graph_nodes
		    WHERE  tenant_id = $1 AND id = $2

		    UNION ALL

		    SELECT e.target_id,
		           ps.edge_path || e.id,
		           ps.node_path || e.target_id,
		           ps.depth + 1
		    FROM   path_search ps
		    JOIN   graph_edges e ON e.tenant_id = $1 AND e.source_id = ps.node_id
		    WHERE  ps.depth < $4
		      AND  NOT (e.target_id = ANY(ps.node_path))
		)
		SELECT edge_path
		FROM   path_search
		WHERE  node_id = $3
		ORDER  BY depth
		LIMIT  1`

	row := s.pool.QueryRow(ctx, q, string(tc.TenantID), startID, endID, maxDepth)

	var edgeIDs []string
	if err := row.Scan(&edgeIDs); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []graph.Edge{}, nil
		}
		return nil, fmt.Errorf("graph postgres: find path: %w", err)
	}
	if len(edgeIDs) == 0 {
		return []graph.Edge{}, nil
	}
	return s.fetchEdgesOrdered(ctx, tc, edgeIDs)
}

// SearchNodes implements [graph.Store.SearchNodes] using a case-insensitive
// substring match against the node label.
func (s *Store) SearchNodes(ctx context.Context, tc identity.TenantContext, query string, limit int) ([]graph.Node, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, label, properties
		FROM   graph_nodes
		WHERE  tenant_id = $1 AND ($2 = '' OR label ILIKE '%' || $2 || '%')
		ORDER  BY id
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, string(tc.TenantID), query, limit)
	if err != nil {
		return nil, fmt.Errorf("graph postgres: search nodes: %w", err)
	}
	defer rows.Close()

	out := []graph.Node{}
	for rows.Next() {
		var n graph.Node
		var props []byte
		if err := rows.Scan(&n.ID, &n.Label, &props); err != nil {
			return nil, fmt.Errorf("graph postgres: scan node: %w", err)
		}
		n.TenantID = tc.TenantID
		if err := json.Unmarshal(props, &n.Properties); err != nil {
			return nil, fmt.Errorf("graph postgres: unmarshal node properties: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// fetchEdgesOrdered loads edges by id and returns them in the order ids
// specifies.
func (s *Store) fetchEdgesOrdered(ctx context.Context, tc identity.TenantContext, ids []string) ([]graph.Edge, error) {
	const q = `
		SELECT id, source_id, target_id, relation, properties
		FROM   graph_edges
		WHERE  tenant_id = $1 AND id = ANY($2)`

	rows, err := s.pool.Query(ctx, q, string(tc.TenantID), ids)
	if err != nil {
		return nil, fmt.Errorf("graph postgres: fetch edges: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]graph.Edge, len(ids))
	for rows.Next() {
		var e graph.Edge
		var props []byte
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &props); err != nil {
			return nil, fmt.Errorf("graph postgres: scan edge: %w", err)
		}
		e.TenantID = tc.TenantID
		if err := json.Unmarshal(props, &e.Properties); err != nil {
			return nil, fmt.Errorf("graph postgres: unmarshal edge properties: %w", err)
		}
		byID[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]graph.Edge, 0, len(ids))
	for _, id := range ids {
		e, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
