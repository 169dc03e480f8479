package toolserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loomctx/loomctx/internal/loomerr"
	"github.com/loomctx/loomctx/pkg/graph"
	"github.com/loomctx/loomctx/pkg/identity"
)

type graphRelatedArgs struct {
	NodeID string `json:"node_id"`
}

func handleGraphRelated(ctx context.Context, s *Server, tc identity.TenantContext, raw json.RawMessage) (any, error) {
	var args graphRelatedArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, loomerr.Validation("graph_related_bad_arguments", err.Error())
	}
	return s.graph.GetNeighbors(ctx, tc, args.NodeID)
}

type graphLinkArgs struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Relation string `json:"relation"`
}

func handleGraphLink(ctx context.Context, s *Server, tc identity.TenantContext, raw json.RawMessage) (any, error) {
	var args graphLinkArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, loomerr.Validation("graph_link_bad_arguments", err.Error())
	}
	edge := graph.Edge{
		ID:       fmt.Sprintf("%s-%s-%s", args.SourceID, args.TargetID, args.Relation),
		SourceID: args.SourceID,
		TargetID: args.TargetID,
		Relation: args.Relation,
	}
	if err := s.graph.AddEdge(ctx, tc, edge); err != nil {
		return nil, err
	}
	return edge, nil
}

type graphContextArgs struct {
	StartID  string `json:"start_id"`
	EndID    string `json:"end_id"`
	MaxDepth int    `json:"max_depth"`
}

// handleGraphContext returns the path connecting two nodes, bounded by
// max_depth (defaulting to graph.DefaultMaxDepth), for assembling the
// graph-derived portion of an agent's working context (§4.E, §4.J).
func handleGraphContext(ctx context.Context, s *Server, tc identity.TenantContext, raw json.RawMessage) (any, error) {
	var args graphContextArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, loomerr.Validation("graph_context_bad_arguments", err.Error())
	}
	maxDepth := args.MaxDepth
	if maxDepth <= 0 {
		maxDepth = graph.DefaultMaxDepth
	}
	return s.graph.FindPath(ctx, tc, args.StartID, args.EndID, maxDepth)
}
