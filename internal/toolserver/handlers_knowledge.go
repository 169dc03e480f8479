package toolserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/loomctx/loomctx/internal/loomerr"
	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/knowledge"
)

type knowledgeQueryArgs struct {
	Query  string            `json:"query"`
	Layers []knowledge.Layer `json:"layers"`
	Limit  int               `json:"limit"`
}

func handleKnowledgeQuery(ctx context.Context, s *Server, tc identity.TenantContext, raw json.RawMessage) (any, error) {
	var args knowledgeQueryArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, loomerr.Validation("knowledge_query_bad_arguments", err.Error())
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 10
	}
	return s.knowledge.Search(ctx, tc, args.Query, args.Layers, limit)
}

type knowledgeShowArgs struct {
	Layer knowledge.Layer `json:"layer"`
	Path  string          `json:"path"`
}

func handleKnowledgeShow(ctx context.Context, s *Server, tc identity.TenantContext, raw json.RawMessage) (any, error) {
	var args knowledgeShowArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, loomerr.Validation("knowledge_show_bad_arguments", err.Error())
	}
	entry, err := s.knowledge.Get(ctx, tc, args.Layer, args.Path)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, notFound(fmt.Sprintf("no entry at %s/%s", args.Layer, args.Path))
	}
	return entry, nil
}

type knowledgeCheckArgs struct {
	Layer   knowledge.Layer `json:"layer"`
	Context map[string]any  `json:"context"`
}

// handleKnowledgeCheck validates a would-be write's context against the
// governance policies that apply to its layer, without performing the
// write (§4.G, §4.H).
func handleKnowledgeCheck(ctx context.Context, s *Server, tc identity.TenantContext, raw json.RawMessage) (any, error) {
	var args knowledgeCheckArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, loomerr.Validation("knowledge_check_bad_arguments", err.Error())
	}
	return s.governance.Validate(args.Layer, args.Context), nil
}
