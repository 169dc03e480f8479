package toolserver

import (
	"context"
	"encoding/json"

	"github.com/loomctx/loomctx/internal/loomerr"
	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/memory"
	"github.com/loomctx/loomctx/pkg/rlm"
)

type memoryAddArgs struct {
	Layer    memory.Layer   `json:"layer"`
	Content  string         `json:"content"`
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata"`
}

func handleMemoryAdd(ctx context.Context, s *Server, tc identity.TenantContext, raw json.RawMessage) (any, error) {
	var args memoryAddArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, loomerr.Validation("memory_add_bad_arguments", err.Error())
	}
	return s.memory.AddToLayer(ctx, tc, args.Layer, memory.Entry{
		ID:       args.ID,
		Content:  args.Content,
		Metadata: args.Metadata,
	})
}

type memorySearchArgs struct {
	Query     string         `json:"query"`
	Layers    []memory.Layer `json:"layers"`
	Limit     int            `json:"limit"`
	SessionID string         `json:"session_id"`
	AgentID   string         `json:"agent_id"`
}

// memorySearchResult is memory_search's response shape: either a flat
// hierarchical search result set, or — when the query is complex enough to
// route through the recursive planner (§2, §4.K) — the planner's
// aggregated memory IDs plus its trajectory.
type memorySearchResult struct {
	Routed  bool                  `json:"routed"`
	Results []memory.SearchResult `json:"results,omitempty"`
	Plan    *rlm.Result           `json:"plan,omitempty"`
}

// handleMemorySearch implements memory_search's internal routing: the
// planner is consulted by complexity score rather than exposed as its own
// tool (§4.L expansion: "memory_search consulting K's complexity router
// before falling back to a direct F search").
func handleMemorySearch(ctx context.Context, s *Server, tc identity.TenantContext, raw json.RawMessage) (any, error) {
	var args memorySearchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, loomerr.Validation("memory_search_bad_arguments", err.Error())
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 10
	}

	if s.planner != nil && rlm.ShouldRoute(args.Query, s.rlmCfg) {
		executor := rlm.NewExecutor(s.planner, s.memory, s.graph, s.rlmCfg)
		result, err := executor.Run(ctx, tc, args.Query)
		if err != nil {
			return nil, err
		}
		return memorySearchResult{Routed: true, Plan: &result}, nil
	}

	filter := memory.Filter{SessionID: args.SessionID, AgentID: args.AgentID}
	results, err := s.memory.HierarchicalSearch(ctx, tc, args.Query, nil, limit, filter, args.Layers)
	if err != nil {
		return nil, err
	}
	return memorySearchResult{Results: results}, nil
}

type memoryDeleteArgs struct {
	Layer memory.Layer `json:"layer"`
	ID    string       `json:"id"`
}

func handleMemoryDelete(ctx context.Context, s *Server, tc identity.TenantContext, raw json.RawMessage) (any, error) {
	var args memoryDeleteArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, loomerr.Validation("memory_delete_bad_arguments", err.Error())
	}
	if err := s.memory.DeleteFromLayer(ctx, tc, args.Layer, args.ID); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": args.ID}, nil
}

type memoryCloseArgs struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
}

// handleMemoryClose closes a session and/or an agent's scoped memories,
// promoting whatever the engine's close path deems worth retaining (§4.F).
func handleMemoryClose(ctx context.Context, s *Server, tc identity.TenantContext, raw json.RawMessage) (any, error) {
	var args memoryCloseArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, loomerr.Validation("memory_close_bad_arguments", err.Error())
	}
	if args.SessionID == "" && args.AgentID == "" {
		return nil, loomerr.Validation("memory_close_nothing_to_close", "memory_close requires session_id and/or agent_id")
	}

	var promoted []string
	if args.SessionID != "" {
		ids, err := s.memory.CloseSession(ctx, tc, args.SessionID)
		if err != nil {
			return nil, err
		}
		promoted = append(promoted, ids...)
	}
	if args.AgentID != "" {
		ids, err := s.memory.CloseAgent(ctx, tc, args.AgentID)
		if err != nil {
			return nil, err
		}
		promoted = append(promoted, ids...)
	}
	return map[string]any{"promoted": promoted}, nil
}
