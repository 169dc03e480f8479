package rlm_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/loomctx/loomctx/pkg/graph"
	graphmock "github.com/loomctx/loomctx/pkg/graph/mock"
	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/memory"
	memorymock "github.com/loomctx/loomctx/pkg/memory/mock"
	"github.com/loomctx/loomctx/pkg/provider/llm"
	"github.com/loomctx/loomctx/pkg/rlm"
	"github.com/loomctx/loomctx/pkg/types"
)

// scriptedPlanner returns one CompletionResponse per call, in order,
// recording every request it received. Once exhausted it repeats the
// last response, so a test's step budget still terminates cleanly.
type scriptedPlanner struct {
	responses []*llm.CompletionResponse
	calls     int
}

func (p *scriptedPlanner) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	i := p.calls
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	p.calls++
	return p.responses[i], nil
}

func (p *scriptedPlanner) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	close(ch)
	return ch, nil
}

func (p *scriptedPlanner) CountTokens(messages []types.Message) (int, error) { return 0, nil }

func (p *scriptedPlanner) Capabilities() types.ModelCapabilities {
	return types.ModelCapabilities{SupportsToolCalling: true}
}

func actionResponse(t *testing.T, action rlm.Action) *llm.CompletionResponse {
	t.Helper()
	raw, err := json.Marshal(action)
	if err != nil {
		t.Fatalf("marshal action: %v", err)
	}
	return &llm.CompletionResponse{
		ToolCalls: []types.ToolCall{{ID: "call-1", Name: "choose_action", Arguments: string(raw)}},
	}
}

func newTestTenant() identity.TenantContext {
	return identity.TenantContext{TenantID: "tenant-a", UserID: "user-1"}
}

func newTestMemoryEngine(t *testing.T, g graph.Store) (*memory.Engine, string) {
	t.Helper()
	backend := memorymock.NewBackend()
	eng := memory.NewEngine(nil, g)
	eng.Register(memory.LayerProject, memorymock.NewProvider(memory.LayerProject, backend))

	tc := newTestTenant()
	entry, err := eng.AddToLayer(context.Background(), tc, memory.LayerProject, memory.Entry{
		ID:      "mem1",
		Content: "the bridge spans the river",
	})
	if err != nil {
		t.Fatalf("seed memory: %v", err)
	}
	return eng, entry.ID
}

func TestExecutorTerminatesOnAggregate(t *testing.T) {
	mem, memID := newTestMemoryEngine(t, nil)
	planner := &scriptedPlanner{responses: []*llm.CompletionResponse{
		actionResponse(t, rlm.Action{SearchLayer: &rlm.SearchLayerAction{Layer: memory.LayerProject, Query: "bridge"}}),
		actionResponse(t, rlm.Action{Aggregate: &rlm.AggregateAction{Strategy: rlm.StrategySummary, Results: []string{memID}}}),
	}}

	ex := rlm.NewExecutor(planner, mem, graphmock.New(), rlm.DefaultConfig())
	result, err := ex.Run(context.Background(), newTestTenant(), "compare the bridge and summarize")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Strategy != rlm.StrategySummary {
		t.Fatalf("expected summary strategy, got %v", result.Strategy)
	}
	if len(result.MemoryIDs) != 1 || result.MemoryIDs[0] != memID {
		t.Fatalf("expected [%s], got %v", memID, result.MemoryIDs)
	}
	if len(result.Trajectory.Steps) != 2 {
		t.Fatalf("expected 2 trajectory steps, got %d", len(result.Trajectory.Steps))
	}
	if result.Trajectory.TotalReward <= 0 {
		t.Fatalf("expected a positive reward for a non-empty aggregate, got %f", result.Trajectory.TotalReward)
	}
}

func TestExecutorPropagatesRewardToOneHopNeighbor(t *testing.T) {
	g := graphmock.New()
	mem, memID := newTestMemoryEngine(t, g)
	backend2 := memorymock.NewBackend()
	mem.Register(memory.LayerTeam, memorymock.NewProvider(memory.LayerTeam, backend2))

	tc := newTestTenant()
	neighbor, err := mem.AddToLayer(context.Background(), tc, memory.LayerTeam, memory.Entry{ID: "mem2", Content: "target"})
	if err != nil {
		t.Fatalf("seed neighbor: %v", err)
	}

	if err := g.AddNode(context.Background(), tc, graphNode(memID)); err != nil {
		t.Fatalf("add node: %v", err)
	}
	if err := g.AddNode(context.Background(), tc, graphNode(neighbor.ID)); err != nil {
		t.Fatalf("add node: %v", err)
	}
	if err := g.AddEdge(context.Background(), tc, graphEdge(memID, neighbor.ID)); err != nil {
		t.Fatalf("add edge: %v", err)
	}

	planner := &scriptedPlanner{responses: []*llm.CompletionResponse{
		actionResponse(t, rlm.Action{Aggregate: &rlm.AggregateAction{Strategy: rlm.StrategyMerge, Results: []string{memID}}}),
	}}

	ex := rlm.NewExecutor(planner, mem, g, rlm.DefaultConfig())
	if _, err := ex.Run(context.Background(), tc, "compare"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	updated, err := mem.GetFromLayer(context.Background(), tc, memory.LayerTeam, neighbor.ID)
	if err != nil {
		t.Fatalf("GetFromLayer: %v", err)
	}
	if updated.Metadata[memory.MetaReward] == nil {
		t.Fatal("expected the one-hop neighbor to have received a reward via RewardPath")
	}
}

func TestExecutorForcesAggregateWhenStepBudgetExhausted(t *testing.T) {
	mem, _ := newTestMemoryEngine(t, nil)
	action := rlm.Action{SearchLayer: &rlm.SearchLayerAction{Layer: memory.LayerProject, Query: "bridge"}}
	planner := &scriptedPlanner{responses: []*llm.CompletionResponse{actionResponse(t, action)}}

	cfg := rlm.DefaultConfig()
	cfg.MaxSteps = 2
	ex := rlm.NewExecutor(planner, mem, graphmock.New(), cfg)

	result, err := ex.Run(context.Background(), newTestTenant(), "compare the bridge")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Trajectory.Steps) != cfg.MaxSteps+1 {
		t.Fatalf("expected %d steps (budget + forced aggregate), got %d", cfg.MaxSteps+1, len(result.Trajectory.Steps))
	}
}

func graphNode(id string) graph.Node {
	return graph.Node{ID: id, Label: "memory"}
}

func graphEdge(sourceID, targetID string) graph.Edge {
	return graph.Edge{ID: sourceID + "-" + targetID, SourceID: sourceID, TargetID: targetID, Relation: "RELATES_TO"}
}

func TestExecutorRejectsInvalidTenantContext(t *testing.T) {
	mem, _ := newTestMemoryEngine(t, nil)
	ex := rlm.NewExecutor(&scriptedPlanner{}, mem, graphmock.New(), rlm.DefaultConfig())
	if _, err := ex.Run(context.Background(), identity.TenantContext{}, "query"); err == nil {
		t.Fatal("expected an error for an empty tenant context")
	}
}

func TestExecutorTerminatesWithNegativeRewardOnStepFailure(t *testing.T) {
	mem, _ := newTestMemoryEngine(t, nil)
	// graph_walk with no graph store configured fails every time, so the
	// executor must terminate on the first step rather than loop to budget
	// exhaustion (§7: "any step error" is terminal, not retried).
	action := rlm.Action{GraphWalk: &rlm.GraphWalkAction{NodeID: "missing"}}
	planner := &scriptedPlanner{responses: []*llm.CompletionResponse{actionResponse(t, action)}}

	ex := rlm.NewExecutor(planner, mem, nil, rlm.DefaultConfig())
	result, err := ex.Run(context.Background(), newTestTenant(), "walk the graph")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.MemoryIDs) != 0 {
		t.Fatalf("expected no results after a step failure, got %v", result.MemoryIDs)
	}
	if len(result.Trajectory.Steps) != 1 {
		t.Fatalf("expected termination after exactly 1 step, got %d", len(result.Trajectory.Steps))
	}
	if result.Trajectory.TotalReward >= 0 {
		t.Fatalf("expected a negative reward after a step failure, got %f", result.Trajectory.TotalReward)
	}
}
