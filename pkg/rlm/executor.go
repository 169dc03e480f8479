package rlm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loomctx/loomctx/internal/loomerr"
	"github.com/loomctx/loomctx/pkg/graph"
	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/memory"
	"github.com/loomctx/loomctx/pkg/provider/llm"
	"github.com/loomctx/loomctx/pkg/types"
)

// plannerToolName is the single tool offered to the planner LLM; it
// returns exactly one of the four action shapes per call, so the
// executor can parse its Arguments directly into an Action.
const plannerToolName = "choose_action"

// failureReward is the raw reward applied when the trajectory terminates
// with no results. A successful termination instead earns 1.0/steps_used
// (§4.K.4). Discounting across the trajectory is the trainer
// collaborator's job, not the executor's (grounded on the original
// trainer's calculate_discounted_rewards, which lives outside this
// component).
const failureReward = -0.1

// Executor runs the RLM planning loop (§4.K.3): at each step it asks
// planner for the next [Action] given the trajectory so far, executes it
// against memory and graph, and terminates on an Aggregate action or when
// cfg.MaxSteps is exhausted.
type Executor struct {
	planner llm.Provider
	memory  *memory.Engine
	graph   graph.Store
	cfg     Config
}

// NewExecutor builds an Executor. graph may be nil if no graph store is
// configured; a GraphWalk action then fails, which ends the trajectory as
// an empty Aggregate with a negative reward.
func NewExecutor(planner llm.Provider, mem *memory.Engine, g graph.Store, cfg Config) *Executor {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultConfig().MaxSteps
	}
	return &Executor{planner: planner, memory: mem, graph: g, cfg: cfg}
}

// Run executes the planning loop for query and returns the final
// aggregation plus the full trajectory. It always terminates: either the
// planner emits Aggregate, or cfg.MaxSteps is reached and Run synthesizes
// an Aggregate from whatever memory IDs the trajectory gathered.
func (ex *Executor) Run(ctx context.Context, tc identity.TenantContext, query string) (Result, error) {
	if err := tc.Validate(); err != nil {
		return Result{}, err
	}

	traj := Trajectory{Query: query}
	var messages []types.Message
	messages = append(messages, types.Message{Role: "user", Content: query})

	var gathered []string
	for step := 0; step < ex.cfg.MaxSteps; step++ {
		action, tokens, err := ex.nextAction(ctx, messages)
		if err != nil {
			return Result{}, err
		}

		if action.Aggregate != nil {
			return ex.finish(ctx, tc, &traj, action, tokens), nil
		}

		stepResult, err := ex.execute(ctx, tc, action)
		if err != nil {
			// §7: any step error terminates the trajectory as an empty
			// Aggregate with negative reward, rather than being retried
			// or silently skipped.
			slog.Warn("rlm executor: step failed, terminating trajectory", "action", action.Name(), "error", err)
			terminal := Action{Aggregate: &AggregateAction{Strategy: StrategySummary, Results: nil}}
			return ex.finish(ctx, tc, &traj, terminal, tokens), nil
		}

		gathered = append(gathered, stepResult.MemoryIDs...)
		traj.Steps = append(traj.Steps, TrajectoryStep{Action: action, Result: stepResult, Tokens: tokens})
		messages = append(messages,
			types.Message{Role: "assistant", Content: fmt.Sprintf("executed %s", action.Name())},
			types.Message{Role: "tool", Content: stepResult.Summary},
		)
	}

	// Step budget exhausted without an explicit Aggregate: synthesize one
	// from whatever was gathered so the trajectory always terminates.
	forced := Action{Aggregate: &AggregateAction{Strategy: StrategySummary, Results: dedupe(gathered)}}
	return ex.finish(ctx, tc, &traj, forced, 0), nil
}

// finish applies the terminal action's reward, propagates it via the
// memory engine's reward path (§4.K.3, §4.K.4), and assembles the Result.
func (ex *Executor) finish(ctx context.Context, tc identity.TenantContext, traj *Trajectory, action Action, tokens int) Result {
	results := dedupe(action.Aggregate.Results)

	reward := failureReward
	if len(results) > 0 {
		reward = 1.0 / float64(len(traj.Steps)+1)
	}

	traj.Steps = append(traj.Steps, TrajectoryStep{Action: action, Reward: reward, Tokens: tokens})
	traj.TotalReward = reward

	if ex.memory != nil && len(results) > 0 {
		if err := ex.memory.RewardPath(ctx, tc, results, reward); err != nil {
			slog.Warn("rlm executor: reward path failed", "error", err)
		}
	}

	return Result{Strategy: action.Aggregate.Strategy, MemoryIDs: results, Trajectory: *traj}
}

// execute dispatches action against the memory engine or graph store and
// summarizes its outcome for the planner's next turn (§4.K.2).
func (ex *Executor) execute(ctx context.Context, tc identity.TenantContext, action Action) (StepResult, error) {
	switch {
	case action.SearchLayer != nil:
		return ex.executeSearchLayer(ctx, tc, *action.SearchLayer)
	case action.DrillDown != nil:
		return ex.executeDrillDown(ctx, tc, *action.DrillDown)
	case action.GraphWalk != nil:
		return ex.executeGraphWalk(ctx, tc, *action.GraphWalk)
	default:
		return StepResult{}, loomerr.Validation("rlm_unknown_action", "planner returned an action with no recognized field set")
	}
}

func (ex *Executor) executeSearchLayer(ctx context.Context, tc identity.TenantContext, a SearchLayerAction) (StepResult, error) {
	if ex.memory == nil {
		return StepResult{}, loomerr.Internal("rlm_no_memory_engine", "no memory engine configured", nil)
	}
	results, err := ex.memory.HierarchicalSearch(ctx, tc, a.Query, nil, 5, memory.Filter{}, []memory.Layer{a.Layer})
	if err != nil {
		return StepResult{}, err
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Entry.ID)
	}
	return StepResult{
		Summary:   fmt.Sprintf("search_layer(%s, %q) found %d memories", a.Layer.String(), a.Query, len(ids)),
		MemoryIDs: ids,
	}, nil
}

func (ex *Executor) executeDrillDown(ctx context.Context, tc identity.TenantContext, a DrillDownAction) (StepResult, error) {
	if ex.memory == nil {
		return StepResult{}, loomerr.Internal("rlm_no_memory_engine", "no memory engine configured", nil)
	}
	results, err := ex.memory.HierarchicalSearch(ctx, tc, a.Query, nil, 5, memory.Filter{}, nil)
	if err != nil {
		return StepResult{}, err
	}
	ids := []string{a.MemoryID}
	for _, r := range results {
		if r.Entry.ID != a.MemoryID {
			ids = append(ids, r.Entry.ID)
		}
	}
	return StepResult{
		Summary:   fmt.Sprintf("drill_down(%s, %q) found %d related memories", a.MemoryID, a.Query, len(ids)-1),
		MemoryIDs: ids,
	}, nil
}

func (ex *Executor) executeGraphWalk(ctx context.Context, tc identity.TenantContext, a GraphWalkAction) (StepResult, error) {
	if ex.graph == nil {
		return StepResult{}, loomerr.Internal("rlm_no_graph_store", "no graph store configured", nil)
	}
	neighbors, err := ex.graph.GetNeighbors(ctx, tc, a.NodeID)
	if err != nil {
		return StepResult{}, err
	}
	ids := []string{a.NodeID}
	for _, n := range neighbors {
		if a.Relation != "" && n.Edge.Relation != a.Relation {
			continue
		}
		ids = append(ids, n.Node.ID)
	}
	return StepResult{
		Summary:   fmt.Sprintf("graph_walk(%s) found %d neighbors", a.NodeID, len(ids)-1),
		MemoryIDs: ids,
	}, nil
}

// nextAction asks the planner for the next action given the conversation
// so far (§4.K.3 step 1: "Ask the planner, an LLM with tool schema, for
// the next action given history and current context").
func (ex *Executor) nextAction(ctx context.Context, messages []types.Message) (Action, int, error) {
	req := llm.CompletionRequest{
		Messages:     messages,
		Tools:        []types.ToolDefinition{plannerTool()},
		SystemPrompt: plannerSystemPrompt,
		Temperature:  0,
	}

	resp, err := ex.planner.Complete(ctx, req)
	if err != nil {
		return Action{}, 0, loomerr.Transient("rlm_planner_call_failed", "planner completion failed", 0, err)
	}
	if resp == nil || len(resp.ToolCalls) == 0 {
		return Action{}, 0, loomerr.Internal("rlm_planner_no_tool_call", "planner did not choose an action", nil)
	}

	var action Action
	if err := json.Unmarshal([]byte(resp.ToolCalls[0].Arguments), &action); err != nil {
		return Action{}, 0, loomerr.Internal("rlm_planner_bad_arguments", "planner returned malformed action arguments", err)
	}
	return action, resp.Usage.TotalTokens, nil
}

const plannerSystemPrompt = "You are a query decomposition planner. Given the conversation so far, " +
	"choose exactly one next action via the choose_action tool: search_layer, drill_down, graph_walk, " +
	"or aggregate. Call aggregate as soon as you have enough information to answer."

// plannerTool describes the single tool offered to the planner LLM. Its
// parameter schema mirrors Action's JSON shape exactly so the returned
// arguments unmarshal directly into an Action.
func plannerTool() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        plannerToolName,
		Description: "Choose the next query-planning action.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"search_layer": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"layer": map[string]any{"type": "integer"},
						"query": map[string]any{"type": "string"},
					},
				},
				"drill_down": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"memory_id": map[string]any{"type": "string"},
						"query":     map[string]any{"type": "string"},
					},
				},
				"graph_walk": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"node_id":  map[string]any{"type": "string"},
						"relation": map[string]any{"type": "string"},
						"depth":    map[string]any{"type": "integer"},
					},
				},
				"aggregate": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"strategy": map[string]any{"type": "string", "enum": []string{"summary", "merge", "intersect"}},
						"results":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
				},
			},
		},
	}
}

// dedupe preserves first-occurrence order while dropping repeats.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
