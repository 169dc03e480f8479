// Package rlm implements the recursive language model query planner
// (§4.K): a complexity router decides whether an incoming query warrants
// multi-step decomposition, and an LLM-driven executor walks the memory
// and graph stores one action at a time, within a step budget, until it
// aggregates a final answer.
package rlm

import (
	"time"

	"github.com/loomctx/loomctx/pkg/memory"
)

// Config tunes the router and executor. The zero value is invalid; use
// [DefaultConfig].
type Config struct {
	// Enabled gates whether ShouldRoute ever returns true.
	Enabled bool

	// MaxSteps bounds how many actions the executor will take before
	// forcing termination (§4.K.3). Default: 5.
	MaxSteps int

	// ComplexityThreshold is the minimum complexity score (§4.K.1) a
	// query must reach to be routed to the executor. Default: 0.3.
	ComplexityThreshold float64
}

// DefaultConfig returns the platform defaults (§4.K.1, §4.K.3).
func DefaultConfig() Config {
	return Config{Enabled: true, MaxSteps: 5, ComplexityThreshold: 0.3}
}

// ComplexitySignals are the raw features [ComputeComplexity] extracts from
// a query before combining them into a single score (§4.K.1).
type ComplexitySignals struct {
	QueryLength         int
	KeywordDensity      float64
	MultiHopIndicators  int
	TemporalConstraints bool
	AggregateOperators  bool
}

// AggregateStrategy names how an [Aggregate] action combines the results
// gathered across prior steps (§4.K.2).
type AggregateStrategy string

const (
	StrategySummary   AggregateStrategy = "summary"
	StrategyMerge     AggregateStrategy = "merge"
	StrategyIntersect AggregateStrategy = "intersect"
)

// Action is the RLM planner's action space (§4.K.2). Exactly one of the
// pointer fields is set, mirroring the tagged-union shape the planner LLM
// emits as JSON (e.g. {"search_layer": {...}}).
type Action struct {
	SearchLayer *SearchLayerAction `json:"search_layer,omitempty"`
	DrillDown   *DrillDownAction   `json:"drill_down,omitempty"`
	GraphWalk   *GraphWalkAction   `json:"graph_walk,omitempty"`
	Aggregate   *AggregateAction   `json:"aggregate,omitempty"`
}

// IsTerminal reports whether the action ends the trajectory (§4.K.3: the
// executor stops as soon as the planner emits Aggregate).
func (a Action) IsTerminal() bool {
	return a.Aggregate != nil
}

// Name returns the action's tag for logging and trajectory records.
func (a Action) Name() string {
	switch {
	case a.SearchLayer != nil:
		return "search_layer"
	case a.DrillDown != nil:
		return "drill_down"
	case a.GraphWalk != nil:
		return "graph_walk"
	case a.Aggregate != nil:
		return "aggregate"
	default:
		return "unknown"
	}
}

// SearchLayerAction searches a single memory layer for query.
type SearchLayerAction struct {
	Layer memory.Layer `json:"layer"`
	Query string       `json:"query"`
}

// DrillDownAction retrieves one memory entry in full and re-queries its
// neighborhood for query.
type DrillDownAction struct {
	MemoryID string `json:"memory_id"`
	Query    string `json:"query"`
}

// GraphWalkAction traverses the relationship graph from a node, optionally
// restricted to one relation, up to depth hops.
type GraphWalkAction struct {
	NodeID   string `json:"node_id"`
	Relation string `json:"relation,omitempty"`
	Depth    int    `json:"depth"`
}

// AggregateAction is the terminal action: it combines results (memory IDs
// gathered across the trajectory) using strategy into a final answer.
type AggregateAction struct {
	Strategy AggregateStrategy `json:"strategy"`
	Results  []string          `json:"results"`
}

// StepResult is what executing one [Action] against the memory/graph
// stores produced, in a form compact enough to feed back to the planner
// as history.
type StepResult struct {
	// Summary is a short, planner-facing description of what the action
	// returned (used to build the next planner prompt).
	Summary string

	// MemoryIDs lists every memory entry this step surfaced or touched.
	// These feed both the next step's context and, on aggregation, the
	// reward path.
	MemoryIDs []string
}

// TrajectoryStep records one iteration of the executor loop (§4.K.3).
type TrajectoryStep struct {
	Action Action
	Result StepResult
	Reward float64
	Tokens int
}

// Trajectory is the full record of one executor run. It is returned in
// [Result]; this package does not store it.
type Trajectory struct {
	Query       string
	Steps       []TrajectoryStep
	TotalReward float64
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Result is what [Executor.Run] returns to its caller: the final
// aggregation and the full trajectory it was derived from.
type Result struct {
	Strategy   AggregateStrategy
	MemoryIDs  []string
	Trajectory Trajectory
}
