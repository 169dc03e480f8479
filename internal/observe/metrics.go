// Package observe provides application-wide observability primitives for
// loomctx: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all loomctx metrics.
const meterName = "github.com/loomctx/loomctx"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// MemorySearchDuration tracks hierarchical memory search latency (§4.F.2).
	MemorySearchDuration metric.Float64Histogram

	// VectorBackendDuration tracks latency of a single vector backend call
	// (upsert, search, delete, get), labelled by operation.
	VectorBackendDuration metric.Float64Histogram

	// GraphQueryDuration tracks graph traversal latency (neighbors, path).
	GraphQueryDuration metric.Float64Histogram

	// KnowledgeQueryDuration tracks knowledge repository search/get latency.
	KnowledgeQueryDuration metric.Float64Histogram

	// SyncDuration tracks a full or incremental sync run's latency.
	SyncDuration metric.Float64Histogram

	// RLMPlanDuration tracks latency of a single RLM planner completion call.
	RLMPlanDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool server dispatch latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// SyncConflicts counts conflicts detected during a sync run, labelled by
	// resolution strategy.
	SyncConflicts metric.Int64Counter

	// AuthzDecisions counts authorization decisions, labelled by effect
	// ("allow"/"deny").
	AuthzDecisions metric.Int64Counter

	// GovernanceViolations counts governance rule violations raised during
	// validation, labelled by severity.
	GovernanceViolations metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of currently open memory sessions.
	ActiveSessions metric.Int64UpDownCounter

	// CircuitBreakersOpen tracks the number of circuit breakers currently in
	// the open state, labelled by breaker name.
	CircuitBreakersOpen metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for memory/knowledge backend latencies.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.MemorySearchDuration, err = m.Float64Histogram("loomctx.memory.search.duration",
		metric.WithDescription("Latency of a hierarchical memory search across layers."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VectorBackendDuration, err = m.Float64Histogram("loomctx.memory.backend.duration",
		metric.WithDescription("Latency of a single vector backend call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GraphQueryDuration, err = m.Float64Histogram("loomctx.graph.query.duration",
		metric.WithDescription("Latency of a graph store query (neighbors, path)."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.KnowledgeQueryDuration, err = m.Float64Histogram("loomctx.knowledge.query.duration",
		metric.WithDescription("Latency of a knowledge repository search or get."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SyncDuration, err = m.Float64Histogram("loomctx.sync.duration",
		metric.WithDescription("Latency of a full or incremental sync run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RLMPlanDuration, err = m.Float64Histogram("loomctx.rlm.plan.duration",
		metric.WithDescription("Latency of a single RLM planner completion call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("loomctx.tool_execution.duration",
		metric.WithDescription("Latency of tool server dispatch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("loomctx.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("loomctx.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.SyncConflicts, err = m.Int64Counter("loomctx.sync.conflicts",
		metric.WithDescription("Total conflicts detected during sync, by resolution strategy."),
	); err != nil {
		return nil, err
	}
	if met.AuthzDecisions, err = m.Int64Counter("loomctx.authz.decisions",
		metric.WithDescription("Total authorization decisions, by effect."),
	); err != nil {
		return nil, err
	}
	if met.GovernanceViolations, err = m.Int64Counter("loomctx.governance.violations",
		metric.WithDescription("Total governance rule violations, by severity."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("loomctx.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("loomctx.active_sessions",
		metric.WithDescription("Number of currently open memory sessions."),
	); err != nil {
		return nil, err
	}
	if met.CircuitBreakersOpen, err = m.Int64UpDownCounter("loomctx.circuit_breakers_open",
		metric.WithDescription("Number of circuit breakers currently in the open state."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("loomctx.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordSyncConflict is a convenience method that records a sync conflict
// counter increment.
func (m *Metrics) RecordSyncConflict(ctx context.Context, strategy string) {
	m.SyncConflicts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("strategy", strategy)),
	)
}

// RecordAuthzDecision is a convenience method that records an authorization
// decision counter increment.
func (m *Metrics) RecordAuthzDecision(ctx context.Context, effect string) {
	m.AuthzDecisions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("effect", effect)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
