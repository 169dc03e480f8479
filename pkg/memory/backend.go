package memory

import (
	"context"
	"time"

	"github.com/loomctx/loomctx/pkg/identity"
)

// HealthStatus is returned by [VectorBackend.HealthCheck].
type HealthStatus struct {
	Healthy   bool
	Backend   string
	LatencyMs int64
}

// Capabilities describes what a [VectorBackend] implementation supports, so
// the engine can downgrade gracefully instead of branching on concrete type.
type Capabilities struct {
	MaxBatchSize          int
	SupportsMetadataFilter bool
	SupportsHybridSearch   bool
	SupportsBatchUpsert    bool
}

// UpsertResult reports the outcome of a batch [VectorBackend.Upsert] call.
type UpsertResult struct {
	UpsertedCount int
	FailedIDs     []string
}

// DeleteResult reports the outcome of a [VectorBackend.Delete] call.
type DeleteResult struct {
	DeletedCount int
}

// Metric selects the distance function used by [SearchQuery].
type Metric int

const (
	// MetricCosine is cosine distance (the default).
	MetricCosine Metric = iota
	// MetricL2 is Euclidean distance.
	MetricL2
	// MetricDot is negative dot-product similarity.
	MetricDot
)

// SearchQuery carries the parameters of a [VectorBackend.Search] call.
type SearchQuery struct {
	Vector  []float32
	Limit   int
	Filter  Filter
	Metric  Metric
}

// Record is the backend's wire representation of a stored vector entry.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// ScoredRecord pairs a [Record] with its similarity score.
type ScoredRecord struct {
	Record
	Score float64
}

// VectorBackend is the pluggable storage contract every memory layer's
// provider is ultimately backed by. Tenant isolation is REQUIRED: an
// implementation must make cross-tenant reads impossible through this
// contract, whether via collection-per-tenant, namespace-per-tenant,
// schema-per-tenant, or mandatory metadata-filter injection.
//
// Implementations must be safe for concurrent use.
type VectorBackend interface {
	// HealthCheck reports whether the backend is reachable and its observed
	// round-trip latency.
	HealthCheck(ctx context.Context) (HealthStatus, error)

	// Capabilities returns static metadata describing what this backend
	// supports. Assumed constant for the lifetime of the instance.
	Capabilities() Capabilities

	// Upsert stores or replaces records for the given tenant.
	Upsert(ctx context.Context, tenant identity.TenantID, records []Record) (UpsertResult, error)

	// Search finds the records closest to q.Vector, scoped to tenant.
	Search(ctx context.Context, tenant identity.TenantID, q SearchQuery) ([]ScoredRecord, error)

	// Delete removes the records identified by ids, scoped to tenant.
	Delete(ctx context.Context, tenant identity.TenantID, ids []string) (DeleteResult, error)

	// Get retrieves a single record by id, scoped to tenant. Returns
	// (nil, nil) when not found.
	Get(ctx context.Context, tenant identity.TenantID, id string) (*Record, error)
}

// BackendError is returned by [VectorBackend] implementations to classify
// failures for the engine's retry policy. Auth, config, and not-found
// failures are terminal (IsRetryable == false); connection, timeout,
// unavailable, rate-limited, and circuit-open failures are retryable with
// RetryAfter set to the backend's suggested delay or a default.
type BackendError struct {
	Op          string
	Err         error
	IsRetryable bool
	RetryAfter  time.Duration
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the wrapped cause.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// Default retry delays per §4.D, used when a backend does not suggest one.
const (
	DefaultRetryConnection  = 1 * time.Second
	DefaultRetryTimeout     = 5 * time.Second
	DefaultRetryUnavailable = 10 * time.Second
)
