// Package sync keeps the memory layer's knowledge-pointer entries
// consistent with the knowledge repository's current commit, via full and
// incremental sync passes, conflict detection, and configurable conflict
// resolution.
package sync

import (
	"context"
	"time"

	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/knowledge"
)

// ConflictKind classifies a mismatch between a knowledge entry and its
// memory-layer pointer.
type ConflictKind string

const (
	// ConflictHashMismatch means the pointer's content hash no longer
	// matches the knowledge entry's current content.
	ConflictHashMismatch ConflictKind = "hash_mismatch"
	// ConflictOrphanedPointer means the memory pointer references a
	// knowledge entry that no longer exists.
	ConflictOrphanedPointer ConflictKind = "orphaned_pointer"
	// ConflictMissingPointer means a knowledge entry has no corresponding
	// memory pointer.
	ConflictMissingPointer ConflictKind = "missing_pointer"
)

// Conflict describes a single detected inconsistency between the knowledge
// repository and the memory pointer layer.
type Conflict struct {
	Kind ConflictKind
	// KnowledgeID identifies the knowledge entry as "<layer>/<path>".
	KnowledgeID string
	// MemoryID is the memory-layer entry id. Populated for HashMismatch and
	// OrphanedPointer; for MissingPointer it is the id the pointer is
	// expected to have once created.
	MemoryID string
	// ExpectedHash/ActualHash are populated for HashMismatch.
	ExpectedHash string
	ActualHash   string
}

// ResolutionStrategy picks how [Manager.ResolveConflicts] settles a
// conflict. The platform default is [ResolutionPreferKnowledge].
type ResolutionStrategy string

const (
	// ResolutionPreferKnowledge overwrites memory pointers from the
	// knowledge repository's current state. The default.
	ResolutionPreferKnowledge ResolutionStrategy = "prefer_knowledge"
	// ResolutionPreferMemory leaves existing memory content alone where
	// possible, reconciling state around what memory already holds.
	ResolutionPreferMemory ResolutionStrategy = "prefer_memory"
	// ResolutionManual defers resolution: conflicts are appended to
	// State.FailedItems for a human to resolve.
	ResolutionManual ResolutionStrategy = "manual"
)

// Failure records one sync item that could not be processed.
type Failure struct {
	KnowledgeID string
	Error       string
	FailedAt    time.Time
	RetryCount  int
}

// Stats accumulates counters across a tenant's sync history.
type Stats struct {
	TotalSyncs            uint64
	TotalItemsSynced      uint64
	TotalConflicts        uint64
	TotalGovernanceBlocks uint64
	AvgSyncDurationMs     uint64
}

// FederationConflict records a failed upstream sync attempt. The local
// sync always proceeds regardless of federation failures.
type FederationConflict struct {
	UpstreamID string
	Reason     string
}

// State is the tenant-scoped, persisted bookkeeping the sync bridge uses to
// detect drift between knowledge commits and memory pointers across runs.
type State struct {
	Version              string
	LastSyncAt           *time.Time
	LastKnowledgeCommit  *string
	KnowledgeHashes      map[string]string        // "<layer>/<path>" -> content hash
	PointerMapping       map[string]string        // "<layer>/<path>" -> memory entry id
	KnowledgeLayers      map[string]knowledge.Layer // "<layer>/<path>" -> layer
	FailedItems          []Failure
	FederationConflicts  []FederationConflict
	Stats                Stats
}

// NewState returns an empty State ready for a tenant's first sync.
func NewState() State {
	return State{
		Version:         "1.0",
		KnowledgeHashes: make(map[string]string),
		PointerMapping:  make(map[string]string),
		KnowledgeLayers: make(map[string]knowledge.Layer),
	}
}

// StatePersister loads and saves a tenant's [State] across sync runs.
type StatePersister interface {
	Load(ctx context.Context, tenantID identity.TenantID) (State, error)
	Save(ctx context.Context, tenantID identity.TenantID, state State) error
}

// Unlock releases a lock acquired via [Locker.Acquire]. It is safe to call
// more than once.
type Unlock func(ctx context.Context) error

// Locker serializes sync runs per tenant over a shared KV store so that two
// concurrent sync triggers for the same tenant don't race.
type Locker interface {
	// Acquire attempts to take the tenant's sync lock for ttl. ok is false
	// (with a nil Unlock and nil error) when another holder already has it.
	Acquire(ctx context.Context, tenantID identity.TenantID, ttl time.Duration) (unlock Unlock, ok bool, err error)
	// Renew extends a held lock's TTL. Called periodically during a long
	// sync run so the lock doesn't expire out from under it.
	Renew(ctx context.Context, tenantID identity.TenantID, ttl time.Duration) error
}

// UpstreamConfig names one federated upstream knowledge repository.
type UpstreamConfig struct {
	ID  string
	URL string
}

// FederationConfig lists the upstreams a [FederationProvider] manages.
type FederationConfig struct {
	Upstreams []UpstreamConfig
}

// Manifest describes an upstream's knowledge item set, keyed by path to
// content hash.
type Manifest struct {
	Version string
	Items   map[string]string
}

// FederationProvider optionally pulls knowledge from upstream repositories
// before the local sync runs. Failures are recorded, never fatal.
type FederationProvider interface {
	Config() FederationConfig
	FetchUpstreamManifest(ctx context.Context, upstreamID string) (Manifest, error)
	SyncUpstream(ctx context.Context, upstreamID string, path string) error
}
