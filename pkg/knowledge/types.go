// Package knowledge defines the tenant-scoped, content-addressed
// organizational knowledge repository: ADRs, policies, patterns, and specs
// versioned by commit the way source code is.
package knowledge

import (
	"context"
	"time"

	"github.com/loomctx/loomctx/pkg/identity"
)

// Layer is one of the four knowledge layers, mirroring the organizational
// hierarchy (Company -> Org -> Team -> Project).
type Layer int

const (
	// LayerCompany holds tenant-wide knowledge.
	LayerCompany Layer = iota + 1
	// LayerOrg holds organization-level knowledge.
	LayerOrg
	// LayerTeam holds team-specific knowledge.
	LayerTeam
	// LayerProject holds project-specific knowledge.
	LayerProject
)

// allLayers lists every layer from least to most specific, matching the
// directory nesting inside the backing repository tree.
var allLayers = []Layer{LayerCompany, LayerOrg, LayerTeam, LayerProject}

// AllLayers returns every knowledge layer, least specific first.
func AllLayers() []Layer {
	out := make([]Layer, len(allLayers))
	copy(out, allLayers)
	return out
}

// IsValid reports whether l is one of the four recognized layers.
func (l Layer) IsValid() bool {
	return l >= LayerCompany && l <= LayerProject
}

// String returns the layer's directory name inside the repository tree.
func (l Layer) String() string {
	switch l {
	case LayerCompany:
		return "company"
	case LayerOrg:
		return "org"
	case LayerTeam:
		return "team"
	case LayerProject:
		return "project"
	default:
		return "unknown"
	}
}

// ParseLayer resolves a directory name back to a [Layer].
func ParseLayer(s string) (Layer, bool) {
	for _, l := range allLayers {
		if l.String() == s {
			return l, true
		}
	}
	return 0, false
}

// Precedence returns the layer's rank in descending-for-governance order:
// Company is evaluated first (rank 1), Project last. Used by the governance
// engine's ancestor-first policy walk.
func (l Layer) Precedence() int {
	switch l {
	case LayerCompany:
		return 1
	case LayerOrg:
		return 2
	case LayerTeam:
		return 3
	case LayerProject:
		return 4
	default:
		return 0
	}
}

// Ancestors returns every layer from Company down to, but not including, l,
// in descending (most general first) order. Used to collect governance
// policies that apply to l.
func (l Layer) Ancestors() []Layer {
	out := make([]Layer, 0, len(allLayers))
	for _, a := range allLayers {
		if a.Precedence() >= l.Precedence() {
			break
		}
		out = append(out, a)
	}
	return out
}

// Kind is the document type of a knowledge entry.
type Kind string

const (
	KindADR     Kind = "adr"
	KindPolicy  Kind = "policy"
	KindPattern Kind = "pattern"
	KindSpec    Kind = "spec"
)

// Status is a knowledge entry's position in its acceptance lifecycle.
// Transitions are policy-checked by the governance engine; the core
// repository only stores the current value.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusProposed   Status = "proposed"
	StatusAccepted   Status = "accepted"
	StatusDeprecated Status = "deprecated"
	StatusSuperseded Status = "superseded"
)

// Summary is a precomputed condensation of an entry's content at a
// particular granularity (e.g. "one-line", "abstract"), cached alongside the
// entry so readers needing a quick gist don't re-summarize on every read.
type Summary struct {
	Granularity string
	Text        string
}

// Entry is a single versioned document in the knowledge repository.
type Entry struct {
	// Path is the entry's location under its layer's directory, e.g.
	// "adr/0012-use-postgres.md".
	Path string

	Content string
	Layer   Layer
	Kind    Kind
	Status  Status

	// Metadata is a free-form string-keyed map, persisted alongside the
	// entry's content.
	Metadata map[string]any

	// CommitHash is the hash of the commit that most recently wrote this
	// entry. Populated by the repository on read; ignored on write.
	CommitHash string

	// Author is the commit author recorded for the write that produced
	// CommitHash.
	Author string

	UpdatedAt time.Time

	Summaries []Summary
}

// AffectedItem names a (layer, path) pair touched by a commit.
type AffectedItem struct {
	Layer Layer
	Path  string
}

// Repository is the tenant-scoped, content-addressed knowledge store
// contract. Every write appends a commit; history is retained and never
// rewritten.
//
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns the entry at path in layer, or nil if it does not exist.
	Get(ctx context.Context, tc identity.TenantContext, layer Layer, path string) (*Entry, error)

	// Store writes entry and appends a commit with message. Returns the new
	// commit's hash. Atomic with respect to commit creation: either the
	// commit is created with entry's content, or Store returns an error and
	// the repository is left unchanged.
	Store(ctx context.Context, tc identity.TenantContext, entry Entry, message string) (string, error)

	// List returns every entry in layer whose path has the given prefix.
	List(ctx context.Context, tc identity.TenantContext, layer Layer, prefix string) ([]Entry, error)

	// Delete removes the entry at path in layer and appends a commit with
	// message. Returns the new commit's hash.
	Delete(ctx context.Context, tc identity.TenantContext, layer Layer, path string, message string) (string, error)

	// GetHeadCommit returns the tenant's current HEAD commit hash, or nil if
	// the repository has no commits yet.
	GetHeadCommit(ctx context.Context, tc identity.TenantContext) (*string, error)

	// GetAffectedItems returns every (layer, path) touched by commits
	// strictly after sinceCommit, in commit order (oldest first).
	GetAffectedItems(ctx context.Context, tc identity.TenantContext, sinceCommit string) ([]AffectedItem, error)

	// Search returns up to limit entries across layers matching query.
	Search(ctx context.Context, tc identity.TenantContext, query string, layers []Layer, limit int) ([]Entry, error)
}
