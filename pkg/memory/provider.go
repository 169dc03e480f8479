package memory

import (
	"context"

	"github.com/loomctx/loomctx/pkg/identity"
)

// ProviderAdapter is the per-layer contract a memory engine registers one
// implementation of for every [Layer] it serves. Implementations must be
// safe for concurrent use.
type ProviderAdapter interface {
	// Add stores entry under tc's tenant and returns it with any
	// backend-assigned fields (CreatedAt/UpdatedAt) populated.
	Add(ctx context.Context, tc identity.TenantContext, entry Entry) (Entry, error)

	// Search performs a similarity search against vector, returning up to
	// limit results matching filter. Results are ranked by vector
	// similarity only; Content is not keyword-matched, also when vector is
	// nil.
	Search(ctx context.Context, tc identity.TenantContext, vector []float32, limit int, filter Filter) ([]SearchResult, error)

	// Get retrieves an entry by id. Returns (nil, nil) when not found.
	Get(ctx context.Context, tc identity.TenantContext, id string) (*Entry, error)

	// Update replaces the stored entry with the same ID as entry.
	// Returns an error when the entry does not exist.
	Update(ctx context.Context, tc identity.TenantContext, entry Entry) error

	// Delete removes the entry identified by id. Deleting a non-existent
	// entry is not an error.
	Delete(ctx context.Context, tc identity.TenantContext, id string) error

	// List returns up to limit entries in this layer starting at cursor, and
	// a cursor for the next page (empty when exhausted).
	List(ctx context.Context, tc identity.TenantContext, limit int, cursor Cursor) ([]Entry, Cursor, error)
}
