// Package identity defines the tenant and actor context carried by value
// across every operation in the platform, and the validation rules applied
// to tenant-scoped identifiers.
package identity

import (
	"unicode"
	"unicode/utf8"

	"github.com/loomctx/loomctx/internal/loomerr"
)

// maxIDLength is the maximum allowed length, in runes, for a tenant, user,
// or agent identifier.
const maxIDLength = 256

// TenantID uniquely identifies a tenant (a Company-layer root in the
// authorization hierarchy). Every memory, knowledge, and graph operation is
// scoped to exactly one TenantID.
type TenantID string

// UserID uniquely identifies a human user within a tenant.
type UserID string

// AgentID uniquely identifies an AI agent acting within a tenant, optionally
// on behalf of a user.
type AgentID string

// TenantContext is carried by value through every call into the platform.
// It is the sole source of tenant scoping — no component may infer a tenant
// from any other field.
type TenantContext struct {
	// TenantID scopes all storage and authorization lookups.
	TenantID TenantID

	// UserID identifies the human user driving the request, if any.
	UserID UserID

	// AgentID identifies the acting agent, if any. When both UserID and
	// AgentID are set the request is agent-on-behalf-of-user (see the
	// ActAs decision point in pkg/authz).
	AgentID AgentID

	// RequestID correlates this call across logs and traces. Generated by
	// the caller at the edge (tool server, HTTP handler) and threaded
	// through unchanged.
	RequestID string
}

// Validate checks that tc is well-formed: TenantID is required and must
// pass [ValidateID]; UserID and AgentID, if set, must also pass it.
func (tc TenantContext) Validate() error {
	if tc.TenantID == "" {
		return loomerr.Validation("tenant_id_required", "tenant_id must not be empty")
	}
	if err := ValidateID(string(tc.TenantID)); err != nil {
		return err
	}
	if tc.UserID != "" {
		if err := ValidateID(string(tc.UserID)); err != nil {
			return err
		}
	}
	if tc.AgentID != "" {
		if err := ValidateID(string(tc.AgentID)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateID reports whether id is a valid identifier: non-empty, no longer
// than 256 runes, valid UTF-8, and composed entirely of printable,
// non-space runes.
func ValidateID(id string) error {
	if id == "" {
		return loomerr.Validation("id_empty", "identifier must not be empty")
	}
	if !utf8.ValidString(id) {
		return loomerr.Validation("id_invalid_utf8", "identifier must be valid UTF-8")
	}
	count := 0
	for _, r := range id {
		count++
		if count > maxIDLength {
			return loomerr.Validation("id_too_long", "identifier must not exceed 256 runes")
		}
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return loomerr.Validation("id_not_printable", "identifier must contain only printable, non-space runes")
		}
	}
	return nil
}
