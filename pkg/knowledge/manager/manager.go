// Package manager provides a governance-gated façade over a
// [knowledge.Repository]: every write is checked against the governance
// engine before it reaches the repository, mirroring how the sync bridge
// gates synced content but for direct, API-driven knowledge writes.
package manager

import (
	"context"

	"github.com/loomctx/loomctx/internal/loomerr"
	"github.com/loomctx/loomctx/pkg/governance"
	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/knowledge"
)

// Manager wraps a knowledge repository with governance checks on write.
type Manager struct {
	repository knowledge.Repository
	governance *governance.Engine
}

// New wires a Manager over repository and governance.
func New(repository knowledge.Repository, gov *governance.Engine) *Manager {
	return &Manager{repository: repository, governance: gov}
}

// Add validates entry against governance before storing it. Returns the new
// commit hash, or a [loomerr.KindGovernance] error if a mandatory policy
// blocks the write.
func (m *Manager) Add(ctx context.Context, tc identity.TenantContext, entry knowledge.Entry, message string) (string, error) {
	validation := m.governance.Validate(entry.Layer, map[string]any{
		"path":    entry.Path,
		"content": entry.Content,
		"layer":   entry.Layer.String(),
	})
	if !validation.IsValid {
		reason := "governance validation failed"
		if len(validation.Violations) > 0 {
			reason = validation.Violations[0].Message
		}
		return "", loomerr.Governance("knowledge_governance_blocked", reason)
	}
	return m.repository.Store(ctx, tc, entry, message)
}

// CheckConstraints runs governance validation for layer against context
// without writing anything, e.g. to preview whether a draft entry would
// pass before a user submits it.
func (m *Manager) CheckConstraints(layer knowledge.Layer, context map[string]any) governance.ValidationResult {
	return m.governance.Validate(layer, context)
}

// Query delegates to the repository's free-text search.
func (m *Manager) Query(ctx context.Context, tc identity.TenantContext, query string, layers []knowledge.Layer, limit int) ([]knowledge.Entry, error) {
	return m.repository.Search(ctx, tc, query, layers, limit)
}

// List delegates to the repository.
func (m *Manager) List(ctx context.Context, tc identity.TenantContext, layer knowledge.Layer, prefix string) ([]knowledge.Entry, error) {
	return m.repository.List(ctx, tc, layer, prefix)
}

// Get delegates to the repository.
func (m *Manager) Get(ctx context.Context, tc identity.TenantContext, layer knowledge.Layer, path string) (*knowledge.Entry, error) {
	return m.repository.Get(ctx, tc, layer, path)
}

// GetHeadCommit delegates to the repository.
func (m *Manager) GetHeadCommit(ctx context.Context, tc identity.TenantContext) (*string, error) {
	return m.repository.GetHeadCommit(ctx, tc)
}

// GetAffectedItems delegates to the repository.
func (m *Manager) GetAffectedItems(ctx context.Context, tc identity.TenantContext, sinceCommit string) ([]knowledge.AffectedItem, error) {
	return m.repository.GetAffectedItems(ctx, tc, sinceCommit)
}

// Delete is governance-checked the same way Add is: a mandatory policy can
// block removing an entry (e.g. a policy requiring ADRs be superseded
// rather than deleted).
func (m *Manager) Delete(ctx context.Context, tc identity.TenantContext, layer knowledge.Layer, path string, message string) (string, error) {
	validation := m.governance.Validate(layer, map[string]any{"path": path, "layer": layer.String()})
	if !validation.IsValid {
		reason := "governance validation failed"
		if len(validation.Violations) > 0 {
			reason = validation.Violations[0].Message
		}
		return "", loomerr.Governance("knowledge_governance_blocked", reason)
	}
	return m.repository.Delete(ctx, tc, layer, path, message)
}
