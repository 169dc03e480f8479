package sync

import (
	"context"
	"strings"
	"time"

	"github.com/loomctx/loomctx/internal/loomerr"
	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/knowledge"
)

// DetectConflicts implements §4.I.4: it walks the persisted pointer
// mapping and compares each entry against the knowledge repository's
// current state and the memory layer's current pointer.
func (m *Manager) DetectConflicts(ctx context.Context, tc identity.TenantContext) ([]Conflict, error) {
	state, err := m.persister.Load(ctx, tc.TenantID)
	if err != nil {
		return nil, loomerr.Internal("sync_load_state", "failed to load sync state", err)
	}

	var conflicts []Conflict
	for key, memID := range state.PointerMapping {
		layer, path, ok := splitKnowledgeID(key)
		if !ok {
			continue
		}

		entry, err := m.repo.Get(ctx, tc, layer, path)
		if err != nil {
			return nil, loomerr.Internal("sync_get_entry", "failed to read knowledge entry", err)
		}
		if entry == nil {
			conflicts = append(conflicts, Conflict{Kind: ConflictOrphanedPointer, KnowledgeID: key, MemoryID: memID})
			continue
		}

		memLayer := MapLayer(layer)
		memEntry, err := m.memory.GetFromLayer(ctx, tc, memLayer, memID)
		if err != nil {
			return nil, loomerr.Internal("sync_get_memory", "failed to read memory pointer", err)
		}
		if memEntry == nil {
			conflicts = append(conflicts, Conflict{Kind: ConflictMissingPointer, KnowledgeID: key, MemoryID: memID})
			continue
		}

		actualHash := ContentHash(entry.Content)
		if ptr, ok := DecodePointer(memEntry.Metadata); ok && ptr.ContentHash != actualHash {
			conflicts = append(conflicts, Conflict{
				Kind:         ConflictHashMismatch,
				KnowledgeID:  key,
				MemoryID:     memID,
				ExpectedHash: ptr.ContentHash,
				ActualHash:   actualHash,
			})
		}
	}
	return conflicts, nil
}

// ResolveConflicts implements §4.I.4's resolution policy. The default
// strategy ([ResolutionPreferKnowledge]) makes knowledge the source of
// truth: a hash mismatch overwrites the memory pointer, an orphaned
// pointer is deleted, and a missing pointer is created.
func (m *Manager) ResolveConflicts(ctx context.Context, tc identity.TenantContext, conflicts []Conflict, strategy ResolutionStrategy) error {
	if strategy == "" {
		strategy = ResolutionPreferKnowledge
	}

	state, err := m.persister.Load(ctx, tc.TenantID)
	if err != nil {
		return loomerr.Internal("sync_load_state", "failed to load sync state", err)
	}

	for _, c := range conflicts {
		if strategy == ResolutionManual {
			state.FailedItems = append(state.FailedItems, Failure{
				KnowledgeID: c.KnowledgeID,
				Error:       "manual resolution required: " + string(c.Kind),
				FailedAt:    time.Now(),
			})
			continue
		}

		if err := m.resolveOne(ctx, tc, &state, c, strategy); err != nil {
			return err
		}
	}
	state.Stats.TotalConflicts += uint64(len(conflicts))

	if err := m.persister.Save(ctx, tc.TenantID, state); err != nil {
		return loomerr.Internal("sync_save_state", "failed to persist sync state", err)
	}
	return nil
}

func (m *Manager) resolveOne(ctx context.Context, tc identity.TenantContext, state *State, c Conflict, strategy ResolutionStrategy) error {
	layer, path, ok := splitKnowledgeID(c.KnowledgeID)
	if !ok {
		return nil
	}
	memLayer := MapLayer(layer)

	switch c.Kind {
	case ConflictHashMismatch:
		if strategy == ResolutionPreferMemory {
			// Accept memory's current content as authoritative: record its
			// hash so future detection passes treat it as reconciled,
			// without touching the knowledge repository.
			if memEntry, err := m.memory.GetFromLayer(ctx, tc, memLayer, c.MemoryID); err == nil && memEntry != nil {
				state.KnowledgeHashes[c.KnowledgeID] = ContentHash(memEntry.Content)
			}
			return nil
		}
		entry, err := m.repo.Get(ctx, tc, layer, path)
		if err != nil {
			return loomerr.Internal("sync_get_entry", "failed to read knowledge entry for resolution", err)
		}
		if entry == nil {
			return nil
		}
		if _, err := m.syncEntry(ctx, tc, state, *entry); err != nil {
			return err
		}
		return nil

	case ConflictOrphanedPointer:
		if err := m.memory.DeleteFromLayer(ctx, tc, memLayer, c.MemoryID); err != nil {
			return loomerr.Internal("sync_delete_memory", "failed to delete orphaned memory pointer", err)
		}
		delete(state.PointerMapping, c.KnowledgeID)
		delete(state.KnowledgeHashes, c.KnowledgeID)
		return nil

	case ConflictMissingPointer:
		entry, err := m.repo.Get(ctx, tc, layer, path)
		if err != nil {
			return loomerr.Internal("sync_get_entry", "failed to read knowledge entry for resolution", err)
		}
		if entry == nil {
			return nil
		}
		if _, err := m.syncEntry(ctx, tc, state, *entry); err != nil {
			return err
		}
		return nil

	default:
		return nil
	}
}

// SyncFederation pulls from every configured upstream via provider (§4.I.6).
// Per §9's open-question resolution, local wins on a path both sides
// changed: SyncFederation never overwrites a path this tenant already has a
// hash for, it only records the divergence in FederationConflicts. A path
// local has never seen is pulled in via provider.SyncUpstream. A fetch or
// pull failure is recorded the same way and never aborts the overall call —
// the local sync proceeds regardless of upstream availability.
func (m *Manager) SyncFederation(ctx context.Context, tc identity.TenantContext, provider FederationProvider) error {
	state, err := m.persister.Load(ctx, tc.TenantID)
	if err != nil {
		return loomerr.Internal("sync_load_state", "failed to load sync state", err)
	}

	for _, up := range provider.Config().Upstreams {
		manifest, err := provider.FetchUpstreamManifest(ctx, up.ID)
		if err != nil {
			state.FederationConflicts = append(state.FederationConflicts, FederationConflict{
				UpstreamID: up.ID,
				Reason:     "manifest fetch failed: " + err.Error(),
			})
			continue
		}

		for path, upstreamHash := range manifest.Items {
			localHash, known := state.KnowledgeHashes[path]
			switch {
			case !known:
				if err := provider.SyncUpstream(ctx, up.ID, path); err != nil {
					state.FederationConflicts = append(state.FederationConflicts, FederationConflict{
						UpstreamID: up.ID,
						Reason:     "pull failed for " + path + ": " + err.Error(),
					})
				}
			case localHash != upstreamHash:
				// Both sides have this path and disagree: local wins
				// (PreferLocal), the divergence is only recorded.
				state.FederationConflicts = append(state.FederationConflicts, FederationConflict{
					UpstreamID: up.ID,
					Reason:     "conflict on " + path + ": local and upstream content differ, local kept",
				})
			}
		}
	}

	return m.persister.Save(ctx, tc.TenantID, state)
}

func splitKnowledgeID(key string) (knowledge.Layer, string, bool) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	layer, ok := knowledge.ParseLayer(parts[0])
	if !ok {
		return 0, "", false
	}
	return layer, parts[1], true
}
