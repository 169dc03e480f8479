package sync

import (
	"context"
	"time"

	"github.com/loomctx/loomctx/internal/loomerr"
	"github.com/loomctx/loomctx/pkg/governance"
	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/knowledge"
	"github.com/loomctx/loomctx/pkg/memory"
)

// DefaultLockTTL is how long a tenant's sync lock is held before it expires
// if the holder never releases it, per §4.I.5.
const DefaultLockTTL = 10 * time.Minute

// DefaultLockRenewInterval is how often a long-running sync renews its
// lock.
const DefaultLockRenewInterval = time.Minute

// Manager is the sync bridge: it keeps a tenant's memory-layer knowledge
// pointers consistent with the knowledge repository.
type Manager struct {
	memory     *memory.Engine
	repo       knowledge.Repository
	governance *governance.Engine
	persister  StatePersister
	locker     Locker
}

// NewManager wires a sync bridge over the given memory engine, knowledge
// repository, governance engine, state persister, and tenant lock.
func NewManager(mem *memory.Engine, repo knowledge.Repository, gov *governance.Engine, persister StatePersister, locker Locker) *Manager {
	return &Manager{memory: mem, repo: repo, governance: gov, persister: persister, locker: locker}
}

// GetState returns the tenant's persisted sync state.
func (m *Manager) GetState(ctx context.Context, tc identity.TenantContext) (State, error) {
	return m.persister.Load(ctx, tc.TenantID)
}

// SyncAll performs a full sync (§4.I.2): every entry across all four
// knowledge layers is considered.
func (m *Manager) SyncAll(ctx context.Context, tc identity.TenantContext) error {
	return m.sync(ctx, tc, true)
}

// SyncIncremental performs an incremental sync (§4.I.3): only entries
// touched by commits since the last sync are considered.
func (m *Manager) SyncIncremental(ctx context.Context, tc identity.TenantContext) error {
	return m.sync(ctx, tc, false)
}

// RunSyncCycle evaluates the sync triggers (§4.I.1) and runs whichever sync
// mode applies. stalenessThresholdMins of 0 always triggers (manual/forced
// sync). A tenant with no prior sync always gets a full sync.
func (m *Manager) RunSyncCycle(ctx context.Context, tc identity.TenantContext, stalenessThresholdMins int) error {
	state, err := m.persister.Load(ctx, tc.TenantID)
	if err != nil {
		return loomerr.Internal("sync_load_state", "failed to load sync state", err)
	}

	if state.LastKnowledgeCommit == nil {
		return m.SyncAll(ctx, tc)
	}

	head, err := m.repo.GetHeadCommit(ctx, tc)
	if err != nil {
		return loomerr.Internal("sync_head_commit", "failed to resolve knowledge HEAD", err)
	}
	commitMismatch := head != nil && *head != *state.LastKnowledgeCommit

	stale := stalenessThresholdMins <= 0
	if !stale && state.LastSyncAt != nil {
		stale = time.Since(*state.LastSyncAt) > time.Duration(stalenessThresholdMins)*time.Minute
	}

	if !stale && !commitMismatch {
		return nil
	}
	return m.SyncIncremental(ctx, tc)
}

// StartBackgroundSync runs [Manager.RunSyncCycle] every interval until the
// returned stop function is called.
func (m *Manager) StartBackgroundSync(ctx context.Context, tc identity.TenantContext, interval time.Duration) (stop func()) {
	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = m.RunSyncCycle(ctx, tc, 0)
			}
		}
	}()
	return func() { close(stopCh) }
}

// sync implements the shared body of full and incremental sync.
func (m *Manager) sync(ctx context.Context, tc identity.TenantContext, full bool) error {
	start := time.Now()

	unlock, ok, err := m.locker.Acquire(ctx, tc.TenantID, DefaultLockTTL)
	if err != nil {
		return loomerr.Internal("sync_lock", "failed to acquire tenant sync lock", err)
	}
	if !ok {
		return loomerr.Transient("sync_in_progress", "a sync is already running for this tenant", 0, nil)
	}
	defer unlock(ctx)

	renewCtx, stopRenew := context.WithCancel(ctx)
	defer stopRenew()
	go func() {
		ticker := time.NewTicker(DefaultLockRenewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				_ = m.locker.Renew(renewCtx, tc.TenantID, DefaultLockTTL)
			}
		}
	}()

	state, err := m.persister.Load(ctx, tc.TenantID)
	if err != nil {
		return loomerr.Internal("sync_load_state", "failed to load sync state", err)
	}

	head, err := m.repo.GetHeadCommit(ctx, tc)
	if err != nil {
		return loomerr.Internal("sync_head_commit", "failed to resolve knowledge HEAD", err)
	}

	seen := make(map[string]bool)
	itemsSynced := 0

	if full {
		for _, layer := range knowledge.AllLayers() {
			entries, err := m.repo.List(ctx, tc, layer, "")
			if err != nil {
				return loomerr.Internal("sync_list", "failed to list knowledge entries", err)
			}
			for _, entry := range entries {
				n, err := m.syncEntry(ctx, tc, &state, entry)
				if err != nil {
					return err
				}
				itemsSynced += n
				seen[knowledgeID(entry.Layer, entry.Path)] = true
			}
		}
		// Anything previously tracked but not seen this round was deleted
		// from the repository since the last full sync.
		for key := range state.KnowledgeHashes {
			if seen[key] {
				continue
			}
			if err := m.orphanPointer(ctx, tc, &state, key); err != nil {
				return err
			}
		}
	} else {
		var since string
		if state.LastKnowledgeCommit != nil {
			since = *state.LastKnowledgeCommit
		}
		affected, err := m.repo.GetAffectedItems(ctx, tc, since)
		if err != nil {
			return loomerr.Internal("sync_affected_items", "failed to resolve affected knowledge items", err)
		}
		for _, item := range affected {
			entry, err := m.repo.Get(ctx, tc, item.Layer, item.Path)
			if err != nil {
				return loomerr.Internal("sync_get_entry", "failed to read knowledge entry", err)
			}
			key := knowledgeID(item.Layer, item.Path)
			if entry == nil {
				// Touched by a commit but absent now: it was deleted.
				if err := m.orphanPointer(ctx, tc, &state, key); err != nil {
					return err
				}
				continue
			}
			n, err := m.syncEntry(ctx, tc, &state, *entry)
			if err != nil {
				return err
			}
			itemsSynced += n
		}
	}

	if head != nil {
		state.LastKnowledgeCommit = head
	}
	now := time.Now()
	state.LastSyncAt = &now
	state.Stats.TotalSyncs++
	state.Stats.TotalItemsSynced += uint64(itemsSynced)
	elapsed := uint64(time.Since(start).Milliseconds())
	if state.Stats.TotalSyncs <= 1 {
		state.Stats.AvgSyncDurationMs = elapsed
	} else {
		n := state.Stats.TotalSyncs
		state.Stats.AvgSyncDurationMs = (state.Stats.AvgSyncDurationMs*(n-1) + elapsed) / n
	}

	if err := m.persister.Save(ctx, tc.TenantID, state); err != nil {
		return loomerr.Internal("sync_save_state", "failed to persist sync state", err)
	}
	return nil
}

// syncEntry upserts one knowledge entry's memory pointer if its content
// hash changed (or it's new), applying governance first. Returns 1 if an
// item was synced, 0 if it was skipped (unchanged or governance-blocked).
func (m *Manager) syncEntry(ctx context.Context, tc identity.TenantContext, state *State, entry knowledge.Entry) (int, error) {
	key := knowledgeID(entry.Layer, entry.Path)

	validation := m.governance.Validate(entry.Layer, map[string]any{
		"path":    entry.Path,
		"content": entry.Content,
		"layer":   entry.Layer.String(),
	})
	if !validation.IsValid {
		msg := "governance violation (BLOCK)"
		if len(validation.Violations) > 0 {
			msg = "governance violation (BLOCK): " + validation.Violations[0].Message
		}
		state.FailedItems = append(state.FailedItems, Failure{KnowledgeID: key, Error: msg, FailedAt: time.Now()})
		state.Stats.TotalGovernanceBlocks++
		return 0, nil
	}

	hash := ContentHash(entry.Content)
	if state.KnowledgeHashes[key] == hash {
		return 0, nil
	}

	memLayer := MapLayer(entry.Layer)
	memID := pointerMemoryID(entry.Path)

	ptrMeta, err := EncodePointer(Pointer{
		SourceType:  entry.Kind,
		SourceID:    entry.Path,
		ContentHash: hash,
		SourceLayer: entry.Layer,
		SyncedAt:    time.Now(),
	})
	if err != nil {
		return 0, loomerr.Internal("sync_encode_pointer", "failed to encode knowledge pointer", err)
	}

	existing, err := m.memory.GetFromLayer(ctx, tc, memLayer, memID)
	if err != nil {
		return 0, loomerr.Internal("sync_get_memory", "failed to read existing memory pointer", err)
	}

	memEntry := memory.Entry{ID: memID, Content: entry.Content, Layer: memLayer, Metadata: map[string]any{memory.MetaKnowledgePointer: ptrMeta}}
	if existing == nil {
		if _, err := m.memory.AddToLayer(ctx, tc, memLayer, memEntry); err != nil {
			return 0, loomerr.Internal("sync_add_memory", "failed to create memory pointer", err)
		}
	} else {
		memEntry.CreatedAt = existing.CreatedAt
		memEntry.Importance = existing.Importance
		if err := m.memory.UpdateInLayer(ctx, tc, memLayer, memEntry); err != nil {
			return 0, loomerr.Internal("sync_update_memory", "failed to update memory pointer", err)
		}
	}

	state.KnowledgeHashes[key] = hash
	state.PointerMapping[key] = memID
	state.KnowledgeLayers[key] = entry.Layer
	return 1, nil
}

// orphanPointer marks the memory pointer for a knowledge key as orphaned:
// its source entry no longer exists in the repository.
func (m *Manager) orphanPointer(ctx context.Context, tc identity.TenantContext, state *State, key string) error {
	memID, ok := state.PointerMapping[key]
	if !ok {
		delete(state.KnowledgeHashes, key)
		return nil
	}
	layer, ok := state.KnowledgeLayers[key]
	if !ok {
		layer = knowledge.LayerProject
	}
	memLayer := MapLayer(layer)

	existing, err := m.memory.GetFromLayer(ctx, tc, memLayer, memID)
	if err != nil {
		return loomerr.Internal("sync_get_memory", "failed to read memory pointer for orphaning", err)
	}
	if existing != nil {
		ptr, hasPtr := DecodePointer(existing.Metadata)
		if hasPtr {
			ptr.IsOrphaned = true
			if meta, err := EncodePointer(ptr); err == nil {
				existing.Metadata[memory.MetaKnowledgePointer] = meta
				_ = m.memory.UpdateInLayer(ctx, tc, memLayer, *existing)
			}
		}
	}
	delete(state.KnowledgeHashes, key)
	return nil
}
