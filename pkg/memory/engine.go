package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loomctx/loomctx/internal/loomerr"
	"github.com/loomctx/loomctx/pkg/graph"
	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/provider/embeddings"
)

// Promotion score weights per §4.F.3 (defaults: access 0.3, importance 0.5,
// recency 0.2).
const (
	weightAccessCount = 0.3
	weightImportance   = 0.5
	weightRecency      = 0.2

	// recencyWindow normalizes recency(E) over 30 days.
	recencyWindow = 30 * 24 * time.Hour
)

// DefaultPromotionThreshold is used for any layer that has not been given an
// explicit threshold via [Engine.SetPromotionThreshold].
const DefaultPromotionThreshold = 0.6

// promotedSuffix is appended to the id of a memory entry copied into a
// parent layer by [Engine.PromoteImportantMemories].
const promotedSuffix = "_promoted"

// Engine is the layered memory engine (§4.F): it registers one
// [ProviderAdapter] per [Layer], fans out searches across them with
// precedence-ordered aggregation, and manages importance-based promotion
// and reward propagation.
//
// Engine itself holds no storage state; it owns handles to provider and
// graph clients that are in turn backed by shared connection pools, per
// the ownership model in §9 ("providers never own the engine").
type Engine struct {
	mu        sync.RWMutex
	providers map[Layer]ProviderAdapter
	embedder  embeddings.Provider
	graph     graph.Store

	thresholds map[Layer]float64
}

// NewEngine constructs an Engine with no providers registered. Use
// [Engine.Register] to attach a [ProviderAdapter] per layer before issuing
// searches.
func NewEngine(embedder embeddings.Provider, g graph.Store) *Engine {
	return &Engine{
		providers:  make(map[Layer]ProviderAdapter),
		embedder:   embedder,
		graph:      g,
		thresholds: make(map[Layer]float64),
	}
}

// Register attaches adapter as the provider for layer, replacing any
// previously registered provider.
func (e *Engine) Register(layer Layer, adapter ProviderAdapter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.providers[layer] = adapter
}

// SetPromotionThreshold overrides the default promotion threshold for
// layer.
func (e *Engine) SetPromotionThreshold(layer Layer, threshold float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.thresholds[layer] = threshold
}

func (e *Engine) promotionThreshold(layer Layer) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if t, ok := e.thresholds[layer]; ok {
		return t
	}
	return DefaultPromotionThreshold
}

func (e *Engine) providerFor(layer Layer) (ProviderAdapter, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.providers[layer]
	return p, ok
}

func (e *Engine) registeredProviders() map[Layer]ProviderAdapter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[Layer]ProviderAdapter, len(e.providers))
	for l, p := range e.providers {
		out[l] = p
	}
	return out
}

// AddToLayer stores entry in the given layer's provider.
func (e *Engine) AddToLayer(ctx context.Context, tc identity.TenantContext, layer Layer, entry Entry) (Entry, error) {
	p, ok := e.providerFor(layer)
	if !ok {
		return Entry{}, loomerr.Validation("layer_not_registered", "no provider registered for layer "+layer.String())
	}
	entry.Layer = layer
	return p.Add(ctx, tc, entry)
}

// GetFromLayer retrieves an entry by id from the given layer.
func (e *Engine) GetFromLayer(ctx context.Context, tc identity.TenantContext, layer Layer, id string) (*Entry, error) {
	p, ok := e.providerFor(layer)
	if !ok {
		return nil, loomerr.Validation("layer_not_registered", "no provider registered for layer "+layer.String())
	}
	return p.Get(ctx, tc, id)
}

// UpdateInLayer overwrites an existing entry in the given layer.
func (e *Engine) UpdateInLayer(ctx context.Context, tc identity.TenantContext, layer Layer, entry Entry) error {
	p, ok := e.providerFor(layer)
	if !ok {
		return loomerr.Validation("layer_not_registered", "no provider registered for layer "+layer.String())
	}
	entry.Layer = layer
	return p.Update(ctx, tc, entry)
}

// DeleteFromLayer removes an entry by id from the given layer.
func (e *Engine) DeleteFromLayer(ctx context.Context, tc identity.TenantContext, layer Layer, id string) error {
	p, ok := e.providerFor(layer)
	if !ok {
		return loomerr.Validation("layer_not_registered", "no provider registered for layer "+layer.String())
	}
	return p.Delete(ctx, tc, id)
}

// layerSearchOutcome captures the result of one provider's contribution to
// a hierarchical search, including any failure.
type layerSearchOutcome struct {
	layer   Layer
	results []SearchResult
	err     error
}

// HierarchicalSearch implements §4.F.2: it resolves query to a vector (if
// non-empty and an embedder is configured), fans out to every registered
// provider (or, when layers is non-empty, only those named) concurrently,
// tags each result with its source layer, stable-sorts by (precedence
// ascending, score descending), and returns the first limit results.
//
// Failure semantics match §4.F.2 exactly: a single provider failure is
// logged and its contribution omitted from the aggregate. The call only
// fails with ProviderUnavailable-classified error when every invoked
// provider fails. This is intentionally NOT errgroup's abort-on-first-error
// behavior — a partial-failure-tolerant fan-out requires capturing each
// goroutine's outcome independently rather than propagating the first
// error.
func (e *Engine) HierarchicalSearch(ctx context.Context, tc identity.TenantContext, query string, vector []float32, limit int, filter Filter, layers []Layer) ([]SearchResult, error) {
	if limit <= 0 {
		return []SearchResult{}, nil
	}

	if vector == nil && query != "" && e.embedder != nil {
		v, err := e.embedder.Embed(ctx, query)
		if err != nil {
			return nil, loomerr.Transient("embedding_failed", "failed to embed query text", 1000, err)
		}
		vector = v
	}

	targets := layers
	if len(targets) == 0 {
		all := e.registeredProviders()
		targets = make([]Layer, 0, len(all))
		for l := range all {
			targets = append(targets, l)
		}
	}

	var wg sync.WaitGroup
	outcomes := make([]layerSearchOutcome, len(targets))
	for i, layer := range targets {
		p, ok := e.providerFor(layer)
		if !ok {
			outcomes[i] = layerSearchOutcome{layer: layer, err: loomerr.Validation("layer_not_registered", "no provider registered for layer "+layer.String())}
			continue
		}
		wg.Add(1)
		go func(i int, layer Layer, p ProviderAdapter) {
			defer wg.Done()
			results, err := p.Search(ctx, tc, vector, limit, filter)
			outcomes[i] = layerSearchOutcome{layer: layer, results: results, err: err}
		}(i, layer, p)
	}
	wg.Wait()

	var merged []SearchResult
	failures := 0
	for _, o := range outcomes {
		if o.err != nil {
			failures++
			slog.Warn("hierarchical search: provider failed, omitting from aggregate",
				"layer", o.layer.String(), "error", o.err)
			continue
		}
		for _, r := range o.results {
			r.Layer = o.layer
			merged = append(merged, r)
		}
	}

	if failures == len(targets) && len(targets) > 0 {
		return nil, loomerr.Transient("provider_unavailable", "every provider in the requested search failed", 1000, nil)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Layer.Precedence() != merged[j].Layer.Precedence() {
			return merged[i].Layer.Precedence() < merged[j].Layer.Precedence()
		}
		return merged[i].Score > merged[j].Score
	})

	if len(merged) > limit {
		merged = merged[:limit]
	}
	if merged == nil {
		merged = []SearchResult{}
	}
	return merged, nil
}

// PromoteImportantMemories implements §4.F.3: it scores every entry in
// sourceLayer and promotes those meeting the layer's promotion threshold
// and eligibility check into the parent layer, returning the ids created.
func (e *Engine) PromoteImportantMemories(ctx context.Context, tc identity.TenantContext, sourceLayer Layer) ([]string, error) {
	return e.promoteFiltered(ctx, tc, sourceLayer, nil)
}

// promoteFiltered runs promotion over sourceLayer, optionally restricted to
// entries for which scope returns true. A nil scope promotes every
// eligible entry in the layer.
func (e *Engine) promoteFiltered(ctx context.Context, tc identity.TenantContext, sourceLayer Layer, scope func(Entry) bool) ([]string, error) {
	parent, ok := sourceLayer.Parent()
	if !ok {
		return nil, loomerr.Validation("no_parent_layer", "layer "+sourceLayer.String()+" has no parent to promote into")
	}

	src, ok := e.providerFor(sourceLayer)
	if !ok {
		return nil, loomerr.Validation("layer_not_registered", "no provider registered for layer "+sourceLayer.String())
	}
	dst, ok := e.providerFor(parent)
	if !ok {
		return nil, loomerr.Validation("layer_not_registered", "no provider registered for layer "+parent.String())
	}

	threshold := e.promotionThreshold(sourceLayer)

	var promoted []string
	var cursor Cursor
	for {
		entries, next, err := src.List(ctx, tc, 200, cursor)
		if err != nil {
			return promoted, loomerr.Internal("promotion_list_failed", "failed to list source layer entries", err)
		}
		for _, entry := range entries {
			if scope != nil && !scope(entry) {
				continue
			}
			if !promotionEligible(entry, parent, threshold) {
				continue
			}
			promotedID := entry.ID + promotedSuffix
			if existing, err := dst.Get(ctx, tc, promotedID); err == nil && existing != nil {
				// Already promoted by a previous run; promotion is idempotent.
				continue
			}
			copyEntry := entry
			copyEntry.ID = promotedID
			copyEntry.Layer = parent
			if _, err := dst.Add(ctx, tc, copyEntry); err != nil {
				slog.Warn("promotion: failed to add promoted entry", "id", promotedID, "error", err)
				continue
			}
			promoted = append(promoted, promotedID)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if promoted == nil {
		promoted = []string{}
	}
	return promoted, nil
}

// promotionEligible computes score(E) per §4.F.3 and checks threshold and
// can_promote eligibility already filtered entries that are already
// promotion copies (to avoid promoting a promoted entry again).
func promotionEligible(entry Entry, destLayer Layer, threshold float64) bool {
	if !entry.CanPromote() {
		return false
	}
	if hasPromotedSuffix(entry.ID) {
		return false
	}
	score := scoreEntry(entry)
	return score >= threshold
}

func hasPromotedSuffix(id string) bool {
	return len(id) >= len(promotedSuffix) && id[len(id)-len(promotedSuffix):] == promotedSuffix
}

func scoreEntry(e Entry) float64 {
	accessNorm := float64(e.AccessCount())
	if accessNorm > 100 {
		accessNorm = 100
	}
	accessNorm /= 100

	recency := recencyScore(e.UpdatedAt)

	return accessNorm*weightAccessCount + e.Importance*weightImportance + recency*weightRecency
}

// recencyScore normalizes how recently e was updated over a 30-day window:
// 1.0 for "just now", 0.0 for 30+ days ago.
func recencyScore(updatedAt time.Time) float64 {
	if updatedAt.IsZero() {
		return 0
	}
	age := time.Since(updatedAt)
	if age < 0 {
		age = 0
	}
	if age >= recencyWindow {
		return 0
	}
	return 1 - float64(age)/float64(recencyWindow)
}

// RewardPath implements §4.F.4: it updates importance and writes
// metadata.reward on every id in entryIDs and on their one-hop graph
// neighbors. metadata.reward holds the running sum of applied rewards: a
// call whose reward equals the stored sum leaves the entry unchanged, and
// any other reward is added to it.
func (e *Engine) RewardPath(ctx context.Context, tc identity.TenantContext, entryIDs []string, reward float64) error {
	ids := make(map[string]struct{}, len(entryIDs)*2)
	for _, id := range entryIDs {
		ids[id] = struct{}{}
	}

	if e.graph != nil {
		for _, id := range entryIDs {
			neighbors, err := e.graph.GetNeighbors(ctx, tc, id)
			if err != nil {
				slog.Warn("reward path: failed to fetch graph neighbors, continuing best-effort", "id", id, "error", err)
				continue
			}
			for _, n := range neighbors {
				ids[n.Node.ID] = struct{}{}
			}
		}
	}

	for id := range ids {
		if err := e.applyReward(ctx, tc, id, reward); err != nil {
			slog.Warn("reward path: failed to apply reward, continuing best-effort", "id", id, "error", err)
		}
	}
	return nil
}

// applyReward locates id across every registered layer and, if found,
// updates its importance and metadata.reward.
func (e *Engine) applyReward(ctx context.Context, tc identity.TenantContext, id string, reward float64) error {
	for layer, p := range e.registeredProviders() {
		entry, err := p.Get(ctx, tc, id)
		if err != nil || entry == nil {
			continue
		}
		if entry.Metadata == nil {
			entry.Metadata = make(map[string]any)
		}
		existing, _ := entry.Metadata[MetaReward].(float64)
		if existing == reward {
			// Idempotent: identical reward value, no change needed.
			return nil
		}
		entry.Metadata[MetaReward] = existing + reward
		entry.Importance = clamp01(entry.Importance + reward)
		entry.Layer = layer
		return p.Update(ctx, tc, *entry)
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// CloseSession implements the session lifecycle hook of §3.10: every
// [LayerSession] entry with metadata.session_id == sessionID becomes
// eligible for promotion into [LayerProject]. Entries with no
// metadata.session_id set (session-agnostic layer content) are left alone.
func (e *Engine) CloseSession(ctx context.Context, tc identity.TenantContext, sessionID string) ([]string, error) {
	return e.promoteFiltered(ctx, tc, LayerSession, func(entry Entry) bool {
		return entry.SessionID() == sessionID
	})
}

// CloseAgent implements the agent lifecycle hook of §3.10: equivalent
// semantics to [Engine.CloseSession] but scoped to [LayerAgent] entries
// with metadata.agent_id == agentID.
func (e *Engine) CloseAgent(ctx context.Context, tc identity.TenantContext, agentID string) ([]string, error) {
	return e.promoteFiltered(ctx, tc, LayerAgent, func(entry Entry) bool {
		return entry.AgentID() == agentID
	})
}
