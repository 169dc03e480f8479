package sync

import (
	"context"
	"sync"
	"time"

	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/knowledge"
)

var (
	_ StatePersister = (*MemStatePersister)(nil)
	_ Locker         = (*MemLocker)(nil)
)

// MemStatePersister is an in-memory [StatePersister], suitable for tests and
// single-process deployments without a database.
type MemStatePersister struct {
	mu     sync.Mutex
	states map[identity.TenantID]State
}

// NewMemStatePersister returns an initialized MemStatePersister.
func NewMemStatePersister() *MemStatePersister {
	return &MemStatePersister{states: make(map[identity.TenantID]State)}
}

// Load implements [StatePersister].
func (p *MemStatePersister) Load(ctx context.Context, tenantID identity.TenantID) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.states[tenantID]; ok {
		return cloneState(s), nil
	}
	return NewState(), nil
}

// Save implements [StatePersister].
func (p *MemStatePersister) Save(ctx context.Context, tenantID identity.TenantID, state State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[tenantID] = cloneState(state)
	return nil
}

func cloneState(s State) State {
	out := s
	out.KnowledgeHashes = make(map[string]string, len(s.KnowledgeHashes))
	for k, v := range s.KnowledgeHashes {
		out.KnowledgeHashes[k] = v
	}
	out.PointerMapping = make(map[string]string, len(s.PointerMapping))
	for k, v := range s.PointerMapping {
		out.PointerMapping[k] = v
	}
	out.KnowledgeLayers = make(map[string]knowledge.Layer, len(s.KnowledgeLayers))
	for k, v := range s.KnowledgeLayers {
		out.KnowledgeLayers[k] = v
	}
	out.FailedItems = append([]Failure(nil), s.FailedItems...)
	out.FederationConflicts = append([]FederationConflict(nil), s.FederationConflicts...)
	return out
}

// MemLocker is an in-memory [Locker], suitable for tests and single-process
// deployments. A held lock simply blocks other Acquire calls for the same
// tenant until released; it carries no real TTL expiry since there is no
// external clock to race against within one process.
type MemLocker struct {
	mu   sync.Mutex
	held map[identity.TenantID]bool
}

// NewMemLocker returns an initialized MemLocker.
func NewMemLocker() *MemLocker {
	return &MemLocker{held: make(map[identity.TenantID]bool)}
}

// Acquire implements [Locker].
func (l *MemLocker) Acquire(ctx context.Context, tenantID identity.TenantID, ttl time.Duration) (Unlock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[tenantID] {
		return nil, false, nil
	}
	l.held[tenantID] = true
	unlock := func(ctx context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, tenantID)
		return nil
	}
	return unlock, true, nil
}

// Renew implements [Locker].
func (l *MemLocker) Renew(ctx context.Context, tenantID identity.TenantID, ttl time.Duration) error {
	return nil
}
