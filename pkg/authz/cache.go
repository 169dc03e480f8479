package authz

import (
	"sync/atomic"

	"github.com/loomctx/loomctx/pkg/identity"
)

// snapshot is an immutable view of every entity known to one tenant's
// authorization cache. A [Cache] never mutates a snapshot in place: every
// change builds a new snapshot from a shallow copy of the maps and swaps
// it in atomically, so readers never observe a half-applied change and
// never block on a writer (§5 "Entity cache (authz): write-behind from
// CDC; readers see a consistent snapshot (atomic swap on update)").
type snapshot struct {
	units       map[string]Unit
	users       map[string]User
	agents      map[string]Agent
	delegations map[string]Delegation // keyed by agentID+"/"+userID
}

func emptySnapshot() *snapshot {
	return &snapshot{
		units:       make(map[string]Unit),
		users:       make(map[string]User),
		agents:      make(map[string]Agent),
		delegations: make(map[string]Delegation),
	}
}

// clone returns a shallow copy of s with freshly allocated maps, suitable
// as the base for the next snapshot.
func (s *snapshot) clone() *snapshot {
	out := &snapshot{
		units:       make(map[string]Unit, len(s.units)),
		users:       make(map[string]User, len(s.users)),
		agents:      make(map[string]Agent, len(s.agents)),
		delegations: make(map[string]Delegation, len(s.delegations)),
	}
	for k, v := range s.units {
		out.units[k] = v
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.agents {
		out.agents[k] = v
	}
	for k, v := range s.delegations {
		out.delegations[k] = v
	}
	return out
}

func delegationKey(agentID, userID string) string {
	return agentID + "/" + userID
}

// Cache is the per-process, multi-tenant entity cache CDC ingest keeps up
// to date. The zero value is not usable; use [NewCache].
type Cache struct {
	tenants atomic.Pointer[map[identity.TenantID]*atomic.Pointer[snapshot]]
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	c := &Cache{}
	empty := make(map[identity.TenantID]*atomic.Pointer[snapshot])
	c.tenants.Store(&empty)
	return c
}

// tenantSlot returns (creating if necessary) the atomic snapshot pointer
// for tenantID. Creating a new tenant slot itself does a copy-on-write
// swap of the outer tenant map, which changes far less often than any one
// tenant's snapshot.
func (c *Cache) tenantSlot(tenantID identity.TenantID) *atomic.Pointer[snapshot] {
	for {
		tenants := *c.tenants.Load()
		if slot, ok := tenants[tenantID]; ok {
			return slot
		}

		next := make(map[identity.TenantID]*atomic.Pointer[snapshot], len(tenants)+1)
		for k, v := range tenants {
			next[k] = v
		}
		slot := &atomic.Pointer[snapshot]{}
		slot.Store(emptySnapshot())
		next[tenantID] = slot

		if c.tenants.CompareAndSwap(&tenants, &next) {
			return slot
		}
		// Lost the race to another writer creating the same or a
		// different tenant's slot; retry against the fresh map.
	}
}

// snapshotFor returns tenantID's current snapshot, or an empty one if the
// tenant has never been seen.
func (c *Cache) snapshotFor(tenantID identity.TenantID) *snapshot {
	tenants := *c.tenants.Load()
	if slot, ok := tenants[tenantID]; ok {
		return slot.Load()
	}
	return emptySnapshot()
}

// update applies mutate to a clone of tenantID's current snapshot and
// swaps it in. mutate is retried under contention since clone+swap is a
// compare-and-swap loop.
func (c *Cache) update(tenantID identity.TenantID, mutate func(*snapshot)) {
	slot := c.tenantSlot(tenantID)
	for {
		cur := slot.Load()
		next := cur.clone()
		mutate(next)
		if slot.CompareAndSwap(cur, next) {
			return
		}
	}
}

// NewUnitChange builds the [Change] for an upserted unit.
func NewUnitChange(u Unit) Change {
	return Change{Kind: changeUpsertUnit, Unit: &u}
}

// NewRemoveUnitChange builds the [Change] for a removed unit.
func NewRemoveUnitChange(id string) Change {
	return Change{Kind: changeRemoveUnit, RemovedID: id}
}

// NewUserChange builds the [Change] for an upserted user.
func NewUserChange(u User) Change {
	return Change{Kind: changeUpsertUser, User: &u}
}

// NewRemoveUserChange builds the [Change] for a removed user.
func NewRemoveUserChange(id string) Change {
	return Change{Kind: changeRemoveUser, RemovedID: id}
}

// NewAgentChange builds the [Change] for an upserted agent.
func NewAgentChange(a Agent) Change {
	return Change{Kind: changeUpsertAgent, Agent: &a}
}

// NewRemoveAgentChange builds the [Change] for a removed agent.
func NewRemoveAgentChange(id string) Change {
	return Change{Kind: changeRemoveAgent, RemovedID: id}
}

// NewDelegationChange builds the [Change] for an upserted delegation.
func NewDelegationChange(d Delegation) Change {
	return Change{Kind: changeUpsertDelegation, Delegation: &d}
}

// NewRemoveDelegationChange builds the [Change] for a removed delegation.
func NewRemoveDelegationChange(agentID, userID string) Change {
	return Change{Kind: changeRemoveDelegation, RemovedAgentID: agentID, RemovedUserID: userID}
}

// Apply applies a single CDC [Change] to tenantID's snapshot.
func (c *Cache) Apply(tenantID identity.TenantID, change Change) {
	c.update(tenantID, func(s *snapshot) {
		switch change.Kind {
		case changeUpsertUnit:
			if change.Unit != nil {
				s.units[change.Unit.ID] = *change.Unit
			}
		case changeRemoveUnit:
			delete(s.units, change.RemovedID)
		case changeUpsertUser:
			if change.User != nil {
				s.users[change.User.ID] = *change.User
			}
		case changeRemoveUser:
			delete(s.users, change.RemovedID)
		case changeUpsertAgent:
			if change.Agent != nil {
				s.agents[change.Agent.ID] = *change.Agent
			}
		case changeRemoveAgent:
			delete(s.agents, change.RemovedID)
		case changeUpsertDelegation:
			if change.Delegation != nil {
				s.delegations[delegationKey(change.Delegation.AgentID, change.Delegation.UserID)] = *change.Delegation
			}
		case changeRemoveDelegation:
			delete(s.delegations, delegationKey(change.RemovedAgentID, change.RemovedUserID))
		}
	})
}

// LoadSnapshot replaces tenantID's entire snapshot in one atomic swap,
// used by CDC ingest's initial boot snapshot (§4.J.1) rather than
// replaying one change at a time.
func (c *Cache) LoadSnapshot(tenantID identity.TenantID, units []Unit, users []User, agents []Agent, delegations []Delegation) {
	next := emptySnapshot()
	for _, u := range units {
		next.units[u.ID] = u
	}
	for _, u := range users {
		next.users[u.ID] = u
	}
	for _, a := range agents {
		next.agents[a.ID] = a
	}
	for _, d := range delegations {
		next.delegations[delegationKey(d.AgentID, d.UserID)] = d
	}
	c.tenantSlot(tenantID).Store(next)
}

// Unit returns the unit identified by id within tenantID, or false if it
// does not exist. Cross-tenant lookups always miss (§3.4).
func (c *Cache) Unit(tenantID identity.TenantID, id string) (Unit, bool) {
	u, ok := c.snapshotFor(tenantID).units[id]
	return u, ok
}

// User returns the user identified by id within tenantID.
func (c *Cache) User(tenantID identity.TenantID, id string) (User, bool) {
	u, ok := c.snapshotFor(tenantID).users[id]
	return u, ok
}

// Agent returns the agent identified by id within tenantID.
func (c *Cache) Agent(tenantID identity.TenantID, id string) (Agent, bool) {
	a, ok := c.snapshotFor(tenantID).agents[id]
	return a, ok
}

// Delegation returns the delegation from userID to agentID, if any.
func (c *Cache) Delegation(tenantID identity.TenantID, agentID, userID string) (Delegation, bool) {
	d, ok := c.snapshotFor(tenantID).delegations[delegationKey(agentID, userID)]
	return d, ok
}

// Hierarchy returns every unit for tenantID (for GET /v1/hierarchy).
func (c *Cache) Hierarchy(tenantID identity.TenantID) []Unit {
	s := c.snapshotFor(tenantID)
	out := make([]Unit, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, u)
	}
	return out
}

// Users returns every user for tenantID (for GET /v1/users).
func (c *Cache) Users(tenantID identity.TenantID) []User {
	s := c.snapshotFor(tenantID)
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out
}

// Agents returns every agent for tenantID (for GET /v1/agents). Delegations
// are not included; use [Cache.Delegations] per agent.
func (c *Cache) Agents(tenantID identity.TenantID) []Agent {
	s := c.snapshotFor(tenantID)
	out := make([]Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out
}

// Delegations returns agentID's full delegation chain within tenantID.
func (c *Cache) Delegations(tenantID identity.TenantID, agentID string) []Delegation {
	s := c.snapshotFor(tenantID)
	out := make([]Delegation, 0)
	for _, d := range s.delegations {
		if d.AgentID == agentID {
			out = append(out, d)
		}
	}
	return out
}

// AncestorChain returns unitID and every ancestor up to and including the
// tenant's Company root, ordered from unitID outward. Returns nil if
// unitID does not exist within tenantID.
func (c *Cache) AncestorChain(tenantID identity.TenantID, unitID string) []Unit {
	s := c.snapshotFor(tenantID)
	u, ok := s.units[unitID]
	if !ok {
		return nil
	}

	chain := []Unit{u}
	cur := u
	for cur.ParentID != "" {
		parent, ok := s.units[cur.ParentID]
		if !ok {
			break
		}
		chain = append(chain, parent)
		cur = parent
	}
	return chain
}
