// Package authz implements the tenant-scoped authorization core (§4.J): an
// entity cache fed by change-data-capture from a referential store, a
// two-step decision point for agent-on-behalf-of-user delegation, and
// hierarchy-aware permission resolution over the organizational tree.
package authz

import (
	"time"

	"github.com/loomctx/loomctx/pkg/identity"
)

// UnitType is one level of the strict organizational tree
// Company -> Organization -> Team -> Project (§3.4).
type UnitType int

const (
	// UnitCompany is the tree root. Every tenant has exactly one.
	UnitCompany UnitType = iota + 1
	UnitOrganization
	UnitTeam
	UnitProject
)

// String returns the unit type's lowercase name.
func (t UnitType) String() string {
	switch t {
	case UnitCompany:
		return "company"
	case UnitOrganization:
		return "organization"
	case UnitTeam:
		return "team"
	case UnitProject:
		return "project"
	default:
		return "unknown"
	}
}

// Depth returns t's distance from the tree root; Company is 0.
func (t UnitType) Depth() int {
	return int(t) - int(UnitCompany)
}

// childType returns the unit type immediately below t, or 0 if t is the
// leaf (Project).
func (t UnitType) childType() UnitType {
	if t == UnitProject {
		return 0
	}
	return t + 1
}

// Unit is one node of the organizational hierarchy entity tree (§3.4).
// ParentID is empty only for the Company root.
type Unit struct {
	ID       string
	TenantID identity.TenantID
	Type     UnitType
	ParentID string
	Name     string
}

// Membership attaches a User to a Unit at any level of the tree, with a
// role label the referential store assigns meaning to.
type Membership struct {
	UnitID string
	Role   string
}

// User is a human entity. Membership may attach to any unit in the tree.
type User struct {
	ID          string
	TenantID    identity.TenantID
	Email       string
	Memberships []Membership
}

// Delegation records that Agent may act as User, restricted to Scope.
// Scope is a comma-separated allow-list of action names the agent may
// exercise while impersonating the user; "*" permits any action the user
// themself could perform.
type Delegation struct {
	AgentID string
	UserID  string
	Scope   string
	Effect  Effect
}

// Agent is an AI entity delegated by a User (§3.4's "plus ... Agent
// entities"). The delegation chain (which users/scopes an agent may act
// under) is carried in the entity cache's Delegations, not here, so one
// Agent can hold delegations from more than one user.
type Agent struct {
	ID       string
	TenantID identity.TenantID
	Name     string
}

// Effect is the outcome a [Rule] or [Delegation] assigns when it matches.
type Effect int

const (
	EffectAllow Effect = iota + 1
	EffectDeny
)

func (e Effect) String() string {
	if e == EffectAllow {
		return "allow"
	}
	return "deny"
}

// Rule is a single compiled permission rule: Principal may (or may not,
// per Effect) perform Action on the unit identified by ResourceUnitID.
// Principal is a User or Agent ID, or "*" for any principal.
//
// Hierarchy resolution (§4.J.3) walks from the requested resource unit up
// to the tenant's Company root looking for the deepest rule whose
// ResourceUnitID appears in that chain; an Allow on an ancestor implies
// Allow on descendants unless a more specific rule overrides it.
type Rule struct {
	ID             string
	TenantID       identity.TenantID
	Principal      string
	Action         string
	ResourceUnitID string
	Effect         Effect
}

// Decision is the result of [Engine.Check].
type Decision int

const (
	// Deny is also the result of any evaluation failure (§4.J.2).
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// anyPrincipal matches a [Rule] against every principal.
const anyPrincipal = "*"

// anyScope permits every action under a delegation.
const anyScope = "*"

// changeKind identifies the row-level change a CDC notification describes,
// matching referential_changes' operation column (§4.J.1).
type changeKind string

const (
	changeUpsertUnit       changeKind = "upsert_unit"
	changeRemoveUnit       changeKind = "remove_unit"
	changeUpsertUser       changeKind = "upsert_user"
	changeRemoveUser       changeKind = "remove_user"
	changeUpsertAgent      changeKind = "upsert_agent"
	changeRemoveAgent      changeKind = "remove_agent"
	changeUpsertDelegation changeKind = "upsert_delegation"
	changeRemoveDelegation changeKind = "remove_delegation"
)

// Change is one row-level notification on referential_changes, applied to
// the entity cache within the CDC ingest's latency budget.
type Change struct {
	Kind       changeKind
	Unit       *Unit
	User       *User
	Agent      *Agent
	Delegation *Delegation
	// RemovedID identifies the entity removed by a remove_* change.
	RemovedID string
	// RemovedUserID/RemovedAgentID together identify the delegation
	// removed by a remove_delegation change.
	RemovedUserID  string
	RemovedAgentID string
	ObservedAt     time.Time
}
