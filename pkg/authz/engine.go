package authz

import (
	"context"
	"strings"
	"sync"

	"github.com/loomctx/loomctx/pkg/identity"
)

// Engine is the authorization decision point (§4.J.2, §4.J.3): it
// evaluates a principal/action/resource request against the entity cache
// and a compiled rule set, applying hierarchy-aware conflict resolution
// and, when the request carries an agent context, the two-step ActAs
// delegation check.
//
// Safe for concurrent use.
type Engine struct {
	cache *Cache

	mu    sync.RWMutex
	rules map[identity.TenantID][]Rule
}

// NewEngine wires an Engine over cache.
func NewEngine(cache *Cache) *Engine {
	return &Engine{cache: cache, rules: make(map[identity.TenantID][]Rule)}
}

// AddRule attaches rule to its tenant's compiled rule set.
func (e *Engine) AddRule(rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.TenantID] = append(e.rules[rule.TenantID], rule)
}

func (e *Engine) rulesFor(tenantID identity.TenantID) []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules[tenantID]))
	copy(out, e.rules[tenantID])
	return out
}

// Check evaluates (principal, action, resource, context) per §4.J.2.
//
// tc carries the principal: tc.UserID is always the human on whose behalf
// the request runs, and tc.AgentID, when set, is the agent acting for
// them. When tc.AgentID is set, Check first evaluates the implicit
// (Agent, ActAs, User) delegation; a deny there is an overall deny
// without ever evaluating the underlying action. Any evaluation failure
// (a malformed tenant context, an unresolvable resource) is also a deny.
func (e *Engine) Check(ctx context.Context, tc identity.TenantContext, action, resourceUnitID string) Decision {
	if err := tc.Validate(); err != nil {
		return Deny
	}

	if tc.AgentID != "" {
		delegation, ok := e.cache.Delegation(tc.TenantID, string(tc.AgentID), string(tc.UserID))
		if !ok || delegation.Effect != EffectAllow {
			return Deny
		}
		if !scopeAllows(delegation.Scope, action) {
			return Deny
		}
	}

	return e.checkHierarchy(tc.TenantID, string(tc.UserID), action, resourceUnitID)
}

// scopeAllows reports whether scope (a comma-separated allow-list, or
// "*") permits action.
func scopeAllows(scope, action string) bool {
	scope = strings.TrimSpace(scope)
	if scope == "" || scope == anyScope {
		return scope == anyScope
	}
	for _, s := range strings.Split(scope, ",") {
		if strings.TrimSpace(s) == action {
			return true
		}
	}
	return false
}

// checkHierarchy implements §4.J.3: it walks resourceUnitID's ancestor
// chain (resource first, Company last) and picks the rule matching
// (principal or "*", action) whose ResourceUnitID is deepest in the
// chain — i.e. closest to the actual resource. Ties at the same depth
// break on Deny. No matching rule anywhere in the chain is a Deny.
func (e *Engine) checkHierarchy(tenantID identity.TenantID, principal, action, resourceUnitID string) Decision {
	chain := e.cache.AncestorChain(tenantID, resourceUnitID)
	if chain == nil {
		return Deny
	}
	depthOf := make(map[string]int, len(chain))
	for i, u := range chain {
		depthOf[u.ID] = i
	}

	var (
		best      *Rule
		bestDepth = len(chain) // larger than any real depth: "not found yet"
	)
	for _, rule := range e.rulesFor(tenantID) {
		if rule.Principal != anyPrincipal && rule.Principal != principal {
			continue
		}
		if rule.Action != action {
			continue
		}
		depth, ok := depthOf[rule.ResourceUnitID]
		if !ok {
			continue
		}
		switch {
		case depth < bestDepth:
			r := rule
			best, bestDepth = &r, depth
		case depth == bestDepth && best != nil && rule.Effect == EffectDeny && best.Effect != EffectDeny:
			r := rule
			best = &r
		}
	}

	if best == nil || best.Effect != EffectAllow {
		return Deny
	}
	return Allow
}
