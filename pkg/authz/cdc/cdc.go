// Package cdc ingests change-data-capture notifications from the
// referential SQL store that is the system of record for the
// authorization hierarchy (§4.J.1), keeping an [authz.Cache] current.
package cdc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"github.com/loomctx/loomctx/internal/loomerr"
	"github.com/loomctx/loomctx/pkg/authz"
	"github.com/loomctx/loomctx/pkg/identity"
)

// defaultChannel is the Postgres NOTIFY channel row-level changes to
// units, users, agents, and delegations are published on.
const defaultChannel = "referential_changes"

// Config configures a [Listener].
type Config struct {
	// DSN is the referential store's connection string.
	DSN string
	// Channel overrides the NOTIFY channel name. Default: "referential_changes".
	Channel string
	// BreakerName labels the circuit breaker guarding the bootstrap
	// snapshot query in its state-change log lines.
	BreakerName string
}

// Listener holds a persistent connection to the referential store. It
// snapshots the full entity set on [Listener.Bootstrap] and then applies
// incremental changes as they arrive via [Listener.Listen].
type Listener struct {
	pool    *pgxpool.Pool
	cache   *authz.Cache
	channel string
	breaker *gobreaker.CircuitBreaker
}

// NewListener connects to cfg.DSN and wires a Listener over cache. The
// bootstrap snapshot query is wrapped in a [gobreaker.CircuitBreaker]
// distinct from the core's provider-fallback breaker: a flaky referential
// store should not be retried in a tight loop on every boot attempt.
func NewListener(ctx context.Context, cfg Config, cache *authz.Cache) (*Listener, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, loomerr.Transient("cdc_connect", "failed to connect to the referential store", 0, err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = defaultChannel
	}
	name := cfg.BreakerName
	if name == "" {
		name = "authz-cdc-snapshot"
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("authz cdc breaker state change", "breaker", name, "from", from, "to", to)
		},
	})

	return &Listener{pool: pool, cache: cache, channel: channel, breaker: breaker}, nil
}

// Close releases the connection pool.
func (l *Listener) Close() {
	l.pool.Close()
}

// tenantBucket accumulates one tenant's entities while the bootstrap
// snapshot query is scanned.
type tenantBucket struct {
	units       []authz.Unit
	users       []authz.User
	agents      []authz.Agent
	delegations []authz.Delegation
}

// Bootstrap runs the initial snapshot (§4.J.1: "On boot it snapshots
// Users, Units, Memberships, and Delegations") and loads every tenant
// found into the cache in one atomic swap per tenant.
func (l *Listener) Bootstrap(ctx context.Context) error {
	result, err := l.breaker.Execute(func() (any, error) {
		return l.querySnapshot(ctx)
	})
	if err != nil {
		return loomerr.Transient("cdc_bootstrap", "failed to snapshot the referential store", 0, err)
	}

	buckets := result.(map[identity.TenantID]tenantBucket)
	for tenantID, b := range buckets {
		l.cache.LoadSnapshot(tenantID, b.units, b.users, b.agents, b.delegations)
	}
	return nil
}

func (l *Listener) querySnapshot(ctx context.Context) (map[identity.TenantID]tenantBucket, error) {
	out := make(map[identity.TenantID]tenantBucket)

	unitRows, err := l.pool.Query(ctx, `SELECT id, tenant_id, type, parent_id, name FROM units`)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	for unitRows.Next() {
		var u authz.Unit
		var unitType int
		if err := unitRows.Scan(&u.ID, &u.TenantID, &unitType, &u.ParentID, &u.Name); err != nil {
			unitRows.Close()
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		u.Type = authz.UnitType(unitType)
		b := out[u.TenantID]
		b.units = append(b.units, u)
		out[u.TenantID] = b
	}
	unitRows.Close()
	if err := unitRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}

	userRows, err := l.pool.Query(ctx, `SELECT id, tenant_id, email FROM users`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	for userRows.Next() {
		var u authz.User
		if err := userRows.Scan(&u.ID, &u.TenantID, &u.Email); err != nil {
			userRows.Close()
			return nil, fmt.Errorf("scan user: %w", err)
		}
		b := out[u.TenantID]
		b.users = append(b.users, u)
		out[u.TenantID] = b
	}
	userRows.Close()
	if err := userRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	membershipsByUser := make(map[string][]authz.Membership)
	membershipRows, err := l.pool.Query(ctx, `SELECT tenant_id, user_id, unit_id, role FROM memberships`)
	if err != nil {
		return nil, fmt.Errorf("query memberships: %w", err)
	}
	for membershipRows.Next() {
		var tenantID identity.TenantID
		var userID string
		var m authz.Membership
		if err := membershipRows.Scan(&tenantID, &userID, &m.UnitID, &m.Role); err != nil {
			membershipRows.Close()
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		key := string(tenantID) + "/" + userID
		membershipsByUser[key] = append(membershipsByUser[key], m)
	}
	membershipRows.Close()
	if err := membershipRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	for tenantID, b := range out {
		for i, u := range b.users {
			b.users[i].Memberships = membershipsByUser[string(tenantID)+"/"+u.ID]
		}
		out[tenantID] = b
	}

	agentRows, err := l.pool.Query(ctx, `SELECT id, tenant_id, name FROM agents`)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	for agentRows.Next() {
		var a authz.Agent
		if err := agentRows.Scan(&a.ID, &a.TenantID, &a.Name); err != nil {
			agentRows.Close()
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		b := out[a.TenantID]
		b.agents = append(b.agents, a)
		out[a.TenantID] = b
	}
	agentRows.Close()
	if err := agentRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}

	delegationRows, err := l.pool.Query(ctx, `SELECT tenant_id, agent_id, user_id, scope, effect FROM delegations`)
	if err != nil {
		return nil, fmt.Errorf("query delegations: %w", err)
	}
	for delegationRows.Next() {
		var tenantID identity.TenantID
		var d authz.Delegation
		var effect int
		if err := delegationRows.Scan(&tenantID, &d.AgentID, &d.UserID, &d.Scope, &effect); err != nil {
			delegationRows.Close()
			return nil, fmt.Errorf("scan delegation: %w", err)
		}
		d.Effect = authz.Effect(effect)
		b := out[tenantID]
		b.delegations = append(b.delegations, d)
		out[tenantID] = b
	}
	delegationRows.Close()
	if err := delegationRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delegations: %w", err)
	}

	return out, nil
}

// Listen blocks applying CDC notifications to the cache until ctx is
// canceled. Each notification is decoded and applied synchronously
// (§4.J.1's 500ms p99 apply budget: there is no intermediate queue that
// could add latency).
func (l *Listener) Listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return loomerr.Transient("cdc_listen_acquire", "failed to acquire a connection to listen on", 0, err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+l.channel); err != nil {
		return loomerr.Transient("cdc_listen", "failed to LISTEN on "+l.channel, 0, err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return loomerr.Transient("cdc_wait_notification", "failed waiting for a CDC notification", 0, err)
		}

		tenantID, change, err := DecodeNotification([]byte(notification.Payload))
		if err != nil {
			slog.Warn("authz cdc: dropping malformed notification", "error", err, "payload", notification.Payload)
			continue
		}
		l.cache.Apply(tenantID, change)
	}
}

// notificationPayload is the JSON body of one referential_changes row,
// matching the shape the referential store's trigger publishes.
type notificationPayload struct {
	Kind           string            `json:"kind"`
	TenantID       identity.TenantID `json:"tenant_id"`
	Unit           *authz.Unit       `json:"unit,omitempty"`
	User           *authz.User       `json:"user,omitempty"`
	Agent          *authz.Agent      `json:"agent,omitempty"`
	Delegation     *authz.Delegation `json:"delegation,omitempty"`
	RemovedID      string            `json:"removed_id,omitempty"`
	RemovedUserID  string            `json:"removed_user_id,omitempty"`
	RemovedAgentID string            `json:"removed_agent_id,omitempty"`
}

// DecodeNotification parses a raw NOTIFY payload into the tenant it
// applies to and the [authz.Change] it describes. Exported so the decode
// logic (pure, DB-free) can be tested and reused without a live
// connection.
func DecodeNotification(payload []byte) (identity.TenantID, authz.Change, error) {
	var p notificationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", authz.Change{}, fmt.Errorf("decode cdc notification: %w", err)
	}

	switch p.Kind {
	case "upsert_unit":
		if p.Unit == nil {
			return "", authz.Change{}, fmt.Errorf("decode cdc notification: upsert_unit missing unit")
		}
		return p.TenantID, authz.NewUnitChange(*p.Unit), nil
	case "remove_unit":
		return p.TenantID, authz.NewRemoveUnitChange(p.RemovedID), nil
	case "upsert_user":
		if p.User == nil {
			return "", authz.Change{}, fmt.Errorf("decode cdc notification: upsert_user missing user")
		}
		return p.TenantID, authz.NewUserChange(*p.User), nil
	case "remove_user":
		return p.TenantID, authz.NewRemoveUserChange(p.RemovedID), nil
	case "upsert_agent":
		if p.Agent == nil {
			return "", authz.Change{}, fmt.Errorf("decode cdc notification: upsert_agent missing agent")
		}
		return p.TenantID, authz.NewAgentChange(*p.Agent), nil
	case "remove_agent":
		return p.TenantID, authz.NewRemoveAgentChange(p.RemovedID), nil
	case "upsert_delegation":
		if p.Delegation == nil {
			return "", authz.Change{}, fmt.Errorf("decode cdc notification: upsert_delegation missing delegation")
		}
		return p.TenantID, authz.NewDelegationChange(*p.Delegation), nil
	case "remove_delegation":
		return p.TenantID, authz.NewRemoveDelegationChange(p.RemovedAgentID, p.RemovedUserID), nil
	default:
		return "", authz.Change{}, fmt.Errorf("decode cdc notification: unknown kind %q", p.Kind)
	}
}
