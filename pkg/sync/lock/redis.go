// Package lock provides a Redis-backed implementation of [sync.Locker] for
// serializing sync bridge runs across the process fleet, one lock per
// tenant.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loomctx/loomctx/internal/loomerr"
	"github.com/loomctx/loomctx/pkg/identity"
	syncpkg "github.com/loomctx/loomctx/pkg/sync"
)

// releaseScript deletes key only if its current value still matches the
// token the caller set when it acquired the lock. Without this check, a
// holder whose lock already expired and was re-acquired by someone else
// would delete the new holder's lock on release.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// renewScript extends key's TTL only if its value still matches the token,
// for the same reason releaseScript checks it.
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

var _ syncpkg.Locker = (*RedisLocker)(nil)

// RedisLocker implements [syncpkg.Locker] over a Redis client.
type RedisLocker struct {
	client *redis.Client
	prefix string

	// tokens tracks the value this process set for each currently-held
	// tenant lock, so Renew/release can prove ownership without a second
	// round trip to read it back.
	mu     sync.Mutex
	tokens map[identity.TenantID]string
}

// NewRedisLocker wraps client. keyPrefix namespaces lock keys, e.g.
// "loomctx:synclock:".
func NewRedisLocker(client *redis.Client, keyPrefix string) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: keyPrefix,
		tokens: make(map[identity.TenantID]string),
	}
}

func (l *RedisLocker) key(tenantID identity.TenantID) string {
	return l.prefix + string(tenantID)
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Acquire implements [syncpkg.Locker].
func (l *RedisLocker) Acquire(ctx context.Context, tenantID identity.TenantID, ttl time.Duration) (syncpkg.Unlock, bool, error) {
	token, err := newToken()
	if err != nil {
		return nil, false, loomerr.Internal("lock_token", "failed to generate lock token", err)
	}

	ok, err := l.client.SetNX(ctx, l.key(tenantID), token, ttl).Result()
	if err != nil {
		return nil, false, loomerr.Transient("lock_acquire", "failed to acquire redis lock", 0, err)
	}
	if !ok {
		return nil, false, nil
	}

	l.withTokens(func(m map[identity.TenantID]string) { m[tenantID] = token })

	unlock := func(ctx context.Context) error {
		var tok string
		l.withTokens(func(m map[identity.TenantID]string) { tok = m[tenantID]; delete(m, tenantID) })
		if tok == "" {
			return nil
		}
		if err := l.client.Eval(ctx, releaseScript, []string{l.key(tenantID)}, tok).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return loomerr.Transient("lock_release", "failed to release redis lock", 0, err)
		}
		return nil
	}
	return unlock, true, nil
}

// Renew implements [syncpkg.Locker].
func (l *RedisLocker) Renew(ctx context.Context, tenantID identity.TenantID, ttl time.Duration) error {
	var tok string
	l.withTokens(func(m map[identity.TenantID]string) { tok = m[tenantID] })
	if tok == "" {
		return loomerr.Validation("lock_not_held", "cannot renew a lock this process does not hold")
	}

	res, err := l.client.Eval(ctx, renewScript, []string{l.key(tenantID)}, tok, ttl.Milliseconds()).Result()
	if err != nil {
		return loomerr.Transient("lock_renew", "failed to renew redis lock", 0, err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		return loomerr.Validation("lock_lost", "lock was lost before renewal (expired or stolen)")
	}
	return nil
}

func (l *RedisLocker) withTokens(fn func(map[identity.TenantID]string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.tokens)
}
