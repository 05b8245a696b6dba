// Package lock provides short-lived, owner-tagged exclusive keys with an
// expiry. The Redis implementation is shared between server instances; the
// local one serves single-process deployments and tests.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds the caller's
// owner tag, so a holder whose lock expired cannot free a later holder's key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// TryLock sets key to owner if it is absent, expiring after ttl.
func (l *Redis) TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// Unlock removes key if owner still holds it.
func (l *Redis) Unlock(ctx context.Context, key, owner string) error {
	err := releaseScript.Run(ctx, l.client, []string{key}, owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("releasing %s: %w", key, err)
	}
	return nil
}

type entry struct {
	owner   string
	expires time.Time
}

// Local is an in-process lock table with the same semantics as Redis.
type Local struct {
	mu   sync.Mutex
	keys map[string]entry
	now  func() time.Time
}

func NewLocal() *Local {
	return &Local{keys: make(map[string]entry), now: time.Now}
}

func (l *Local) TryLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.keys[key]; ok && now.Before(e.expires) {
		return false, nil
	}
	l.keys[key] = entry{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (l *Local) Unlock(_ context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.keys[key]; ok && e.owner == owner {
		delete(l.keys, key)
	}
	return nil
}

// Held reports whether key is currently locked.
func (l *Local) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.keys[key]
	return ok && l.now().Before(e.expires)
}
