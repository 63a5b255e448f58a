// Package lock provides a Redis lease so only one process syncs a camera at a time.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

var ErrNotConfigured = errors.New("lock client not configured")

type Locker struct {
	client *redis.Client
	script *redis.Script
	extend *redis.Script
	ttl    time.Duration
}

func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(releaseScript),
		extend: redis.NewScript(extendScript),
		ttl:    ttl,
	}
}

// Key returns the lease key for one camera's sync loop.
func Key(cameraID string) string {
	return "parking:sync:" + cameraID
}

// TryLock takes the lease if nobody holds it. The returned token is needed to release.
func (l *Locker) TryLock(ctx context.Context, key string) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrNotConfigured
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if l.ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release drops the lease only if token still owns it.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// Extend resets the lease TTL if token still owns it. It reports false when
// the lease expired or was taken by another process.
func (l *Locker) Extend(ctx context.Context, key, token string) (bool, error) {
	if l == nil || l.client == nil {
		return false, ErrNotConfigured
	}
	if key == "" || token == "" {
		return false, errors.New("lock key and token are required")
	}
	n, err := l.extend.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// TTL is the lease duration set on lock and on every extension.
func (l *Locker) TTL() time.Duration {
	if l == nil {
		return 0
	}
	return l.ttl
}

func (l *Locker) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}
