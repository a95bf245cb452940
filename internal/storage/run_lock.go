package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyResolutionLock marks the process that owns the active resolution run
const KeyResolutionLock = "resolution:lock"

// DefaultRunLockTTL is how long a lock survives without a refresh
const DefaultRunLockTTL = 30 * time.Second

// refreshScript extends the lock only for its current owner
var refreshScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return 0
`)

// releaseScript deletes the lock only for its current owner
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RunLock is a Redis lease that keeps resolution runs to one at a time
// across the server and the resolve CLI. The owner must refresh it well
// within the TTL; a crashed owner's lease simply expires.
type RunLock struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// NewRunLock creates a run lock. A non-positive ttl uses DefaultRunLockTTL.
func NewRunLock(client redis.Cmdable, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = DefaultRunLockTTL
	}
	return &RunLock{client: client, key: KeyResolutionLock, ttl: ttl}
}

// TTL returns the lease duration
func (l *RunLock) TTL() time.Duration {
	return l.ttl
}

// Acquire takes the lock for owner. It returns false when another owner holds it.
func (l *RunLock) Acquire(ctx context.Context, owner string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return ok, nil
}

// Refresh extends the lease. It returns false when owner no longer holds it.
func (l *RunLock) Refresh(ctx context.Context, owner string) (bool, error) {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to refresh run lock: %w", err)
	}
	return n == 1, nil
}

// Release drops the lock if owner still holds it
func (l *RunLock) Release(ctx context.Context, owner string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, owner).Err(); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// Holder returns the current owner, or "" when the lock is free
func (l *RunLock) Holder(ctx context.Context) (string, error) {
	owner, err := l.client.Get(ctx, l.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read run lock: %w", err)
	}
	return owner, nil
}
