package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker provides sweep-level mutual exclusion. Implementations: the
// Postgres job_locks table (db.JobLockRepository), Redis, or NoopLocker.
type Locker interface {
	Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID, workerID string) error
}

// NoopLocker always grants the lock.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string, string, time.Duration) (bool, error) {
	return true, nil
}

func (NoopLocker) Release(context.Context, string, string) error { return nil }

// releaseScript deletes the key only when it still holds our worker id, so
// a worker whose lock expired cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker creates a locker whose keys are prefixed with "queryguard:lock:".
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client, prefix: "queryguard:lock:"}
}

func (l *RedisLocker) Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+lockID, workerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX %s: %w", lockID, err)
	}
	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, lockID, workerID string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.prefix + lockID}, workerID).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis release %s: %w", lockID, err)
	}
	return nil
}
