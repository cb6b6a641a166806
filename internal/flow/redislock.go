package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// The release script deletes the lock key only if it still holds this
// owner's token, so an expired lock reacquired by another process is never
// released by the stale owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Redis-backed Locker for multi-process deployments. Each
// lock is a key with a unique owner token and a TTL that bounds how long a
// crashed holder can block a flow.
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisLocker creates a Redis-backed locker. The TTL must exceed the
// longest expected phase execution, task deadline included.
func NewRedisLocker(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// TryAcquire takes the distributed lock for a flow ID.
func (l *RedisLocker) TryAcquire(ctx context.Context, flowID string) (func(), error) {
	key := lockKey(flowID)
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire flow lock %q: %w", key, err)
	}
	if !ok {
		return nil, inFlightError(flowID)
	}

	release := func() {
		// Release runs after the request context may be done; use a
		// short independent timeout.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.client, []string{key}, token).Err()
	}
	return release, nil
}

func lockKey(flowID string) string {
	return "floe:lock:" + flowID
}
