package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"ms-activity/internal/activity"
	"ms-activity/internal/logger"
)

const (
	keyPrefix     = "activity_lock:"
	retryInterval = 25 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a distributed activity.Locker. Each lock is a SetNX key carrying a
// random token with a TTL so a crashed holder cannot block an event forever.
type Redis struct {
	Client *redis.Client
	Logger *logger.Logger
	TTL    time.Duration
	Wait   time.Duration
}

func NewRedis(client *redis.Client, log *logger.Logger, ttl, wait time.Duration) *Redis {
	return &Redis{Client: client, Logger: log, TTL: ttl, Wait: wait}
}

// TryLock makes a single SetNX attempt.
func (r *Redis) TryLock(ctx context.Context, key, token string) (bool, error) {
	return r.Client.SetNX(ctx, keyPrefix+key, token, r.TTL).Result()
}

// Unlock removes the lock only if token still owns it.
func (r *Redis) Unlock(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, r.Client, []string{keyPrefix + key}, token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		r.Logger.Warn("REDIS", fmt.Sprintf("lock %s expired or taken over before release", key))
	}
	return nil
}

// Acquire polls SetNX until the lock is held or Wait elapses.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()
	deadline := time.Now().Add(r.Wait)

	for {
		ok, err := r.TryLock(ctx, key, token)
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// release with a fresh context so a cancelled request still unlocks
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := r.Unlock(releaseCtx, key, token); err != nil {
					r.Logger.Error("REDIS", fmt.Sprintf("failed to release %s: %v", key, err))
				}
			}, nil
		}

		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", activity.ErrLockTimeout, key)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", activity.ErrLockTimeout, key, ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}
