package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-activity/internal/activity"
	"ms-activity/internal/logger"
)

// setupTestRedis creates a Redis client backed by miniredis
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := client.Ping(context.Background()).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestAcquire_ExclusiveUntilReleased(t *testing.T) {
	client, mr := setupTestRedis(t)
	r := NewRedis(client, logger.NewNop(), 5*time.Second, 50*time.Millisecond)
	ctx := context.Background()

	release, err := r.Acquire(ctx, "event:1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(keyPrefix+"event:1"))

	_, err = r.Acquire(ctx, "event:1")
	assert.ErrorIs(t, err, activity.ErrLockTimeout)

	release()
	assert.False(t, mr.Exists(keyPrefix+"event:1"), "release deletes the key")

	release2, err := r.Acquire(ctx, "event:1")
	require.NoError(t, err)
	release2()
}

func TestAcquire_DifferentKeysIndependent(t *testing.T) {
	client, _ := setupTestRedis(t)
	r := NewRedis(client, logger.NewNop(), 5*time.Second, 50*time.Millisecond)
	ctx := context.Background()

	releaseA, err := r.Acquire(ctx, "event:a")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := r.Acquire(ctx, "event:b")
	require.NoError(t, err)
	releaseB()
}

func TestUnlock_OnlyOwnerReleases(t *testing.T) {
	client, _ := setupTestRedis(t)
	r := NewRedis(client, logger.NewNop(), 5*time.Second, 50*time.Millisecond)
	ctx := context.Background()

	ok, err := r.TryLock(ctx, "event:2", "owner-token")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, r.Unlock(ctx, "event:2", "other-token"))

	val, err := client.Get(ctx, keyPrefix+"event:2").Result()
	require.NoError(t, err)
	assert.Equal(t, "owner-token", val)

	require.NoError(t, r.Unlock(ctx, "event:2", "owner-token"))
	_, err = client.Get(ctx, keyPrefix+"event:2").Result()
	assert.Equal(t, redis.Nil, err)
}

func TestAcquire_ExpiredLockCanBeTaken(t *testing.T) {
	client, mr := setupTestRedis(t)
	r := NewRedis(client, logger.NewNop(), time.Second, 50*time.Millisecond)
	ctx := context.Background()

	_, err := r.Acquire(ctx, "event:3")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	release, err := r.Acquire(ctx, "event:3")
	require.NoError(t, err)
	release()
}

func TestAcquire_WaitsForHolder(t *testing.T) {
	client, _ := setupTestRedis(t)
	r := NewRedis(client, logger.NewNop(), 5*time.Second, 2*time.Second)
	ctx := context.Background()

	release, err := r.Acquire(ctx, "event:4")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		release()
	}()

	release2, err := r.Acquire(ctx, "event:4")
	require.NoError(t, err)
	release2()
}

func TestAcquire_MutualExclusionUnderContention(t *testing.T) {
	client, _ := setupTestRedis(t)
	r := NewRedis(client, logger.NewNop(), 5*time.Second, 5*time.Second)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := r.Acquire(ctx, "event:hot")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}
