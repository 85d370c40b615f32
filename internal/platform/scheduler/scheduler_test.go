package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisLocker) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisLocker(client)
}

func TestRedisLocker_ExclusiveUntilReleased(t *testing.T) {
	mr, locker := setupTestRedis(t)
	ctx := context.Background()

	release, ok, err := locker.Acquire(ctx, "asset-sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("care:lease:asset-sweep"))

	_, ok, err = locker.Acquire(ctx, "asset-sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while the lease is held")

	release()
	assert.False(t, mr.Exists("care:lease:asset-sweep"))

	_, ok, err = locker.Acquire(ctx, "asset-sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_ExpiredLeaseNotReleasedByOldHolder(t *testing.T) {
	mr, locker := setupTestRedis(t)
	ctx := context.Background()

	release, ok, err := locker.Acquire(ctx, "location-sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	_, ok, err = locker.Acquire(ctx, "location-sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "lease should be free after expiry")

	release()
	assert.True(t, mr.Exists("care:lease:location-sweep"), "stale release must not drop the new holder's lease")
}

func TestRedisLocker_RedisDown(t *testing.T) {
	mr, locker := setupTestRedis(t)
	mr.Close()
	_, ok, err := locker.Acquire(context.Background(), "asset-sweep", time.Minute)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestScheduler_RunOnceHonoursLease(t *testing.T) {
	_, locker := setupTestRedis(t)
	s := New(zerolog.Nop(), locker, time.Minute)

	release, ok, err := locker.Acquire(context.Background(), "asset-sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	var runs int32
	job := func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}
	assert.False(t, s.RunOnce(context.Background(), "asset-sweep", job))
	release()
	assert.True(t, s.RunOnce(context.Background(), "asset-sweep", job))
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestScheduler_JobErrorDoesNotPropagate(t *testing.T) {
	s := New(zerolog.Nop(), nil, time.Minute)
	ran := s.RunOnce(context.Background(), "x", func(ctx context.Context) error {
		return errors.New("middleware unreachable")
	})
	assert.True(t, ran)
}

func TestScheduler_AddRejectsBadSpec(t *testing.T) {
	s := New(zerolog.Nop(), nil, time.Minute)
	assert.Error(t, s.Add("x", "not a cron", func(ctx context.Context) error { return nil }))
	assert.NoError(t, s.Add("x", "*/30 * * * *", func(ctx context.Context) error { return nil }))
}

func TestScheduler_StopCancelsJobs(t *testing.T) {
	s := New(zerolog.Nop(), nil, time.Minute)
	require.NoError(t, s.Add("x", "@every 1h", func(ctx context.Context) error { return nil }))
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Error(t, s.ctx.Err())
}
