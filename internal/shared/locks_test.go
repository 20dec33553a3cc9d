package shared

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLock(t *testing.T) (*QuarterLock, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewQuarterLock(client), srv
}

func TestQuarterLockAcquireRelease(t *testing.T) {
	lock, _ := newTestLock(t)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "Q1", 2026)
	require.NoError(t, err)

	_, err = lock.Acquire(ctx, "Q1", 2026)
	require.ErrorIs(t, err, ErrQuarterLocked)

	release()

	release2, err := lock.Acquire(ctx, "Q1", 2026)
	require.NoError(t, err)
	release2()
}

func TestQuarterLockIndependentQuarters(t *testing.T) {
	lock, _ := newTestLock(t)
	ctx := context.Background()

	release1, err := lock.Acquire(ctx, "Q1", 2026)
	require.NoError(t, err)
	defer release1()

	release2, err := lock.Acquire(ctx, "Q2", 2026)
	require.NoError(t, err)
	defer release2()

	release3, err := lock.Acquire(ctx, "Q1", 2025)
	require.NoError(t, err)
	defer release3()
}

func TestQuarterLockReleaseIgnoresStolenKey(t *testing.T) {
	lock, srv := newTestLock(t)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "Q3", 2026)
	require.NoError(t, err)

	// Simulate TTL expiry and another holder taking over.
	srv.FastForward(lock.ttl * 2)
	require.NoError(t, srv.Set(QuarterLockKey("Q3", 2026), "other-token"))

	release()
	val, err := srv.Get(QuarterLockKey("Q3", 2026))
	require.NoError(t, err)
	require.Equal(t, "other-token", val)
}
