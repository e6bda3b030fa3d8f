package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/lock"
)

func newLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, Prefix: "test", RetryBackoff: 5 * time.Millisecond}, mr
}

func TestWithLockSerializesSameUser(t *testing.T) {
	locker, _ := newLocker(t)
	key := locker.UserKey("checkout", "u1")
	require.Equal(t, "test:lock:checkout:user:u1", key)

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), key, time.Second, func(context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestWithLockGivesUpAfterMaxWait(t *testing.T) {
	locker, mr := newLocker(t)
	locker.MaxWait = 30 * time.Millisecond
	key := locker.UserKey("checkout", "u2")
	require.NoError(t, mr.Set(key, "someone-else"))

	err := locker.WithLock(context.Background(), key, time.Second, func(context.Context) error {
		t.Fatal("callback must not run")
		return nil
	})
	require.ErrorIs(t, err, lock.ErrBusy)
}

func TestTryLockAndRelease(t *testing.T) {
	locker, mr := newLocker(t)
	key := locker.UserKey("sweep", "all")

	err := locker.TryLock(context.Background(), key, time.Second, func(ctx context.Context) error {
		require.True(t, mr.Exists(key))
		inner := locker.TryLock(ctx, key, time.Second, func(context.Context) error { return nil })
		require.ErrorIs(t, inner, lock.ErrBusy)
		return nil
	})
	require.NoError(t, err)
	require.False(t, mr.Exists(key))
}

func TestReleaseKeepsForeignToken(t *testing.T) {
	locker, mr := newLocker(t)
	key := locker.UserKey("checkout", "u3")
	err := locker.WithLock(context.Background(), key, time.Second, func(context.Context) error {
		// lock expired and was taken by another holder
		return mr.Set(key, "other-token")
	})
	require.NoError(t, err)
	v, err := mr.Get(key)
	require.NoError(t, err)
	require.Equal(t, "other-token", v)
}
