package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var limiterTestBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestSlidingWindow_AdmitUpToQuota(t *testing.T) {
	l := NewSlidingWindow(Config{MaxRequests: 5, Window: 60 * time.Second})
	ctx := context.Background()

	// quota=5, window=60s: requests at t=0..4 admit, t=5 denies with
	// retry_after ~= 55s, t=61 admits again.
	for i := range 5 {
		d, err := l.Check(ctx, "user-1", limiterTestBase.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 4-i, d.Remaining)
	}

	d, err := l.Check(ctx, "user-1", limiterTestBase.Add(5*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed, "request over quota should be denied")
	assert.Equal(t, 55*time.Second, d.RetryAfter)

	d, err = l.Check(ctx, "user-1", limiterTestBase.Add(61*time.Second))
	require.NoError(t, err)
	assert.True(t, d.Allowed, "request after window should be admitted")
}

func TestSlidingWindow_DenialNotRecorded(t *testing.T) {
	l := NewSlidingWindow(Config{MaxRequests: 1, Window: 60 * time.Second})
	ctx := context.Background()

	d, err := l.Check(ctx, "user-1", limiterTestBase)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// Repeated denials must not extend the window.
	for i := 1; i <= 3; i++ {
		d, err = l.Check(ctx, "user-1", limiterTestBase.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	}

	d, err = l.Check(ctx, "user-1", limiterTestBase.Add(61*time.Second))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestSlidingWindow_InclusiveBoundary(t *testing.T) {
	l := NewSlidingWindow(Config{MaxRequests: 1, Window: 60 * time.Second})
	ctx := context.Background()

	d, err := l.Check(ctx, "user-1", limiterTestBase)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// An entry exactly at the window boundary is still inside the window.
	d, err = l.Check(ctx, "user-1", limiterTestBase.Add(60*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed, "boundary entry should still count against quota")

	d, err = l.Check(ctx, "user-1", limiterTestBase.Add(60*time.Second+time.Nanosecond))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestSlidingWindow_KeysAreIndependent(t *testing.T) {
	l := NewSlidingWindow(Config{MaxRequests: 1, Window: 60 * time.Second})
	ctx := context.Background()

	d, err := l.Check(ctx, "user-1", limiterTestBase)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.Check(ctx, "user-2", limiterTestBase)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "one user's quota must not affect another")
}

func TestSlidingWindow_Defaults(t *testing.T) {
	l := NewSlidingWindow(Config{})
	assert.Equal(t, DefaultMaxRequests, l.quota)
	assert.Equal(t, DefaultWindow, l.window)
}

func TestSlidingWindow_PruneStale(t *testing.T) {
	l := NewSlidingWindow(Config{MaxRequests: 5, Window: 60 * time.Second})
	ctx := context.Background()

	_, err := l.Check(ctx, "user-1", limiterTestBase)
	require.NoError(t, err)
	_, err = l.Check(ctx, "user-2", limiterTestBase.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, l.ActiveKeys())

	l.PruneStale(limiterTestBase.Add(75 * time.Second))
	assert.Equal(t, 1, l.ActiveKeys(), "user-1's bucket left the window and should be dropped")

	l.PruneStale(limiterTestBase.Add(2 * time.Minute))
	assert.Equal(t, 0, l.ActiveKeys())
}

func TestSlidingWindow_ConcurrentSameKey(t *testing.T) {
	const quota = 50
	l := NewSlidingWindow(Config{MaxRequests: quota, Window: time.Minute})
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	admitted := make(chan bool, 200)
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Check(ctx, "user-1", now)
			if err == nil {
				admitted <- d.Allowed
			}
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for ok := range admitted {
		if ok {
			count++
		}
	}
	assert.Equal(t, quota, count, "exactly quota requests should be admitted under contention")
}

func TestSlidingWindow_SweepDropsQuietKeys(t *testing.T) {
	l := NewSlidingWindow(Config{MaxRequests: 2, Window: time.Minute})
	l.StartSweep(5 * time.Millisecond)
	defer func() { _ = l.Close() }()

	// Record an entry already outside the sweep's wall-clock window.
	_, err := l.Check(context.Background(), "quiet-user", time.Now().Add(-2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, l.ActiveKeys())

	assert.Eventually(t, func() bool {
		return l.ActiveKeys() == 0
	}, time.Second, 10*time.Millisecond, "sweep should drop the quiet key's bucket")
}

func TestSlidingWindow_CloseWithoutSweep(t *testing.T) {
	assert.NoError(t, NewSlidingWindow(Config{}).Close())
}
