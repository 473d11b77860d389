package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterTokenBucketPerHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1, MaxInFlight: 4}, "test")
	ctx := context.Background()

	release, err := l.Acquire(ctx, "https://test.com/a")
	require.NoError(t, err)
	release()

	start := time.Now()
	release, err = l.Acquire(ctx, "https://test.com/b")
	require.NoError(t, err)
	release()
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	start = time.Now()
	release, err = l.Acquire(ctx, "https://other.com/")
	require.NoError(t, err)
	release()
	assert.Less(t, time.Since(start), 50*time.Millisecond, "other host has its own bucket")
}

// TestLimiterRandomGapBetweenRequests ensures consecutive starts are spaced by the delay window.
func TestLimiterRandomGapBetweenRequests(t *testing.T) {
	t.Parallel()

	l := New(Config{MinDelay: 60 * time.Millisecond, MaxDelay: 80 * time.Millisecond, MaxInFlight: 2}, "test")
	ctx := context.Background()

	start := time.Now()
	release, err := l.Acquire(ctx, "https://a.com/1")
	require.NoError(t, err)
	release()
	assert.Less(t, time.Since(start), 30*time.Millisecond, "first request starts immediately")

	release, err = l.Acquire(ctx, "https://a.com/2")
	require.NoError(t, err)
	release()
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

// TestLimiterStateIsPerCrawl ensures two crawls never share throttle timers.
func TestLimiterStateIsPerCrawl(t *testing.T) {
	t.Parallel()

	first := New(Config{MinDelay: time.Second, MaxDelay: time.Second}, "osmose")
	second := New(Config{MinDelay: time.Second, MaxDelay: time.Second}, "drakkar")
	ctx := context.Background()

	release, err := first.Acquire(ctx, "https://shared.example/1")
	require.NoError(t, err)
	release()

	start := time.Now()
	release, err = second.Acquire(ctx, "https://shared.example/1")
	require.NoError(t, err)
	release()
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterInFlightCap(t *testing.T) {
	t.Parallel()

	l := New(Config{MaxInFlight: 1}, "test")
	release, err := l.Acquire(context.Background(), "https://a.com")
	require.NoError(t, err)
	assert.Equal(t, 1, l.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "https://a.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	assert.Zero(t, l.InFlight())
}

func TestLimiterCanceledDuringGap(t *testing.T) {
	t.Parallel()

	l := New(Config{MinDelay: time.Second, MaxDelay: time.Second, MaxInFlight: 2}, "test")
	release, err := l.Acquire(context.Background(), "https://a.com")
	require.NoError(t, err)
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "https://a.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, l.InFlight(), "slot released on failure")
}

func TestNewClampsDelayWindow(t *testing.T) {
	t.Parallel()

	l := New(Config{MinDelay: 2 * time.Second, MaxDelay: time.Second}, "test")
	assert.Equal(t, 2*time.Second, l.maxDelay)
	assert.Equal(t, 2*time.Second, l.randomDelay())
}
