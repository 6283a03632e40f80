package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLimits(connLimit, msgLimit, subLimit int64) RateLimits {
	return RateLimits{
		ConnWindow: time.Minute, ConnLimit: connLimit,
		MsgWindow: time.Minute, MsgLimit: msgLimit,
		SubWindow: time.Minute, SubLimit: subLimit,
	}
}

func TestSlidingWindowLimiter_AllowsUnderLimitAndBlocksOver(t *testing.T) {
	c := newTestClient(t)
	limiter := NewSlidingWindowLimiter(c, testLimits(3, 3, 3))
	ctx := t.Context()

	for i := 0; i < 3; i++ {
		ok, err := limiter.AllowConnection(ctx, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, ok, "event %d should be within the limit", i)
	}

	ok, err := limiter.AllowConnection(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, ok, "4th event in the window should exceed the limit")
}

func TestSlidingWindowLimiter_IndependentKeys(t *testing.T) {
	c := newTestClient(t)
	limiter := NewSlidingWindowLimiter(c, testLimits(1, 1, 1))
	ctx := t.Context()

	ok, err := limiter.AllowConnection(ctx, "1.1.1.1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = limiter.AllowConnection(ctx, "2.2.2.2")
	require.NoError(t, err)
	require.True(t, ok, "a different IP has its own independent window")

	ok, err = limiter.AllowMessage(ctx, "conn-1")
	require.NoError(t, err)
	require.True(t, ok, "message rate limit tracks a distinct keyspace from connection limit")

	ok, err = limiter.AllowSubscription(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok, "subscription rate limit tracks a distinct keyspace from the others")
}

func TestSlidingWindowLimiter_DimensionsHaveIndependentLimits(t *testing.T) {
	c := newTestClient(t)
	limiter := NewSlidingWindowLimiter(c, RateLimits{
		ConnWindow: time.Minute, ConnLimit: 1,
		MsgWindow: time.Minute, MsgLimit: 5,
		SubWindow: time.Minute, SubLimit: 2,
	})
	ctx := t.Context()

	ok, err := limiter.AllowConnection(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = limiter.AllowConnection(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, ok, "connection limit of 1 should reject the second attempt")

	for i := 0; i < 5; i++ {
		ok, err := limiter.AllowMessage(ctx, "conn-1")
		require.NoError(t, err)
		require.True(t, ok, "message %d should be within its own, higher limit", i)
	}
	ok, err = limiter.AllowMessage(ctx, "conn-1")
	require.NoError(t, err)
	require.False(t, ok)

	for i := 0; i < 2; i++ {
		ok, err := limiter.AllowSubscription(ctx, "user-1")
		require.NoError(t, err)
		require.True(t, ok, "subscription %d should be within its own limit", i)
	}
	ok, err = limiter.AllowSubscription(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, ok)
}
