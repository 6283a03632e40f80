package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimits configures the three independent sliding-window dimensions a
// SlidingWindowLimiter enforces: connections per IP, messages per
// connection, and subscriptions per user. Each dimension gets its own
// window and limit rather than sharing one, since they bound unrelated
// things at unrelated rates.
type RateLimits struct {
	ConnWindow time.Duration
	ConnLimit  int64
	MsgWindow  time.Duration
	MsgLimit   int64
	SubWindow  time.Duration
	SubLimit   int64
}

// DefaultRateLimits returns the platform defaults: a 60-second window for
// all three dimensions, 20 connections/IP, 600 messages/connection, 100
// subscriptions/user.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		ConnWindow: 60 * time.Second,
		ConnLimit:  20,
		MsgWindow:  60 * time.Second,
		MsgLimit:   600,
		SubWindow:  60 * time.Second,
		SubLimit:   100,
	}
}

// SlidingWindowLimiter enforces a count-per-window limit using a Redis
// sorted set per key: each call scores an entry by its timestamp, trims
// everything outside the window, and compares the remaining cardinality
// against the limit. This tracks the window precisely (no fixed-bucket
// boundary artifacts) at the cost of one round trip per check.
type SlidingWindowLimiter struct {
	client *Client
	limits RateLimits
}

// NewSlidingWindowLimiter builds a limiter enforcing limits's three
// dimensions.
func NewSlidingWindowLimiter(client *Client, limits RateLimits) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{client: client, limits: limits}
}

// Allow records one event for key and reports whether it is within limit
// events per window.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string, window time.Duration, limit int64) (bool, error) {
	now := time.Now()
	cutoff := now.Add(-window)

	pipe := l.client.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	member := fmt.Sprintf("%d", now.UnixNano())
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit pipeline: %w", err)
	}

	return count.Val() <= limit, nil
}

// AllowConnection enforces the per-IP WebSocket connection rate limit.
func (l *SlidingWindowLimiter) AllowConnection(ctx context.Context, ip string) (bool, error) {
	return l.Allow(ctx, connIPKey(ip), l.limits.ConnWindow, l.limits.ConnLimit)
}

// AllowMessage enforces the per-connection message rate limit.
func (l *SlidingWindowLimiter) AllowMessage(ctx context.Context, connectionID string) (bool, error) {
	return l.Allow(ctx, msgRateKey(connectionID), l.limits.MsgWindow, l.limits.MsgLimit)
}

// AllowSubscription enforces the per-user subscription rate limit.
func (l *SlidingWindowLimiter) AllowSubscription(ctx context.Context, userID string) (bool, error) {
	return l.Allow(ctx, subRateKey(userID), l.limits.SubWindow, l.limits.SubLimit)
}
