// Package bus wraps Redis as the shared state layer between process
// instances: WebSocket presence/subscriptions, JWT revocation, and the
// risk engine's kill switch all replicate through here so every instance
// of the API observes the same view.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/alexherrero/sherwood/backend/auth"
	"github.com/alexherrero/sherwood/backend/risk"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	_ auth.RevocationStore      = (*Client)(nil)
	_ risk.KillSwitchReplicator = (*Client)(nil)
)

// Key prefixes for the shared keyspace. Every process instance reads and
// writes the same keys, so a connection/subscription/kill-switch state
// change on one instance is immediately visible to the others.
const (
	keyConnection       = "ws:connections:%s"        // connection_id -> presence JSON
	keyUserConnections  = "ws:user:%s:connections"    // user_id -> set of connection_id
	keyUserSubs         = "ws:subs:user:%s"           // user_id -> set of topics
	keyConnIP           = "ws:conn:ip:%s"             // ip -> sorted set of connect timestamps (rate limit)
	keyMsgRate          = "ws:msg:%s"                 // connection_id -> sorted set of message timestamps
	keySubRate          = "ws:subs:rate:%s"           // user_id -> sorted set of subscribe timestamps (rate limit)
	keyBroadcast        = "ws:broadcast:%s"           // channel -> pub/sub channel name
	keyJWTRevoked       = "jwt:revoked:%s"             // jti -> "1" (with TTL = token remaining life)
	keyJWTUserWatermark = "jwt:user:revoke_after:%s"   // user_id -> unix timestamp
	keyRefreshUsed      = "jwt:refresh:used:%s"        // jti -> "1" (refresh token reuse detection)
	keyRefreshFamily    = "jwt:refresh:family:revoked:%s" // family_id -> "1"
	keyKillSwitch       = "risk:kill_switch"
)

// Client wraps a redis.Client with the keyspace operations the realtime,
// auth, and risk packages depend on.
type Client struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewClient builds a Client from a redis connection URL
// (redis://[:password@]host:port/db).
func NewClient(url string, log zerolog.Logger) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	return &Client{rdb: rdb, log: log}, nil
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// --- presence -------------------------------------------------------------

// SavePresence records a connection's presence, keyed for lookup by both
// connection id and owning user.
func (c *Client) SavePresence(ctx context.Context, connectionID, userID string, payload []byte, ttl time.Duration) error {
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(keyConnection, connectionID), payload, ttl)
	pipe.SAdd(ctx, fmt.Sprintf(keyUserConnections, userID), connectionID)
	pipe.Expire(ctx, fmt.Sprintf(keyUserConnections, userID), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// DropPresence removes a connection's presence record.
func (c *Client) DropPresence(ctx context.Context, connectionID, userID string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, fmt.Sprintf(keyConnection, connectionID))
	pipe.SRem(ctx, fmt.Sprintf(keyUserConnections, userID), connectionID)
	_, err := pipe.Exec(ctx)
	return err
}

// UserConnectionCount reports how many live connections a user currently
// holds, across all process instances.
func (c *Client) UserConnectionCount(ctx context.Context, userID string) (int64, error) {
	return c.rdb.SCard(ctx, fmt.Sprintf(keyUserConnections, userID)).Result()
}

// --- subscriptions ----------------------------------------------------------

// AddSubscription records that userID is subscribed to topic.
func (c *Client) AddSubscription(ctx context.Context, userID, topic string) error {
	return c.rdb.SAdd(ctx, fmt.Sprintf(keyUserSubs, userID), topic).Err()
}

// RemoveSubscription removes a topic subscription.
func (c *Client) RemoveSubscription(ctx context.Context, userID, topic string) error {
	return c.rdb.SRem(ctx, fmt.Sprintf(keyUserSubs, userID), topic).Err()
}

// Subscriptions lists a user's current topic subscriptions.
func (c *Client) Subscriptions(ctx context.Context, userID string) ([]string, error) {
	return c.rdb.SMembers(ctx, fmt.Sprintf(keyUserSubs, userID)).Result()
}

// --- broadcast --------------------------------------------------------------

// Publish fans a message out to every process instance subscribed to
// channel via redis pub/sub.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.rdb.Publish(ctx, fmt.Sprintf(keyBroadcast, channel), payload).Err()
}

// Subscribe returns a redis.PubSub for channel; callers read via Channel().
func (c *Client) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, fmt.Sprintf(keyBroadcast, channel))
}

// SubscribeAll returns a redis.PubSub pattern-subscribed to every broadcast
// channel (`ws:broadcast:*`), so a single long-lived listener can relay
// every topic instead of one subscription per topic.
func (c *Client) SubscribeAll(ctx context.Context) *redis.PubSub {
	return c.rdb.PSubscribe(ctx, fmt.Sprintf(keyBroadcast, "*"))
}

// --- JWT revocation (backend/auth.RevocationStore) --------------------------

// IsRevoked reports whether jti has been explicitly revoked.
func (c *Client) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := c.rdb.Exists(ctx, fmt.Sprintf(keyJWTRevoked, jti)).Result()
	return n > 0, err
}

// Revoke marks jti revoked for ttl (normally the token's remaining life).
func (c *Client) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf(keyJWTRevoked, jti), "1", ttl).Err()
}

// RevokedAfter returns the per-user watermark: tokens issued before this
// time are considered revoked. Zero time means no watermark is set.
func (c *Client) RevokedAfter(ctx context.Context, userID string) (time.Time, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf(keyJWTUserWatermark, userID)).Int64()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(val, 0), nil
}

// RevokeAllAfterNow sets userID's watermark to now, invalidating every
// token issued before this call (e.g. on password change or "log out
// everywhere").
func (c *Client) RevokeAllAfterNow(ctx context.Context, userID string) error {
	return c.rdb.Set(ctx, fmt.Sprintf(keyJWTUserWatermark, userID), time.Now().Unix(), 30*24*time.Hour).Err()
}

// --- refresh-token reuse detection ------------------------------------------

// MarkRefreshUsed records that a refresh token's jti has been redeemed;
// returns true if it was already marked (reuse), in which case the caller
// should revoke the whole family.
func (c *Client) MarkRefreshUsed(ctx context.Context, jti string, ttl time.Duration) (reused bool, err error) {
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf(keyRefreshUsed, jti), "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// RevokeFamily marks an entire refresh-token family revoked, used when
// reuse of an already-redeemed refresh token is detected (likely token
// theft).
func (c *Client) RevokeFamily(ctx context.Context, familyID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf(keyRefreshFamily, familyID), "1", ttl).Err()
}

// IsFamilyRevoked reports whether familyID has been revoked.
func (c *Client) IsFamilyRevoked(ctx context.Context, familyID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, fmt.Sprintf(keyRefreshFamily, familyID)).Result()
	return n > 0, err
}

// --- kill switch (risk.KillSwitchReplicator) --------------------------------

// SetKillSwitch replicates the kill-switch state to every process instance.
func (c *Client) SetKillSwitch(ctx context.Context, on bool) error {
	val := "0"
	if on {
		val = "1"
	}
	return c.rdb.Set(ctx, keyKillSwitch, val, 0).Err()
}

// GetKillSwitch reads the replicated kill-switch state.
func (c *Client) GetKillSwitch(ctx context.Context) (bool, error) {
	val, err := c.rdb.Get(ctx, keyKillSwitch).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "1", nil
}

// connIPKey, msgRateKey, and subRateKey expose the sliding-window
// rate-limit keys to ratelimit.go without leaking the private key-format
// constants.
func connIPKey(ip string) string            { return fmt.Sprintf(keyConnIP, ip) }
func msgRateKey(connectionID string) string { return fmt.Sprintf(keyMsgRate, connectionID) }
func subRateKey(userID string) string       { return fmt.Sprintf(keySubRate, userID) }
