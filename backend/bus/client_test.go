package bus

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient("redis://"+mr.Addr(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPresence_SaveDropCount(t *testing.T) {
	c := newTestClient(t)
	ctx := t.Context()

	require.NoError(t, c.SavePresence(ctx, "conn-1", "user-1", []byte(`{"ip":"1.2.3.4"}`), time.Minute))
	require.NoError(t, c.SavePresence(ctx, "conn-2", "user-1", []byte(`{}`), time.Minute))

	count, err := c.UserConnectionCount(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	require.NoError(t, c.DropPresence(ctx, "conn-1", "user-1"))
	count, err = c.UserConnectionCount(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestSubscriptions_AddRemoveList(t *testing.T) {
	c := newTestClient(t)
	ctx := t.Context()

	require.NoError(t, c.AddSubscription(ctx, "user-1", "order_updates:user-1"))
	require.NoError(t, c.AddSubscription(ctx, "user-1", "market_data"))

	topics, err := c.Subscriptions(ctx, "user-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"order_updates:user-1", "market_data"}, topics)

	require.NoError(t, c.RemoveSubscription(ctx, "user-1", "market_data"))
	topics, err = c.Subscriptions(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"order_updates:user-1"}, topics)
}

func TestRevocation_ByJTI(t *testing.T) {
	c := newTestClient(t)
	ctx := t.Context()

	revoked, err := c.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, c.Revoke(ctx, "jti-1", time.Minute))

	revoked, err = c.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)
}

func TestRevocation_UserWatermark(t *testing.T) {
	c := newTestClient(t)
	ctx := t.Context()

	watermark, err := c.RevokedAfter(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, watermark.IsZero())

	require.NoError(t, c.RevokeAllAfterNow(ctx, "user-1"))

	watermark, err = c.RevokedAfter(ctx, "user-1")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), watermark, 2*time.Second)
}

func TestRefreshReuseDetection(t *testing.T) {
	c := newTestClient(t)
	ctx := t.Context()

	reused, err := c.MarkRefreshUsed(ctx, "jti-1", time.Minute)
	require.NoError(t, err)
	require.False(t, reused, "first use is not a reuse")

	reused, err = c.MarkRefreshUsed(ctx, "jti-1", time.Minute)
	require.NoError(t, err)
	require.True(t, reused, "second use of the same jti is a reuse")
}

func TestRefreshFamilyRevocation(t *testing.T) {
	c := newTestClient(t)
	ctx := t.Context()

	revoked, err := c.IsFamilyRevoked(ctx, "family-1")
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, c.RevokeFamily(ctx, "family-1", time.Minute))

	revoked, err = c.IsFamilyRevoked(ctx, "family-1")
	require.NoError(t, err)
	require.True(t, revoked)
}

func TestKillSwitch_SetGet(t *testing.T) {
	c := newTestClient(t)
	ctx := t.Context()

	on, err := c.GetKillSwitch(ctx)
	require.NoError(t, err)
	require.False(t, on)

	require.NoError(t, c.SetKillSwitch(ctx, true))

	on, err = c.GetKillSwitch(ctx)
	require.NoError(t, err)
	require.True(t, on)

	require.NoError(t, c.SetKillSwitch(ctx, false))
	on, err = c.GetKillSwitch(ctx)
	require.NoError(t, err)
	require.False(t, on)
}
