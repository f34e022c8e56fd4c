package services

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRedis connects to TEST_REDIS_URL and flushes the selected database.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := InitRedis(ctx, url)
	require.NoError(t, err)
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSweepLockSingleHolder(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()

	a, b := NewSweepLock(client, "a"), NewSweepLock(client, "b")
	ok, err := a.TryLock(ctx, "sweep", 200*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx, "sweep", 200*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(300 * time.Millisecond)
	ok, err = b.TryLock(ctx, "sweep", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiterWindow(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	rl := NewRateLimiter(client, "chat", 3, time.Minute)

	for i := 2; i >= 0; i-- {
		ok, remaining, err := rl.Allow(ctx, "42")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, remaining)
	}
	ok, remaining, err := rl.Allow(ctx, "42")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, remaining)

	ok, _, err = rl.Allow(ctx, "43")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLoginGuardLockout(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	g := NewLoginGuard(client, 3, time.Minute)

	for i := 1; i <= 3; i++ {
		left, err := g.Failed(ctx, " Amina@Uni.test ")
		require.NoError(t, err)
		assert.Equal(t, 3-i, left, fmt.Sprintf("attempt %d", i))
	}
	wait, err := g.Locked(ctx, "amina@uni.test")
	require.NoError(t, err)
	assert.Greater(t, wait, time.Duration(0))

	require.NoError(t, g.Reset(ctx, "amina@uni.test"))
	wait, err = g.Locked(ctx, "amina@uni.test")
	require.NoError(t, err)
	assert.Zero(t, wait)
}

func TestRelayDeliversPublishedFrames(t *testing.T) {
	client := testRedis(t)
	hub := NewHub(nil, nil)
	conn, _, err := dialHub(t, hub, 9, "")
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.IsOnline(9) }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Relay(ctx, client, "test:relay")

	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, "test:relay").Result()
		return err == nil && n["test:relay"] > 0
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, RedisRealtime{Client: client, Channel: "test:relay"}.Deliver(ctx, 9, "ping", "hello"))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping","data":"hello"}`, string(raw))
}
