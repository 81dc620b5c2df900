package cluster

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumdm/internal/app/chat"
	"forumdm/internal/pkg/clock"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func redisForTest(t *testing.T) RedisConfig {
	t.Helper()
	cfg := RedisConfig{Addr: envOr("FORUMDM_TEST_REDIS_ADDR", "localhost:6379"), DB: 15}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	client, err := NewRedisClient(ctx, cfg)
	if err != nil {
		t.Skipf("skipping redis test: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return cfg
}

func TestRedisPresenceLeases(t *testing.T) {
	cfg := redisForTest(t)
	ctx := context.Background()

	client, err := NewRedisClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	const uid = 900001
	require.NoError(t, client.Del(ctx, presenceKey(uid)).Err())

	fc := clock.Fake(time.Now())
	nodeA := NewRedisPresence(client, "node-a", time.Minute)
	nodeB := NewRedisPresence(client, "node-b", time.Minute)
	nodeA.clock, nodeB.clock = fc, fc

	online, err := nodeB.IsOnline(ctx, uid)
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, nodeA.Online(ctx, uid))
	online, err = nodeB.IsOnline(ctx, uid)
	require.NoError(t, err)
	assert.True(t, online, "other nodes see the claim")

	require.NoError(t, nodeA.Offline(ctx, uid))
	online, err = nodeB.IsOnline(ctx, uid)
	require.NoError(t, err)
	assert.False(t, online)

	// A node that stops refreshing is forgotten after one lease.
	require.NoError(t, nodeA.Online(ctx, uid))
	fc.Advance(30 * time.Second)
	require.NoError(t, nodeA.Refresh(ctx, uid))
	fc.Advance(45 * time.Second)
	online, err = nodeB.IsOnline(ctx, uid)
	require.NoError(t, err)
	assert.True(t, online, "refresh extended the lease")

	fc.Advance(20 * time.Second)
	online, err = nodeB.IsOnline(ctx, uid)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestNATSBusCarriesEnvelopesBetweenNodes(t *testing.T) {
	url := envOr("FORUMDM_TEST_NATS_URL", nats.DefaultURL)

	a, err := ConnectNATS(NATSConfig{URL: url, Name: "node-a", MaxReconnects: 1})
	if err != nil {
		t.Skipf("skipping nats test: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	b, err := ConnectNATS(NATSConfig{URL: url, Name: "node-b", MaxReconnects: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	var (
		mu      sync.Mutex
		gotA    []chat.Envelope
		gotB    []chat.Envelope
		ctx, cf = context.WithCancel(context.Background())
	)
	t.Cleanup(cf)

	go func() {
		_ = a.Run(ctx, func(env chat.Envelope) { mu.Lock(); gotA = append(gotA, env); mu.Unlock() })
	}()
	go func() {
		_ = b.Run(ctx, func(env chat.Envelope) { mu.Lock(); gotB = append(gotB, env); mu.Unlock() })
	}()

	env := chat.Envelope{Origin: "node-a", Targets: []int64{2}, Frame: []byte(`{"type":"pong"}`)}
	require.Eventually(t, func() bool {
		require.NoError(t, a.Publish(ctx, env))
		mu.Lock()
		defer mu.Unlock()
		return len(gotB) > 0
	}, 3*time.Second, 50*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, env.Targets, gotB[0].Targets)
	assert.JSONEq(t, `{"type":"pong"}`, string(gotB[0].Frame))
	assert.Empty(t, gotA, "a node never receives its own envelopes")
}
