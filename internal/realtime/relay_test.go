package realtime

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lirancohen/workhub/internal/config"
)

// Set WORKHUB_TEST_REDIS_URL (e.g. redis://localhost:6379/0) to run.
func TestRedisRelay_FanOutAcrossHubs(t *testing.T) {
	url := os.Getenv("WORKHUB_TEST_REDIS_URL")
	if url == "" {
		t.Skip("WORKHUB_TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.RedisConfig{URL: url, DialTimeout: time.Second, PingTimeout: time.Second}
	rdb, err := NewRedisClient(ctx, cfg)
	require.NoError(t, err)
	defer rdb.Close()

	channel := "workhub:test:" + t.Name()

	// Two instances sharing one channel.
	var clients []*fakeClient
	var hubs []*Hub
	for _, user := range []string{"alice", "bob"} {
		reg := NewRegistry()
		c := newFakeClient(user+"-conn", user)
		reg.Register(c)
		reg.SubscribeWorkspace(c.ID(), "w1")
		hub := NewHub(reg, testLogger(), nil)
		relay := NewRedisRelay(rdb, channel, hub, testLogger())
		go func() { _ = relay.Run(ctx) }()
		clients = append(clients, c)
		hubs = append(hubs, hub)
	}

	require.Eventually(t, func() bool {
		n, err := rdb.PubSubNumSub(ctx, channel).Result()
		return err == nil && n[channel] == 2
	}, 2*time.Second, 20*time.Millisecond)
	for _, hub := range hubs {
		require.Eventually(t, func() bool { return hub.currentRelay() != nil }, 2*time.Second, 10*time.Millisecond)
	}

	hubs[0].Broadcast(ctx, Workspace("w1"), EventProjectCreated, map[string]string{"id": "p1"})

	for _, c := range clients {
		require.Eventually(t, func() bool { return len(c.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, `{"event":"project_created","data":{"id":"p1"}}`, c.received()[0])
	}
}

func TestRedisRelay_HandleDropsGarbage(t *testing.T) {
	reg := NewRegistry()
	c := newFakeClient("c", "alice")
	reg.Register(c)
	relay := NewRedisRelay(nil, "unused", NewHub(reg, testLogger(), nil), testLogger())

	relay.handle("not json")
	relay.handle(`{"scope":"nowhere","event":"x"}`)
	assert.Empty(t, c.received())

	relay.handle(`{"scope":"user:alice","event":"notification_new","data":{"id":"n1"}}`)
	assert.Equal(t, []string{`{"event":"notification_new","data":{"id":"n1"}}`}, c.received())
}

// unreachableRedis returns a client for an address nothing listens on.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	rdb := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisRelay_FailedSubscriptionKeepsLocalDelivery(t *testing.T) {
	t.Run("never installed", func(t *testing.T) {
		reg := NewRegistry()
		c := newFakeClient("c", "alice")
		reg.Register(c)
		hub := NewHub(reg, testLogger(), nil)
		relay := NewRedisRelay(unreachableRedis(t), "workhub:test", hub, testLogger())

		require.Error(t, relay.Run(context.Background()))
		assert.Nil(t, hub.currentRelay())

		hub.Broadcast(context.Background(), User("alice"), EventNotificationNew, map[string]string{"id": "n1"})
		assert.Equal(t, []string{`{"event":"notification_new","data":{"id":"n1"}}`}, c.received())
	})

	t.Run("detached on exit", func(t *testing.T) {
		reg := NewRegistry()
		c := newFakeClient("c", "alice")
		reg.Register(c)
		hub := NewHub(reg, testLogger(), nil)
		relay := NewRedisRelay(unreachableRedis(t), "workhub:test", hub, testLogger())
		hub.SetRelay(relay)

		require.Error(t, relay.Run(context.Background()))
		assert.Nil(t, hub.currentRelay())

		hub.Broadcast(context.Background(), User("alice"), EventNotificationNew, nil)
		assert.Equal(t, []string{`{"event":"notification_new","data":null}`}, c.received())
	})

	t.Run("leaves another relay in place", func(t *testing.T) {
		hub := NewHub(NewRegistry(), testLogger(), nil)
		other := &recordingRelay{}
		hub.SetRelay(other)
		relay := NewRedisRelay(unreachableRedis(t), "workhub:test", hub, testLogger())

		require.Error(t, relay.Run(context.Background()))
		assert.Same(t, other, hub.currentRelay())
	})
}
