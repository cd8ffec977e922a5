//go:build integration

package redis

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/bissquit/notification-queue/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAddr string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := testutil.NewRedisContainer(ctx)
	if err != nil {
		log.Fatalf("start redis: %v", err)
	}
	testAddr = container.Addr

	code := m.Run()
	if err := container.Terminate(ctx); err != nil {
		log.Printf("terminate redis: %v", err)
	}
	os.Exit(code)
}

type cachedValue struct {
	Name  string   `json:"name"`
	Flags []string `json:"flags"`
}

func TestJSONCache(t *testing.T) {
	ctx := context.Background()
	client, err := Connect(ctx, Config{Addr: testAddr})
	require.NoError(t, err)
	defer client.Close()

	cache := NewJSONCache(client)

	var dest cachedValue
	found, err := cache.Get(ctx, "missing", &dest)
	require.NoError(t, err)
	assert.False(t, found)

	value := cachedValue{Name: "alice", Flags: []string{"email"}}
	require.NoError(t, cache.Set(ctx, "user:alice", value, time.Minute))

	found, err = cache.Get(ctx, "user:alice", &dest)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, value, dest)

	ttl, err := client.TTL(ctx, "user:alice").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, cache.Delete(ctx, "user:alice"))
	found, err = cache.Get(ctx, "user:alice", &dest)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestJSONCache_NonPositiveTTLSkipsWrite(t *testing.T) {
	ctx := context.Background()
	client, err := Connect(ctx, Config{Addr: testAddr})
	require.NoError(t, err)
	defer client.Close()

	cache := NewJSONCache(client)
	require.NoError(t, cache.Set(ctx, "ephemeral", cachedValue{Name: "x"}, 0))

	var dest cachedValue
	found, err := cache.Get(ctx, "ephemeral", &dest)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Connect(ctx, Config{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
