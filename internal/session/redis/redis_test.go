package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/lectern/internal/session"
)

func startRedis(t *testing.T, ctx context.Context) *goredis.Client {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	port, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)
	host, err := c.Host(ctx)
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	ctx := context.Background()
	client := startRedis(t, ctx)
	store := New(client, Options{TTL: 2 * time.Second, KeyPrefix: "test:session:"})

	conv, err := store.GetOrCreate(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)

	require.NoError(t, store.AppendExchange(ctx, conv.ID, "What is ROS 2?", "A robotics middleware [Source 1]."))
	require.NoError(t, store.AppendExchange(ctx, conv.ID, "And DDS?", "Its transport layer."))

	turns, err := store.RecentHistory(ctx, conv.ID, 1)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, session.RoleUser, turns[0].Role)
	assert.Equal(t, "And DDS?", turns[0].Content)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.Clear(ctx, conv.ID))
	turns, err = store.RecentHistory(ctx, conv.ID, 5)
	require.NoError(t, err)
	assert.Empty(t, turns)

	t.Run("concurrent appends keep every exchange", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, store.AppendExchange(ctx, "shared", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)))
			}(i)
		}
		wg.Wait()
		turns, err := store.RecentHistory(ctx, "shared", 100)
		require.NoError(t, err)
		assert.Len(t, turns, 40)
	})

	t.Run("sweep leaves expiry to redis", func(t *testing.T) {
		_, err := store.GetOrCreate(ctx, "swept")
		require.NoError(t, err)
		n, err := store.SweepExpired(ctx, time.Nanosecond)
		require.NoError(t, err)
		assert.Zero(t, n)
		exists, err := client.Exists(ctx, "test:session:swept").Result()
		require.NoError(t, err)
		assert.EqualValues(t, 1, exists)
	})

	t.Run("idle sessions expire", func(t *testing.T) {
		_, err := store.GetOrCreate(ctx, "short-lived")
		require.NoError(t, err)
		time.Sleep(2500 * time.Millisecond)
		exists, err := client.Exists(ctx, "test:session:short-lived").Result()
		require.NoError(t, err)
		assert.Zero(t, exists)
	})
}

func TestSweepExpiredIgnoresTTL(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	store := New(client, Options{})
	n, err := store.SweepExpired(context.Background(), time.Nanosecond)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStoreImplementsInterface(t *testing.T) {
	var _ session.Store = (*Store)(nil)
}
