package indexer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type fakeRunner struct {
	mu    sync.Mutex
	roots []string
}

func (f *fakeRunner) Run(_ context.Context, root string) (Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roots = append(f.roots, root)
	return Summary{Files: 1, Chunks: 2, Indexed: 2}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.roots)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestNewSchedulerRejectsBadSchedule(t *testing.T) {
	_, err := NewScheduler(&fakeRunner{}, "./docs", "not a cron", SchedulerOptions{})
	assert.Error(t, err)
}

func TestIsDue(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		spec string
		last *time.Time
		now  time.Time
		want bool
	}{
		{"@daily", nil, base, true},
		{"@daily", &base, base.Add(23 * time.Hour), false},
		{"@daily", &base, base.Add(24 * time.Hour), true},
		{"@hourly", &base, base.Add(59 * time.Minute), false},
		{"@hourly", &base, base.Add(time.Hour), true},
		{"30 2 * * *", &base, base.Add(16 * time.Hour), false},
		{"30 2 * * *", &base, base.Add(16*time.Hour + 30*time.Minute), true},
	}
	for _, tc := range cases {
		s, err := NewScheduler(&fakeRunner{}, "./docs", tc.spec, SchedulerOptions{})
		require.NoError(t, err)
		assert.Equal(t, tc.want, s.isDue(tc.last, tc.now), "%s at %s", tc.spec, tc.now)
	}
}

func TestTickRunsOncePerPeriod(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	runner := &fakeRunner{}
	s, err := NewScheduler(runner, "./docs", "@hourly", SchedulerOptions{Now: clk.Now})
	require.NoError(t, err)

	ctx := context.Background()
	assert.True(t, s.Tick(ctx), "never run before")
	assert.False(t, s.Tick(ctx))

	clk.Advance(30 * time.Minute)
	assert.False(t, s.Tick(ctx))
	clk.Advance(30 * time.Minute)
	assert.True(t, s.Tick(ctx))
	assert.Equal(t, []string{"./docs", "./docs"}, runner.roots)
}

func TestStartWithRunOnStart(t *testing.T) {
	runner := &fakeRunner{}
	s, err := NewScheduler(runner, "./docs", "@daily", SchedulerOptions{RunOnStart: true, Tick: time.Hour})
	require.NoError(t, err)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 10*time.Millisecond)
	s.Stop()
	s.Stop()
	assert.Equal(t, 1, runner.count())
}

func TestTickHonoursRedisLock(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })
	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = rdb.Close() })

	clk := &clock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	runner := &fakeRunner{}
	s, err := NewScheduler(runner, "./docs", "@hourly", SchedulerOptions{Rdb: rdb, Now: clk.Now})
	require.NoError(t, err)

	require.NoError(t, rdb.Set(ctx, lockKey, "other", time.Minute).Err())
	assert.False(t, s.Tick(ctx), "lock held elsewhere")
	assert.Zero(t, runner.count())

	require.NoError(t, rdb.Del(ctx, lockKey).Err())
	clk.Advance(time.Hour)
	assert.True(t, s.Tick(ctx))
	assert.Equal(t, 1, runner.count())

	exists, err := rdb.Exists(ctx, lockKey).Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "lock released after the run")
}
