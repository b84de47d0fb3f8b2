package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Origamihase/wien-oepnv/internal/fsatomic"
)

func testCounter(t *testing.T) *DailyCounter {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vor_request_count.json")
	c := NewDailyCounter(path, time.Second, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	c.now = func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) }
	return c
}

func TestDailyCounterIncrements(t *testing.T) {
	c := testCounter(t)

	n, err := c.Increment()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = c.Increment()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := os.ReadFile(c.path)
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "2025-06-01", raw["day"])
	assert.Equal(t, float64(2), raw["count"])
}

func TestDailyCounterResetsOnNewDay(t *testing.T) {
	c := testCounter(t)

	_, err := c.Increment()
	require.NoError(t, err)
	_, err = c.Increment()
	require.NoError(t, err)

	c.now = func() time.Time { return time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC) }
	n, err := c.Increment()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "count restarts with the local day")
}

func TestDailyCounterSurvivesCorruptState(t *testing.T) {
	c := testCounter(t)
	require.NoError(t, os.WriteFile(c.path, []byte("{not json"), 0o644))

	n, err := c.Increment()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDailyCounterCurrentDoesNotIncrement(t *testing.T) {
	c := testCounter(t)

	state, err := c.Current()
	require.NoError(t, err)
	assert.Equal(t, 0, state.Count)
	assert.Equal(t, "2025-06-01", state.Day)

	_, err = c.Increment()
	require.NoError(t, err)
	state, err = c.Current()
	require.NoError(t, err)
	assert.Equal(t, 1, state.Count)
}

func TestDailyCounterTakesOverHeldLock(t *testing.T) {
	c := testCounter(t)
	c.lockTimeout = 150 * time.Millisecond

	held, err := fsatomic.AcquireLock(c.path+".lock", time.Second)
	require.NoError(t, err)
	defer held.Release()

	n, err := c.Increment()
	require.NoError(t, err, "a lock held past the timeout is treated as stale")
	assert.Equal(t, 1, n)
}

func TestHostRateLimiterSpacesRequestsPerHost(t *testing.T) {
	h := NewHostRateLimiter(80 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, h.WaitForHost(ctx, "a.example.org"))

	start := time.Now()
	require.NoError(t, h.WaitForHost(ctx, "a.example.org"))
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond, "second request to the same host must wait")

	start = time.Now()
	require.NoError(t, h.WaitForHost(ctx, "b.example.org"))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "hosts are limited independently")
}

func TestHostRateLimiterZeroIntervalDisables(t *testing.T) {
	h := NewHostRateLimiter(0)
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, h.WaitForHost(context.Background(), "a.example.org"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
