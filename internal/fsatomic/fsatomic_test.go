package fsatomic

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	require.NoError(t, WriteFile(path, []byte("first"), 0o644))
	require.NoError(t, WriteFile(path, []byte("second"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files may remain")
}

func TestWriteJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, WriteJSON(path, map[string]int{"count": 3}, 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"count": 3}`, string(data))
	assert.Equal(t, byte('\n'), data[len(data)-1])
}

func TestAcquireLockBlocksAndTakesOverStaleLocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.json.lock")

	l1, err := AcquireLock(path, time.Second)
	require.NoError(t, err)

	start := time.Now()
	l2, err := AcquireLock(path, 150*time.Millisecond)
	require.NoError(t, err, "a lock held past the timeout is stale and taken over")
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	require.NoError(t, l2.Release())
	require.NoError(t, l1.Release())
}

func TestAcquireSharedAllowsConcurrentReaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json.lock")

	l1, err := AcquireShared(path, time.Second)
	require.NoError(t, err)
	l2, err := AcquireShared(path, time.Second)
	require.NoError(t, err, "shared locks must not exclude each other")

	require.NoError(t, l1.Release())
	require.NoError(t, l2.Release())
}
