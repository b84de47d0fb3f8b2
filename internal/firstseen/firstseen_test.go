package firstseen

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, retentionDays int) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "first_seen.json")
	s := New(path, retentionDays, time.Second, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	s.now = func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) }
	return s
}

func TestStampInsertsOnce(t *testing.T) {
	s := testStore(t, 60)
	s.Load()

	assert.False(t, s.Known("VOR-42"))

	first := s.Stamp("VOR-42", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), first)
	assert.True(t, s.Known("VOR-42"))

	again := s.Stamp("VOR-42", time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC))
	assert.Equal(t, first, again)
}

func TestSaveRetainsOnlyEmitted(t *testing.T) {
	s := testStore(t, 60)
	s.Load()
	stamp := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s.Stamp("keep-1", stamp)
	s.Stamp("keep-2", stamp)
	s.Stamp("drop-me", stamp)

	require.NoError(t, s.Save([]string{"keep-1", "keep-2"}))

	data, err := os.ReadFile(s.path)
	require.NoError(t, err)

	var raw map[string]string
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Len(t, raw, 2)
	assert.Equal(t, "2025-06-01T10:00:00Z", raw["keep-1"])
	assert.NotContains(t, raw, "drop-me")
}

func TestLoadRoundtrip(t *testing.T) {
	s := testStore(t, 60)
	s.Load()
	s.Stamp("WL-1", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, s.Save([]string{"WL-1"}))

	s2 := New(s.path, 60, time.Second, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	s2.now = s.now
	s2.Load()

	got, ok := s2.Get("WL-1")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), got)
}

func TestLoadTolerance(t *testing.T) {
	s := testStore(t, 60)

	// Missing file.
	s.Load()
	assert.Equal(t, 0, s.Len())

	// Corrupt file.
	require.NoError(t, os.WriteFile(s.path, []byte("{broken"), 0o644))
	s.Load()
	assert.Equal(t, 0, s.Len())

	// Unparsable instants are dropped, good ones survive.
	require.NoError(t, os.WriteFile(s.path, []byte(`{"ok": "2025-05-20T08:00:00Z", "bad": "yesterday"}`), 0o644))
	s.Load()
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Known("ok"))
}

func TestLoadPurgesByRetention(t *testing.T) {
	s := testStore(t, 60)

	state := map[string]string{
		"recent":  "2025-05-20T08:00:00Z",
		"ancient": "2024-01-01T08:00:00Z",
	}
	data, err := json.Marshal(state)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.path, data, 0o644))

	s.Load()
	assert.True(t, s.Known("recent"))
	assert.False(t, s.Known("ancient"))

	// Retention 0 keeps everything.
	s2 := New(s.path, 0, time.Second, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	s2.now = s.now
	s2.Load()
	assert.Equal(t, 2, s2.Len())
}

func TestSaveEmptyEmissionClearsState(t *testing.T) {
	s := testStore(t, 60)
	s.Load()
	s.Stamp("gone", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, s.Save(nil))

	data, err := os.ReadFile(s.path)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(data))
}
