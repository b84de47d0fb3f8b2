package pathguard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) (*Guard, string) {
	t.Helper()
	base := t.TempDir()
	for _, d := range []string{"docs", "data", "log"} {
		require.NoError(t, os.MkdirAll(filepath.Join(base, d), 0o755))
	}
	g, err := New(base, nil)
	require.NoError(t, err)
	return g, g.Base()
}

func TestResolveAllowsPathsUnderAllowedRoots(t *testing.T) {
	g, base := newTestGuard(t)

	tests := []struct {
		name string
		path string
		want string
	}{
		{"relative docs file", "docs/feed.xml", filepath.Join(base, "docs", "feed.xml")},
		{"relative data file", "data/first_seen.json", filepath.Join(base, "data", "first_seen.json")},
		{"nested log file", "log/reports/feed_health.md", filepath.Join(base, "log", "reports", "feed_health.md")},
		{"absolute path under base", filepath.Join(base, "data", "counter.json"), filepath.Join(base, "data", "counter.json")},
		{"dot segments normalised", "docs/../docs/feed.xml", filepath.Join(base, "docs", "feed.xml")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Resolve(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveRejectsPathsOutsideAllowlist(t *testing.T) {
	g, base := newTestGuard(t)

	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"base itself", "."},
		{"unknown root", "cache/events.json"},
		{"parent escape", "../outside.json"},
		{"escape through allowed root", "docs/../../etc/passwd"},
		{"absolute outside base", "/etc/passwd"},
		{"bare allowed root name as file elsewhere", filepath.Join(filepath.Dir(base), "docs", "feed.xml")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Resolve(tt.path)
			assert.Error(t, err)
		})
	}
}

func TestResolveFollowsSymlinkedAncestors(t *testing.T) {
	g, base := newTestGuard(t)

	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(base, "data", "leak")))

	_, err := g.Resolve("data/leak/state.json")
	assert.Error(t, err, "symlink pointing outside the base directory must be rejected")

	require.NoError(t, os.MkdirAll(filepath.Join(base, "data", "real"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(base, "data", "real"), filepath.Join(base, "data", "alias")))
	got, err := g.Resolve("data/alias/state.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "data", "real", "state.json"), got)
}

func TestNewRejectsMissingBaseAndBadRoots(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)

	_, err = New(t.TempDir(), []string{"nested/root"})
	assert.Error(t, err)
}
