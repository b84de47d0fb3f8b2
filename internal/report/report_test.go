package report

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Origamihase/wien-oepnv/internal/config"
	"github.com/Origamihase/wien-oepnv/internal/pathguard"
	"github.com/Origamihase/wien-oepnv/internal/pipeline"
)

func newTestWriter(t *testing.T, enabled bool) (*Writer, string) {
	t.Helper()
	base := t.TempDir()
	guard, err := pathguard.New(base, nil)
	require.NoError(t, err)
	cfg := config.ReportConfig{
		Enabled:      enabled,
		HealthMDPath: "log/feed_health.md",
		HealthJSON:   "log/feed_health.json",
		MetricsPath:  "log/wien_oepnv.prom",
	}
	return NewWriter(cfg, guard, slog.New(slog.NewTextHandler(os.Stderr, nil))), base
}

func sampleRun() *Run {
	rec := NewRecorder("feed build", time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC))
	rec.Disabled("baustellen")
	rec.Build(&pipeline.Result{
		Items:   3,
		OutPath: "docs/feed.xml",
		Sources: []pipeline.SourceStatus{
			{Name: "wl", Status: pipeline.StatusOK, Events: 12},
			{Name: "oebb", Status: pipeline.StatusEmpty},
			{Name: "vor", Status: pipeline.StatusError, Error: "counter file locked | retry later"},
		},
		Durations: pipeline.StageDurations{
			Collect:   120 * time.Millisecond,
			Normalise: 3 * time.Millisecond,
			Prune:     2 * time.Millisecond,
			Dedupe:    4 * time.Millisecond,
			RSS:       9 * time.Millisecond,
			Total:     140 * time.Millisecond,
		},
	})
	rec.Warn("VOR is enabled but no stations are configured")
	rec.Warn("VOR is enabled but no stations are configured")
	rec.Fail("vor: counter file locked")
	return rec.Run()
}

func TestRecorderDedupsAndStampsRunID(t *testing.T) {
	run := sampleRun()

	assert.Equal(t, "20250601T070000Z", run.ID)
	assert.Len(t, run.Warnings, 1)
	assert.Len(t, run.Errors, 1)
	assert.Len(t, run.Providers, 4)
	assert.Contains(t, run.Summary(), "3 items")
	assert.Contains(t, run.Summary(), "2/4 providers healthy")
}

func TestPublishWritesAllArtifacts(t *testing.T) {
	w, base := newTestWriter(t, true)

	require.NoError(t, w.Publish(sampleRun()))

	md, err := os.ReadFile(filepath.Join(base, "log", "feed_health.md"))
	require.NoError(t, err)
	text := string(md)
	assert.Contains(t, text, "# Feed Health")
	assert.Contains(t, text, "| wl | ok | 12 |")
	assert.Contains(t, text, "| baustellen | disabled | 0 |")
	// Pipes in the note cell would break the table layout.
	assert.Contains(t, text, "counter file locked / retry later")
	assert.Contains(t, text, "| total | 140 |")
	assert.Contains(t, text, "## Warnings")
	assert.Contains(t, text, "## Errors")

	raw, err := os.ReadFile(filepath.Join(base, "log", "feed_health.json"))
	require.NoError(t, err)
	var decoded Run
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "20250601T070000Z", decoded.ID)
	assert.Equal(t, 3, decoded.Items)
	assert.Len(t, decoded.Providers, 4)
	assert.Equal(t, int64(140), decoded.Durations.Total)

	prom, err := os.ReadFile(filepath.Join(base, "log", "wien_oepnv.prom"))
	require.NoError(t, err)
	metrics := string(prom)
	assert.Contains(t, metrics, "wien_oepnv_feed_items 3")
	assert.Contains(t, metrics, `wien_oepnv_provider_up{provider="wl"} 1`)
	assert.Contains(t, metrics, `wien_oepnv_provider_up{provider="vor"} 0`)
	assert.Contains(t, metrics, `wien_oepnv_provider_events{provider="wl"} 12`)
	assert.Contains(t, metrics, `wien_oepnv_stage_duration_seconds{stage="total"} 0.14`)
	assert.Contains(t, metrics, "wien_oepnv_run_errors 1")
}

func TestPublishDisabledWritesNothing(t *testing.T) {
	w, base := newTestWriter(t, false)

	require.NoError(t, w.Publish(sampleRun()))

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPublishRefusesPathsOutsideGuard(t *testing.T) {
	w, base := newTestWriter(t, true)
	w.cfg.MetricsPath = "/etc/wien_oepnv.prom"

	err := w.Publish(sampleRun())
	require.Error(t, err)

	// The artifacts inside the guard are still written.
	_, statErr := os.Stat(filepath.Join(base, "log", "feed_health.md"))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(base, "log", "feed_health.json"))
	assert.NoError(t, statErr)
}
