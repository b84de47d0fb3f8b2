package report

import (
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/pipeline"
)

// writeMetrics renders the run as a Prometheus textfile, the format the
// node-exporter textfile collector picks up.
func (w *Writer) writeMetrics(run *Run) error {
	if w.cfg.MetricsPath == "" {
		return nil
	}
	resolved, err := w.guard.Resolve(w.cfg.MetricsPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return apperr.WriteFailure("metrics directory not creatable", err, map[string]interface{}{"path": resolved})
	}

	reg := prometheus.NewRegistry()

	items := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wien_oepnv_feed_items",
		Help: "Items in the published feed.",
	})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wien_oepnv_last_run_timestamp_seconds",
		Help: "Unix time the last run started.",
	})
	runWarnings := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wien_oepnv_run_warnings",
		Help: "Warnings collected during the last run.",
	})
	runErrors := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wien_oepnv_run_errors",
		Help: "Errors collected during the last run.",
	})
	providerUp := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wien_oepnv_provider_up",
		Help: "1 when the provider delivered a snapshot in the last run.",
	}, []string{"provider"})
	providerEvents := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wien_oepnv_provider_events",
		Help: "Events the provider contributed in the last run.",
	}, []string{"provider"})
	stageSeconds := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wien_oepnv_stage_duration_seconds",
		Help: "Feed build stage durations.",
	}, []string{"stage"})

	reg.MustRegister(items, lastRun, runWarnings, runErrors, providerUp, providerEvents, stageSeconds)

	items.Set(float64(run.Items))
	lastRun.Set(float64(run.StartedAt.Unix()))
	runWarnings.Set(float64(len(run.Warnings)))
	runErrors.Set(float64(len(run.Errors)))
	for _, p := range run.Providers {
		up := 0.0
		if p.Status == pipeline.StatusOK || p.Status == pipeline.StatusEmpty {
			up = 1
		}
		providerUp.WithLabelValues(p.Name).Set(up)
		providerEvents.WithLabelValues(p.Name).Set(float64(p.Events))
	}
	for stage, ms := range map[string]int64{
		"collect":   run.Durations.Collect,
		"normalise": run.Durations.Normalise,
		"prune":     run.Durations.Prune,
		"dedupe":    run.Durations.Dedupe,
		"rss":       run.Durations.RSS,
		"total":     run.Durations.Total,
	} {
		stageSeconds.WithLabelValues(stage).Set(float64(ms) / 1000)
	}

	if err := prometheus.WriteToTextfile(resolved, reg); err != nil {
		return apperr.WriteFailure("metrics textfile write failed", err, map[string]interface{}{"path": resolved})
	}
	return nil
}
