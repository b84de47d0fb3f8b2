// Package report records the outcome of one run and publishes it as a
// Markdown health report, a JSON document and a Prometheus textfile, so a
// scheduler can surface failing providers without parsing logs.
package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/config"
	"github.com/Origamihase/wien-oepnv/internal/fsatomic"
	"github.com/Origamihase/wien-oepnv/internal/pathguard"
	"github.com/Origamihase/wien-oepnv/internal/pipeline"
)

// Run statuses beyond the ones the pipeline produces. Disabled marks
// providers that were switched off, skipped marks refusals such as an
// exhausted request budget where the previous snapshot stays in place.
const (
	StatusDisabled = "disabled"
	StatusSkipped  = "skipped"
)

// Run is the publishable outcome of one command invocation.
type Run struct {
	ID        string                  `json:"run_id"`
	Command   string                  `json:"command"`
	StartedAt time.Time               `json:"started_at"`
	Items     int                     `json:"items"`
	Providers []pipeline.SourceStatus `json:"providers"`
	Durations durationsMillis         `json:"durations_ms"`
	Warnings  []string                `json:"warnings,omitempty"`
	Errors    []string                `json:"errors,omitempty"`
}

type durationsMillis struct {
	Collect   int64 `json:"collect"`
	Normalise int64 `json:"normalise"`
	Prune     int64 `json:"prune"`
	Dedupe    int64 `json:"dedupe"`
	RSS       int64 `json:"rss"`
	Total     int64 `json:"total"`
}

// Summary renders the one line a scheduler log shows for the run.
func (r *Run) Summary() string {
	healthy := 0
	for _, p := range r.Providers {
		if p.Status == pipeline.StatusOK || p.Status == pipeline.StatusEmpty {
			healthy++
		}
	}
	return fmt.Sprintf("run %s (%s): %d items, %d/%d providers healthy, %d warnings, %d errors",
		r.ID, r.Command, r.Items, healthy, len(r.Providers), len(r.Warnings), len(r.Errors))
}

func (r *Run) markdown() string {
	var b strings.Builder
	b.WriteString("# Feed Health\n\n")
	fmt.Fprintf(&b, "- Run: `%s` (%s)\n", r.ID, r.Command)
	fmt.Fprintf(&b, "- Started: %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Items: %d\n\n", r.Items)

	b.WriteString("| Provider | Status | Events | Notes |\n")
	b.WriteString("|----------|--------|--------|-------|\n")
	for _, p := range r.Providers {
		fmt.Fprintf(&b, "| %s | %s | %d | %s |\n", p.Name, p.Status, p.Events, mdCell(p.Error))
	}

	if r.Durations.Total > 0 {
		b.WriteString("\n## Timings\n\n")
		b.WriteString("| Stage | ms |\n|-------|----|\n")
		fmt.Fprintf(&b, "| collect | %d |\n", r.Durations.Collect)
		fmt.Fprintf(&b, "| normalise | %d |\n", r.Durations.Normalise)
		fmt.Fprintf(&b, "| prune | %d |\n", r.Durations.Prune)
		fmt.Fprintf(&b, "| dedupe | %d |\n", r.Durations.Dedupe)
		fmt.Fprintf(&b, "| rss | %d |\n", r.Durations.RSS)
		fmt.Fprintf(&b, "| total | %d |\n", r.Durations.Total)
	}

	if len(r.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	if len(r.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}

// mdCell keeps free text from breaking the table layout.
func mdCell(s string) string {
	if s == "" {
		return ""
	}
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", "/"), "\n", " ")
}

// Recorder accumulates one run's outcome. Warnings and errors are
// de-duplicated in arrival order.
type Recorder struct {
	run  Run
	seen map[string]struct{}
}

// NewRecorder starts a run record. The run id doubles as a filename safe
// timestamp.
func NewRecorder(command string, now time.Time) *Recorder {
	now = now.UTC()
	return &Recorder{
		run: Run{
			ID:        now.Format("20060102T150405Z"),
			Command:   command,
			StartedAt: now,
		},
		seen: make(map[string]struct{}),
	}
}

// Provider records the outcome of one provider refresh or cache read.
func (r *Recorder) Provider(st pipeline.SourceStatus) {
	r.run.Providers = append(r.run.Providers, st)
}

// Disabled records a provider that was switched off.
func (r *Recorder) Disabled(name string) {
	r.run.Providers = append(r.run.Providers, pipeline.SourceStatus{Name: name, Status: StatusDisabled})
}

// Build folds a pipeline result into the record.
func (r *Recorder) Build(res *pipeline.Result) {
	if res == nil {
		return
	}
	r.run.Items = res.Items
	r.run.Providers = append(r.run.Providers, res.Sources...)
	r.run.Durations = durationsMillis{
		Collect:   res.Durations.Collect.Milliseconds(),
		Normalise: res.Durations.Normalise.Milliseconds(),
		Prune:     res.Durations.Prune.Milliseconds(),
		Dedupe:    res.Durations.Dedupe.Milliseconds(),
		RSS:       res.Durations.RSS.Milliseconds(),
		Total:     res.Durations.Total.Milliseconds(),
	}
}

// Warn adds a non-fatal advisory once.
func (r *Recorder) Warn(msg string) {
	if msg == "" {
		return
	}
	if _, dup := r.seen["warn:"+msg]; dup {
		return
	}
	r.seen["warn:"+msg] = struct{}{}
	r.run.Warnings = append(r.run.Warnings, msg)
}

// Fail adds an error once.
func (r *Recorder) Fail(msg string) {
	if msg == "" {
		return
	}
	if _, dup := r.seen["err:"+msg]; dup {
		return
	}
	r.seen["err:"+msg] = struct{}{}
	r.run.Errors = append(r.run.Errors, msg)
}

// Run returns the finished record.
func (r *Recorder) Run() *Run {
	return &r.run
}

// Writer publishes run records below the guarded directories.
type Writer struct {
	cfg    config.ReportConfig
	guard  *pathguard.Guard
	logger *slog.Logger
}

// NewWriter creates a Writer. Paths are checked against the guard on
// every publish.
func NewWriter(cfg config.ReportConfig, guard *pathguard.Guard, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{cfg: cfg, guard: guard, logger: logger}
}

// Publish writes the Markdown and JSON health reports and the metrics
// textfile. Reporting is advisory: every artifact is attempted and the
// first failure is returned for the caller to log.
func (w *Writer) Publish(run *Run) error {
	if !w.cfg.Enabled {
		w.logger.Debug("run reporting is disabled")
		return nil
	}

	var firstErr error
	keep := func(err error) {
		if err == nil {
			return
		}
		apperr.LogError(w.logger, err, "report.publish")
		if firstErr == nil {
			firstErr = err
		}
	}

	keep(w.writeFile(w.cfg.HealthMDPath, []byte(run.markdown())))

	doc, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		keep(apperr.WriteFailure("health report does not marshal", err, nil))
	} else {
		keep(w.writeFile(w.cfg.HealthJSON, append(doc, '\n')))
	}

	keep(w.writeMetrics(run))

	if firstErr == nil {
		w.logger.Info("run report published", "run", run.ID, "summary", run.Summary())
	}
	return firstErr
}

func (w *Writer) writeFile(path string, data []byte) error {
	if path == "" {
		return nil
	}
	resolved, err := w.guard.Resolve(path)
	if err != nil {
		return err
	}
	if err := fsatomic.WriteFile(resolved, data, 0o644); err != nil {
		return apperr.WriteFailure("health report write failed", err, map[string]interface{}{"path": resolved})
	}
	return nil
}
