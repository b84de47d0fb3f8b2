// Package pipeline turns the per provider cache snapshots into the
// published feed. A build runs collect, normalise, prune, dedupe, order,
// clip and emit in that order; provider failures degrade to warnings and
// only an unwritable feed document aborts the run.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/cachestore"
	"github.com/Origamihase/wien-oepnv/internal/config"
	"github.com/Origamihase/wien-oepnv/internal/domain"
	"github.com/Origamihase/wien-oepnv/internal/firstseen"
	"github.com/Origamihase/wien-oepnv/internal/provider"
	"github.com/Origamihase/wien-oepnv/internal/rss"
	"github.com/Origamihase/wien-oepnv/internal/textutil"
)

// ErrNoData reports that no enabled provider delivered a usable cache
// snapshot, so there is nothing to build a feed from.
var ErrNoData = errors.New("no provider delivered a cache snapshot")

// Source statuses as they appear in run reports.
const (
	StatusOK    = "ok"
	StatusEmpty = "empty"
	StatusError = "error"
)

// Source names one provider cache snapshot feeding the build.
type Source struct {
	Name      string
	CachePath string
}

// Sources maps providers to the cache snapshots a build reads.
func Sources(providers []provider.Provider) []Source {
	out := make([]Source, 0, len(providers))
	for _, p := range providers {
		out = append(out, Source{Name: p.Name(), CachePath: p.CachePath()})
	}
	return out
}

// SourceStatus describes the outcome of one provider's cache read.
type SourceStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Events int    `json:"events"`
	Error  string `json:"error,omitempty"`
}

// StageDurations records where a build spent its time. The dedupe window
// covers the whole in-memory shaping pass, ordering and clipping included.
type StageDurations struct {
	Collect   time.Duration `json:"collect"`
	Normalise time.Duration `json:"normalise"`
	Prune     time.Duration `json:"prune"`
	Dedupe    time.Duration `json:"dedupe"`
	RSS       time.Duration `json:"rss"`
	Total     time.Duration `json:"total"`
}

// Result summarises one feed build for reporting.
type Result struct {
	Items     int            `json:"items"`
	OutPath   string         `json:"out_path"`
	Sources   []SourceStatus `json:"sources"`
	Durations StageDurations `json:"durations"`
}

// Builder assembles the feed from cache snapshots and the first-seen state.
type Builder struct {
	cfg    *config.Config
	store  *cachestore.Store
	state  *firstseen.Store
	writer *rss.Writer
	logger *slog.Logger

	now func() time.Time
}

// New creates a Builder. The first-seen state is loaded lazily on Build,
// so a Builder is cheap to construct.
func New(cfg *config.Config, store *cachestore.Store, state *firstseen.Store, writer *rss.Writer, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		cfg:    cfg,
		store:  store,
		state:  state,
		writer: writer,
		logger: logger,
		now:    time.Now,
	}
}

// Build reads the given cache snapshots and writes the feed document.
// It returns ErrNoData when every source failed, and the write error when
// the document could not be replaced; everything else degrades to
// warnings and a possibly shorter feed.
func (b *Builder) Build(ctx context.Context, sources []Source) (*Result, error) {
	buildStart := b.now()
	buildTime := buildStart.UTC()
	res := &Result{OutPath: b.cfg.Feed.OutPath}

	b.state.Load()

	stageStart := b.now()
	events, statuses := b.collect(ctx, sources)
	res.Sources = statuses
	res.Durations.Collect = b.now().Sub(stageStart)

	if !anySourceDelivered(statuses) {
		return res, ErrNoData
	}

	stageStart = b.now()
	events = b.normalise(events, buildTime)
	res.Durations.Normalise = b.now().Sub(stageStart)

	stageStart = b.now()
	events = b.prune(events, buildTime)
	res.Durations.Prune = b.now().Sub(stageStart)

	stageStart = b.now()
	events = b.dedupe(events)
	events = b.order(events, buildTime)
	events = b.clip(events)
	res.Durations.Dedupe = b.now().Sub(stageStart)

	stageStart = b.now()
	items, emitted := b.assemble(events, buildTime)
	doc := rss.Render(b.cfg.Feed, items, buildTime)
	if err := b.writer.Write(b.cfg.Feed.OutPath, doc); err != nil {
		return res, err
	}
	res.Durations.RSS = b.now().Sub(stageStart)
	res.Items = len(items)

	// State trouble must never undo an already published feed.
	if err := b.state.Save(emitted); err != nil {
		apperr.LogError(b.logger, err, "pipeline.stateSave")
	}

	res.Durations.Total = b.now().Sub(buildStart)
	b.logger.Info("feed built",
		"items", res.Items,
		"sources", len(sources),
		"out", res.OutPath,
		"took", res.Durations.Total)
	return res, nil
}

// collect reads all snapshots on a bounded worker pool. Each source gets
// its own deadline; a failed or slow source only costs its own events.
func (b *Builder) collect(ctx context.Context, sources []Source) ([]domain.Event, []SourceStatus) {
	if len(sources) == 0 {
		return nil, nil
	}

	type outcome struct {
		events []domain.Event
		err    error
	}
	results := make([]outcome, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers(len(sources)))
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			events, err := b.readSource(gctx, src)
			results[i] = outcome{events: events, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var all []domain.Event
	statuses := make([]SourceStatus, len(sources))
	for i, src := range sources {
		st := SourceStatus{Name: src.Name, Events: len(results[i].events)}
		switch {
		case results[i].err != nil:
			st.Status = StatusError
			st.Error = results[i].err.Error()
			apperr.LogError(b.logger, results[i].err, "pipeline.collect")
		case len(results[i].events) == 0:
			st.Status = StatusEmpty
			b.logger.Info("source has no events", "provider", src.Name)
		default:
			st.Status = StatusOK
			all = append(all, results[i].events...)
		}
		statuses[i] = st
	}
	return all, statuses
}

func (b *Builder) workers(sources int) int {
	n := b.cfg.Runtime.MaxWorkers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > sources {
		n = sources
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (b *Builder) readSource(ctx context.Context, src Source) ([]domain.Event, error) {
	if timeout := b.cfg.Runtime.ProviderTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		events []domain.Event
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		events, err := b.store.ReadEvents(src.CachePath)
		ch <- outcome{events: events, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, apperr.TimeoutError("cache read missed the provider deadline", ctx.Err(),
			map[string]interface{}{"provider": src.Name})
	case out := <-ch:
		return out.events, out.err
	}
}

func anySourceDelivered(statuses []SourceStatus) bool {
	for _, st := range statuses {
		if st.Status != StatusError {
			return true
		}
	}
	return false
}

// assemble stamps the first-seen state and appends the German time phrase
// as the second description line.
func (b *Builder) assemble(events []domain.Event, buildTime time.Time) ([]rss.Item, []string) {
	items := make([]rss.Item, 0, len(events))
	emitted := make([]string, 0, len(events))
	for _, ev := range events {
		key := ev.DedupeKey()
		first := b.state.Stamp(key, buildTime)
		if phrase := textutil.TimePhrase(ev.StartsAt, ev.EndsAt, buildTime); phrase != "" {
			if ev.Description == "" {
				ev.Description = phrase
			} else {
				ev.Description += "\n" + phrase
			}
		}
		items = append(items, rss.Item{Event: ev, FirstSeen: first})
		emitted = append(emitted, key)
	}
	return items, emitted
}
