package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/pipeline"
	"github.com/Origamihase/wien-oepnv/internal/provider"
	"github.com/Origamihase/wien-oepnv/internal/report"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the per-provider cache snapshots",
}

var cacheUpdateCmd = &cobra.Command{
	Use:   "update [providers...]",
	Short: "Fetch upstream sources into the provider caches",
	Long: `Fetch the named providers, or every enabled one with --all, and replace
their cache snapshots. A provider that fails keeps its previous snapshot.
A provider that refuses because its daily request budget would be
exceeded also keeps its snapshot and does not mark the run as failed;
the next scheduled update tries again.

Examples:
  wien-oepnv cache update --all
  wien-oepnv cache update wl oebb
  wien-oepnv cache update --all --stop-on-error`,
	Args: cobra.ArbitraryArgs,
	RunE: runCacheUpdate,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheUpdateCmd)

	cacheUpdateCmd.Flags().Bool("all", false, "update every enabled provider")
	cacheUpdateCmd.Flags().Bool("stop-on-error", false, "abort on the first provider failure")
}

func runCacheUpdate(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.close()

	all, _ := cmd.Flags().GetBool("all")
	stopOnError, _ := cmd.Flags().GetBool("stop-on-error")

	targets, err := selectProviders(app.registry, args, all)
	if err != nil {
		return err
	}

	rec := report.NewRecorder("cache update", time.Now().UTC())
	var failures []error
	for _, p := range targets {
		st, err := updateProvider(cmd.Context(), app, p)
		rec.Provider(st)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", p.Name(), err))
			if stopOnError {
				break
			}
		}
	}

	app.logger.Info("cache update finished", "summary", rec.Run().Summary())
	return errors.Join(failures...)
}

// selectProviders resolves the command line to a provider list. Naming a
// disabled provider is an error because it cannot run without its
// configuration, typically a missing credential.
func selectProviders(reg *provider.Registry, names []string, all bool) ([]provider.Provider, error) {
	if all {
		if len(names) > 0 {
			return nil, apperr.ConfigError("--all does not combine with provider names", nil, nil)
		}
		enabled := reg.Enabled()
		if len(enabled) == 0 {
			return nil, apperr.ConfigError("no provider is enabled", nil, nil)
		}
		return enabled, nil
	}
	if len(names) == 0 {
		return nil, apperr.ConfigError("name at least one provider or pass --all", nil,
			map[string]interface{}{"known": reg.Names()})
	}
	out := make([]provider.Provider, 0, len(names))
	for _, name := range names {
		p, ok := reg.Lookup(name)
		if !ok {
			return nil, apperr.ConfigError(fmt.Sprintf("unknown provider %q", name), nil,
				map[string]interface{}{"known": reg.Names()})
		}
		if !p.Enabled() {
			return nil, apperr.ConfigError(fmt.Sprintf("provider %q is disabled", name), nil, nil)
		}
		out = append(out, p)
	}
	return out, nil
}

// updateProvider refreshes one provider. The cache file is replaced only
// after a successful fetch, so the previous snapshot survives every
// failure mode.
func updateProvider(ctx context.Context, app *app, p provider.Provider) (pipeline.SourceStatus, error) {
	started := time.Now()

	events, err := p.Refresh(ctx)
	if err != nil {
		if apperr.HasCode(err, apperr.ErrCodeRateLimit) {
			app.logger.Warn("provider refresh skipped, request budget exhausted", "provider", p.Name())
			return pipeline.SourceStatus{Name: p.Name(), Status: report.StatusSkipped, Error: err.Error()}, nil
		}
		apperr.LogError(app.logger, err, "cache.update")
		return pipeline.SourceStatus{Name: p.Name(), Status: pipeline.StatusError, Error: err.Error()}, err
	}

	if err := app.store.WriteEvents(p.CachePath(), events); err != nil {
		apperr.LogError(app.logger, err, "cache.update")
		return pipeline.SourceStatus{Name: p.Name(), Status: pipeline.StatusError, Error: err.Error()}, err
	}

	app.logger.Info("provider cache updated",
		"provider", p.Name(),
		"events", len(events),
		"elapsed_ms", time.Since(started).Milliseconds())
	st := pipeline.SourceStatus{Name: p.Name(), Status: pipeline.StatusOK, Events: len(events)}
	if len(events) == 0 {
		st.Status = pipeline.StatusEmpty
	}
	return st, nil
}
