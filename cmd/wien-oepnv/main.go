// Package main is the entry point for the wien-oepnv batch commands.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/pipeline"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "wien-oepnv",
	Short: "Disruption feed for Vienna public transport",
	Long: `wien-oepnv aggregates disruption reports from the transit operators of
Vienna and its surroundings into one RSS feed.

The tool runs as two decoupled batch jobs: 'cache update' fetches the
upstream sources into per-provider snapshots, 'feed build' folds the
snapshots into the feed document without touching the network. All
configuration comes from environment variables.

Example usage:
  wien-oepnv cache update --all      # Refresh every enabled provider cache
  wien-oepnv cache update wl oebb    # Refresh selected providers
  wien-oepnv feed build              # Build the feed from the caches
  wien-oepnv feed lint               # Re-parse and check the emitted feed
  wien-oepnv stations validate       # Check the station catalogue`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return exitCode(err)
	}
	return 0
}

// exitCode maps an error onto the documented process exit codes: 2 when no
// enabled provider produced data, 3 for persistent I/O failures on an
// output file, 1 for invalid configuration and everything else.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, pipeline.ErrNoData):
		return 2
	case apperr.HasCode(err, apperr.ErrCodeWriteFailure):
		return 3
	default:
		return 1
	}
}
