package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/spf13/cobra"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/firstseen"
	"github.com/Origamihase/wien-oepnv/internal/pipeline"
	"github.com/Origamihase/wien-oepnv/internal/report"
	"github.com/Origamihase/wien-oepnv/internal/rss"
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Build and check the RSS feed",
}

var feedBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Aggregate the provider caches into the feed document",
	Long: `Read every enabled provider cache, run the aggregation pipeline and
replace the feed document and the first-seen state atomically. The
caches are the only input: a build never touches the network.`,
	Args: cobra.NoArgs,
	RunE: runFeedBuild,
}

var feedLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Re-parse the emitted feed and check its shape",
	Long: `Parse the feed document the way a reader would and check the channel
fields, the item count against MAX_ITEMS, guid uniqueness and that every
item carries a parsable pubDate.`,
	Args: cobra.NoArgs,
	RunE: runFeedLint,
}

func init() {
	rootCmd.AddCommand(feedCmd)
	feedCmd.AddCommand(feedBuildCmd)
	feedCmd.AddCommand(feedLintCmd)
}

func runFeedBuild(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.close()

	rec := report.NewRecorder("feed build", time.Now().UTC())
	for _, w := range app.cfg.Warnings() {
		rec.Warn(w)
	}
	for _, p := range app.registry.All() {
		if !p.Enabled() {
			rec.Disabled(p.Name())
		}
	}

	state := firstseen.New(app.cfg.State.Path, app.cfg.State.RetentionDays, app.cfg.State.LockTimeout, app.logger)
	builder := pipeline.New(app.cfg, app.store, state, rss.NewWriter(app.guard, app.logger), app.logger)
	reports := report.NewWriter(app.cfg.Report, app.guard, app.logger)

	sources := pipeline.Sources(app.registry.Enabled())
	ctx := cmd.Context()
	// One provider deadline each plus a small buffer bounds the whole build.
	if t := app.cfg.Runtime.ProviderTimeout; t > 0 && len(sources) > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(len(sources))*t+5*time.Second)
		defer cancel()
	}

	res, err := builder.Build(ctx, sources)
	rec.Build(res)
	if err != nil {
		rec.Fail(err.Error())
		_ = reports.Publish(rec.Run())
		return err
	}
	_ = reports.Publish(rec.Run())
	return nil
}

func runFeedLint(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.close()

	doc, err := os.ReadFile(app.cfg.Feed.OutPath)
	if err != nil {
		return apperr.ConfigError("feed document unreadable, run 'feed build' first", err,
			map[string]interface{}{"path": app.cfg.Feed.OutPath})
	}

	problems, items, err := lintFeed(string(doc), app.cfg.Feed.MaxItems)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, p := range problems {
		fmt.Fprintln(out, p)
	}
	if len(problems) > 0 {
		return fmt.Errorf("feed lint found %d problems", len(problems))
	}
	fmt.Fprintf(out, "feed ok: %d items\n", items)
	return nil
}

// lintFeed checks the emitted document the way a feed reader sees it and
// returns the findings together with the item count. A document that does
// not parse at all is an error, not a finding.
func lintFeed(doc string, maxItems int) ([]string, int, error) {
	feed, err := gofeed.NewParser().ParseString(doc)
	if err != nil {
		return nil, 0, apperr.ParseError("feed document does not parse", err, nil)
	}

	var problems []string
	if feed.Title == "" {
		problems = append(problems, "channel title is empty")
	}
	if feed.Link == "" {
		problems = append(problems, "channel link is empty")
	}
	if feed.Description == "" {
		problems = append(problems, "channel description is empty")
	}
	if maxItems > 0 && len(feed.Items) > maxItems {
		problems = append(problems, fmt.Sprintf("feed carries %d items, limit is %d", len(feed.Items), maxItems))
	}

	seen := make(map[string]int, len(feed.Items))
	for i, item := range feed.Items {
		n := i + 1
		if item.Title == "" {
			problems = append(problems, fmt.Sprintf("item %d has no title", n))
		}
		if item.GUID == "" {
			problems = append(problems, fmt.Sprintf("item %d has no guid", n))
		} else if first, dup := seen[item.GUID]; dup {
			problems = append(problems, fmt.Sprintf("item %d reuses the guid of item %d", n, first))
		} else {
			seen[item.GUID] = n
		}
		if item.PublishedParsed == nil {
			problems = append(problems, fmt.Sprintf("item %d has no parsable pubDate", n))
		}
	}
	return problems, len(feed.Items), nil
}
