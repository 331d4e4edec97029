package cmd

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
	"github.com/JakeFAU/urlcrawl/internal/orchestrator"
)

type crawlFlags struct {
	site        string
	limit       int
	concurrency int
	delay       time.Duration
	jitter      []time.Duration
	noJitter    bool
	noStop      bool
	cleanupKeep int
	url         string
}

func newCrawlCmd() *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Fetch every URL the ledger has not completed",
		Long: `Expands the descriptor file, skips completed URLs, and fetches the rest
with a bounded worker pool. Failed URLs are retried. With --url a single URL
is fetched in its own session instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.site, "site", "", "only crawl the descriptor with this name")
	flags.IntVar(&f.limit, "limit", 0, "max URLs per descriptor (0 uses the configured limit)")
	flags.IntVar(&f.concurrency, "concurrency", 0, "worker count (0 uses the configured value)")
	flags.DurationVar(&f.delay, "delay", 0, "base delay between requests per worker")
	flags.DurationSliceVar(&f.jitter, "jitter", nil, "uniform delay range as min,max (e.g. 1s,3s)")
	flags.BoolVar(&f.noJitter, "no-jitter", false, "use the base delay exactly")
	flags.BoolVar(&f.noStop, "no-stop", false, "keep walking listings that stop yielding new items")
	flags.IntVar(&f.cleanupKeep, "cleanup-keep", -1, "remove all but the newest N sessions first")
	flags.StringVar(&f.url, "url", "", "fetch one URL and report its novelty")
	return cmd
}

func runCrawl(cmd *cobra.Command, f crawlFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if f.url != "" {
		out, err := appInstance.Crawler().ProcessURL(ctx, f.url)
		if err != nil {
			return fmt.Errorf("process url: %w", err)
		}
		printOutcome(cmd.OutOrStdout(), out)
		return nil
	}

	opts, err := applyCrawlFlags(cmd, appInstance.RunOptions(), f)
	if err != nil {
		return err
	}
	report, err := appInstance.Crawler().Run(ctx, opts)
	printReport(cmd.OutOrStdout(), report)
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}
	appInstance.Logger().Info("crawl command finished", zap.String("state", string(report.State)))
	return nil
}

func applyCrawlFlags(cmd *cobra.Command, opts orchestrator.RunOptions, f crawlFlags) (orchestrator.RunOptions, error) {
	flags := cmd.Flags()
	opts.Site = f.site
	if flags.Changed("limit") {
		opts.Limit = f.limit
	}
	if flags.Changed("concurrency") {
		opts.Concurrency = f.concurrency
	}
	if flags.Changed("delay") {
		opts.Pacing.Base = f.delay
	}
	if flags.Changed("jitter") {
		if len(f.jitter) != 2 {
			return opts, &crawler.ConfigError{Field: "jitter", Reason: "expects min,max"}
		}
		opts.Pacing.Min, opts.Pacing.Max = f.jitter[0], f.jitter[1]
		opts.Pacing.Disabled = false
	}
	if f.noJitter {
		opts.Pacing.Disabled = true
		opts.Pacing.Min, opts.Pacing.Max = 0, 0
	}
	if f.noStop {
		opts.StopOnNoNew = false
	}
	if flags.Changed("cleanup-keep") {
		opts.CleanupKeep = f.cleanupKeep
	}
	return opts, opts.Validate()
}

func printReport(w io.Writer, r orchestrator.Report) {
	if r.RunID == "" {
		return
	}
	fmt.Fprintf(w, "run %s (%s) %s in %s\n", r.RunID, r.Session, r.State, r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "dispatched %d, succeeded %d, failed %d\n", r.Dispatched, r.Succeeded, r.Failed)
	for _, g := range r.Groups {
		fmt.Fprintf(w, "  %-24s %-9s dispatched %d, succeeded %d, failed %d, skipped %d\n",
			g.Name, g.State, g.Dispatched, g.Succeeded, g.Failed, g.Skipped)
	}
	for _, s := range r.Removed {
		fmt.Fprintf(w, "removed session %s\n", s.ID)
	}
	printSummary(w, r.Summary)
}

func printOutcome(w io.Writer, out crawler.FetchOutcome) {
	if out.Succeeded {
		fmt.Fprintf(w, "%s saved to %s\n", out.URL, out.SavedLocation)
	} else {
		fmt.Fprintf(w, "%s failed (status %d): %v\n", out.URL, out.StatusCode, out.Err)
	}
	if out.Novelty != nil {
		fmt.Fprintf(w, "novel items: %d of %d\n", out.Novelty.Novel, out.Novelty.Total)
	}
}
