// Package cmd defines the urlcrawl command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlcrawl/internal/app"
	"github.com/JakeFAU/urlcrawl/internal/config"
	"github.com/JakeFAU/urlcrawl/internal/crawler"
	"github.com/JakeFAU/urlcrawl/internal/ledger"
	"github.com/JakeFAU/urlcrawl/internal/orchestrator"
	"github.com/JakeFAU/urlcrawl/internal/session"
)

const closeTimeout = 10 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Crawler is the set of orchestrator operations the commands drive.
type Crawler interface {
	Run(ctx context.Context, opts orchestrator.RunOptions) (orchestrator.Report, error)
	ProcessURL(ctx context.Context, rawURL string) (crawler.FetchOutcome, error)
	Summary() (ledger.Summary, error)
	Todo(site string) ([]crawler.Target, error)
	Reset() error
	ListSessions() ([]session.Session, error)
	CleanupSessions(keep int) ([]session.Session, error)
}

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Close(ctx context.Context) error
	Logger() *zap.Logger
	RunOptions() orchestrator.RunOptions
	Crawler() Crawler
	Serve(ctx context.Context) error
}

type builtApp struct {
	*app.App
}

func (b builtApp) Crawler() Crawler {
	return b.Orchestrator()
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a, err := app.Build(ctx, cfg, app.Options{})
	if err != nil {
		return nil, err
	}
	return builtApp{a}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "urlcrawl",
		Short: "Resumable crawler for descriptor-generated URL sets",
		Long: `urlcrawl expands URL descriptors into a candidate list, fetches what the
status ledger has not completed yet, and stops walking a listing once its
pages stop yielding new items.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			appInstance, ok := cmd.Context().Value(appKey).(App)
			if !ok || appInstance == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if err := appInstance.Close(ctx); err != nil {
				appInstance.Logger().Warn("shutdown incomplete", zap.Error(err))
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(
		newCrawlCmd(),
		newStatusCmd(),
		newResetCmd(),
		newSessionsCmd(),
		newServeCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "urlcrawl: %v\n", err)
		os.Exit(1)
	}
}
