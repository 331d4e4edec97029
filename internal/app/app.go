// Package app builds the long-lived crawler services from configuration and
// owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlcrawl/internal/api"
	"github.com/JakeFAU/urlcrawl/internal/clock"
	"github.com/JakeFAU/urlcrawl/internal/config"
	"github.com/JakeFAU/urlcrawl/internal/crawler"
	"github.com/JakeFAU/urlcrawl/internal/fetcher"
	collyfetcher "github.com/JakeFAU/urlcrawl/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/urlcrawl/internal/fetcher/headless"
	renderfetcher "github.com/JakeFAU/urlcrawl/internal/fetcher/render"
	textfetcher "github.com/JakeFAU/urlcrawl/internal/fetcher/text"
	"github.com/JakeFAU/urlcrawl/internal/id/uuid"
	"github.com/JakeFAU/urlcrawl/internal/ledger"
	"github.com/JakeFAU/urlcrawl/internal/logging"
	"github.com/JakeFAU/urlcrawl/internal/novelty"
	"github.com/JakeFAU/urlcrawl/internal/orchestrator"
	"github.com/JakeFAU/urlcrawl/internal/policy/jitter"
	"github.com/JakeFAU/urlcrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/urlcrawl/internal/progress"
	"github.com/JakeFAU/urlcrawl/internal/progress/sinks"
	"github.com/JakeFAU/urlcrawl/internal/session"
	"github.com/JakeFAU/urlcrawl/internal/storage"
	gcsstorage "github.com/JakeFAU/urlcrawl/internal/storage/gcs"
	localstorage "github.com/JakeFAU/urlcrawl/internal/storage/local"
	memorystorage "github.com/JakeFAU/urlcrawl/internal/storage/memory"
	"github.com/JakeFAU/urlcrawl/internal/store"
	pgstore "github.com/JakeFAU/urlcrawl/internal/store/postgres"
	"github.com/JakeFAU/urlcrawl/internal/urlgen"
)

const shutdownTimeout = 10 * time.Second

// Options override pieces of the environment Build would otherwise create.
type Options struct {
	// Logger replaces the logger built from cfg.Logging.
	Logger *zap.Logger
	// Registerer receives the progress collectors. Defaults to the global
	// Prometheus registerer.
	Registerer prometheus.Registerer
}

// App owns every long-lived service and the orchestrator built on them.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	ledger       *ledger.Ledger
	sessions     *session.Manager
	orchestrator *orchestrator.Orchestrator
	hub          *progress.Hub
	apiServer    *api.Server

	gcsClient    *gcs.Client
	pubsubClient *pubsub.Client
	outcomes     *pgstore.OutcomeStore
	headless     *headlessfetcher.Fetcher
	ownsLogger   bool
}

// Build wires the application from cfg. On error anything already opened is
// closed before returning.
func Build(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	ownsLogger := false
	if logger == nil {
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
		ownsLogger = true
	}
	a := &App{cfg: cfg, logger: logger, ownsLogger: ownsLogger}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if closeErr := a.closeInfrastructure(closeCtx); closeErr != nil {
				logger.Warn("cleanup after failed build", zap.Error(closeErr))
			}
		}
	}()

	a.ledger, err = ledger.Open(cfg.Ledger.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("ledger init failed: %w", err)
	}
	a.sessions = session.NewManager(cfg.Sessions.OutputDir, clock.System{}, logger)

	blobStore, err := a.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	writer := storage.NewPageWriter(blobStore, storage.PageWriterConfig{
		FullDocument: cfg.Storage.FullDocument,
	}, logger)

	fetchers, err := a.setupFetchers()
	if err != nil {
		return nil, err
	}

	var checker crawler.NoveltyChecker
	if cfg.Novelty.KnownItemsFile != "" {
		index, openErr := novelty.Open(novelty.Config{
			KnownItemsFile:  cfg.Novelty.KnownItemsFile,
			Column:          cfg.Novelty.Column,
			DefaultSelector: cfg.Novelty.DefaultSelector,
			KeepQuery:       cfg.Novelty.KeepQuery,
		}, logger)
		if openErr != nil {
			return nil, fmt.Errorf("novelty index init failed: %w", openErr)
		}
		checker = index
		logger.Info("novelty index loaded", zap.String("file", cfg.Novelty.KnownItemsFile))
	} else {
		logger.Info("no known-items file configured, auto-stop disabled")
	}

	if err = a.setupOutcomeStore(ctx); err != nil {
		return nil, err
	}
	if err = a.setupProgress(ctx, opts.Registerer); err != nil {
		return nil, err
	}

	loader := orchestrator.FileSource{
		Loader: urlgen.NewLoader(urlgen.Options{
			Strict:       cfg.Descriptors.Strict,
			MaxExpansion: cfg.Descriptors.MaxExpansion,
		}, logger),
		Path: cfg.Descriptors.File,
	}
	a.orchestrator, err = orchestrator.New(orchestrator.Deps{
		Source:   loader,
		Ledger:   a.ledger,
		Sessions: a.sessions,
		Fetchers: fetchers,
		Writer:   writer,
		Novelty:  checker,
		Limiter: ratelimit.New(ratelimit.Config{
			RPS:   cfg.Crawler.RateLimitRPS,
			Burst: cfg.Crawler.RateLimitBurst,
		}),
		Clock:  clock.System{},
		RunIDs: uuid.New(),
		Events: a.hub,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	var runs store.OutcomeRepository
	if a.outcomes != nil {
		runs = a.outcomes
	}
	a.apiServer = api.NewServer(api.Options{
		Controller:  a.orchestrator,
		Runs:        runs,
		Stats:       a.hub,
		RunDefaults: a.RunOptions(),
		BaseContext: ctx,
		Logger:      logger,
	})
	return a, nil
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Provider {
	case config.StorageGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.GCSPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return blobStore, nil
	case config.StorageMemory:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	default:
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Sessions.OutputDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Sessions.OutputDir))
		return blobStore, nil
	}
}

func (a *App) setupFetchers() (*fetcher.Registry, error) {
	c := a.cfg
	base := collyfetcher.New(collyfetcher.Config{
		UserAgent:     c.Crawler.UserAgent,
		RespectRobots: c.Crawler.RespectRobots,
		Timeout:       c.Crawler.RequestTimeout,
		MaxBodyBytes:  c.Storage.MaxPageBytes,
	})
	registry := fetcher.NewRegistry(base).
		Register(crawler.ScraperText, textfetcher.New(base)).
		Register(crawler.ScraperRender, renderfetcher.New(base, renderfetcher.Config{
			Binary:  c.Render.W3MPath,
			Timeout: c.Render.Timeout(),
		}, a.logger))

	if !c.Headless.Enabled {
		registry.Register(crawler.ScraperHeadless, headlessfetcher.Unavailable{})
		a.logger.Info("headless browser disabled")
		return registry, nil
	}
	browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       c.Headless.MaxParallel,
		UserAgent:         c.Crawler.UserAgent,
		NavigationTimeout: c.Headless.NavigationTimeout(),
		ExecPath:          c.Headless.ExecPath,
		NoSandbox:         c.Headless.NoSandbox,
	})
	if err != nil {
		return nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	a.headless = browser
	registry.Register(crawler.ScraperHeadless, browser)
	a.logger.Info("using headless fetcher", zap.Int("max_parallel", c.Headless.MaxParallel))
	return registry, nil
}

func (a *App) setupOutcomeStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("No DSN specified for database, run history disabled")
		return nil
	}
	outcomes, err := pgstore.New(ctx, pgstore.Config{
		DSN:         a.cfg.DB.DSN,
		TablePrefix: a.cfg.DB.Table,
		MaxConns:    a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("outcome store init failed: %w", err)
	}
	a.outcomes = outcomes
	if err := outcomes.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("outcome schema init failed: %w", err)
	}
	a.logger.Info("outcome store initialized", zap.String("table_prefix", a.cfg.DB.Table))
	return nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		sinks.NewLogSink(a.logger),
		promSink,
	}
	if a.outcomes != nil {
		sinkList = append(sinkList, sinks.NewStoreSink(a.outcomes, a.logger))
		a.logger.Debug("Added progress store sink")
	}
	if a.cfg.PubSub.TopicName != "" {
		a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		topic := a.pubsubClient.Topic(a.cfg.PubSub.TopicName)
		sinkList = append(sinkList, sinks.NewPubSubSink(topic, a.logger))
		a.logger.Info("Pub/Sub notifications enabled",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger}, sinkList...)
	a.logger.Info("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Orchestrator returns the crawl orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// RunOptions derives default crawl options from configuration.
func (a *App) RunOptions() orchestrator.RunOptions {
	c := a.cfg.Crawler
	return orchestrator.RunOptions{
		Limit:       c.LimitPerGroup,
		Concurrency: c.Concurrency,
		StopOnNoNew: c.StopOnNoNew,
		Pacing: jitter.Config{
			Base:     c.Delay,
			Disabled: !c.Jitter,
			Min:      c.JitterMin,
			Max:      c.JitterMax,
		},
		CleanupKeep: a.cfg.Sessions.Keep,
	}
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve runs the HTTP API until ctx ends or SIGINT/SIGTERM arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Close flushes events and releases every client. It is safe to call once.
func (a *App) Close(ctx context.Context) error {
	err := a.closeInfrastructure(ctx)
	if a.ownsLogger {
		// Sync on stderr-backed loggers reports EINVAL; ignore it.
		_ = a.logger.Sync()
	}
	return err
}

func (a *App) closeInfrastructure(ctx context.Context) error {
	var result *multierror.Error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("progress hub close: %w", err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("pubsub client close: %w", err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("gcs client close: %w", err))
		}
	}
	if a.outcomes != nil {
		a.outcomes.Close()
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("ledger close: %w", err))
		}
	}
	return result.ErrorOrNil()
}
