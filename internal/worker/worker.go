// Package worker runs the per-URL fetch pipeline: rate limit, fetch with the
// scraper kind's fetcher, classify, save, novelty check, pause.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
	"github.com/JakeFAU/urlcrawl/internal/fetcher"
	"github.com/JakeFAU/urlcrawl/internal/metrics"
	"github.com/JakeFAU/urlcrawl/internal/storage"
)

// Worker consumes queue items and reports one FetchOutcome per item.
type Worker struct {
	id       int
	queue    crawler.Queue
	results  chan<- crawler.FetchOutcome
	fetchers crawler.FetcherResolver
	writer   crawler.PageWriter
	novelty  crawler.NoveltyChecker
	limiter  crawler.RateLimiter
	pacer    crawler.Pacer
	paths    crawler.PathResolver
	clock    crawler.Clock
	logger   *zap.Logger
}

// New constructs a Worker. novelty, limiter and pacer may be nil.
func New(
	id int,
	queue crawler.Queue,
	results chan<- crawler.FetchOutcome,
	fetchers crawler.FetcherResolver,
	writer crawler.PageWriter,
	novelty crawler.NoveltyChecker,
	limiter crawler.RateLimiter,
	pacer crawler.Pacer,
	paths crawler.PathResolver,
	clock crawler.Clock,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:       id,
		queue:    queue,
		results:  results,
		fetchers: fetchers,
		writer:   writer,
		novelty:  novelty,
		limiter:  limiter,
		pacer:    pacer,
		paths:    paths,
		clock:    clock,
		logger:   logger.Named("worker").With(zap.Int("worker_id", id)),
	}
}

// Run consumes items until the queue is closed or ctx ends.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, crawler.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued url", zap.String("url", item.Target.URL), zap.Int("seq", item.Seq))

		metrics.IncActiveWorkers()
		outcome := w.Process(ctx, item)
		metrics.DecActiveWorkers()

		// The coordinator never has more items in flight than the results
		// buffer holds, so this send does not block.
		w.results <- outcome

		if w.pacer != nil {
			w.pacer.Pause(ctx)
		}
	}
}

// Process runs the pipeline for a single item. A panic inside the pipeline
// becomes a failed outcome.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) (outcome crawler.FetchOutcome) {
	target := item.Target
	start := time.Now()
	outcome = crawler.FetchOutcome{URL: target.URL, Group: target.Group, Seq: item.Seq}

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("fetch pipeline panicked", zap.String("url", target.URL), zap.Any("panic", r))
			outcome.Succeeded = false
			outcome.Retryable = false
			outcome.Err = &crawler.FetchError{URL: target.URL, Err: fmt.Errorf("panic: %v", r)}
		}
		outcome.Elapsed = time.Since(start)
	}()

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, target.URL); err != nil {
			outcome.Err = err
			return outcome
		}
	}

	f := w.fetchers.Resolve(target.Scraper)
	if f == nil {
		outcome.Err = &crawler.FetchError{URL: target.URL, Err: fmt.Errorf("no fetcher for scraper %q", target.Scraper)}
		return outcome
	}

	resp, fetchErr := f.Fetch(ctx, crawler.FetchRequest{
		URL:     target.URL,
		Group:   target.Group,
		Headers: expandHeaders(target.Headers),
	})
	outcome.StatusCode = resp.StatusCode
	if err := fetcher.Classify(target.URL, resp, fetchErr); err != nil {
		var fe *crawler.FetchError
		if errors.As(err, &fe) {
			outcome.Retryable = fe.Retryable
		}
		outcome.Err = err
		metrics.ObserveFetch(target.URL, outcomeLabel(outcome), len(resp.Body))
		w.logger.Warn("fetch failed",
			zap.String("url", target.URL),
			zap.Int("status", resp.StatusCode),
			zap.Bool("retryable", outcome.Retryable),
			zap.Error(err),
		)
		return outcome
	}

	location, err := w.writer.WritePage(ctx, crawler.Page{
		URL:       target.URL,
		Group:     target.Group,
		Session:   item.Session,
		Prefix:    w.paths.Prefix(item.Session, storage.Domain(target.URL), target.Group),
		Response:  resp,
		FetchedAt: w.now(),
	})
	if err != nil {
		outcome.Err = fmt.Errorf("save %s: %w", target.URL, err)
		metrics.ObserveFetch(target.URL, "save_failed", len(resp.Body))
		w.logger.Error("save page failed", zap.String("url", target.URL), zap.Error(err))
		return outcome
	}
	outcome.Succeeded = true
	outcome.SavedLocation = location
	metrics.ObserveFetch(target.URL, outcomeLabel(outcome), len(resp.Body))

	if w.novelty != nil {
		res, err := w.novelty.Check(ctx, crawler.NoveltyInput{
			URL:          target.URL,
			Group:        target.Group,
			Body:         resp.Body,
			ItemSelector: target.ItemSelector,
		})
		if err != nil {
			w.logger.Warn("novelty check failed", zap.String("url", target.URL), zap.Error(err))
		} else {
			outcome.Novelty = &res
		}
	}

	w.logger.Debug("page saved",
		zap.String("url", target.URL),
		zap.String("location", location),
		zap.Bool("headless", resp.UsedHeadless),
	)
	return outcome
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}

// expandHeaders resolves $VAR references in header values against the
// process environment so descriptors can carry credentials by reference.
func expandHeaders(raw map[string]string) http.Header {
	if len(raw) == 0 {
		return nil
	}
	headers := make(http.Header, len(raw))
	for key, value := range raw {
		headers.Set(key, os.ExpandEnv(value))
	}
	return headers
}

func outcomeLabel(o crawler.FetchOutcome) string {
	switch {
	case o.Succeeded:
		return "success"
	case o.Retryable:
		return "retry"
	default:
		return "failed"
	}
}
