package crawler

import (
	"context"
	"errors"
	"time"
)

// ErrQueueClosed is returned by Queue.Dequeue once the queue is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// PageWriter persists a fetched page and returns where it was stored.
type PageWriter interface {
	WritePage(ctx context.Context, page Page) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// FetcherResolver picks the Fetcher for a scraper kind.
type FetcherResolver interface {
	Resolve(kind ScraperKind) Fetcher
}

// NoveltyChecker decides how many items on a page have not been seen before.
type NoveltyChecker interface {
	Check(ctx context.Context, input NoveltyInput) (NoveltyResult, error)
}

// Queue provides enqueue/dequeue semantics for fetch work.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	Close()
}

// RateLimiter blocks until a request to the URL's host is permitted.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Pacer sleeps between requests.
type Pacer interface {
	Pause(ctx context.Context) time.Duration
}

// PathResolver maps a session, domain, and descriptor onto a storage prefix.
type PathResolver interface {
	Prefix(session, domain, descriptor string) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
