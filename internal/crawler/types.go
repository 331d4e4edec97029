package crawler

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ScraperKind selects the fetch strategy used for a Target.
type ScraperKind string

// Supported scraper kinds. Unknown values resolve to ScraperDefault.
const (
	ScraperDefault  ScraperKind = "default"
	ScraperText     ScraperKind = "text"
	ScraperRender   ScraperKind = "render"
	ScraperHeadless ScraperKind = "headless"
)

var scraperAliases = map[string]ScraperKind{
	"":         ScraperDefault,
	"default":  ScraperDefault,
	"http":     ScraperDefault,
	"text":     ScraperText,
	"bs":       ScraperText,
	"render":   ScraperRender,
	"w3m":      ScraperRender,
	"headless": ScraperHeadless,
	"js":       ScraperHeadless,
}

// ParseScraperKind maps a configured scraper name onto a ScraperKind.
func ParseScraperKind(raw string) (ScraperKind, error) {
	kind, ok := scraperAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return ScraperDefault, fmt.Errorf("unknown scraper %q", raw)
	}
	return kind, nil
}

// Target is a single generated URL together with the descriptor that produced it.
type Target struct {
	URL          string
	Group        string
	Scraper      ScraperKind
	Headers      map[string]string
	ItemSelector string
}

// QueueItem wraps a Target ready to be fetched by a worker.
type QueueItem struct {
	Target  Target
	Session string
	Seq     int
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Group   string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ContentType returns the response content type, or "" when unknown.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// NoveltyInput is handed to a NoveltyChecker after a successful fetch.
type NoveltyInput struct {
	URL          string
	Group        string
	Body         []byte
	ItemSelector string
}

// NoveltyResult reports how many items a page carried and how many were unseen.
type NoveltyResult struct {
	Novel int
	Total int
}

// Exhausted reports whether the page yielded nothing new.
func (r NoveltyResult) Exhausted() bool {
	return r.Novel == 0
}

// Page is a fetched document ready to be persisted.
type Page struct {
	URL       string
	Group     string
	Session   string
	Prefix    string
	Response  FetchResponse
	FetchedAt time.Time
}

// FetchOutcome is reported by a worker for every dispatched Target.
type FetchOutcome struct {
	URL           string
	Group         string
	Seq           int
	Succeeded     bool
	Retryable     bool
	StatusCode    int
	SavedLocation string
	Elapsed       time.Duration
	Err           error
	Novelty       *NoveltyResult
}
