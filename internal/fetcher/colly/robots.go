package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultRobotsTTL   = time.Hour
	maxRobotsBodyBytes = 512 * 1024
	allowAllRobots     = "User-agent: *\nAllow: /"
)

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

type robotsEntry struct {
	status  int
	body    []byte
	fetched time.Time
}

// robotsCacheTransport answers repeated robots.txt requests per host from
// memory. Every fetch clones the collector, and clones would otherwise
// request robots.txt again for each page.
type robotsCacheTransport struct {
	base http.RoundTripper
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]robotsEntry
}

func newRobotsCacheTransport(base http.RoundTripper, ttl time.Duration) *robotsCacheTransport {
	if ttl <= 0 {
		ttl = defaultRobotsTTL
	}
	return &robotsCacheTransport{
		base:    base,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]robotsEntry),
	}
}

func (t *robotsCacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("roundtrip %s: %w", req.URL.Host, err)
		}
		return resp, nil
	}
	key := req.URL.Scheme + "://" + req.URL.Host
	if entry, ok := t.lookup(key); ok {
		return entry.response(req), nil
	}
	entry, err := t.fetch(req)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.entries[key] = entry
	t.mu.Unlock()
	return entry.response(req), nil
}

func (t *robotsCacheTransport) lookup(key string) (robotsEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	if !ok || t.now().Sub(entry.fetched) > t.ttl {
		return robotsEntry{}, false
	}
	return entry, true
}

// fetch retries transient TLS and timeout errors, then falls back to an
// allow-all policy rather than failing every page of the host.
func (t *robotsCacheTransport) fetch(req *http.Request) (robotsEntry, error) {
	maxAttempts := len(robotsRetryBackoff) + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
			_ = resp.Body.Close()
			if readErr != nil {
				return robotsEntry{}, fmt.Errorf("read robots.txt: %w", readErr)
			}
			return robotsEntry{status: resp.StatusCode, body: body, fetched: t.now()}, nil
		}
		if !isTransientError(err) {
			return robotsEntry{}, fmt.Errorf("fetch robots.txt: %w", err)
		}
		if attempt == maxAttempts-1 {
			break
		}
		if err := sleepWithContext(req.Context(), robotsRetryBackoff[attempt]); err != nil {
			return robotsEntry{}, err
		}
	}
	return robotsEntry{status: http.StatusOK, body: []byte(allowAllRobots), fetched: t.now()}, nil
}

func (e robotsEntry) response(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    e.status,
		Status:        fmt.Sprintf("%d %s", e.status, http.StatusText(e.status)),
		Body:          io.NopCloser(bytes.NewReader(e.body)),
		ContentLength: int64(len(e.body)),
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Request:       req,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
	}
}

func isRobotsTxtRequest(req *http.Request) bool {
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isTransientError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
