package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
	"github.com/JakeFAU/urlcrawl/internal/ledger"
	"github.com/JakeFAU/urlcrawl/internal/orchestrator"
	"github.com/JakeFAU/urlcrawl/internal/progress"
	"github.com/JakeFAU/urlcrawl/internal/session"
	"github.com/JakeFAU/urlcrawl/internal/store"
)

type fakeController struct {
	mu         sync.Mutex
	state      orchestrator.State
	summary    ledger.Summary
	summaryErr error
	todo       []crawler.Target
	entries    []ledger.Entry
	sessions   []session.Session
	runs       []orchestrator.RunOptions
	runDone    chan struct{}
}

func (f *fakeController) State() orchestrator.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == "" {
		return orchestrator.StateIdle
	}
	return f.state
}

func (f *fakeController) Summary() (ledger.Summary, error) {
	return f.summary, f.summaryErr
}

func (f *fakeController) Todo(site string) ([]crawler.Target, error) {
	if site == "" {
		return f.todo, nil
	}
	var out []crawler.Target
	for _, t := range f.todo {
		if t.Group == site {
			out = append(out, t)
		}
	}
	if out == nil {
		return nil, &crawler.ConfigError{Field: "site", Reason: "unknown descriptor"}
	}
	return out, nil
}

func (f *fakeController) Entries() []ledger.Entry {
	return f.entries
}

func (f *fakeController) ListSessions() ([]session.Session, error) {
	return f.sessions, nil
}

func (f *fakeController) Run(_ context.Context, opts orchestrator.RunOptions) (orchestrator.Report, error) {
	f.mu.Lock()
	f.runs = append(f.runs, opts)
	f.mu.Unlock()
	if f.runDone != nil {
		defer close(f.runDone)
	}
	return orchestrator.Report{RunID: "run-1", State: orchestrator.StateCompleted, Dispatched: 2}, nil
}

type fakeRuns struct {
	runs []store.Run
	err  error
}

func (f *fakeRuns) StartRun(context.Context, uuid.UUID, string, time.Time) error { return nil }

func (f *fakeRuns) FinishRun(context.Context, uuid.UUID, time.Time, store.RunStatus, store.RunCounts, *string) error {
	return nil
}

func (f *fakeRuns) InsertOutcomes(context.Context, []store.Outcome) error { return nil }

func (f *fakeRuns) ListRuns(_ context.Context, limit int) ([]store.Run, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.runs) > limit {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

type fixedStats struct{}

func (fixedStats) Stats() progress.Stats {
	return progress.Stats{Emitted: 7, Flushed: 7}
}

func serve(t *testing.T, s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{Controller: &fakeController{}})
	rec := serve(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(t, s, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, NewServer(Options{}), http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{Controller: &fakeController{}})
	serve(t, s, http.MethodGet, "/healthz", nil)
	rec := serve(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{
		state:   orchestrator.StateFetching,
		summary: ledger.Summary{Total: 4, Completed: 1, Pending: 3, Remaining: 3, ProgressPercent: 25},
	}
	s := NewServer(Options{Controller: ctrl, Stats: fixedStats{}})

	rec := serve(t, s, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "FETCHING", body["state"])
	summary := body["summary"].(map[string]any)
	assert.EqualValues(t, 4, summary["total"])
	assert.EqualValues(t, 25, summary["progress_percent"])
	events := body["events"].(map[string]any)
	assert.EqualValues(t, 7, events["emitted"])
	assert.NotContains(t, body, "last_run")
}

func TestServer_StatusSummaryError(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{Controller: &fakeController{summaryErr: errors.New("bad yaml")}})
	rec := serve(t, s, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Todo(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{todo: []crawler.Target{
		{URL: "https://a.example.com/1", Group: "a", Scraper: crawler.ScraperDefault},
		{URL: "https://a.example.com/2", Group: "a", Scraper: crawler.ScraperDefault},
		{URL: "https://b.example.com/1", Group: "b", Scraper: crawler.ScraperText},
	}}
	s := NewServer(Options{Controller: ctrl})

	rec := serve(t, s, http.MethodGet, "/v1/todo?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 3, body["total"])
	assert.Len(t, body["urls"], 2)

	rec = serve(t, s, http.MethodGet, "/v1/todo?site=b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	urls := decode(t, rec)["urls"].([]any)
	require.Len(t, urls, 1)
	assert.Equal(t, "text", urls[0].(map[string]any)["scraper"])

	rec = serve(t, s, http.MethodGet, "/v1/todo?site=zzz", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, s, http.MethodGet, "/v1/todo?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Ledger(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{entries: []ledger.Entry{
		{URL: "https://a.example.com/1", State: ledger.StateCompleted, Tag: "X3"},
		{URL: "https://a.example.com/2", State: ledger.StateFailed, FailureCount: 2},
	}}
	s := NewServer(Options{Controller: ctrl})

	rec := serve(t, s, http.MethodGet, "/v1/ledger", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["entries"], 2)

	rec = serve(t, s, http.MethodGet, "/v1/ledger?state=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode(t, rec)["entries"].([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	assert.Equal(t, "failed", entry["state"])
	assert.EqualValues(t, 2, entry["failure_count"])

	rec = serve(t, s, http.MethodGet, "/v1/ledger?state=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Sessions(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{Controller: &fakeController{}})
	rec := serve(t, s, http.MethodGet, "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sessions":[]}`, rec.Body.String())

	ctrl := &fakeController{sessions: []session.Session{{ID: "crawl_2", Root: "/tmp/crawl_2"}}}
	rec = serve(t, NewServer(Options{Controller: ctrl}), http.MethodGet, "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "crawl_2")
}

func TestServer_StartCrawl(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{runDone: make(chan struct{})}
	s := NewServer(Options{
		Controller:  ctrl,
		RunDefaults: orchestrator.RunOptions{Concurrency: 4, StopOnNoNew: true, CleanupKeep: -1},
	})

	rec := serve(t, s, http.MethodPost, "/v1/crawl", []byte(`{"site":"news","limit":3,"stop_on_no_new":false}`))
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-ctrl.runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("run was not started")
	}
	ctrl.mu.Lock()
	require.Len(t, ctrl.runs, 1)
	got := ctrl.runs[0]
	ctrl.mu.Unlock()
	assert.Equal(t, "news", got.Site)
	assert.Equal(t, 3, got.Limit)
	assert.Equal(t, 4, got.Concurrency)
	assert.False(t, got.StopOnNoNew)

	require.Eventually(t, func() bool {
		rec := serve(t, s, http.MethodGet, "/v1/status", nil)
		_, ok := decode(t, rec)["last_run"]
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_StartCrawlRejects(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{
		Controller:  &fakeController{},
		RunDefaults: orchestrator.RunOptions{Concurrency: 1},
	})
	rec := serve(t, s, http.MethodPost, "/v1/crawl", []byte(`{invalid`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, s, http.MethodPost, "/v1/crawl", []byte(`{"concurrency":0}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	busy := NewServer(Options{
		Controller:  &fakeController{state: orchestrator.StateFetching},
		RunDefaults: orchestrator.RunOptions{Concurrency: 1},
	})
	rec = serve(t, busy, http.MethodPost, "/v1/crawl", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_Runs(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(Options{Controller: &fakeController{}}), http.MethodGet, "/v1/runs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	repo := &fakeRuns{runs: []store.Run{
		{ID: uuid.New(), Session: "crawl_2", Status: store.RunCompleted},
		{ID: uuid.New(), Session: "crawl_1", Status: store.RunStoppedEarly},
	}}
	s := NewServer(Options{Controller: &fakeController{}, Runs: repo})
	rec = serve(t, s, http.MethodGet, "/v1/runs?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode(t, rec)["runs"].([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, "crawl_2", runs[0].(map[string]any)["session"])

	rec = serve(t, s, http.MethodGet, "/v1/runs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	repo.err = errors.New("db down")
	rec = serve(t, s, http.MethodGet, "/v1/runs", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{Controller: &panickingController{}})
	rec := serve(t, s, http.MethodGet, "/v1/ledger", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type panickingController struct {
	fakeController
}

func (panickingController) Entries() []ledger.Entry {
	panic("ledger exploded")
}
