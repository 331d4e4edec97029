// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
	"github.com/JakeFAU/urlcrawl/internal/ledger"
	"github.com/JakeFAU/urlcrawl/internal/metrics"
	"github.com/JakeFAU/urlcrawl/internal/orchestrator"
	"github.com/JakeFAU/urlcrawl/internal/progress"
	"github.com/JakeFAU/urlcrawl/internal/session"
	"github.com/JakeFAU/urlcrawl/internal/store"
)

const (
	defaultTodoLimit = 100
	maxTodoLimit     = 10000
	requestTimeout   = 60 * time.Second
)

// Controller is the slice of the orchestrator the API drives.
type Controller interface {
	State() orchestrator.State
	Summary() (ledger.Summary, error)
	Todo(site string) ([]crawler.Target, error)
	Entries() []ledger.Entry
	ListSessions() ([]session.Session, error)
	Run(ctx context.Context, opts orchestrator.RunOptions) (orchestrator.Report, error)
}

// StatsSource reports progress hub counters.
type StatsSource interface {
	Stats() progress.Stats
}

// Options configure a Server. Runs and Stats may be nil.
type Options struct {
	Controller Controller
	Runs       store.OutcomeRepository
	Stats      StatsSource
	// RunDefaults seed the options of crawls started over HTTP.
	RunDefaults orchestrator.RunOptions
	// BaseContext outlives requests and bounds crawls started over HTTP.
	BaseContext context.Context
	Logger      *zap.Logger
}

// Server wires HTTP handlers to the orchestrator and the run store.
type Server struct {
	router chi.Router
	opts   Options
	runs   *RunsHandler
	logger *zap.Logger

	mu      sync.Mutex
	lastRun *orchestrator.Report
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	s := &Server{
		opts:   opts,
		logger: opts.Logger.Named("api"),
	}
	s.runs = NewRunsHandler(opts.Runs, s.logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/todo", s.todo)
		r.Get("/ledger", s.ledgerEntries)
		r.Get("/sessions", s.sessions)
		r.Post("/crawl", s.startCrawl)
		r.Get("/runs", s.runs.ListRuns)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Controller == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	State   orchestrator.State   `json:"state"`
	Summary ledger.Summary       `json:"summary"`
	Events  *progress.Stats      `json:"events,omitempty"`
	LastRun *orchestrator.Report `json:"last_run,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	summary, err := s.opts.Controller.Summary()
	if err != nil {
		s.logger.Error("summary failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to summarize ledger")
		return
	}
	resp := statusResponse{State: s.opts.Controller.State(), Summary: summary}
	if s.opts.Stats != nil {
		stats := s.opts.Stats.Stats()
		resp.Events = &stats
	}
	s.mu.Lock()
	resp.LastRun = s.lastRun
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

type todoDTO struct {
	URL     string `json:"url"`
	Group   string `json:"group"`
	Scraper string `json:"scraper"`
}

func (s *Server) todo(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultTodoLimit, maxTodoLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	targets, err := s.opts.Controller.Todo(strings.TrimSpace(r.URL.Query().Get("site")))
	if err != nil {
		var cfgErr *crawler.ConfigError
		if errors.As(err, &cfgErr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("todo failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list todo urls")
		return
	}
	total := len(targets)
	if len(targets) > limit {
		targets = targets[:limit]
	}
	out := make([]todoDTO, 0, len(targets))
	for _, t := range targets {
		out = append(out, todoDTO{URL: t.URL, Group: t.Group, Scraper: string(t.Scraper)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "urls": out})
}

func (s *Server) ledgerEntries(w http.ResponseWriter, r *http.Request) {
	want := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("state")))
	switch want {
	case "", "completed", "failed":
	default:
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}
	entries := s.opts.Controller.Entries()
	out := make([]ledger.Entry, 0, len(entries))
	for _, e := range entries {
		if want == "" || e.State.String() == want {
			out = append(out, e)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (s *Server) sessions(w http.ResponseWriter, _ *http.Request) {
	sessions, err := s.opts.Controller.ListSessions()
	if err != nil {
		s.logger.Error("list sessions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type crawlRequest struct {
	Site        string `json:"site"`
	Limit       *int   `json:"limit"`
	Concurrency *int   `json:"concurrency"`
	StopOnNoNew *bool  `json:"stop_on_no_new"`
}

// startCrawl launches a run in the background and answers 202, or 409
// while another run is active.
func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	opts := s.opts.RunDefaults
	opts.Site = req.Site
	opts.Limit = valueOrDefault(req.Limit, opts.Limit)
	opts.Concurrency = valueOrDefault(req.Concurrency, opts.Concurrency)
	opts.StopOnNoNew = valueOrDefault(req.StopOnNoNew, opts.StopOnNoNew)
	if err := opts.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.opts.Controller.State() != orchestrator.StateIdle {
		writeError(w, http.StatusConflict, orchestrator.ErrBusy.Error())
		return
	}

	go func() {
		report, err := s.opts.Controller.Run(s.opts.BaseContext, opts)
		if errors.Is(err, orchestrator.ErrBusy) {
			return
		}
		if err != nil {
			s.logger.Error("crawl over http failed", zap.Error(err))
		}
		s.mu.Lock()
		s.lastRun = &report
		s.mu.Unlock()
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
