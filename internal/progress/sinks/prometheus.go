package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/urlcrawl/internal/progress"
)

// PrometheusSink exports run-level metrics derived from progress events.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	outcomes      *prometheus.CounterVec
	novelItems    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	ledgerPending prometheus.Gauge

	mu      sync.Mutex
	running map[[16]byte]struct{}
}

// NewPrometheusSink registers the collectors against reg (default registerer
// when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_runs_started_total",
			Help: "Crawl runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_runs_completed_total",
			Help: "Crawl runs finished, by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_runs_running",
			Help: "Crawl runs currently in progress.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_run_runtime_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_url_outcomes_total",
			Help: "Per-URL outcomes by descriptor group.",
		}, []string{"group", "outcome"}),
		novelItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_novel_items_total",
			Help: "Items not seen before, by descriptor group.",
		}, []string{"group"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_url_duration_seconds",
			Help:    "Time spent on one URL, by outcome.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
		ledgerPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_ledger_pending",
			Help: "Pending plus failed URLs at the end of the last run.",
		}),
		running: make(map[[16]byte]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runsRunning, s.runRuntime,
		s.outcomes, s.novelItems, s.fetchDuration, s.ledgerPending,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.track(evt.RunID, true) {
				s.runsRunning.Inc()
			}
		case progress.StageRunDone, progress.StageRunError:
			result := "success"
			if evt.Stage == progress.StageRunError {
				result = "error"
			} else if evt.StoppedEarly {
				result = "stopped_early"
			}
			s.runsCompleted.WithLabelValues(result).Inc()
			if evt.Dur > 0 {
				s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			if evt.Stage == progress.StageRunDone {
				s.ledgerPending.Set(float64(evt.Pending + evt.Failed))
			}
			if s.track(evt.RunID, false) {
				s.runsRunning.Dec()
			}
		case progress.StageFetchDone:
			group := evt.Group
			if group == "" {
				group = "unknown"
			}
			s.outcomes.WithLabelValues(group, string(evt.Outcome)).Inc()
			if evt.HasNovelty() && evt.Novel > 0 {
				s.novelItems.WithLabelValues(group).Add(float64(evt.Novel))
			}
			if evt.Dur > 0 {
				s.fetchDuration.WithLabelValues(string(evt.Outcome)).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

// track records a run start (start=true) or end and reports whether the
// running set changed.
func (s *PrometheusSink) track(id [16]byte, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	if start {
		if ok {
			return false
		}
		s.running[id] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, id)
	return true
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
