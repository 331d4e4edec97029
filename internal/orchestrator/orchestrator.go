// Package orchestrator turns the generated URL backlog into bounded
// concurrency fetch work, applies every outcome to the status ledger, and
// stops crawl groups early once their pages stop yielding new items.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlcrawl/internal/clock"
	"github.com/JakeFAU/urlcrawl/internal/crawler"
	"github.com/JakeFAU/urlcrawl/internal/dispatcher"
	"github.com/JakeFAU/urlcrawl/internal/id/uuid"
	"github.com/JakeFAU/urlcrawl/internal/ledger"
	"github.com/JakeFAU/urlcrawl/internal/metrics"
	"github.com/JakeFAU/urlcrawl/internal/policy/jitter"
	"github.com/JakeFAU/urlcrawl/internal/progress"
	"github.com/JakeFAU/urlcrawl/internal/queue/memory"
	"github.com/JakeFAU/urlcrawl/internal/session"
	"github.com/JakeFAU/urlcrawl/internal/urlgen"
	"github.com/JakeFAU/urlcrawl/internal/worker"
)

// State is the lifecycle position of a run or a crawl group.
type State string

// Run and group states.
const (
	StateIdle         State = "IDLE"
	StateGenerating   State = "GENERATING"
	StateFetching     State = "FETCHING"
	StateStoppedEarly State = "STOPPED_EARLY"
	StateCompleted    State = "COMPLETED"
)

// AdhocGroup names the group of a single URL that no descriptor produces.
const AdhocGroup = "adhoc"

// ErrBusy is returned when a run is requested while another is in progress.
var ErrBusy = errors.New("orchestrator is already running")

// Source produces the full candidate URL set.
type Source interface {
	Candidates() (*urlgen.URLSet, error)
}

// FileSource loads candidates from a descriptor file on every call.
type FileSource struct {
	Loader *urlgen.Loader
	Path   string
}

// Candidates implements Source.
func (s FileSource) Candidates() (*urlgen.URLSet, error) {
	return s.Loader.LoadFile(s.Path)
}

// RunIDGenerator yields binary run identifiers.
type RunIDGenerator interface {
	NewRunID() ([16]byte, error)
}

type saver interface {
	Save() error
}

// Deps are the collaborators an Orchestrator drives. Novelty, Limiter,
// Events, Clock and RunIDs are optional.
type Deps struct {
	Source   Source
	Ledger   *ledger.Ledger
	Sessions *session.Manager
	Fetchers crawler.FetcherResolver
	Writer   crawler.PageWriter
	Novelty  crawler.NoveltyChecker
	Limiter  crawler.RateLimiter
	Clock    crawler.Clock
	RunIDs   RunIDGenerator
	Events   progress.Emitter
	Logger   *zap.Logger
}

// RunOptions tune a single crawl run.
type RunOptions struct {
	// Site restricts the run to one descriptor.
	Site string
	// Limit caps the number of todo URLs per descriptor. Zero means no cap.
	Limit       int
	Concurrency int
	// StopOnNoNew enables per-group auto-stop.
	StopOnNoNew bool
	Pacing      jitter.Config
	// CleanupKeep prunes old sessions before the run. Negative disables.
	CleanupKeep int
}

// Validate checks run options before anything is generated.
func (o RunOptions) Validate() error {
	if o.Concurrency < 1 {
		return &crawler.ConfigError{Field: "concurrency", Reason: "must be >= 1"}
	}
	if o.Limit < 0 {
		return &crawler.ConfigError{Field: "limit", Reason: "must be >= 0"}
	}
	if err := o.Pacing.Validate(); err != nil {
		return &crawler.ConfigError{Field: "delay", Reason: err.Error()}
	}
	return nil
}

// GroupReport summarizes one descriptor within a run.
type GroupReport struct {
	Name       string `json:"name"`
	State      State  `json:"state"`
	Dispatched int    `json:"dispatched"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	// Skipped counts URLs left undispatched by auto-stop.
	Skipped int `json:"skipped"`
}

// Report describes a finished run. The ledger summary is always filled in,
// even when the run ends in an error.
type Report struct {
	RunID      string            `json:"run_id"`
	Session    string            `json:"session,omitempty"`
	State      State             `json:"state"`
	Dispatched int               `json:"dispatched"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Groups     []GroupReport     `json:"groups"`
	Summary    ledger.Summary    `json:"summary"`
	Removed    []session.Session `json:"removed_sessions,omitempty"`
	Elapsed    time.Duration     `json:"elapsed"`
}

// Orchestrator owns the crawl workflow for one ledger.
type Orchestrator struct {
	deps   Deps
	logger *zap.Logger

	mu    sync.Mutex
	state State
}

// New constructs an Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("orchestrator requires a candidate source")
	case deps.Ledger == nil:
		return nil, errors.New("orchestrator requires a ledger")
	case deps.Sessions == nil:
		return nil, errors.New("orchestrator requires a session manager")
	case deps.Fetchers == nil:
		return nil, errors.New("orchestrator requires fetchers")
	case deps.Writer == nil:
		return nil, errors.New("orchestrator requires a page writer")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.RunIDs == nil {
		deps.RunIDs = uuid.New()
	}
	if deps.Events == nil {
		deps.Events = (*progress.Hub)(nil)
	}
	return &Orchestrator{
		deps:   deps,
		logger: deps.Logger.Named("orchestrator"),
		state:  StateIdle,
	}, nil
}

// State returns the current run state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return false
	}
	o.state = StateGenerating
	return true
}

// Run executes one crawl: generate the todo list, fetch it with a bounded
// worker pool, and record every outcome in the ledger.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (Report, error) {
	if err := opts.Validate(); err != nil {
		return Report{State: StateIdle}, err
	}
	if !o.begin() {
		return Report{State: o.State()}, ErrBusy
	}
	defer o.setState(StateIdle)

	started := time.Now()
	runID, err := o.deps.RunIDs.NewRunID()
	if err != nil {
		return Report{State: StateIdle}, err
	}
	report := Report{RunID: uuid.Format(runID), State: StateGenerating}
	logger := o.logger.With(zap.String("run_id", report.RunID))

	fail := func(err error) (Report, error) {
		report.Elapsed = time.Since(started)
		o.deps.Events.Emit(progress.Event{
			RunID:   runID,
			TS:      o.deps.Clock.Now(),
			Stage:   progress.StageRunError,
			Session: report.Session,
			Note:    err.Error(),
			Novel:   -1,
			Items:   -1,
		})
		logger.Error("crawl run failed", zap.Error(err))
		return report, err
	}

	if opts.CleanupKeep >= 0 {
		removed, err := o.deps.Sessions.Cleanup(opts.CleanupKeep)
		report.Removed = removed
		if err != nil {
			return fail(fmt.Errorf("cleanup sessions: %w", err))
		}
	}

	all, todo, err := o.generate(opts, logger)
	if all != nil {
		report.Summary = o.deps.Ledger.Summary(all.URLs())
	}
	if err != nil {
		return fail(err)
	}

	sess, err := o.deps.Sessions.Start()
	if err != nil {
		return fail(err)
	}
	defer o.deps.Sessions.Finish(sess)
	report.Session = sess.ID

	o.deps.Events.Emit(progress.Event{
		RunID:   runID,
		TS:      o.deps.Clock.Now(),
		Stage:   progress.StageRunStart,
		Session: sess.ID,
		Pending: todo.Len(),
		Novel:   -1,
		Items:   -1,
	})
	logger.Info("crawl run started",
		zap.String("session", sess.ID),
		zap.Int("candidates", all.Len()),
		zap.Int("todo", todo.Len()),
		zap.Int("concurrency", opts.Concurrency),
		zap.Bool("auto_stop", o.autoStop(opts)),
	)

	o.setState(StateFetching)
	runErr := o.fetch(ctx, runID, sess, todo, opts, &report)

	if s, ok := o.deps.Novelty.(saver); ok {
		if err := s.Save(); err != nil {
			runErr = multierror.Append(runErr, fmt.Errorf("save novelty index: %w", err))
		}
	}

	report.Summary = o.deps.Ledger.Summary(all.URLs())
	report.State = StateCompleted
	stoppedEarly := false
	for _, g := range report.Groups {
		if g.State == StateStoppedEarly {
			stoppedEarly = true
		}
	}
	if stoppedEarly {
		report.State = StateStoppedEarly
	}
	o.setState(report.State)

	if runErr != nil {
		return fail(runErr)
	}
	report.Elapsed = time.Since(started)
	o.deps.Events.Emit(progress.Event{
		RunID:        runID,
		TS:           o.deps.Clock.Now(),
		Stage:        progress.StageRunDone,
		Session:      sess.ID,
		Completed:    report.Summary.Completed,
		Failed:       report.Summary.Failed,
		Pending:      report.Summary.Pending,
		StoppedEarly: stoppedEarly,
		Dur:          report.Elapsed,
		Novel:        -1,
		Items:        -1,
	})
	logger.Info("crawl run finished",
		zap.String("state", string(report.State)),
		zap.Int("dispatched", report.Dispatched),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("completed_total", report.Summary.Completed),
		zap.Int("remaining", report.Summary.Remaining),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// generate loads every candidate, seeds the ledger with them, and narrows
// them to this run's todo list.
func (o *Orchestrator) generate(opts RunOptions, logger *zap.Logger) (*urlgen.URLSet, *urlgen.URLSet, error) {
	all, err := o.deps.Source.Candidates()
	if err != nil {
		return nil, nil, fmt.Errorf("generate urls: %w", err)
	}
	if skipped := all.Skipped(); skipped != nil {
		logger.Warn("descriptors skipped", zap.Error(skipped))
	}
	if err := o.deps.Ledger.Seed(all.URLs()); err != nil {
		return all, nil, fmt.Errorf("seed ledger: %w", err)
	}

	scoped := all
	if opts.Site != "" {
		scoped, err = all.Only(opts.Site)
		if err != nil {
			return all, nil, &crawler.ConfigError{Field: "site", Reason: err.Error()}
		}
	}
	todo := scoped.Without(func(t crawler.Target) bool {
		return o.deps.Ledger.IsDone(t.URL)
	})
	return all, todo.LimitPerGroup(opts.Limit), nil
}

// autoStop reports whether groups get sequential lanes. Without a novelty
// checker no group can ever stop, so its URLs share the whole pool.
func (o *Orchestrator) autoStop(opts RunOptions) bool {
	return opts.StopOnNoNew && o.deps.Novelty != nil
}

// fetch runs the worker pool over todo. The calling goroutine is the only
// ledger writer for the duration of the run.
func (o *Orchestrator) fetch(
	ctx context.Context,
	runID [16]byte,
	sess session.Session,
	todo *urlgen.URLSet,
	opts RunOptions,
	report *Report,
) error {
	groups := make(map[string]*GroupReport)
	for _, name := range todo.Groups() {
		report.Groups = append(report.Groups, GroupReport{Name: name, State: StateFetching})
	}
	for i := range report.Groups {
		groups[report.Groups[i].Name] = &report.Groups[i]
	}
	if todo.Len() == 0 {
		return nil
	}

	pacer, err := jitter.New(opts.Pacing)
	if err != nil {
		return err
	}
	queue := memory.NewQueue(opts.Concurrency)
	results := make(chan crawler.FetchOutcome, opts.Concurrency)
	workers := make([]*worker.Worker, 0, opts.Concurrency)
	for i := 0; i < opts.Concurrency; i++ {
		workers = append(workers, o.newWorker(i, queue, results, pacer))
	}
	pool := dispatcher.New(queue, workers)
	pool.Start(ctx)

	c := &coordinator{
		o:       o,
		ctx:     ctx,
		runID:   runID,
		session: sess,
		sched:   newScheduler(todo.Targets(), o.autoStop(opts)),
		groups:  groups,
		report:  report,
		results: results,
	}
	interrupted := c.loop(opts.Concurrency, pool)

	pool.Shutdown()
	close(results)
	for out := range results {
		c.apply(out)
	}

	for _, g := range report.Groups {
		if g.State == StateFetching {
			groups[g.Name].State = StateCompleted
		}
	}
	if interrupted {
		c.errs = multierror.Append(c.errs, fmt.Errorf("crawl interrupted: %w", ctx.Err()))
	}
	return c.errs.ErrorOrNil()
}

func (o *Orchestrator) newWorker(id int, queue crawler.Queue, results chan<- crawler.FetchOutcome, pacer crawler.Pacer) *worker.Worker {
	return worker.New(
		id,
		queue,
		results,
		o.deps.Fetchers,
		o.deps.Writer,
		o.deps.Novelty,
		o.deps.Limiter,
		pacer,
		o.deps.Sessions,
		o.deps.Clock,
		o.deps.Logger,
	)
}

// coordinator dispatches targets while fewer than concurrency are in
// flight and applies outcomes as they arrive.
type coordinator struct {
	o       *Orchestrator
	ctx     context.Context
	runID   [16]byte
	session session.Session
	sched   *scheduler
	groups  map[string]*GroupReport
	report  *Report

	results  <-chan crawler.FetchOutcome
	inFlight int
	errs     *multierror.Error
}

// loop returns true when ctx ended before the backlog was drained.
func (c *coordinator) loop(concurrency int, pool *dispatcher.Dispatcher) bool {
	for {
		if c.ctx.Err() != nil {
			return true
		}
		for c.inFlight < concurrency {
			target, seq, ok := c.sched.next()
			if !ok {
				break
			}
			item := crawler.QueueItem{Target: target, Session: c.session.ID, Seq: seq}
			if err := pool.Enqueue(c.ctx, item); err != nil {
				c.sched.finish(target.Group)
				return true
			}
			c.inFlight++
			c.report.Dispatched++
			if g := c.groups[target.Group]; g != nil {
				g.Dispatched++
			}
		}
		if c.inFlight == 0 {
			return false
		}
		select {
		case out := <-c.results:
			c.apply(out)
		case <-c.ctx.Done():
			return true
		}
	}
}

// record writes an outcome to the ledger. Ignored updates such as failing a
// completed URL are logged, not returned.
func (o *Orchestrator) record(out crawler.FetchOutcome) error {
	var err error
	switch {
	case out.Succeeded && out.Novelty != nil:
		err = o.deps.Ledger.MarkDoneTagged(out.URL, ledger.DoneTag(out.Novelty.Novel))
	case out.Succeeded:
		err = o.deps.Ledger.MarkDone(out.URL)
	default:
		err = o.deps.Ledger.MarkFailed(out.URL)
	}
	var logicErr *crawler.LogicError
	if errors.As(err, &logicErr) {
		o.logger.Warn("ledger update ignored", zap.String("url", out.URL), zap.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("record %s: %w", out.URL, err)
	}
	return nil
}

// apply records one outcome in the ledger, reports it, and raises the
// group's stop flag when the page carried nothing new.
func (c *coordinator) apply(out crawler.FetchOutcome) {
	c.inFlight--
	c.sched.finish(out.Group)
	logger := c.o.logger.With(zap.String("url", out.URL), zap.String("group", out.Group))
	g := c.groups[out.Group]

	// Failures caused by cancellation say nothing about the URL.
	if !out.Succeeded && c.ctx.Err() != nil {
		return
	}

	if err := c.o.record(out); err != nil {
		logger.Error("ledger update failed", zap.Error(err))
		c.errs = multierror.Append(c.errs, err)
	}

	evt := progress.Event{
		RunID:      c.runID,
		TS:         c.o.deps.Clock.Now(),
		Stage:      progress.StageFetchDone,
		Session:    c.session.ID,
		Group:      out.Group,
		URL:        out.URL,
		StatusCode: out.StatusCode,
		Location:   out.SavedLocation,
		Dur:        out.Elapsed,
		Novel:      -1,
		Items:      -1,
	}
	switch {
	case out.Succeeded:
		evt.Outcome = progress.OutcomeSuccess
		c.report.Succeeded++
		if g != nil {
			g.Succeeded++
		}
	case out.Retryable:
		evt.Outcome = progress.OutcomeRetry
	default:
		evt.Outcome = progress.OutcomeFailed
	}
	if !out.Succeeded {
		c.report.Failed++
		if g != nil {
			g.Failed++
		}
		if out.Err != nil {
			evt.Note = out.Err.Error()
		}
	}
	if out.Novelty != nil {
		evt.Novel = out.Novelty.Novel
		evt.Items = out.Novelty.Total
	}
	c.o.deps.Events.Emit(evt)

	if out.Succeeded && out.Novelty != nil && out.Novelty.Exhausted() {
		c.stopGroup(out.Group, logger)
	}
}

func (c *coordinator) stopGroup(group string, logger *zap.Logger) {
	stopped, skipped := c.sched.stop(group)
	if !stopped {
		return
	}
	if g := c.groups[group]; g != nil {
		g.State = StateStoppedEarly
		g.Skipped = skipped
	}
	metrics.ObserveGroupStopped(group)
	c.o.deps.Events.Emit(progress.Event{
		RunID:   c.runID,
		TS:      c.o.deps.Clock.Now(),
		Stage:   progress.StageGroupStopped,
		Session: c.session.ID,
		Group:   group,
		Pending: skipped,
		Novel:   -1,
		Items:   -1,
	})
	logger.Info("no new items, stopping group", zap.Int("skipped", skipped))
}
