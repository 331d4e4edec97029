package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/urlcrawl/internal/crawler"
	"github.com/JakeFAU/urlcrawl/internal/ledger"
	"github.com/JakeFAU/urlcrawl/internal/session"
)

// Summary counts ledger state over the full candidate set.
func (o *Orchestrator) Summary() (ledger.Summary, error) {
	all, err := o.deps.Source.Candidates()
	if err != nil {
		return ledger.Summary{}, fmt.Errorf("generate urls: %w", err)
	}
	return o.deps.Ledger.Summary(all.URLs()), nil
}

// Todo lists the candidate URLs that are not completed, optionally limited
// to one descriptor.
func (o *Orchestrator) Todo(site string) ([]crawler.Target, error) {
	all, err := o.deps.Source.Candidates()
	if err != nil {
		return nil, fmt.Errorf("generate urls: %w", err)
	}
	if site != "" {
		if all, err = all.Only(site); err != nil {
			return nil, &crawler.ConfigError{Field: "site", Reason: err.Error()}
		}
	}
	return all.Without(func(t crawler.Target) bool {
		return o.deps.Ledger.IsDone(t.URL)
	}).Targets(), nil
}

// Reset clears every ledger entry. It is refused while a run is active.
func (o *Orchestrator) Reset() error {
	if !o.begin() {
		return ErrBusy
	}
	defer o.setState(StateIdle)
	if err := o.deps.Ledger.Reset(); err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	return nil
}

// ListSessions returns every session, newest first.
func (o *Orchestrator) ListSessions() ([]session.Session, error) {
	return o.deps.Sessions.List()
}

// CleanupSessions removes all but the newest keep sessions.
func (o *Orchestrator) CleanupSessions(keep int) ([]session.Session, error) {
	return o.deps.Sessions.Cleanup(keep)
}

// ProcessURL fetches a single URL in its own session, records the outcome
// in the ledger, and returns it with any novelty counts. URLs that no
// descriptor generates are fetched with the default scraper under
// AdhocGroup.
func (o *Orchestrator) ProcessURL(ctx context.Context, rawURL string) (crawler.FetchOutcome, error) {
	if rawURL == "" {
		return crawler.FetchOutcome{}, &crawler.ConfigError{Field: "url", Reason: "must not be empty"}
	}
	if !o.begin() {
		return crawler.FetchOutcome{}, ErrBusy
	}
	defer o.setState(StateIdle)

	target := crawler.Target{URL: rawURL, Group: AdhocGroup, Scraper: crawler.ScraperDefault}
	if all, err := o.deps.Source.Candidates(); err != nil {
		o.logger.Warn("candidate lookup failed", zap.Error(err))
	} else if t, ok := all.Lookup(rawURL); ok {
		target = t
	}

	sess, err := o.deps.Sessions.Start()
	if err != nil {
		return crawler.FetchOutcome{}, err
	}
	defer o.deps.Sessions.Finish(sess)

	o.setState(StateFetching)
	w := o.newWorker(0, nil, nil, nil)
	out := w.Process(ctx, crawler.QueueItem{Target: target, Session: sess.ID, Seq: 1})

	if err := o.record(out); err != nil {
		return out, err
	}
	if s, ok := o.deps.Novelty.(saver); ok {
		if err := s.Save(); err != nil {
			return out, fmt.Errorf("save novelty index: %w", err)
		}
	}
	o.setState(StateCompleted)
	return out, nil
}

// Entries returns a snapshot of the ledger in file order.
func (o *Orchestrator) Entries() []ledger.Entry {
	return o.deps.Ledger.Entries()
}
