package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/urlcrawl/internal/progress"
	"github.com/JakeFAU/urlcrawl/internal/store"
)

// StoreSink persists run lifecycle rows and per-URL outcomes.
type StoreSink struct {
	repo   store.OutcomeRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink.
func NewStoreSink(repo store.OutcomeRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger.Named("store_sink")}
}

// Consume applies the batch in order. Outcomes are buffered and written
// before any later lifecycle event so a run is never finished ahead of its
// rows.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var pending []store.Outcome
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := s.repo.InsertOutcomes(ctx, pending); err != nil {
			return fmt.Errorf("insert outcomes: %w", err)
		}
		pending = pending[:0]
		return nil
	}

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageFetchDone:
			pending = append(pending, toOutcome(evt))
		case progress.StageRunStart:
			if err := flush(); err != nil {
				return err
			}
			if err := s.repo.StartRun(ctx, evt.RunUUID(), evt.Session, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageRunDone, progress.StageRunError:
			if err := flush(); err != nil {
				return err
			}
			if err := s.finish(ctx, evt); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (s *StoreSink) finish(ctx context.Context, evt progress.Event) error {
	status := store.RunCompleted
	var note *string
	switch {
	case evt.Stage == progress.StageRunError:
		status = store.RunError
		if evt.Note != "" {
			msg := evt.Note
			note = &msg
		}
	case evt.StoppedEarly:
		status = store.RunStoppedEarly
	}
	counts := store.RunCounts{Completed: evt.Completed, Failed: evt.Failed, Pending: evt.Pending}
	if err := s.repo.FinishRun(ctx, evt.RunUUID(), evt.TS, status, counts, note); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func toOutcome(evt progress.Event) store.Outcome {
	o := store.Outcome{
		RunID:      evt.RunUUID(),
		RecordedAt: evt.TS,
		Group:      evt.Group,
		URL:        evt.URL,
		Outcome:    string(evt.Outcome),
		StatusCode: evt.StatusCode,
		Location:   evt.Location,
		ElapsedMs:  evt.Dur.Milliseconds(),
		Note:       evt.Note,
	}
	if evt.HasNovelty() {
		novel, items := evt.Novel, evt.Items
		o.Novel = &novel
		o.Items = &items
	}
	return o
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
