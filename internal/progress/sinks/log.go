package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/urlcrawl/internal/id/uuid"
	"github.com/JakeFAU/urlcrawl/internal/progress"
)

// LogSink writes run milestones at info level and per-URL outcomes at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", uuid.Format(evt.RunID)),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageFetchDone:
			fields = append(fields,
				zap.String("group", evt.Group),
				zap.String("url", evt.URL),
				zap.String("outcome", string(evt.Outcome)),
				zap.Int("status", evt.StatusCode),
				zap.Duration("dur", evt.Dur),
			)
			if evt.HasNovelty() {
				fields = append(fields, zap.Int("novel", evt.Novel), zap.Int("items", evt.Items))
			}
			s.logger.Debug("progress event", fields...)
		case progress.StageGroupStopped:
			fields = append(fields, zap.String("group", evt.Group), zap.String("url", evt.URL))
			s.logger.Info("progress event", fields...)
		case progress.StageRunDone, progress.StageRunError:
			fields = append(fields,
				zap.String("session", evt.Session),
				zap.Int("completed", evt.Completed),
				zap.Int("failed", evt.Failed),
				zap.Int("pending", evt.Pending),
				zap.Bool("stopped_early", evt.StoppedEarly),
				zap.Duration("dur", evt.Dur),
				zap.String("note", evt.Note),
			)
			s.logger.Info("progress event", fields...)
		default:
			fields = append(fields, zap.String("session", evt.Session))
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
