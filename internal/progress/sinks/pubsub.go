package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlcrawl/internal/id/uuid"
	"github.com/JakeFAU/urlcrawl/internal/progress"
)

// Notification is the JSON payload published for run milestones.
type Notification struct {
	RunID        string    `json:"run_id"`
	Stage        string    `json:"stage"`
	Session      string    `json:"session,omitempty"`
	Group        string    `json:"group,omitempty"`
	URL          string    `json:"url,omitempty"`
	Completed    int       `json:"completed"`
	Failed       int       `json:"failed"`
	Pending      int       `json:"pending"`
	StoppedEarly bool      `json:"stopped_early"`
	Note         string    `json:"note,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// PubSubSink publishes GROUP_STOPPED, RUN_DONE and RUN_ERROR events to a
// Pub/Sub topic. Per-URL events are not published.
type PubSubSink struct {
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewPubSubSink wraps a topic handle. The sink stops the topic on Close.
func NewPubSubSink(topic *pubsub.Topic, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSink{topic: topic, logger: logger.Named("pubsub_sink")}
}

// Consume publishes notable events and waits for the server acks.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.topic == nil {
		return nil
	}
	var results []*pubsub.PublishResult
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageGroupStopped, progress.StageRunDone, progress.StageRunError:
		default:
			continue
		}
		data, err := json.Marshal(toNotification(evt))
		if err != nil {
			return fmt.Errorf("marshal notification: %w", err)
		}
		results = append(results, s.topic.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"stage":  string(evt.Stage),
				"run_id": uuid.Format(evt.RunID),
			},
		}))
	}
	for _, res := range results {
		id, err := res.Get(ctx)
		if err != nil {
			return fmt.Errorf("publish notification: %w", err)
		}
		s.logger.Debug("notification published", zap.String("message_id", id))
	}
	return nil
}

func toNotification(evt progress.Event) Notification {
	return Notification{
		RunID:        uuid.Format(evt.RunID),
		Stage:        string(evt.Stage),
		Session:      evt.Session,
		Group:        evt.Group,
		URL:          evt.URL,
		Completed:    evt.Completed,
		Failed:       evt.Failed,
		Pending:      evt.Pending,
		StoppedEarly: evt.StoppedEarly,
		Note:         evt.Note,
		Timestamp:    evt.TS,
	}
}

// Close flushes outstanding publishes.
func (s *PubSubSink) Close(context.Context) error {
	if s != nil && s.topic != nil {
		s.topic.Stop()
	}
	return nil
}
