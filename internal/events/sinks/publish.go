package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bacpac-orchestrator/internal/events"
	"github.com/JakeFAU/bacpac-orchestrator/internal/publisher"
)

// Notification is the payload announced for every finished operation.
type Notification struct {
	RunID      string    `json:"run_id"`
	Kind       string    `json:"kind"`
	Target     string    `json:"target"`
	Result     string    `json:"result"`
	Percent    float64   `json:"percent"`
	Messages   int64     `json:"messages"`
	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// Attributes implements publisher.Attributed so subscribers can filter.
func (n Notification) Attributes() map[string]string {
	return map[string]string{
		"kind":   n.Kind,
		"result": n.Result,
		"run_id": n.RunID,
	}
}

// PublishSink announces terminal events on a topic.
type PublishSink struct {
	pub    publisher.Publisher
	topic  string
	logger *zap.Logger
}

// NewPublishSink constructs a PublishSink.
func NewPublishSink(pub publisher.Publisher, topic string, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{pub: pub, topic: topic, logger: logger}
}

// Name implements events.Named.
func (s *PublishSink) Name() string { return "publish" }

// Consume publishes a Notification per terminal event. Every terminal event
// in the batch is attempted; failures are joined.
func (s *PublishSink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if !evt.Stage.Terminal() {
			continue
		}
		note := Notification{
			RunID:      evt.RunUUID().String(),
			Kind:       evt.Kind,
			Target:     evt.Target,
			Result:     evt.Stage.Result(),
			Percent:    evt.Percent,
			Messages:   evt.Messages,
			DurationMS: evt.Dur.Milliseconds(),
			FinishedAt: evt.TS,
			Error:      evt.Note,
		}
		msgID, err := s.pub.Publish(ctx, s.topic, note)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s notification: %w", note.RunID, err))
			continue
		}
		s.logger.Debug("operation notification published",
			zap.String("run_id", note.RunID),
			zap.String("message_id", msgID),
		)
	}
	return errors.Join(errs...)
}

// Close implements events.Sink.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
