package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/bacpac-orchestrator/internal/events"
)

// LogSink writes one structured line per lifecycle event. Progress events are
// logged at debug level since they arrive several times a second.
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

// Name implements events.Named.
func (s *LogSink) Name() string { return "log" }

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("kind", evt.Kind),
			zap.String("target", evt.Target),
			zap.Float64("percent", evt.Percent),
			zap.String("phase", evt.Phase),
			zap.Int64("messages", evt.Messages),
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == events.StageProgress {
			s.logger.Debug("operation event", fields...)
			continue
		}
		s.logger.Info("operation event", fields...)
	}
	return nil
}

// Close implements events.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
