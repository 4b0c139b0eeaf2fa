package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/bacpac-orchestrator/internal/events"
	"github.com/JakeFAU/bacpac-orchestrator/internal/store"
)

// StoreSink persists run history through a store.RunRepository. Progress
// events are collapsed to one write per run and batch.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Name implements events.Named.
func (s *StoreSink) Name() string { return "store" }

type progressDelta struct {
	percent float64
	phase   string
	at      time.Time
}

// Consume writes lifecycle milestones immediately and the latest progress of
// each run once the batch has been scanned. Repository errors are returned
// verbatim after wrapping.
func (s *StoreSink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	latest := make(map[uuid.UUID]*progressDelta)
	var order []uuid.UUID

	for _, evt := range batch {
		id := evt.RunUUID()
		switch {
		case evt.Stage == events.StageStarted:
			if err := s.repo.UpsertRunStart(ctx, id, evt.Kind, evt.Target, evt.TS); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case evt.Stage == events.StageProgress:
			d := latest[id]
			if d == nil {
				d = &progressDelta{}
				latest[id] = d
				order = append(order, id)
			}
			if evt.Percent >= d.percent {
				d.percent = evt.Percent
				d.phase = evt.Phase
				d.at = evt.TS
			}
		case evt.Stage.Terminal():
			if d, ok := latest[id]; ok {
				if err := s.repo.UpdateRunProgress(ctx, id, d.percent, d.phase, d.at); err != nil {
					return fmt.Errorf("update run progress: %w", err)
				}
				delete(latest, id)
			}
			var note *string
			if evt.Note != "" {
				note = &evt.Note
			}
			if err := s.repo.CompleteRun(ctx, id, evt.TS, store.RunStatus(evt.Stage.Result()), nil, note); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		}
	}

	for _, id := range order {
		d, ok := latest[id]
		if !ok {
			continue
		}
		if err := s.repo.UpdateRunProgress(ctx, id, d.percent, d.phase, d.at); err != nil {
			return fmt.Errorf("update run progress: %w", err)
		}
	}
	return nil
}

// Close implements events.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
