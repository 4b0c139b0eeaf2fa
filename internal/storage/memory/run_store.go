package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/bacpac-orchestrator/internal/store"
)

// RunStore keeps operation run history in-memory for development and for
// deployments without a database.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]store.Run
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]store.Run)}
}

// UpsertRunStart records a running run; repeated calls keep the first start time.
func (s *RunStore) UpsertRunStart(_ context.Context, id uuid.UUID, kind, target string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		run = store.Run{ID: id, StartedAt: startedAt}
	}
	run.Kind = kind
	run.Target = target
	run.Status = store.RunRunning
	s.runs[id] = run
	return nil
}

// UpdateRunProgress records the latest percent; it never moves percent backwards.
func (s *RunStore) UpdateRunProgress(_ context.Context, id uuid.UUID, percent float64, phase string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	if percent > run.Percent {
		run.Percent = percent
	}
	run.Phase = phase
	s.runs[id] = run
	return nil
}

// CompleteRun marks the run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	artifact, errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = pointerTime(finishedAt)
	run.Status = status
	run.Artifact = cloneString(artifact)
	run.ErrorMessage = cloneString(errMsg)
	if status == store.RunSuccess {
		run.Percent = 100
	}
	s.runs[id] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, id uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return copyRun(run), nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, copyRun(run))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if offset >= len(out) {
		return []store.Run{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func copyRun(run store.Run) store.Run {
	if run.FinishedAt != nil {
		run.FinishedAt = pointerTime(*run.FinishedAt)
	}
	run.Artifact = cloneString(run.Artifact)
	run.ErrorMessage = cloneString(run.ErrorMessage)
	return run
}

func pointerTime(t time.Time) *time.Time {
	return &t
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
