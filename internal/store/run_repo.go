package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the operation_runs status column.
type RunStatus string

// Run statuses persisted in operation_runs.status.
const (
	RunRunning  RunStatus = "running"
	RunSuccess  RunStatus = "success"
	RunError    RunStatus = "error"
	RunCanceled RunStatus = "canceled"
)

// ParseRunStatus validates a status filter supplied by a caller.
func ParseRunStatus(s string) (RunStatus, error) {
	switch RunStatus(s) {
	case RunRunning, RunSuccess, RunError, RunCanceled:
		return RunStatus(s), nil
	default:
		return "", errors.New("invalid status")
	}
}

// Run models one backup or restore invocation.
type Run struct {
	// ID is the run identifier shared with lifecycle events.
	ID uuid.UUID
	// Kind is "backup" or "restore".
	Kind string
	// Target is the database being exported or imported.
	Target string
	// StartedAt captures when the run entered Running.
	StartedAt time.Time
	// FinishedAt is nil until the run reaches a terminal state.
	FinishedAt *time.Time
	// Status is running/success/error/canceled.
	Status RunStatus
	// Percent is the last ratcheted progress value observed.
	Percent float64
	// Phase is the last display phase observed.
	Phase string
	// Artifact optionally records where the produced file lives.
	Artifact *string
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// RunRepository persists operation run history.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently refreshes) a running record.
	UpsertRunStart(ctx context.Context, id uuid.UUID, kind, target string, startedAt time.Time) error
	// UpdateRunProgress records the latest percent and phase.
	UpdateRunProgress(ctx context.Context, id uuid.UUID, percent float64, phase string, at time.Time) error
	// CompleteRun marks the run finished with the provided status.
	CompleteRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status RunStatus, artifact, errMsg *string) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status, newest first.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
