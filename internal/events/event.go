package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the lifecycle milestone represented by an Event.
type Stage string

// Supported lifecycle stages.
const (
	StageStarted   Stage = "OPERATION_STARTED"
	StageProgress  Stage = "OPERATION_PROGRESS"
	StageCanceling Stage = "OPERATION_CANCELING"
	StageCompleted Stage = "OPERATION_COMPLETED"
	StageFailed    Stage = "OPERATION_FAILED"
	StageCanceled  Stage = "OPERATION_CANCELED"
)

// Terminal reports whether the stage closes a run.
func (s Stage) Terminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageCanceled:
		return true
	default:
		return false
	}
}

// Result maps a terminal stage to the label used by metrics and stores.
func (s Stage) Result() string {
	switch s {
	case StageCompleted:
		return "success"
	case StageFailed:
		return "error"
	case StageCanceled:
		return "canceled"
	default:
		return ""
	}
}

// Event captures a single milestone of a backup or restore run.
type Event struct {
	// RunID identifies one operation invocation using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Kind is the operation kind ("backup" or "restore").
	Kind string
	// Target is the database name for starts and the artifact path or
	// database on completion.
	Target string
	// Percent is the ratcheted progress at the time of the event.
	Percent float64
	// Phase is the display phase at the time of the event.
	Phase string
	// Messages counts progress messages delivered so far in the run.
	Messages int64
	// Dur is the wall time of the run for terminal events.
	Dur time.Duration
	// Note carries low-volume context such as the failure message.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Kind == "" {
		return errors.New("kind is required")
	}
	switch e.Stage {
	case StageStarted, StageCanceling, StageCompleted, StageFailed, StageCanceled:
	case StageProgress:
		if e.Percent < 0 || e.Percent > 100 {
			return fmt.Errorf("percent %v out of range", e.Percent)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
