package operation

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned by Start while a run of the same kind is active.
	ErrBusy = errors.New("operation already running")
	// ErrPrerequisiteInFlight is returned by Start while a declared
	// prerequisite, such as a database listing, has not finished.
	ErrPrerequisiteInFlight = errors.New("prerequisite still in flight")
)

// ValidationError reports a missing or unusable input. It never changes the
// controller state.
type ValidationError struct {
	// Field names the offending request field.
	Field string
	// Message is the activity line explaining the problem.
	Message string
	// Status is the short status label shown alongside.
	Status string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// EngineError wraps a failure reported by the engine for a run.
type EngineError struct {
	Kind Kind
	Err  error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
