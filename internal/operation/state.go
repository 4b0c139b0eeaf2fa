package operation

import (
	"fmt"
	"strings"
)

// Kind selects the transfer direction.
type Kind string

// Supported kinds.
const (
	KindBackup  Kind = "backup"
	KindRestore Kind = "restore"
)

// ParseKind accepts "backup"/"export" and "restore"/"import" in any case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "backup", "export":
		return KindBackup, nil
	case "restore", "import":
		return KindRestore, nil
	default:
		return "", fmt.Errorf("unknown operation kind %q", s)
	}
}

// Title is the capitalized label used in status text, e.g. "Backup".
func (k Kind) Title() string {
	if k == KindRestore {
		return "Restore"
	}
	return "Backup"
}

func (k Kind) lower() string {
	return strings.ToLower(k.Title())
}

// State is the lifecycle position of a Controller.
type State string

// Lifecycle states.
const (
	StateIdle      State = "Idle"
	StateRunning   State = "Running"
	StateCanceling State = "Canceling"
	StateCompleted State = "Completed"
	StateFailed    State = "Failed"
	StateCanceled  State = "Canceled"
)

// Active reports whether an engine call is outstanding.
func (s State) Active() bool {
	return s == StateRunning || s == StateCanceling
}

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

var transitions = map[State][]State{
	StateIdle:      {StateRunning},
	StateRunning:   {StateCanceling, StateCompleted, StateFailed, StateCanceled},
	StateCanceling: {StateCanceled, StateCompleted, StateFailed},
	StateCompleted: {StateIdle},
	StateFailed:    {StateIdle},
	StateCanceled:  {StateIdle},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition records one state change.
type Transition struct {
	From State `json:"from"`
	To   State `json:"to"`
}
