package operation

import (
	"time"

	"github.com/JakeFAU/bacpac-orchestrator/internal/activity"
	"github.com/JakeFAU/bacpac-orchestrator/internal/progress"
)

// View is an immutable copy of a Controller's display state.
type View struct {
	Kind              Kind              `json:"kind"`
	State             State             `json:"state"`
	Progress          progress.Snapshot `json:"progress"`
	Status            string            `json:"status"`
	CompletionMessage string            `json:"completion_message,omitempty"`
	Entries           []activity.Entry  `json:"entries"`
	Appended          uint64            `json:"appended"`
	RunID             string            `json:"run_id,omitempty"`
	Target            string            `json:"target,omitempty"`
	Artifact          string            `json:"artifact,omitempty"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	FinishedAt        *time.Time        `json:"finished_at,omitempty"`
	Error             string            `json:"error,omitempty"`
	Messages          int64             `json:"messages"`
	Transitions       []Transition      `json:"transitions"`

	// Done is closed when the run shown by this view has been finalized. It
	// is already closed when no run is active.
	Done <-chan struct{} `json:"-"`
}

// Transcript renders the entries in clipboard format.
func (v View) Transcript() string {
	return activity.Transcript(v.Entries)
}

// Display receives a fresh View on the consumer loop after every mutation.
type Display interface {
	Render(View)
}

// DisplayFunc adapts a function to Display.
type DisplayFunc func(View)

// Render implements Display.
func (f DisplayFunc) Render(v View) {
	f(v)
}
