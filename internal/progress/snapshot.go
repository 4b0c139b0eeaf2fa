package progress

// Phase labels set by the controller outside of classified readings.
const (
	PhaseWaiting   = "Waiting for progress..."
	PhaseCompleted = "Completed"
	PhaseCanceled  = "Canceled"
	PhaseFailed    = "Failed"
)

// Snapshot is the display-facing progress of one operation. It is owned by a
// single consumer and is not safe for concurrent mutation.
type Snapshot struct {
	Percent       float64 `json:"percent"`
	Phase         string  `json:"phase"`
	Indeterminate bool    `json:"indeterminate"`
}

// NewSnapshot returns an indeterminate 0% snapshot with the given phase.
func NewSnapshot(phase string) Snapshot {
	return Snapshot{Phase: phase, Indeterminate: true}
}

// Apply folds a reading into the snapshot. Percent only ratchets upward; the
// phase and determinate flag follow every reading. It reports whether the
// percent value changed.
func (s *Snapshot) Apply(r Reading) bool {
	s.Indeterminate = false
	s.Phase = r.Phase()
	if r.Percent < s.Percent {
		return false
	}
	moved := r.Percent != s.Percent
	s.Percent = r.Percent
	return moved
}

// Complete declares successful completion: 100%, determinate.
func (s *Snapshot) Complete() {
	s.Percent = 100
	s.Indeterminate = false
	s.Phase = PhaseCompleted
}

// Settle stops the indeterminate animation and shows phase, keeping percent.
func (s *Snapshot) Settle(phase string) {
	s.Indeterminate = false
	s.Phase = phase
}
