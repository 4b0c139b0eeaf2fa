// Package quiesce decides when an operation's trailing diagnostic output has
// settled. The engine keeps emitting progress after its call returns, so the
// controller waits for a quiet window before declaring the run finished.
package quiesce

import (
	"context"
	"time"
)

// Defaults used when Polling fields are unset.
const (
	DefaultPoll  = 100 * time.Millisecond
	DefaultQuiet = 800 * time.Millisecond
	DefaultCap   = 15 * time.Second
)

// Reason explains why Wait returned.
type Reason string

// Possible Wait outcomes.
const (
	ReasonQuiet    Reason = "quiet"
	ReasonCap      Reason = "cap"
	ReasonCanceled Reason = "canceled"
)

// Result reports how long Wait blocked and why it stopped.
type Result struct {
	Waited time.Duration
	Reason Reason
}

// LastMutationFunc reports when the observed log last changed.
type LastMutationFunc func() time.Time

// Detector blocks until activity has settled.
type Detector interface {
	Wait(ctx context.Context, last LastMutationFunc) Result
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Polling samples the last-mutation time every Poll and returns once nothing
// has changed for Quiet, or unconditionally after Cap.
type Polling struct {
	Poll  time.Duration
	Quiet time.Duration
	Cap   time.Duration
	Clock Clock
}

// NewPolling returns a Polling detector with defaults applied to zero fields.
func NewPolling(poll, quiet, limit time.Duration) *Polling {
	return &Polling{Poll: poll, Quiet: quiet, Cap: limit}
}

// Wait implements Detector.
func (p *Polling) Wait(ctx context.Context, last LastMutationFunc) Result {
	poll, quiet, limit := p.settings()
	clock := p.Clock
	if clock == nil {
		clock = wallClock{}
	}
	start := clock.Now()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		now := clock.Now()
		waited := now.Sub(start)
		if now.Sub(last()) >= quiet {
			return Result{Waited: waited, Reason: ReasonQuiet}
		}
		if waited >= limit {
			return Result{Waited: waited, Reason: ReasonCap}
		}
		select {
		case <-ctx.Done():
			return Result{Waited: clock.Now().Sub(start), Reason: ReasonCanceled}
		case <-ticker.C:
		}
	}
}

func (p *Polling) settings() (poll, quiet, limit time.Duration) {
	poll, quiet, limit = p.Poll, p.Quiet, p.Cap
	if poll <= 0 {
		poll = DefaultPoll
	}
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	if limit <= 0 {
		limit = DefaultCap
	}
	return poll, quiet, limit
}

// Immediate never waits. It suits engines whose progress callbacks are
// synchronous, so nothing can trail the call's return.
type Immediate struct{}

// Wait implements Detector.
func (Immediate) Wait(context.Context, LastMutationFunc) Result {
	return Result{Reason: ReasonQuiet}
}
