package operation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/bacpac-orchestrator/internal/activity"
	"github.com/JakeFAU/bacpac-orchestrator/internal/engine"
	"github.com/JakeFAU/bacpac-orchestrator/internal/events"
	"github.com/JakeFAU/bacpac-orchestrator/internal/progress"
	"github.com/JakeFAU/bacpac-orchestrator/internal/quiesce"
)

const (
	defaultDrainTimeout = 30 * time.Second
	maxTransitions      = 16
	maxErrorDetail      = 8
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator allocates run identifiers.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

type v7IDs struct{}

func (v7IDs) NewRawID() (uuid.UUID, error) { return uuid.NewV7() }

// Deps are the collaborators of a Controller. Engine and Deliverer are
// required; the rest have working defaults.
type Deps struct {
	Engine    engine.Engine
	Deliverer progress.Deliverer
	Detector  quiesce.Detector
	Emitter   events.Emitter
	IDs       IDGenerator
	Clock     Clock
	Logger    *zap.Logger
	Display   Display
}

// Options tune a Controller.
type Options struct {
	Buffer   progress.Config
	Activity activity.Options
	// DrainTimeout bounds the final progress drain of a run.
	DrainTimeout time.Duration
}

// Controller runs operations of a single kind, one at a time.
type Controller struct {
	kind   Kind
	deps   Deps
	opts   Options
	logger *zap.Logger

	// Owned by the consumer loop.
	state       State
	snap        progress.Snapshot
	log         *activity.Log
	status      string
	completion  string
	runID       uuid.UUID
	target      string
	artifact    string
	startedAt   time.Time
	finishedAt  time.Time
	lastErr     string
	messages    int64
	cancel      context.CancelFunc
	done        chan struct{}
	transitions []Transition

	prereqMu sync.Mutex
	prereqs  map[string]int

	view atomicView
}

// New constructs an idle Controller.
func New(kind Kind, deps Deps, opts Options) (*Controller, error) {
	if kind != KindBackup && kind != KindRestore {
		return nil, fmt.Errorf("unknown operation kind %q", kind)
	}
	if deps.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if deps.Deliverer == nil {
		return nil, errors.New("deliverer is required")
	}
	if deps.Detector == nil {
		deps.Detector = &quiesce.Polling{}
	}
	if deps.Emitter == nil {
		deps.Emitter = events.Discard{}
	}
	if deps.IDs == nil {
		deps.IDs = v7IDs{}
	}
	if opts.Activity.Clock == nil && deps.Clock != nil {
		opts.Activity.Clock = deps.Clock
	}
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}

	idle := make(chan struct{})
	close(idle)
	c := &Controller{
		kind:    kind,
		deps:    deps,
		opts:    opts,
		logger:  deps.Logger.Named("operation").With(zap.String("kind", string(kind))),
		state:   StateIdle,
		snap:    progress.NewSnapshot(progress.PhaseWaiting),
		log:     activity.New(opts.Activity),
		status:  "Ready",
		done:    idle,
		prereqs: map[string]int{},
	}
	c.publish()
	return c, nil
}

// Kind returns the controller's operation kind.
func (c *Controller) Kind() Kind {
	return c.kind
}

// View returns the latest published display state. Safe from any goroutine.
func (c *Controller) View() View {
	return c.view.Load()
}

// Start validates req and launches a run. It returns ErrBusy while a run is
// active, ErrPrerequisiteInFlight while a prerequisite is outstanding, and a
// *ValidationError when an input is missing. None of these change state.
func (c *Controller) Start(req Request) error {
	if c.state.Active() {
		return ErrBusy
	}
	if name, ok := c.pendingPrerequisite(); ok {
		c.logger.Debug("start refused, prerequisite in flight", zap.String("prerequisite", name))
		return ErrPrerequisiteInFlight
	}

	c.log.Clear()
	c.completion = ""
	c.status = fmt.Sprintf("Running %s...", c.kind.lower())

	var (
		p    plan
		verr *ValidationError
	)
	if c.kind == KindBackup {
		p, verr = planBackup(req, time.Now())
	} else {
		p, verr = planRestore(req)
	}
	if verr != nil {
		c.log.Append(verr.Message)
		c.status = verr.Status
		c.publish()
		return verr
	}

	runID, err := c.deps.IDs.NewRawID()
	if err != nil {
		return fmt.Errorf("allocate run id: %w", err)
	}

	if c.state.Terminal() {
		c.transition(StateIdle)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.runID = runID
	c.cancel = cancel
	c.done = done
	c.target = p.database
	c.artifact = ""
	c.lastErr = ""
	c.messages = 0
	c.startedAt = c.deps.Clock.Now()
	c.finishedAt = time.Time{}
	c.snap = progress.NewSnapshot(fmt.Sprintf("Preparing %s...", c.kind.lower()))
	c.transition(StateRunning)

	c.log.Append(fmt.Sprintf("%s started for '%s'.", c.kind.Title(), p.database))
	if c.kind == KindBackup {
		c.log.Append("Resolved output path: " + p.path)
	}
	c.logger.Info("operation started",
		zap.String("run_id", runID.String()),
		zap.String("database", p.database),
		zap.String("path", p.path),
	)
	c.emit(events.StageStarted, p.database, "")

	buf := progress.NewBuffer(ctx, c.opts.Buffer, c.deps.Deliverer,
		progress.SinkFunc(func(batch []string) error {
			c.consume(runID, batch)
			return nil
		}),
		c.logger,
	)
	c.publish()

	go c.execute(ctx, cancel, runID, p, buf, done)
	return nil
}

// Cancel requests cancellation of the active run. It returns false unless
// the controller is Running.
func (c *Controller) Cancel() bool {
	if c.state != StateRunning {
		return false
	}
	c.transition(StateCanceling)
	c.status = fmt.Sprintf("Canceling %s...", c.kind.lower())
	c.log.Append("Cancellation requested.")
	c.emit(events.StageCanceling, c.target, "")
	c.cancel()
	c.publish()
	return true
}

// Reset returns a finished controller to Idle and clears its activity. It
// returns false while a run is active.
func (c *Controller) Reset() bool {
	if c.state.Active() {
		return false
	}
	if c.state.Terminal() {
		c.transition(StateIdle)
	}
	c.log.Clear()
	c.status = "Ready"
	c.completion = ""
	c.snap = progress.NewSnapshot(progress.PhaseWaiting)
	c.publish()
	return true
}

// Note appends activity lines and sets the status label without touching the
// lifecycle. Collaborators such as the database listing report through it.
func (c *Controller) Note(status string, lines ...string) {
	for _, line := range lines {
		c.log.Append(line)
	}
	if status != "" {
		c.status = status
	}
	c.publish()
}

// BeginPrerequisite marks name as in flight until the returned func is
// called. Start is refused meanwhile. It fails with ErrBusy while a run is
// active. The returned func is safe to call from any goroutine, and more
// than once.
func (c *Controller) BeginPrerequisite(name string) (func(), error) {
	if c.state.Active() {
		return nil, ErrBusy
	}
	c.prereqMu.Lock()
	c.prereqs[name]++
	c.prereqMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.prereqMu.Lock()
			defer c.prereqMu.Unlock()
			if c.prereqs[name] <= 1 {
				delete(c.prereqs, name)
				return
			}
			c.prereqs[name]--
		})
	}, nil
}

func (c *Controller) pendingPrerequisite() (string, bool) {
	c.prereqMu.Lock()
	defer c.prereqMu.Unlock()
	for name := range c.prereqs {
		return name, true
	}
	return "", false
}

// SetArtifact records where the finished run's bacpac was uploaded.
func (c *Controller) SetArtifact(runID uuid.UUID, location string) {
	if c.runID != runID {
		return
	}
	c.artifact = location
	c.log.Append("Backup uploaded to: " + location)
	c.publish()
}

// execute runs on its own goroutine: engine call, full drain, quiescence,
// then finalize on the consumer loop.
func (c *Controller) execute(ctx context.Context, cancel context.CancelFunc, runID uuid.UUID, p plan, buf *progress.Buffer, done chan struct{}) {
	defer cancel()

	var (
		res engine.Result
		err error
	)
	if c.kind == KindBackup {
		res, err = c.deps.Engine.Export(ctx, p.connection, p.path, buf.Report)
	} else {
		res, err = c.deps.Engine.Import(ctx, p.path, p.connection, buf.Report)
	}
	if res.Path == "" {
		res.Path = p.path
	}
	if res.Database == "" {
		res.Database = p.database
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), c.opts.DrainTimeout)
	if closeErr := buf.Close(drainCtx); closeErr != nil {
		c.logger.Warn("progress drain incomplete", zap.String("run_id", runID.String()), zap.Error(closeErr))
	}
	cancelDrain()

	if err == nil {
		quiet := c.deps.Detector.Wait(ctx, c.log.LastMutation)
		c.logger.Debug("activity settled",
			zap.String("run_id", runID.String()),
			zap.Duration("waited", quiet.Waited),
			zap.String("reason", string(quiet.Reason)),
		)
	}

	stats := buf.Stats()
	if stats.Rejected > 0 {
		c.logger.Debug("late progress discarded", zap.Int64("rejected", stats.Rejected))
	}

	posted := c.deps.Deliverer.Post(func() {
		defer close(done)
		c.finish(runID, res, err)
	})
	if !posted {
		c.logger.Warn("consumer gone before finalize", zap.String("run_id", runID.String()))
		close(done)
	}
}

func (c *Controller) consume(runID uuid.UUID, batch []string) {
	if c.runID != runID {
		return
	}
	for _, msg := range batch {
		c.messages++
		entry, _ := c.log.Append(msg)
		if entry.Text == "" || !c.state.Active() {
			continue
		}
		if reading, ok := progress.Classify(entry.Text); ok && c.snap.Apply(reading) {
			c.emit(events.StageProgress, c.target, "")
		}
	}
	c.publish()
}

func (c *Controller) finish(runID uuid.UUID, res engine.Result, err error) {
	if c.runID != runID {
		return
	}
	c.cancel = nil
	c.finishedAt = c.deps.Clock.Now()
	title := c.kind.Title()

	switch {
	case err == nil:
		c.snap.Complete()
		c.transition(StateCompleted)
		c.log.Append(title + " completed successfully.")
		c.status = title + " complete"
		target := res.Database
		if c.kind == KindBackup {
			target = res.Path
			c.completion = "Backup created at: " + res.Path
		} else {
			c.completion = "Database ready: " + res.Database
		}
		c.logger.Info("operation completed", zap.String("run_id", runID.String()), zap.String("target", target))
		c.emit(events.StageCompleted, target, "")

	case engine.IsCanceled(err):
		c.snap.Settle(progress.PhaseCanceled)
		c.transition(StateCanceled)
		c.log.Append(title + " canceled.")
		c.status = title + " canceled"
		c.logger.Info("operation canceled", zap.String("run_id", runID.String()))
		c.emit(events.StageCanceled, c.target, "")

	default:
		engErr := &EngineError{Kind: c.kind, Err: err}
		c.snap.Settle(progress.PhaseFailed)
		c.transition(StateFailed)
		c.log.Append(fmt.Sprintf("%s failed: %v", title, err))
		for _, line := range errorDetail(err) {
			c.log.Append(line)
		}
		c.status = title + " failed"
		c.lastErr = err.Error()
		c.logger.Error("operation failed", zap.String("run_id", runID.String()), zap.Error(engErr))
		c.emit(events.StageFailed, c.target, err.Error())
	}
	c.publish()
}

// errorDetail lists each layer of a wrapped error with its type.
func errorDetail(err error) []string {
	var lines []string
	for e := err; e != nil && len(lines) < maxErrorDetail; {
		lines = append(lines, fmt.Sprintf("  %T: %v", e, e))
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			errs := joined.Unwrap()
			if len(errs) == 0 {
				break
			}
			e = errs[0]
			continue
		}
		e = errors.Unwrap(e)
	}
	return lines
}

func (c *Controller) transition(to State) bool {
	from := c.state
	if !CanTransition(from, to) {
		c.logger.DPanic("invalid operation transition", zap.String("from", string(from)), zap.String("to", string(to)))
		return false
	}
	c.state = to
	c.transitions = append(c.transitions, Transition{From: from, To: to})
	if len(c.transitions) > maxTransitions {
		c.transitions = c.transitions[len(c.transitions)-maxTransitions:]
	}
	c.logger.Debug("operation transition", zap.String("from", string(from)), zap.String("to", string(to)))
	return true
}

func (c *Controller) emit(stage events.Stage, target, note string) {
	now := c.deps.Clock.Now()
	evt := events.Event{
		RunID:    events.UUIDToBytes(c.runID),
		TS:       now,
		Stage:    stage,
		Kind:     string(c.kind),
		Target:   target,
		Percent:  c.snap.Percent,
		Phase:    c.snap.Phase,
		Messages: c.messages,
		Note:     note,
	}
	if stage.Terminal() && !c.startedAt.IsZero() {
		evt.Dur = max(now.Sub(c.startedAt), 0)
	}
	c.deps.Emitter.Emit(evt)
}

func (c *Controller) publish() {
	v := View{
		Kind:              c.kind,
		State:             c.state,
		Progress:          c.snap,
		Status:            c.status,
		CompletionMessage: c.completion,
		Entries:           c.log.Entries(),
		Appended:          c.log.Appended(),
		Target:            c.target,
		Artifact:          c.artifact,
		Error:             c.lastErr,
		Messages:          c.messages,
		Transitions:       append([]Transition(nil), c.transitions...),
		Done:              c.done,
	}
	if c.runID != uuid.Nil {
		v.RunID = c.runID.String()
	}
	if !c.startedAt.IsZero() {
		started := c.startedAt
		v.StartedAt = &started
	}
	if !c.finishedAt.IsZero() {
		finished := c.finishedAt
		v.FinishedAt = &finished
	}
	c.view.Store(v)
	if c.deps.Display != nil {
		c.deps.Display.Render(v)
	}
}
