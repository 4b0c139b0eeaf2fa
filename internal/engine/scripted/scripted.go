// Package scripted provides a deterministic engine that replays canned
// diagnostic output. It backs dry runs and controller tests.
package scripted

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/bacpac-orchestrator/internal/engine"
)

// Script describes one canned transfer.
type Script struct {
	// Lines are reported in order, Interval apart.
	Lines    []string
	Interval time.Duration
	// Err is returned after the lines when set.
	Err error
	// WaitForCancel blocks after the lines until the context ends.
	WaitForCancel bool
	// Tail lines are reported from a background goroutine after the call
	// returns, TailDelay apart, imitating an engine whose callbacks trail
	// its completion.
	Tail      []string
	TailDelay time.Duration
	// Result is returned on success. Empty fields are filled from the call.
	Result engine.Result
}

// Call records one invocation.
type Call struct {
	Action     string
	Connection string
	Path       string
}

// Engine replays Export and Import scripts.
type Engine struct {
	mu     sync.Mutex
	export Script
	imp    Script
	calls  []Call
	tails  sync.WaitGroup
}

var _ engine.Engine = (*Engine)(nil)

// New returns an Engine with the given export and import scripts.
func New(export, imp Script) *Engine {
	return &Engine{export: export, imp: imp}
}

// Demo returns scripts resembling a small real transfer.
func Demo(interval time.Duration) *Engine {
	lines := func(op string) []string {
		return []string{
			"Connecting to database on server.",
			fmt.Sprintf("SQL73201: Processing %s. 5%% done.", op),
			fmt.Sprintf("Processing %s. 25.5%% done.", op),
			fmt.Sprintf("Processing %s. 60%% done.", op),
			fmt.Sprintf("Processing %s. 100%% done.", op),
			fmt.Sprintf("Successfully %sed.", strings.ToLower(op)),
		}
	}
	return New(
		Script{Lines: lines("Export"), Interval: interval},
		Script{Lines: lines("Import"), Interval: interval},
	)
}

// SetScripts replaces both scripts.
func (e *Engine) SetScripts(export, imp Script) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.export, e.imp = export, imp
}

// Calls returns the recorded invocations.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// WaitTails blocks until every background tail has been reported.
func (e *Engine) WaitTails() {
	e.tails.Wait()
}

// Export replays the export script.
func (e *Engine) Export(ctx context.Context, connection, targetPath string, progress engine.ProgressFunc) (engine.Result, error) {
	e.mu.Lock()
	script := e.export
	e.calls = append(e.calls, Call{Action: "Export", Connection: connection, Path: targetPath})
	e.mu.Unlock()
	return e.play(ctx, script, targetPath, progress)
}

// Import replays the import script.
func (e *Engine) Import(ctx context.Context, sourcePath, connection string, progress engine.ProgressFunc) (engine.Result, error) {
	e.mu.Lock()
	script := e.imp
	e.calls = append(e.calls, Call{Action: "Import", Connection: connection, Path: sourcePath})
	e.mu.Unlock()
	return e.play(ctx, script, sourcePath, progress)
}

func (e *Engine) play(ctx context.Context, s Script, path string, progress engine.ProgressFunc) (engine.Result, error) {
	start := time.Now()
	for i, line := range s.Lines {
		if i > 0 && s.Interval > 0 {
			if err := sleep(ctx, s.Interval); err != nil {
				return engine.Result{}, err
			}
		}
		if err := ctx.Err(); err != nil {
			return engine.Result{}, fmt.Errorf("%w: %w", engine.ErrCanceled, err)
		}
		if progress != nil {
			progress(line)
		}
	}
	if s.WaitForCancel {
		<-ctx.Done()
		return engine.Result{}, fmt.Errorf("%w: %w", engine.ErrCanceled, ctx.Err())
	}
	if s.Err != nil {
		return engine.Result{}, s.Err
	}
	if len(s.Tail) > 0 && progress != nil {
		e.tails.Add(1)
		go func() {
			defer e.tails.Done()
			for _, line := range s.Tail {
				time.Sleep(s.TailDelay)
				progress(line)
			}
		}()
	}

	res := s.Result
	if res.Path == "" {
		res.Path = path
	}
	res.Duration = time.Since(start)
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", engine.ErrCanceled, ctx.Err())
	case <-timer.C:
		return nil
	}
}
