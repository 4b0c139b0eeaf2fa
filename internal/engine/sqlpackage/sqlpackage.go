// Package sqlpackage runs exports and imports through the SqlPackage CLI.
package sqlpackage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/bacpac-orchestrator/internal/bacpac"
	"github.com/JakeFAU/bacpac-orchestrator/internal/connstr"
	"github.com/JakeFAU/bacpac-orchestrator/internal/engine"
)

const (
	defaultBinary    = "sqlpackage"
	defaultWaitDelay = 5 * time.Second
	maxLineBytes     = 1 << 20
)

// Config controls how the CLI is launched.
type Config struct {
	// Binary is the executable name or path.
	Binary string `mapstructure:"binary"`
	// PrefixArgs are placed before the action arguments.
	PrefixArgs []string `mapstructure:"prefix_args"`
	// ExtraArgs are appended after the action arguments, e.g. "/Diagnostics:True".
	ExtraArgs []string `mapstructure:"extra_args"`
	// Env entries are added to the inherited environment.
	Env []string `mapstructure:"env"`
	// WaitDelay bounds how long output pipes may linger after cancellation.
	WaitDelay time.Duration `mapstructure:"wait_delay"`
}

// Engine implements engine.Engine on top of the SqlPackage executable.
type Engine struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

var _ engine.Engine = (*Engine)(nil)

// New constructs an Engine.
func New(cfg Config, logger *zap.Logger) *Engine {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, logger: logger.Named("sqlpackage"), now: time.Now}
}

// Export writes the database named by connection to targetPath.
func (e *Engine) Export(ctx context.Context, connection, targetPath string, progress engine.ProgressFunc) (engine.Result, error) {
	start := time.Now()
	database, err := connstr.Database(connection)
	if err != nil {
		return engine.Result{}, fmt.Errorf("export: %w", err)
	}
	target, err := bacpac.ResolveExportPath(targetPath, database, e.now())
	if err != nil {
		return engine.Result{}, fmt.Errorf("export: %w", err)
	}

	report(progress, fmt.Sprintf("Exporting database '%s'...", database))
	err = e.run(ctx, "Export", progress,
		"/Action:Export",
		"/SourceConnectionString:"+connection,
		"/TargetFile:"+target,
	)
	if err != nil {
		return engine.Result{}, err
	}
	return engine.Result{Path: target, Database: database, Duration: time.Since(start)}, nil
}

// Import restores the bacpac at sourcePath into the database named by
// connection.
func (e *Engine) Import(ctx context.Context, sourcePath, connection string, progress engine.ProgressFunc) (engine.Result, error) {
	start := time.Now()
	source, err := bacpac.ResolveImportPath(sourcePath)
	if err != nil {
		return engine.Result{}, fmt.Errorf("import: %w", err)
	}
	database, err := connstr.Database(connection)
	if err != nil {
		return engine.Result{}, fmt.Errorf("import: %w", err)
	}

	report(progress, fmt.Sprintf("Importing bacpac into '%s'...", database))
	err = e.run(ctx, "Import", progress,
		"/Action:Import",
		"/SourceFile:"+source,
		"/TargetConnectionString:"+connection,
	)
	if err != nil {
		return engine.Result{}, err
	}
	return engine.Result{Path: source, Database: database, Duration: time.Since(start)}, nil
}

func (e *Engine) run(ctx context.Context, action string, progress engine.ProgressFunc, actionArgs ...string) error {
	args := make([]string, 0, len(e.cfg.PrefixArgs)+len(actionArgs)+len(e.cfg.ExtraArgs))
	args = append(args, e.cfg.PrefixArgs...)
	args = append(args, actionArgs...)
	args = append(args, e.cfg.ExtraArgs...)

	cmd := exec.CommandContext(ctx, e.cfg.Binary, args...)
	cmd.WaitDelay = e.cfg.WaitDelay
	if len(e.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), e.cfg.Env...)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%s stdout pipe: %w", strings.ToLower(action), err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%s stderr pipe: %w", strings.ToLower(action), err)
	}

	e.logger.Debug("starting sqlpackage", zap.String("action", action), zap.String("binary", e.cfg.Binary))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start sqlpackage %s: %w", strings.ToLower(action), err)
	}

	var streams errgroup.Group
	streams.Go(func() error { return scanLines(stdout, progress) })
	streams.Go(func() error { return scanLines(stderr, progress) })
	scanErr := streams.Wait()
	waitErr := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w: %w", strings.ToLower(action), engine.ErrCanceled, ctxErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return fmt.Errorf("sqlpackage %s exited with code %d: %w", strings.ToLower(action), exitErr.ExitCode(), waitErr)
		}
		return fmt.Errorf("wait sqlpackage %s: %w", strings.ToLower(action), waitErr)
	}
	if scanErr != nil {
		return fmt.Errorf("read sqlpackage output: %w", scanErr)
	}
	e.logger.Debug("sqlpackage finished", zap.String("action", action))
	return nil
}

func scanLines(r io.Reader, progress engine.ProgressFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		report(progress, strings.TrimRight(scanner.Text(), "\r"))
	}
	err := scanner.Err()
	if err == nil || errors.Is(err, os.ErrClosed) {
		return nil
	}
	// Keep the pipe empty so sqlpackage never blocks writing to it.
	_, _ = io.Copy(io.Discard, r)
	return err
}

func report(progress engine.ProgressFunc, line string) {
	if progress != nil {
		progress(line)
	}
}
