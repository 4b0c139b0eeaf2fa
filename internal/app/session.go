package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/bacpac-orchestrator/internal/bacpac"
	"github.com/JakeFAU/bacpac-orchestrator/internal/connstr"
	"github.com/JakeFAU/bacpac-orchestrator/internal/consumer"
	"github.com/JakeFAU/bacpac-orchestrator/internal/operation"
)

// Prerequisite names declared on a controller while a collaborator call is
// in flight.
const (
	PrereqDatabases      = "databases"
	PrereqConnectionTest = "connection-test"
	PrereqPreview        = "preview"
)

// ErrUnknownKind is returned for an operation kind the session does not run.
var ErrUnknownKind = errors.New("unknown operation kind")

// Catalog lists databases and probes connections on the SQL server.
type Catalog interface {
	ListUserDatabases(ctx context.Context, creds connstr.Credentials) ([]string, error)
	TestConnection(ctx context.Context, dsn string) error
}

// Session pairs the backup and restore controllers on one consumer loop. Its
// methods may be called from any goroutine; every controller mutation is
// marshalled onto the loop.
type Session struct {
	loop    *consumer.Loop
	ctrls   map[operation.Kind]*operation.Controller
	catalog Catalog
	logger  *zap.Logger
}

// NewSession wires the controllers. Both must deliver through loop.
func NewSession(loop *consumer.Loop, backup, restore *operation.Controller, catalog Catalog, logger *zap.Logger) (*Session, error) {
	if loop == nil {
		return nil, errors.New("consumer loop is required")
	}
	if backup == nil || backup.Kind() != operation.KindBackup {
		return nil, errors.New("backup controller is required")
	}
	if restore == nil || restore.Kind() != operation.KindRestore {
		return nil, errors.New("restore controller is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		loop: loop,
		ctrls: map[operation.Kind]*operation.Controller{
			operation.KindBackup:  backup,
			operation.KindRestore: restore,
		},
		catalog: catalog,
		logger:  logger.Named("session"),
	}, nil
}

// Controller returns the controller for kind.
func (s *Session) Controller(kind operation.Kind) (*operation.Controller, error) {
	c, ok := s.ctrls[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return c, nil
}

// View returns the latest published view of kind.
func (s *Session) View(kind operation.Kind) (operation.View, error) {
	c, err := s.Controller(kind)
	if err != nil {
		return operation.View{}, err
	}
	return c.View(), nil
}

// Start launches an operation and returns the view right after the attempt.
// Gating and validation errors come back unchanged.
func (s *Session) Start(ctx context.Context, kind operation.Kind, req operation.Request) (operation.View, error) {
	c, err := s.Controller(kind)
	if err != nil {
		return operation.View{}, err
	}
	var startErr error
	if err := s.loop.Do(ctx, func() { startErr = c.Start(req) }); err != nil {
		return c.View(), fmt.Errorf("start %s: %w", kind, err)
	}
	return c.View(), startErr
}

// Cancel requests cancellation; false means nothing was running.
func (s *Session) Cancel(ctx context.Context, kind operation.Kind) (bool, error) {
	return s.onLoop(ctx, kind, (*operation.Controller).Cancel)
}

// Reset clears a finished operation; false means it is still active.
func (s *Session) Reset(ctx context.Context, kind operation.Kind) (bool, error) {
	return s.onLoop(ctx, kind, (*operation.Controller).Reset)
}

func (s *Session) onLoop(ctx context.Context, kind operation.Kind, fn func(*operation.Controller) bool) (bool, error) {
	c, err := s.Controller(kind)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := s.loop.Do(ctx, func() { ok = fn(c) }); err != nil {
		return false, fmt.Errorf("%s on loop: %w", kind, err)
	}
	return ok, nil
}

// Wait blocks until the current run of kind is finalized and returns the
// final view.
func (s *Session) Wait(ctx context.Context, kind operation.Kind) (operation.View, error) {
	c, err := s.Controller(kind)
	if err != nil {
		return operation.View{}, err
	}
	v := c.View()
	select {
	case <-v.Done:
		return c.View(), nil
	case <-ctx.Done():
		return c.View(), fmt.Errorf("wait for %s: %w", kind, ctx.Err())
	}
}

// LoadDatabases lists the user databases for creds and reports the outcome in
// kind's activity log. Start on kind is refused until the listing finishes.
// The gate is taken with a detached context so a prerequisite can never be
// acquired without its release running.
func (s *Session) LoadDatabases(ctx context.Context, kind operation.Kind, creds connstr.Credentials) ([]string, error) {
	c, err := s.Controller(kind)
	if err != nil {
		return nil, err
	}
	if s.catalog == nil {
		return nil, errors.New("database catalog is not configured")
	}

	var (
		done    func()
		gateErr error
	)
	err = s.loop.Do(context.WithoutCancel(ctx), func() {
		if verr := operation.ValidateCredentials(creds); verr != nil {
			c.Note(verr.Status, verr.Message)
			gateErr = verr
			return
		}
		done, gateErr = c.BeginPrerequisite(PrereqDatabases)
		if gateErr != nil {
			return
		}
		c.Note("Loading databases...", "Connecting to server and loading databases...")
	})
	if err != nil {
		return nil, fmt.Errorf("load databases: %w", err)
	}
	if gateErr != nil {
		return nil, gateErr
	}
	defer done()

	names, listErr := s.catalog.ListUserDatabases(ctx, creds)
	s.loop.Post(func() {
		if listErr != nil {
			c.Note("Database load failed", fmt.Sprintf("Failed to load databases: %v", listErr))
			return
		}
		c.Note(fmt.Sprintf("%d database(s) ready", len(names)), fmt.Sprintf("Found %d available database(s).", len(names)))
	})
	if listErr != nil {
		s.logger.Warn("database listing failed", zap.String("kind", string(kind)), zap.Error(listErr))
		return nil, listErr
	}
	return names, nil
}

// TestConnection probes a connection with SELECT 1 and reports the outcome in
// kind's activity log. A non-blank connectionString wins over creds.
func (s *Session) TestConnection(ctx context.Context, kind operation.Kind, connectionString string, creds connstr.Credentials) error {
	c, err := s.Controller(kind)
	if err != nil {
		return err
	}
	if s.catalog == nil {
		return errors.New("database catalog is not configured")
	}

	var (
		dsn     string
		done    func()
		gateErr error
	)
	err = s.loop.Do(context.WithoutCancel(ctx), func() {
		if strings.TrimSpace(connectionString) != "" {
			dsn = connectionString
		} else {
			if verr := operation.ValidateCredentials(creds); verr != nil {
				c.Note(verr.Status, verr.Message)
				gateErr = verr
				return
			}
			dsn = connstr.DriverDSN(creds, "master")
		}
		done, gateErr = c.BeginPrerequisite(PrereqConnectionTest)
		if gateErr != nil {
			return
		}
		c.Note("Testing connection...", "Testing SQL connection...")
	})
	if err != nil {
		return fmt.Errorf("test connection: %w", err)
	}
	if gateErr != nil {
		return gateErr
	}
	defer done()

	testErr := s.catalog.TestConnection(ctx, dsn)
	s.loop.Post(func() {
		if testErr != nil {
			c.Note("Connection failed", fmt.Sprintf("Connection failed: %v", testErr))
			return
		}
		c.Note("Connection successful", "Connection successful.")
	})
	return testErr
}

// Preview summarizes a bacpac for the restore operation and logs the result
// in the restore activity log.
func (s *Session) Preview(ctx context.Context, path string) (bacpac.Summary, error) {
	c := s.ctrls[operation.KindRestore]
	if strings.TrimSpace(path) == "" {
		verr := &operation.ValidationError{Field: "bacpac_path", Message: "Select a bacpac file first.", Status: "Bacpac required"}
		if err := s.loop.Do(ctx, func() { c.Note(verr.Status, verr.Message) }); err != nil {
			return bacpac.Summary{}, fmt.Errorf("preview: %w", err)
		}
		return bacpac.Summary{}, verr
	}

	var (
		done    func()
		gateErr error
	)
	err := s.loop.Do(context.WithoutCancel(ctx), func() {
		done, gateErr = c.BeginPrerequisite(PrereqPreview)
		if gateErr == nil {
			c.Note("Reading bacpac...", "Reading bacpac preview...")
		}
	})
	if err != nil {
		return bacpac.Summary{}, fmt.Errorf("preview: %w", err)
	}
	if gateErr != nil {
		return bacpac.Summary{}, gateErr
	}
	defer done()

	summary, previewErr := bacpac.Preview(ctx, path)
	s.loop.Post(func() {
		if previewErr != nil {
			c.Note("Preview failed", fmt.Sprintf("Bacpac preview failed: %v", previewErr))
			return
		}
		c.Note("Preview ready", fmt.Sprintf(
			"Bacpac preview loaded: %s (%s), database '%s', %d table(s), %d view(s), %d procedure(s).",
			summary.FileName, summary.HumanSize(), summary.DatabaseName,
			summary.Tables, summary.Views, summary.Procedures,
		))
	})
	return summary, previewErr
}

// Shutdown cancels active runs and waits for them to finalize.
func (s *Session) Shutdown(ctx context.Context) error {
	var errs []error
	for _, kind := range []operation.Kind{operation.KindBackup, operation.KindRestore} {
		canceled, err := s.Cancel(ctx, kind)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if canceled {
			s.logger.Info("canceling active operation for shutdown", zap.String("kind", string(kind)))
		}
		if _, err := s.Wait(ctx, kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
