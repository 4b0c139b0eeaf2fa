package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bacpac-orchestrator/internal/app"
	"github.com/JakeFAU/bacpac-orchestrator/internal/operation"
)

const closeTimeout = 2 * time.Minute

func newBackupCmd() *cobra.Command {
	var (
		creds            credentialFlags
		database         string
		connectionString string
		output           string
	)
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export a database to a .bacpac file",
		Long: `Exports a database with SqlPackage. --output may name a file or a directory;
a directory receives "{database}-{yyyyMMdd-HHmm}.bacpac". Use either
--connection-string or --server/--user/--password with --database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := creds.credentials()
			req := operation.Request{
				OutputPath:          output,
				UseConnectionString: connectionString != "",
				ConnectionString:    connectionString,
				Server:              c.Server,
				Username:            c.User,
				Password:            c.Password,
				Database:            database,
			}
			return runOperation(cmd, operation.KindBackup, req, nil)
		},
	}
	creds.register(cmd)
	cmd.Flags().StringVarP(&database, "database", "d", "", "database to export")
	cmd.Flags().StringVar(&connectionString, "connection-string", "", "full connection string including the database")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file or directory")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var (
		creds       credentialFlags
		source      string
		database    string
		newDatabase string
	)
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Import a .bacpac file into a database",
		Long: `Imports a bacpac with SqlPackage into an existing database (--database) or
a new one (--new-database). The archive is previewed first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := creds.credentials()
			req := operation.Request{
				BacpacPath:        source,
				Server:            c.Server,
				Username:          c.User,
				Password:          c.Password,
				Database:          database,
				CreateNewDatabase: newDatabase != "",
				NewDatabaseName:   newDatabase,
			}
			return runOperation(cmd, operation.KindRestore, req, func(ctx context.Context, s *app.Session) {
				if source == "" {
					return
				}
				// A failed preview is already in the activity log; the import
				// reports its own error if the file is unusable.
				_, _ = s.Preview(ctx, source)
			})
		},
	}
	creds.register(cmd)
	cmd.Flags().StringVarP(&source, "bacpac", "b", "", "bacpac file to import")
	cmd.Flags().StringVarP(&database, "database", "d", "", "existing target database")
	cmd.Flags().StringVar(&newDatabase, "new-database", "", "create and import into this database")
	return cmd
}

// runOperation builds an App with a terminal display for kind, starts req and
// blocks until the run finishes. SIGINT cancels the run.
func runOperation(cmd *cobra.Command, kind operation.Kind, req operation.Request, before func(context.Context, *app.Session)) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	a, err := buildWithDisplay(cmd.Context(), e, kind, out)
	if err != nil {
		return err
	}
	defer closeApp(a, e.logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := a.Session()
	if before != nil {
		before(ctx, session)
	}
	if _, err := session.Start(ctx, kind, req); err != nil {
		var verr *operation.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("%s: %s", verr.Status, verr.Message)
		}
		return fmt.Errorf("start %s: %w", kind, err)
	}

	final, err := session.Wait(ctx, kind)
	if err != nil {
		e.logger.Info("interrupt received, canceling", zap.String("kind", string(kind)))
		if _, cerr := session.Cancel(context.Background(), kind); cerr != nil {
			return fmt.Errorf("cancel %s: %w", kind, cerr)
		}
		waitCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if final, err = session.Wait(waitCtx, kind); err != nil {
			return err
		}
	}

	switch final.State {
	case operation.StateCompleted:
		return nil
	case operation.StateCanceled:
		return fmt.Errorf("%s canceled", kind)
	default:
		return fmt.Errorf("%s failed: %s", kind, final.Error)
	}
}

func buildWithDisplay(ctx context.Context, e *env, kind operation.Kind, out io.Writer) (*app.App, error) {
	var opts app.Options
	display := newTerminalDisplay(out)
	if kind == operation.KindBackup {
		opts.BackupDisplay = display
	} else {
		opts.RestoreDisplay = display
	}
	a, err := newApp(ctx, e.cfg, e.logger, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return a, nil
}

func closeApp(a *app.App, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
}
