package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bacpac-orchestrator/internal/app"
	"github.com/JakeFAU/bacpac-orchestrator/internal/config"
	"github.com/JakeFAU/bacpac-orchestrator/internal/connstr"
	"github.com/JakeFAU/bacpac-orchestrator/internal/logging"
)

const passwordEnv = "BACPAC_SQL_PASSWORD"

// envKeyType is the key for storing the command environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env is what every subcommand needs before it builds an App.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the application factory. Tests replace it to inject a catalog
// or backends.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts app.Options) (*app.App, error) {
	return app.Build(ctx, cfg, logger, opts)
}

// loadConfig is swapped in tests so commands run without files or env.
var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		verbose bool
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "bacpacctl",
		Short: "Back up and restore SQL Server databases as .bacpac archives.",
		Long: `bacpacctl drives SqlPackage exports and imports, showing live progress and
an activity log, and records every run. It can also serve the same operations
over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if dryRun {
				cfg.Engine.Driver = config.EngineScripted
			}
			logger, err := logging.NewCLI(verbose)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
	cmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "replay a scripted transfer instead of running sqlpackage")

	cmd.AddCommand(
		newBackupCmd(),
		newRestoreCmd(),
		newPreviewCmd(),
		newDatabasesCmd(),
		newTestConnectionCmd(),
		newServeCmd(),
	)
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

// credentialFlags are shared by every command that talks to a server.
type credentialFlags struct {
	server   string
	user     string
	password string
}

func (c *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&c.server, "server", "S", "", "SQL Server host, host,port or host\\instance")
	cmd.Flags().StringVarP(&c.user, "user", "U", "", "SQL login")
	cmd.Flags().StringVarP(&c.password, "password", "P", "", "SQL password (default $"+passwordEnv+")")
}

func (c *credentialFlags) credentials() connstr.Credentials {
	password := c.password
	if password == "" {
		password = os.Getenv(passwordEnv)
	}
	return connstr.Credentials{Server: strings.TrimSpace(c.server), User: c.user, Password: password}
}
