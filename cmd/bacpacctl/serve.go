package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/bacpac-orchestrator/internal/app"
	"github.com/JakeFAU/bacpac-orchestrator/internal/logging"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve backup and restore operations over HTTP",
		Long: `Runs the HTTP API until SIGINT or SIGTERM. Active operations are canceled
and lifecycle sinks flushed before the process exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			cfg := e.cfg
			if port > 0 {
				cfg.Server.Port = port
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			a, err := newApp(cmd.Context(), cfg, logger, app.Options{})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			return a.Run(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}
