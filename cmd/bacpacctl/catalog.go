package main

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/bacpac-orchestrator/internal/app"
	"github.com/JakeFAU/bacpac-orchestrator/internal/operation"
)

func newPreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <file.bacpac>",
		Short: "Summarize a .bacpac archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), e.cfg, e.logger, app.Options{})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer closeApp(a, e.logger)

			summary, err := a.Session().Preview(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("preview %s: %w", args[0], err)
			}
			return pterm.DefaultTable.
				WithWriter(cmd.OutOrStdout()).
				WithData(pterm.TableData{
					{"File", summary.FileName},
					{"Size", summary.HumanSize()},
					{"Database", summary.DatabaseName},
					{"Tables", strconv.Itoa(summary.Tables)},
					{"Views", strconv.Itoa(summary.Views)},
					{"Procedures", strconv.Itoa(summary.Procedures)},
				}).
				Render()
		},
	}
}

func newDatabasesCmd() *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "databases",
		Short: "List user databases on a server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), e.cfg, e.logger, app.Options{})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer closeApp(a, e.logger)

			names, err := a.Session().LoadDatabases(cmd.Context(), operation.KindRestore, creds.credentials())
			if err != nil {
				return fmt.Errorf("load databases: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				pterm.Warning.WithWriter(out).Println("No user databases found.")
				return nil
			}
			items := make([]pterm.BulletListItem, 0, len(names))
			for _, name := range names {
				items = append(items, pterm.BulletListItem{Level: 0, Text: name})
			}
			return pterm.DefaultBulletList.WithWriter(out).WithItems(items).Render()
		},
	}
	creds.register(cmd)
	return cmd
}

func newTestConnectionCmd() *cobra.Command {
	var (
		creds            credentialFlags
		connectionString string
	)
	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Check that a server accepts the given login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), e.cfg, e.logger, app.Options{})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer closeApp(a, e.logger)

			if err := a.Session().TestConnection(cmd.Context(), operation.KindBackup, connectionString, creds.credentials()); err != nil {
				return fmt.Errorf("connection failed: %w", err)
			}
			pterm.Success.WithWriter(cmd.OutOrStdout()).Println("Connection successful.")
			return nil
		},
	}
	creds.register(cmd)
	cmd.Flags().StringVar(&connectionString, "connection-string", "", "test this connection string instead of server credentials")
	return cmd
}
