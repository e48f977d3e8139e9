package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/iyuvalk/switcher-breeze-rest/internal/api"
	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/database"
	"github.com/iyuvalk/switcher-breeze-rest/migrations"
)

// newRootCmd builds the command tree. Running the binary without a
// subcommand serves the API.
func newRootCmd() *cobra.Command {
	var opts serveOptions

	root := &cobra.Command{
		Use:           "switcher-rest",
		Short:         "REST facade for Switcher smart switches",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv(configEnv),
		"path to the YAML config file (env "+configEnv+"); defaults only when empty")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	for _, c := range []*cobra.Command{root, serve} {
		c.Flags().IntVarP(&opts.port, "port", "p", 0, "override api.port")
		c.Flags().BoolVar(&opts.simulateBridge, "simulate-bridge", false, "answer bridge requests in-process from simulated devices")
	}

	root.AddCommand(serve, newTokenCmd(&opts), newMigrateCmd(&opts), newVersionCmd())
	return root
}

// newTokenCmd issues a bearer token signed with the configured secret.
func newTokenCmd(opts *serveOptions) *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for an API client",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(serveOptions{configPath: opts.configPath})
			if err != nil {
				return err
			}

			token, expires, err := api.IssueToken(cfg.Security.Auth, subject, time.Now())
			if err != nil {
				return fmt.Errorf("issuing token: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token)
			fmt.Fprintf(cmd.ErrOrStderr(), "subject %q, expires %s\n", subject, expires.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVarP(&subject, "subject", "s", "api-client", "sub claim identifying the caller")
	return cmd
}

// newMigrateCmd manages the command journal schema outside of serve, which
// only ever applies pending migrations.
func newMigrateCmd(opts *serveOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the command journal schema",
	}

	withDB := func(fn func(cmd *cobra.Command, db *database.DB) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(serveOptions{configPath: opts.configPath})
			if err != nil {
				return err
			}
			db, err := database.Open(database.FromConfig(cfg.Database))
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close() //nolint:errcheck // read-mostly CLI session
			return fn(cmd, db)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: withDB(func(cmd *cobra.Command, db *database.DB) error {
				if err := db.Migrate(cmd.Context(), migrations.FS); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
				return printMigrationStatus(cmd, db)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: withDB(func(cmd *cobra.Command, db *database.DB) error {
				if err := db.MigrateDown(cmd.Context(), migrations.FS); err != nil {
					return fmt.Errorf("rolling back: %w", err)
				}
				return printMigrationStatus(cmd, db)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			RunE: withDB(func(cmd *cobra.Command, db *database.DB) error {
				return printMigrationStatus(cmd, db)
			}),
		},
	)
	return cmd
}

func printMigrationStatus(cmd *cobra.Command, db *database.DB) error {
	applied, pending, err := db.MigrationStatus(cmd.Context(), migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, m := range applied {
		fmt.Fprintf(out, "applied  %s  %s\n", m.Version, m.AppliedAt.UTC().Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "switcher-rest %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
