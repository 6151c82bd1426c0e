package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/teamdesk/pkg/db"
)

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for the teamdesk schema.

The db command connects directly to PostgreSQL using the database settings
of the config file or TEAMDESK_DB_* environment variables. The schema ships
inside the binary: tables, mention join tables and the change notification
triggers the live views listen to.

Examples:
  # Show migration status
  teamdesk db status

  # Apply all pending migrations
  teamdesk db migrate

  # Preview migrations without applying
  teamdesk db migrate --dry-run`,
		Aliases: []string{"database", "migrations"},
	}

	cmd.AddCommand(newDbMigrateCommand(deps))
	cmd.AddCommand(newDbStatusCommand(deps))
	cmd.AddCommand(newDbHealthCommand(deps))
	return cmd
}

type dbMigrateOptions struct {
	dryRun bool
	target string
	yes    bool
}

func newDbMigrateCommand(deps *CommandDeps) *cobra.Command {
	var opts dbMigrateOptions
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending schema migrations.

Each migration runs in its own transaction and is recorded in the
schema_migrations table. A failed migration is rolled back and no further
migrations are attempted.`,
		Example: `  teamdesk db migrate
  teamdesk db migrate --dry-run
  teamdesk db migrate --target 002 --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbMigrate(cmd.Context(), cmd.OutOrStdout(), deps, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().StringVarP(&opts.target, "target", "t", "", "Target version to migrate to (e.g., 002)")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Apply without asking for confirmation")
	return cmd
}

func runDbMigrate(ctx context.Context, out io.Writer, deps *CommandDeps, opts dbMigrateOptions) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	pool, err := deps.ConnectToDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	status, err := db.GetMigrationStatus(ctx, pool, db.Schema())
	if err != nil {
		return fmt.Errorf("getting pending migrations: %w", err)
	}
	if len(status.Pending) == 0 {
		fmt.Fprintln(out, "No pending migrations.")
		return nil
	}

	fmt.Fprintf(out, "Pending migrations (%d):\n", len(status.Pending))
	for _, m := range status.Pending {
		fmt.Fprintf(out, "  %s - %s\n", m.Version, m.Name)
	}
	fmt.Fprintln(out)

	if opts.dryRun {
		fmt.Fprintln(out, "Dry run mode: no migrations applied.")
		return nil
	}

	if !opts.yes {
		fmt.Fprint(out, "Apply these migrations? (y/N): ")
		response, _ := bufio.NewReader(deps.Stdin).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(response)) != "y" {
			fmt.Fprintln(out, "Migration cancelled.")
			return nil
		}
	}

	result, err := db.RunMigrationsToTarget(ctx, pool, db.Schema(), opts.target)
	if err != nil {
		fmt.Fprintf(out, "\n\033[31mMigration failed:\033[0m %v\n", err)
		if result != nil && len(result.Applied) > 0 {
			fmt.Fprintln(out, "\nSuccessfully applied before failure:")
			for _, v := range result.Applied {
				fmt.Fprintf(out, "  \033[32m✓\033[0m %s\n", v)
			}
		}
		return err
	}

	if len(result.Applied) > 0 {
		fmt.Fprintf(out, "\033[32mSuccessfully applied %d migration(s):\033[0m\n", len(result.Applied))
		for _, v := range result.Applied {
			fmt.Fprintf(out, "  \033[32m✓\033[0m %s\n", v)
		}
	}
	if len(result.Skipped) > 0 {
		fmt.Fprintf(out, "\nSkipped %d migration(s) (already applied):\n", len(result.Skipped))
		for _, v := range result.Skipped {
			fmt.Fprintf(out, "  - %s\n", v)
		}
	}
	return nil
}

func newDbStatusCommand(deps *CommandDeps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database migration status",
		Long: `Show applied and pending migrations, and drift: migrations recorded as
applied that are no longer part of the schema.`,
		Example: `  teamdesk db status
  teamdesk db status --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			pool, err := deps.ConnectToDB(ctx, cfg)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()

			status, err := db.GetMigrationStatus(ctx, pool, db.Schema())
			if err != nil {
				return fmt.Errorf("getting migration status: %w", err)
			}
			return writeOutput(cmd.OutOrStdout(), formatFlag(cfg, output), status, func(w io.Writer) error {
				return outputMigrationStatusText(w, status)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

// outputMigrationStatusText formats migration status for terminal display.
func outputMigrationStatusText(w io.Writer, status *db.MigrationStatus) error {
	section := func(title, color string, entries []db.MigrationStatusEntry) {
		if len(entries) == 0 {
			return
		}
		fmt.Fprintf(w, "%s%s (%d):\033[0m\n", color, title, len(entries))
		fmt.Fprintln(w, "  VERSION    NAME                              APPLIED")
		fmt.Fprintln(w, "  -------    ----                              -------")
		for _, m := range entries {
			fmt.Fprintf(w, "  %-10s %-33s %s\n", truncate(m.Version, 10), truncate(m.Name, 33), formatTime(m.AppliedAt))
		}
		fmt.Fprintln(w)
	}
	section("Applied Migrations", "\033[32m", status.Applied)
	section("Pending Migrations", "\033[33m", status.Pending)
	section("Drift - applied but no longer in the schema", "\033[31m", status.Drift)

	if len(status.Applied) == 0 && len(status.Pending) == 0 && len(status.Drift) == 0 {
		fmt.Fprintln(w, "No migrations found.")
		return nil
	}
	fmt.Fprintf(w, "Summary: %d applied, %d pending", len(status.Applied), len(status.Pending))
	if len(status.Drift) > 0 {
		fmt.Fprintf(w, ", \033[31m%d drift\033[0m", len(status.Drift))
	}
	fmt.Fprintln(w)
	return nil
}

func newDbHealthCommand(deps *CommandDeps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check database connectivity and schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			pool, err := deps.ConnectToDB(ctx, cfg)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()

			status := db.Check(ctx, pool)
			err = writeOutput(cmd.OutOrStdout(), formatFlag(cfg, output), status, func(w io.Writer) error {
				state := "\033[32mhealthy\033[0m"
				if !status.Healthy {
					state = "\033[31munhealthy\033[0m"
				}
				fmt.Fprintf(w, "Database: %s (%s)\n", state, status.Latency)
				fmt.Fprintf(w, "  Connections: %d total, %d idle, %d acquired\n", status.TotalConns, status.IdleConns, status.AcquiredConns)
				if len(status.MissingTables) > 0 {
					fmt.Fprintf(w, "  Missing tables: %s\n", strings.Join(status.MissingTables, ", "))
					fmt.Fprintln(w, "  Run 'teamdesk db migrate' to create them.")
				}
				if status.Error != "" {
					fmt.Fprintf(w, "  Error: %s\n", status.Error)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if !status.Healthy {
				return fmt.Errorf("database is unhealthy")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}
