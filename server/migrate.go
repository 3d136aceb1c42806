package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/devilmonastery/critterforge/internal/config"
	"github.com/devilmonastery/critterforge/internal/infrastructure/database/postgres"
	"github.com/devilmonastery/critterforge/migrations"
)

func newMigrateCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, pgConn, err := openDatabase(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer pgConn.Close()

			if err := pgConn.RunMigrations(migrations.FS); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			return printMigrationVersion(cmd, pgConn)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Force the migration version (use to fix dirty migration state)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil || version < 0 {
				return fmt.Errorf("invalid migration version %q", args[0])
			}

			_, pgConn, err := openDatabase(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer pgConn.Close()

			if err := pgConn.ForceMigrationVersion(migrations.FS, version); err != nil {
				return fmt.Errorf("failed to force migration version: %w", err)
			}
			slog.Info("Migration version forced", "version", version)
			return printMigrationVersion(cmd, pgConn)
		},
	})

	return cmd
}

func printMigrationVersion(cmd *cobra.Command, pgConn *postgres.Connection) error {
	version, dirty, err := pgConn.MigrationVersion(migrations.FS)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	cmd.Printf("schema version %d (dirty: %t)\n", version, dirty)
	return nil
}

// openDatabase loads the config and connects once, without retries
func openDatabase(ctx context.Context, configPath string) (*config.Config, *postgres.Connection, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	pgConn, err := postgres.NewConnection(ctx, cfg.Database.Postgres.ConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}
	return cfg, pgConn, nil
}
