package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kiko-hq/kiko/internal/config"
	"github.com/kiko-hq/kiko/internal/storage"
	"github.com/kiko-hq/kiko/migrations"
)

func newMigrateCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			// Only the database URL matters here; skip full validation so
			// migrations can run before prompts or models are configured.
			dsn := config.DatabaseURL()
			db, err := storage.New(ctx, dsn, logger)
			if err != nil {
				return fmt.Errorf("storage: %w", err)
			}
			defer db.Close()

			if err := db.RunMigrations(ctx, migrations.FS); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}
