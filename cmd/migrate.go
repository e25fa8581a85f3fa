package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	pgstore "github.com/shivamtherexpandey/usm-app/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres schema and seed the free plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return errors.New("database.dsn is required to migrate")
			}
			pool, err := pgstore.Open(cmd.Context(), pgstore.Config{DSN: cfg.Database.DSN})
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := pgstore.Migrate(cmd.Context(), pool, cfg.Database.SummariesTable); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			cmd.Printf("schema applied (summaries table %q)\n", cfg.Database.SummariesTable)
			return nil
		},
	}
}
