package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/vnmchuo/careerkit-gateway/config"
	"github.com/vnmchuo/careerkit-gateway/internal/migrations"
)

func newMigrateCmd() *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.PostgresDSN == "" {
				return fmt.Errorf("POSTGRES_DSN is required")
			}

			ctx := cmd.Context()
			pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
			if err != nil {
				return fmt.Errorf("failed to connect postgres: %w", err)
			}
			defer pool.Close()

			if status {
				return migrations.Status(ctx, pool)
			}
			if err := migrations.Up(ctx, pool); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return err
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "print migration status instead of applying")
	return cmd
}
