package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/shestoi/paygate/internal/app"
	"github.com/shestoi/paygate/internal/config"
	"github.com/shestoi/paygate/internal/repository"
	"github.com/shestoi/paygate/internal/repository/postgres"
	"github.com/shestoi/paygate/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "paygate",
		Short:         "Payment processing service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(outboxCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, payment worker and outbox dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			a, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}
			return a.Run(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadPostgresConfig()
			if err != nil {
				return err
			}
			if err := migrations.Up(cmd.Context(), cfg.PostgresDSN); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Manage the outbox of payment events",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "retry <event_id>",
		Short: "Requeue a failed outbox event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadPostgresConfig()
			if err != nil {
				return err
			}

			pool, err := pgxpool.New(cmd.Context(), cfg.PostgresDSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			repo := postgres.NewRepository(pool)
			if err := repo.ResetOutboxEventPending(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("outbox event %s not found", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "outbox event %s requeued\n", args[0])
			return nil
		},
	})

	return cmd
}

// loadPostgresConfig команды обслуживания работают только с PostgreSQL
func loadPostgresConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if cfg.Storage != config.StoragePostgres || cfg.PostgresDSN == "" {
		return config.Config{}, errors.New("STORAGE=postgres and PAYGATE_POSTGRES_DSN are required")
	}
	return cfg, nil
}
