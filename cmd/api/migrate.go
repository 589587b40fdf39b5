package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"consult-platform/internal/migrations"

	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "Maximum time for the migration run")

	run := func(name string, fn func(ctx context.Context, cmd *cobra.Command, db *sql.DB) error) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: "Migrate " + name,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()

				cfg, log, err := loadConfig()
				if err != nil {
					return err
				}
				db, err := openDB(ctx, cfg)
				if err != nil {
					return err
				}
				defer db.Close()

				log.Info("running migrations", "direction", name)
				return fn(ctx, cmd, db)
			},
		}
	}

	cmd.AddCommand(run("up", func(ctx context.Context, cmd *cobra.Command, db *sql.DB) error {
		return migrations.Up(ctx, db)
	}))
	cmd.AddCommand(run("down", func(ctx context.Context, cmd *cobra.Command, db *sql.DB) error {
		return migrations.Down(ctx, db)
	}))
	cmd.AddCommand(run("version", func(ctx context.Context, cmd *cobra.Command, db *sql.DB) error {
		v, err := migrations.Version(ctx, db)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	}))
	return cmd
}
