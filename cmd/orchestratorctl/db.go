package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/sms-orchestrator/internal/container"
	"github.com/garyjia/sms-orchestrator/pkg/database"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long:  "Applies the SQLite schema migrations. Uses the embedded migrations unless --dir is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.Driver != container.DriverSQLite {
				return fmt.Errorf("migrate needs the sqlite driver, config uses %q", cfg.Database.Driver)
			}
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, err := database.New(database.Config{
				Path:            cfg.Database.Path,
				MaxOpenConns:    cfg.Database.MaxOpenConns,
				MaxIdleConns:    cfg.Database.MaxIdleConns,
				ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
				BusyTimeout:     cfg.Database.BusyTimeout,
			}, logger)
			if err != nil {
				return fmt.Errorf("open database %s: %w", cfg.Database.Path, err)
			}
			defer db.Close()

			if dir == "" {
				dir = cfg.Database.MigrationsDir
			}
			migrator := database.NewMigrator(db, logger)
			if err := migrator.RunMigrations(dir); err != nil {
				return err
			}

			applied, err := migrator.Applied()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database %s at version %d (%d migrations applied)\n",
				cfg.Database.Path, lastVersion(applied), len(applied))
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "directory of .sql migrations to apply instead of the embedded set")
	return cmd
}

func lastVersion(applied []int) int {
	max := 0
	for _, v := range applied {
		if v > max {
			max = v
		}
	}
	return max
}
