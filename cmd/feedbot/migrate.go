package main

import (
	"github.com/urfave/cli/v2"

	"feed_notifier/internal/storage/postgres"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run database migrations",
		Description: `Applies every pending migration to the configured database.`,
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}

			logger.Info("running migrations", "host", cfg.Database.Host, "dbname", cfg.Database.DBName)
			if err := postgres.Migrate(cfg.Database.URL()); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}

func rollbackCmd() *cli.Command {
	return &cli.Command{
		Name:        "rollback",
		Usage:       "Roll back the most recent migration",
		Description: `Reverts one migration step on the configured database.`,
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}

			if err := postgres.Rollback(cfg.Database.URL()); err != nil {
				return err
			}
			logger.Info("rolled back one migration", "dbname", cfg.Database.DBName)
			return nil
		},
	}
}
