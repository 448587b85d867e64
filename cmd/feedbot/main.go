package main

import (
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/urfave/cli/v2"

	"feed_notifier/internal/config"
	"feed_notifier/internal/source/rss"
	"feed_notifier/internal/storage/postgres"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		setupLogger("info").Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "feedbot",
		Usage: "Polls RSS/Atom feeds and notifies subscribed chats about new items",
		Description: `feedbot keeps a PostgreSQL copy of every subscribed feed and
		sends each subscribed chat the items it has not seen yet, in order.

		The config file path can be set via FEEDBOT_CONFIG; values inside the
		file may reference environment variables as ${NAME}.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				EnvVars: []string{"FEEDBOT_CONFIG"},
				Value:   "config.yaml",
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			rollbackCmd(),
			subscribeCmd(),
			unsubscribeCmd(),
			listCmd(),
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	return cfg, setupLogger(cfg.LogLevel), nil
}

func openDB(c *cli.Context, cfg *config.Config) (*sqlx.DB, error) {
	return postgres.Open(c.Context, cfg.Database.DSN(), postgres.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
}

func newSource(cfg *config.Config, logger *slog.Logger) *rss.Source {
	return rss.New(rss.Config{
		Timeout:        cfg.Source.Timeout,
		UserAgent:      cfg.Source.UserAgent,
		MaxAttempts:    cfg.Source.Retry.MaxAttempts,
		InitialBackoff: cfg.Source.Retry.InitialBackoff,
		MaxBackoff:     cfg.Source.Retry.MaxBackoff,
	}, logger)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
