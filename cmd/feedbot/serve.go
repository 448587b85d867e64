package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"feed_notifier/internal/config"
	"feed_notifier/internal/message"
	"feed_notifier/internal/scheduler"
	"feed_notifier/internal/server"
	"feed_notifier/internal/service"
	"feed_notifier/internal/storage/postgres"
	"feed_notifier/internal/transport/rabbitmq"
	"feed_notifier/internal/transport/telegram"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the ingestion and notification loops",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "migrate",
				Usage:   "apply database migrations before starting",
				EnvVars: []string{"FEEDBOT_AUTO_MIGRATE"},
			},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if c.Bool("migrate") {
		if err := postgres.Migrate(cfg.Database.URL()); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	db, err := openDB(c, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database", "host", cfg.Database.Host, "dbname", cfg.Database.DBName)

	sender, closeSender, err := newSender(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSender()

	feeds := postgres.NewFeedStore(db)
	items := postgres.NewItemStore(db)
	subscribers := postgres.NewSubscriberStore(db)

	ingest := service.NewIngestService(feeds, items, newSource(cfg, logger), logger, cfg.Ingest)
	dispatcher := service.NewDispatcher(sender, subscribers, message.NewFormatter(cfg.Notify.MaxBodyRunes), logger, cfg.Notify)
	notify := service.NewNotifyService(feeds, items, subscribers, dispatcher, logger, cfg.Notify)

	ingestRunner := scheduler.NewRunner("ingest", func(ctx context.Context) error {
		_, err := ingest.Ingest(ctx)
		return err
	}, cfg.Ingest.Interval, cfg.Ingest.CycleTimeout, logger)

	notifyRunner := scheduler.NewRunner("notify", func(ctx context.Context) error {
		_, err := notify.Scan(ctx)
		return err
	}, cfg.Notify.Interval, cfg.Notify.CycleTimeout, logger)

	logger.Info("starting feed notifier",
		"transport", cfg.Transport.Kind,
		"ingest_interval", cfg.Ingest.Interval,
		"notify_interval", cfg.Notify.Interval,
		"lookback_window", cfg.Notify.LookbackWindow,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(ingestRunner.Start(gctx)) })
	g.Go(func() error { return ignoreCanceled(notifyRunner.Start(gctx)) })

	if cfg.Metrics.ListenAddr != "" {
		srv := server.New(cfg.Metrics.ListenAddr, db, map[string]server.TaskStatus{
			"ingest": ingestRunner,
			"notify": notifyRunner,
		}, logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("feed notifier stopped")
	return nil
}

func newSender(cfg *config.Config, logger *slog.Logger) (service.Sender, func(), error) {
	switch cfg.Transport.Kind {
	case config.TransportAMQP:
		sender, err := rabbitmq.NewSender(rabbitmq.Config{
			URL:        cfg.Transport.RabbitMQ.URL,
			Exchange:   cfg.Transport.RabbitMQ.Exchange,
			RoutingKey: cfg.Transport.RabbitMQ.RoutingKey,
			QueueName:  cfg.Transport.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return sender, func() { _ = sender.Close() }, nil

	case config.TransportTelegram:
		tg := cfg.Transport.Telegram
		sender, err := telegram.NewClient(telegram.Config{
			Token:                 tg.Token,
			BaseURL:               tg.BaseURL,
			Timeout:               tg.Timeout,
			MessagesPerSecond:     tg.MessagesPerSecond,
			Burst:                 tg.Burst,
			DisableWebPagePreview: tg.DisableWebPagePreview,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return sender, func() {}, nil
	}

	return nil, nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
