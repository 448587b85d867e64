package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"feed_notifier/internal/service"
	"feed_notifier/internal/storage/postgres"
)

func chatFlag() cli.Flag {
	return &cli.Int64Flag{
		Name:     "chat",
		Usage:    "chat id to act for",
		Required: true,
	}
}

// withSubscriptions loads config, opens the database and hands a subscription
// service to fn.
func withSubscriptions(c *cli.Context, fn func(*service.SubscriptionService) error) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}

	db, err := openDB(c, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	feeds := postgres.NewFeedStore(db)
	items := postgres.NewItemStore(db)
	source := newSource(cfg, logger)

	subs := service.NewSubscriptionService(
		feeds,
		items,
		postgres.NewSubscriberStore(db),
		source,
		service.NewIngestService(feeds, items, source, logger, cfg.Ingest),
		postgres.NewTransactionManager(db),
		logger,
	)
	return fn(subs)
}

func subscribeCmd() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe a chat to a feed",
		ArgsUsage: "<feed-url>",
		Flags:     []cli.Flag{chatFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("expected exactly one feed url", 2)
			}

			return withSubscriptions(c, func(subs *service.SubscriptionService) error {
				sub, err := subs.Subscribe(c.Context, c.Int64("chat"), c.Args().First())
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "subscribed chat %d to %q (%s)\n",
					sub.Subscriber.ChatID, sub.Feed.Title, sub.Feed.Link)
				return nil
			})
		},
	}
}

func unsubscribeCmd() *cli.Command {
	return &cli.Command{
		Name:      "unsubscribe",
		Usage:     "Remove a chat's subscription to a feed",
		ArgsUsage: "<feed-url>",
		Flags:     []cli.Flag{chatFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("expected exactly one feed url", 2)
			}

			return withSubscriptions(c, func(subs *service.SubscriptionService) error {
				if err := subs.Unsubscribe(c.Context, c.Int64("chat"), c.Args().First()); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "unsubscribed chat %d from %s\n", c.Int64("chat"), c.Args().First())
				return nil
			})
		},
	}
}

func listCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List a chat's active subscriptions",
		Flags: []cli.Flag{chatFlag()},
		Action: func(c *cli.Context) error {
			return withSubscriptions(c, func(subs *service.SubscriptionService) error {
				list, err := subs.List(c.Context, c.Int64("chat"))
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(c.App.Writer, "no subscriptions")
					return nil
				}
				for _, s := range list {
					fmt.Fprintf(c.App.Writer, "%d\t%s\t%s\n", s.Feed.ID, s.Feed.Title, s.Feed.Link)
				}
				return nil
			})
		},
	}
}
