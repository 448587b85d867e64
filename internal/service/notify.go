package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"feed_notifier/internal/config"
	"feed_notifier/internal/domain"
)

type NotifyService struct {
	feeds       FeedStore
	items       ItemStore
	subscribers SubscriberStore
	dispatcher  *Dispatcher
	logger      *slog.Logger
	config      config.NotifyConfig
	now         func() time.Time
}

func NewNotifyService(
	feeds FeedStore,
	items ItemStore,
	subscribers SubscriberStore,
	dispatcher *Dispatcher,
	logger *slog.Logger,
	cfg config.NotifyConfig,
) *NotifyService {
	return &NotifyService{
		feeds:       feeds,
		items:       items,
		subscribers: subscribers,
		dispatcher:  dispatcher,
		logger:      logger.With("component", "notify"),
		config:      cfg,
		now:         time.Now,
	}
}

// Scan finds every feed with recent items and active subscribers and hands
// each subscriber's unseen items to the dispatcher. Subscribers are served
// in parallel, each one strictly in order.
func (s *NotifyService) Scan(ctx context.Context) (*domain.NotifyStats, error) {
	startTime := time.Now()
	since := s.now().Add(-s.config.LookbackWindow)

	feeds, err := s.feeds.ListPendingNotification(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list pending feeds: %w", err)
	}

	s.logger.Debug("starting scan", "feeds", len(feeds), "since", since)

	stats := &domain.NotifyStats{Feeds: len(feeds)}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(max(s.config.Concurrency, 1))

	for _, feed := range feeds {
		if stopping(ctx) {
			s.logger.Info("scan interrupted by shutdown", "feed_id", feed.ID)
			break
		}

		subscribers, items, err := s.loadFeed(ctx, feed.ID, since)
		if err != nil {
			stats.Errors++
			s.logger.Error("skipping feed", "feed_id", feed.ID, "error", err)
			continue
		}

		for _, sub := range subscribers {
			pending := unseenItems(sub, items)
			if len(pending) == 0 {
				continue
			}

			g.Go(func() error {
				result, err := s.dispatcher.Deliver(ctx, feed, sub, pending)

				mu.Lock()
				defer mu.Unlock()

				stats.Subscribers++
				stats.Sent += result.Sent
				if err != nil {
					stats.Failed++
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	stats.Duration = time.Since(startTime)

	if stats.Subscribers > 0 || stats.Errors > 0 {
		s.logger.Info("scan completed",
			"feeds", stats.Feeds,
			"subscribers", stats.Subscribers,
			"sent", stats.Sent,
			"failed", stats.Failed,
			"errors", stats.Errors,
			"duration", stats.Duration,
		)
	}

	return stats, nil
}

func (s *NotifyService) loadFeed(ctx context.Context, feedID int64, since time.Time) ([]domain.Subscriber, []domain.FeedItem, error) {
	subscribers, err := s.subscribers.ListActiveByFeed(ctx, feedID)
	if err != nil {
		return nil, nil, fmt.Errorf("list subscribers: %w", err)
	}

	items, err := s.items.ListRecentByFeed(ctx, feedID, since)
	if err != nil {
		return nil, nil, fmt.Errorf("list recent items: %w", err)
	}

	return subscribers, items, nil
}

func unseenItems(sub domain.Subscriber, items []domain.FeedItem) []domain.FeedItem {
	pending := lo.Filter(items, func(item domain.FeedItem, _ int) bool {
		return sub.IsNew(item)
	})
	slices.SortFunc(pending, func(a, b domain.FeedItem) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return pending
}
