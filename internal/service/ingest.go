package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"feed_notifier/internal/config"
	"feed_notifier/internal/domain"
	"feed_notifier/internal/metrics"
)

type IngestService struct {
	feeds  FeedStore
	items  ItemStore
	source Source
	logger *slog.Logger
	config config.IngestConfig
	now    func() time.Time
}

func NewIngestService(
	feeds FeedStore,
	items ItemStore,
	source Source,
	logger *slog.Logger,
	cfg config.IngestConfig,
) *IngestService {
	return &IngestService{
		feeds:  feeds,
		items:  items,
		source: source,
		logger: logger.With("component", "ingest"),
		config: cfg,
		now:    time.Now,
	}
}

// Ingest fetches every registered feed and merges its items into the store.
// A failing feed is recorded and skipped; it never aborts the others.
func (s *IngestService) Ingest(ctx context.Context) (*domain.IngestStats, error) {
	startTime := time.Now()

	feeds, err := s.feeds.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}

	s.logger.Info("starting ingest", "feeds", len(feeds), "concurrency", s.config.Concurrency)

	stats := &domain.IngestStats{Feeds: len(feeds)}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(max(s.config.Concurrency, 1))

	for _, feed := range feeds {
		g.Go(func() error {
			merged, skipped, err := s.fetchAndMerge(ctx, feed)
			recErr := s.feeds.RecordFetch(ctx, feed.ID, s.now(), err)

			mu.Lock()
			defer mu.Unlock()

			stats.Items += merged
			stats.Skipped += skipped
			if err != nil {
				stats.Failed++
				s.logger.Error("feed ingest failed", "feed_id", feed.ID, "link", feed.Link, "error", err)
			}
			if recErr != nil {
				stats.Errors++
				s.logger.Warn("record fetch failed", "feed_id", feed.ID, "error", recErr)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Duration = time.Since(startTime)

	s.logger.Info("ingest completed",
		"feeds", stats.Feeds,
		"failed", stats.Failed,
		"items", stats.Items,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
		"duration", stats.Duration,
	)

	return stats, nil
}

func (s *IngestService) fetchAndMerge(ctx context.Context, feed domain.Feed) (int, int, error) {
	result, err := s.source.Fetch(ctx, feed.Link)
	metrics.FeedFetches.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		return 0, 0, fmt.Errorf("fetch feed: %w", err)
	}

	return s.MergeFeed(ctx, feed, result.Items)
}

// MergeFeed upserts fetched items oldest first, so store ids follow
// publication order. Items without a link are skipped. The first store
// failure aborts the remaining items of this feed.
func (s *IngestService) MergeFeed(ctx context.Context, feed domain.Feed, items []domain.FetchedItem) (int, int, error) {
	var merged, skipped int
	now := s.now()

	for i := len(items) - 1; i >= 0; i-- {
		item, ok := toFeedItem(feed.ID, items[i], now)
		if !ok {
			skipped++
			s.logger.Warn("skipping item without link", "feed_id", feed.ID, "title", items[i].Title)
			continue
		}

		if _, err := s.items.Upsert(ctx, &item); err != nil {
			return merged, skipped, fmt.Errorf("upsert item %q: %w", item.Link, err)
		}
		metrics.ItemsUpserted.Inc()
		merged++
	}

	s.logger.Debug("feed merged", "feed_id", feed.ID, "merged", merged, "skipped", skipped)

	return merged, skipped, nil
}
