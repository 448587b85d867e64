package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"feed_notifier/internal/domain"
)

type SubscriptionService struct {
	feeds       FeedStore
	items       ItemStore
	subscribers SubscriberStore
	source      Source
	ingest      *IngestService
	txManager   TransactionManager
	logger      *slog.Logger
	now         func() time.Time
}

func NewSubscriptionService(
	feeds FeedStore,
	items ItemStore,
	subscribers SubscriberStore,
	source Source,
	ingest *IngestService,
	txManager TransactionManager,
	logger *slog.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		feeds:       feeds,
		items:       items,
		subscribers: subscribers,
		source:      source,
		ingest:      ingest,
		txManager:   txManager,
		logger:      logger.With("component", "subscription"),
		now:         time.Now,
	}
}

// Subscribe registers chatID for the feed at link, fetching and storing the
// feed first if it is unknown. The new subscriber starts at the feed's newest
// stored item, so nothing already published is sent.
func (s *SubscriptionService) Subscribe(ctx context.Context, chatID int64, link string) (*domain.Subscription, error) {
	link, err := normalizeLink(link)
	if err != nil {
		return nil, err
	}

	feed, err := s.feeds.FindByLink(ctx, link)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		feed, err = s.register(ctx, link)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("find feed: %w", err)
	}

	existing, err := s.subscribers.FindByChatAndFeed(ctx, chatID, feed.ID)
	switch {
	case err == nil && existing.Active:
		return nil, domain.ErrAlreadySubscribed
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("find subscriber: %w", err)
	}

	sub := &domain.Subscriber{
		ChatID:  chatID,
		FeedID:  feed.ID,
		Active:  true,
		AddDate: s.now(),
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		newest, err := s.items.ListByFeed(txCtx, feed.ID, 1)
		if err != nil {
			return fmt.Errorf("find newest item: %w", err)
		}
		if len(newest) > 0 {
			sub.LastNotificationItemID = newest[0].ID
		}

		id, err := s.subscribers.Upsert(txCtx, sub)
		if err != nil {
			return fmt.Errorf("upsert subscriber: %w", err)
		}
		sub.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("chat subscribed",
		"chat_id", chatID,
		"feed_id", feed.ID,
		"subscriber_id", sub.ID,
		"cursor", sub.LastNotificationItemID,
	)

	return &domain.Subscription{Subscriber: *sub, Feed: *feed}, nil
}

// Unsubscribe deactivates the subscription. The row is kept so a later
// Subscribe reuses it.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, chatID int64, link string) error {
	link, err := normalizeLink(link)
	if err != nil {
		return err
	}

	feed, err := s.feeds.FindByLink(ctx, link)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrNotSubscribed
	}
	if err != nil {
		return fmt.Errorf("find feed: %w", err)
	}

	sub, err := s.subscribers.FindByChatAndFeed(ctx, chatID, feed.ID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !sub.Active) {
		return domain.ErrNotSubscribed
	}
	if err != nil {
		return fmt.Errorf("find subscriber: %w", err)
	}

	if err := s.subscribers.Deactivate(ctx, sub.ID); err != nil {
		return fmt.Errorf("deactivate subscriber: %w", err)
	}

	s.logger.Info("chat unsubscribed", "chat_id", chatID, "feed_id", feed.ID, "subscriber_id", sub.ID)
	return nil
}

func (s *SubscriptionService) List(ctx context.Context, chatID int64) ([]domain.Subscription, error) {
	subs, err := s.subscribers.ListActiveByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *SubscriptionService) register(ctx context.Context, link string) (*domain.Feed, error) {
	result, err := s.source.Fetch(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	feed := &domain.Feed{
		Link:        link,
		Title:       cleanText(result.Title),
		Description: result.Description,
		Image:       result.Image,
		CreatedAt:   s.now(),
	}
	if feed.Title == "" {
		feed.Title = link
	}

	id, err := s.feeds.Create(ctx, feed)
	if err != nil {
		return nil, fmt.Errorf("create feed: %w", err)
	}
	feed.ID = id

	merged, _, mergeErr := s.ingest.MergeFeed(ctx, *feed, result.Items)
	if err := s.feeds.RecordFetch(ctx, feed.ID, s.now(), mergeErr); err != nil {
		s.logger.Warn("record fetch failed", "feed_id", feed.ID, "error", err)
	}
	if mergeErr != nil {
		return nil, fmt.Errorf("merge feed items: %w", mergeErr)
	}

	s.logger.Info("feed registered", "feed_id", feed.ID, "link", link, "items", merged)
	return feed, nil
}

func normalizeLink(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidLink, raw)
	}
	return u.String(), nil
}
