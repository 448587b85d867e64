package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"feed_notifier/internal/domain"
)

type FeedStore interface {
	List(ctx context.Context) ([]domain.Feed, error)
	FindByLink(ctx context.Context, link string) (*domain.Feed, error)
	Create(ctx context.Context, feed *domain.Feed) (int64, error)
	RecordFetch(ctx context.Context, feedID int64, at time.Time, fetchErr error) error
	ListPendingNotification(ctx context.Context, since time.Time) ([]domain.Feed, error)
}

type ItemStore interface {
	Upsert(ctx context.Context, item *domain.FeedItem) (int64, error)
	ListRecentByFeed(ctx context.Context, feedID int64, since time.Time) ([]domain.FeedItem, error)
	ListByFeed(ctx context.Context, feedID int64, limit int) ([]domain.FeedItem, error)
}

type SubscriberStore interface {
	ListActiveByFeed(ctx context.Context, feedID int64) ([]domain.Subscriber, error)
	FindByChatAndFeed(ctx context.Context, chatID, feedID int64) (*domain.Subscriber, error)
	ListActiveByChat(ctx context.Context, chatID int64) ([]domain.Subscription, error)
	Upsert(ctx context.Context, sub *domain.Subscriber) (int64, error)
	Deactivate(ctx context.Context, id int64) error
	AdvanceCursor(ctx context.Context, id, itemID int64, at time.Time) (bool, error)
}

// Source fetches and parses a remote feed document.
type Source interface {
	Fetch(ctx context.Context, link string) (*domain.FetchResult, error)
}

// Sender delivers a text message to a chat. A nil error means the transport
// confirmed the message.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, mode domain.ParseMode) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
