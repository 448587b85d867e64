package domain

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidLink       = errors.New("invalid feed link")
	ErrAlreadySubscribed = errors.New("chat is already subscribed to feed")
	ErrNotSubscribed     = errors.New("chat is not subscribed to feed")
)

type Feed struct {
	ID            int64      `db:"id"`
	Link          string     `db:"link"`
	Title         string     `db:"title"`
	Description   *string    `db:"description"`
	Image         *string    `db:"image"`
	LastFetchedAt *time.Time `db:"last_fetched_at"`
	LastError     *string    `db:"last_error"`
	CreatedAt     time.Time  `db:"created_at"`
}

// FeedItem ids are assigned by the store and grow with insertion order,
// which lets subscribers use them as a delivery cursor.
type FeedItem struct {
	ID          int64     `db:"id"`
	FeedID      int64     `db:"feed_id"`
	Link        string    `db:"link"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	PublishDate time.Time `db:"publish_date"`
}

type Subscriber struct {
	ID                     int64      `db:"id"`
	ChatID                 int64      `db:"chat_id"`
	FeedID                 int64      `db:"feed_id"`
	Active                 bool       `db:"status"`
	LastNotificationItemID int64      `db:"last_notification_item_id"`
	LastNotificationDate   *time.Time `db:"last_notification_date"`
	AddDate                time.Time  `db:"add_date"`
	UpdateDate             *time.Time `db:"update_date"`
}

// IsNew reports whether item is past the subscriber's cursor.
func (s Subscriber) IsNew(item FeedItem) bool {
	return item.ID > s.LastNotificationItemID
}

// Subscription is an active subscriber joined with its feed.
type Subscription struct {
	Subscriber Subscriber
	Feed       Feed
}

// FetchResult is a parsed feed document as returned by a feed source.
type FetchResult struct {
	Title       string
	Description *string
	Image       *string
	Items       []FetchedItem
}

// FetchedItem is one raw entry of a fetched feed, newest-first as published.
type FetchedItem struct {
	Title   string
	Link    string
	Content *string
	PubDate string
	ISODate string
}

type ParseMode string

const ParseModeHTML ParseMode = "HTML"
