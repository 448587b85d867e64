package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"feed_notifier/internal/domain"
)

const maxFetchErrorLen = 500

const feedColumns = `id, link, title, description, image, last_fetched_at, last_error, created_at`

type FeedStore struct {
	db *sqlx.DB
}

func NewFeedStore(db *sqlx.DB) *FeedStore {
	return &FeedStore{db: db}
}

func (s *FeedStore) List(ctx context.Context) ([]domain.Feed, error) {
	var feeds []domain.Feed
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &feeds,
		`SELECT `+feedColumns+` FROM feeds ORDER BY id`,
	)
	return feeds, err
}

func (s *FeedStore) FindByLink(ctx context.Context, link string) (*domain.Feed, error) {
	var feed domain.Feed
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &feed,
		`SELECT `+feedColumns+` FROM feeds WHERE link = $1`, link,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed %q: %w", link, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &feed, nil
}

// Create inserts the feed, or returns the id of the feed already registered
// under the same link.
func (s *FeedStore) Create(ctx context.Context, feed *domain.Feed) (int64, error) {
	query := `
		INSERT INTO feeds (link, title, description, image)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (link) DO UPDATE SET link = EXCLUDED.link
		RETURNING id`

	var id int64
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		feed.Link,
		feed.Title,
		feed.Description,
		feed.Image,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// RecordFetch stores the outcome of the latest fetch attempt. A nil fetchErr
// clears any previous error.
func (s *FeedStore) RecordFetch(ctx context.Context, feedID int64, at time.Time, fetchErr error) error {
	var lastError *string
	if fetchErr != nil {
		msg := fetchErr.Error()
		if len(msg) > maxFetchErrorLen {
			msg = msg[:maxFetchErrorLen]
		}
		lastError = &msg
	}

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE feeds SET last_fetched_at = $2, last_error = $3 WHERE id = $1`,
		feedID, at, lastError,
	)
	return err
}

// ListPendingNotification returns feeds that have at least one item published
// since the given time and at least one active subscriber.
func (s *FeedStore) ListPendingNotification(ctx context.Context, since time.Time) ([]domain.Feed, error) {
	query := `
		SELECT ` + feedColumns + `
		FROM feeds f
		WHERE EXISTS (
			SELECT 1 FROM feed_items i
			WHERE i.feed_id = f.id AND i.publish_date >= $1
		)
		AND EXISTS (
			SELECT 1 FROM subscribers s
			WHERE s.feed_id = f.id AND s.status
		)
		ORDER BY f.id`

	var feeds []domain.Feed
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &feeds, query, since)
	return feeds, err
}
