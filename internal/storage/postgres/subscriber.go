package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"feed_notifier/internal/domain"
)

const subscriberColumns = `id, chat_id, feed_id, status, last_notification_item_id,
	last_notification_date, add_date, update_date`

type SubscriberStore struct {
	db *sqlx.DB
}

func NewSubscriberStore(db *sqlx.DB) *SubscriberStore {
	return &SubscriberStore{db: db}
}

func (s *SubscriberStore) ListActiveByFeed(ctx context.Context, feedID int64) ([]domain.Subscriber, error) {
	var subscribers []domain.Subscriber
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &subscribers,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE feed_id = $1 AND status ORDER BY id`,
		feedID,
	)
	return subscribers, err
}

func (s *SubscriberStore) FindByChatAndFeed(ctx context.Context, chatID, feedID int64) (*domain.Subscriber, error) {
	var subscriber domain.Subscriber
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &subscriber,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE chat_id = $1 AND feed_id = $2`,
		chatID, feedID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscriber chat=%d feed=%d: %w", chatID, feedID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &subscriber, nil
}

type subscriptionRow struct {
	domain.Subscriber
	FeedLink  string `db:"feed_link"`
	FeedTitle string `db:"feed_title"`
}

func (s *SubscriberStore) ListActiveByChat(ctx context.Context, chatID int64) ([]domain.Subscription, error) {
	query := `
		SELECT s.id, s.chat_id, s.feed_id, s.status, s.last_notification_item_id,
			s.last_notification_date, s.add_date, s.update_date,
			f.link AS feed_link, f.title AS feed_title
		FROM subscribers s
		INNER JOIN feeds f ON f.id = s.feed_id
		WHERE s.chat_id = $1 AND s.status
		ORDER BY s.id`

	var rows []subscriptionRow
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, query, chatID); err != nil {
		return nil, err
	}

	return lo.Map(rows, func(r subscriptionRow, _ int) domain.Subscription {
		return domain.Subscription{
			Subscriber: r.Subscriber,
			Feed: domain.Feed{
				ID:    r.FeedID,
				Link:  r.FeedLink,
				Title: r.FeedTitle,
			},
		}
	}), nil
}

// Upsert creates the subscriber or reactivates an existing (chat, feed) row.
// The stored cursor is never lowered.
func (s *SubscriberStore) Upsert(ctx context.Context, sub *domain.Subscriber) (int64, error) {
	query := `
		INSERT INTO subscribers (
			chat_id, feed_id, status, last_notification_item_id, last_notification_date, add_date
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chat_id, feed_id) DO UPDATE SET
			status = EXCLUDED.status,
			last_notification_item_id = GREATEST(
				subscribers.last_notification_item_id,
				EXCLUDED.last_notification_item_id
			),
			last_notification_date = EXCLUDED.last_notification_date,
			update_date = EXCLUDED.add_date
		RETURNING id`

	var id int64
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		sub.ChatID,
		sub.FeedID,
		sub.Active,
		sub.LastNotificationItemID,
		sub.LastNotificationDate,
		sub.AddDate,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SubscriberStore) Deactivate(ctx context.Context, id int64) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE subscribers SET status = FALSE, update_date = $2 WHERE id = $1`,
		id, time.Now(),
	)
	return err
}

// AdvanceCursor moves the subscriber's cursor forward to itemID. It reports
// false when the stored cursor was already at or past itemID.
func (s *SubscriberStore) AdvanceCursor(ctx context.Context, id, itemID int64, at time.Time) (bool, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		UPDATE subscribers
		SET last_notification_item_id = $2, last_notification_date = $3
		WHERE id = $1 AND last_notification_item_id < $2`,
		id, itemID, at,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
