package postgres

import (
	"context"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"feed_notifier/internal/domain"
)

var itemColumns = []string{"id", "feed_id", "link", "title", "description", "publish_date"}

type ItemStore struct {
	db *sqlx.DB
}

func NewItemStore(db *sqlx.DB) *ItemStore {
	return &ItemStore{db: db}
}

// Upsert inserts the item or refreshes the mutable fields of the row with the
// same (feed_id, link). The id of an existing row never changes.
func (s *ItemStore) Upsert(ctx context.Context, item *domain.FeedItem) (int64, error) {
	query := `
		INSERT INTO feed_items (feed_id, link, title, description, publish_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (feed_id, link) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			publish_date = EXCLUDED.publish_date
		RETURNING id`

	var id int64
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		item.FeedID,
		item.Link,
		item.Title,
		item.Description,
		item.PublishDate,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}

// ListRecentByFeed returns items published at or after since, oldest first.
func (s *ItemStore) ListRecentByFeed(ctx context.Context, feedID int64, since time.Time) ([]domain.FeedItem, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(itemColumns...).From("feed_items")
	sb.Where(
		sb.Equal("feed_id", feedID),
		sb.GreaterEqualThan("publish_date", since),
	)
	sb.OrderBy("publish_date", "id").Asc()

	return s.selectItems(ctx, sb)
}

// ListByFeed returns the feed's items, highest id first. A positive limit
// caps the number of rows.
func (s *ItemStore) ListByFeed(ctx context.Context, feedID int64, limit int) ([]domain.FeedItem, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(itemColumns...).From("feed_items")
	sb.Where(sb.Equal("feed_id", feedID))
	sb.OrderBy("id").Desc()
	if limit > 0 {
		sb.Limit(limit)
	}

	return s.selectItems(ctx, sb)
}

func (s *ItemStore) selectItems(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]domain.FeedItem, error) {
	query, args := sb.Build()

	var items []domain.FeedItem
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &items, query, args...); err != nil {
		return nil, err
	}
	return items, nil
}
