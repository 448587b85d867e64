//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"feed_notifier/internal/domain"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB

	feeds       *FeedStore
	items       *ItemStore
	subscribers *SubscriberStore
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.Require().NoError(Migrate(connStr))

	db, err := Open(s.ctx, connStr, PoolConfig{MaxOpenConns: 5, MaxIdleConns: 2, ConnMaxLifetime: time.Minute})
	s.Require().NoError(err)
	s.db = db

	s.feeds = NewFeedStore(db)
	s.items = NewItemStore(db)
	s.subscribers = NewSubscriberStore(db)
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM subscribers")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM feed_items")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM feeds")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func (s *PostgresIntegrationSuite) createFeed(link string) int64 {
	id, err := s.feeds.Create(s.ctx, &domain.Feed{Link: link, Title: "Feed " + link})
	s.Require().NoError(err)
	return id
}

func (s *PostgresIntegrationSuite) upsertItem(feedID int64, link string, published time.Time) int64 {
	id, err := s.items.Upsert(s.ctx, &domain.FeedItem{
		FeedID:      feedID,
		Link:        link,
		Title:       "Title " + link,
		Description: "Body " + link,
		PublishDate: published,
	})
	s.Require().NoError(err)
	return id
}

func (s *PostgresIntegrationSuite) TestFeedStore_CreateIsIdempotent() {
	id1 := s.createFeed("https://example.com/rss")
	id2 := s.createFeed("https://example.com/rss")
	s.Equal(id1, id2)

	feed, err := s.feeds.FindByLink(s.ctx, "https://example.com/rss")
	s.Require().NoError(err)
	s.Equal(id1, feed.ID)
	s.Equal("Feed https://example.com/rss", feed.Title)
}

func (s *PostgresIntegrationSuite) TestFeedStore_FindByLink_NotFound() {
	feed, err := s.feeds.FindByLink(s.ctx, "https://missing.example.com/rss")
	s.Nil(feed)
	s.True(errors.Is(err, domain.ErrNotFound))
}

func (s *PostgresIntegrationSuite) TestFeedStore_RecordFetch() {
	id := s.createFeed("https://example.com/rss")
	now := time.Now().Truncate(time.Microsecond)

	s.Require().NoError(s.feeds.RecordFetch(s.ctx, id, now, errors.New("boom")))

	feeds, err := s.feeds.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(feeds, 1)
	s.Require().NotNil(feeds[0].LastError)
	s.Equal("boom", *feeds[0].LastError)
	s.WithinDuration(now, *feeds[0].LastFetchedAt, time.Second)

	s.Require().NoError(s.feeds.RecordFetch(s.ctx, id, now, nil))
	feeds, err = s.feeds.List(s.ctx)
	s.Require().NoError(err)
	s.Nil(feeds[0].LastError)
}

func (s *PostgresIntegrationSuite) TestItemStore_UpsertPreservesID() {
	feedID := s.createFeed("https://example.com/rss")
	published := time.Now().Add(-time.Hour).Truncate(time.Second)

	id1 := s.upsertItem(feedID, "https://example.com/a", published)

	id2, err := s.items.Upsert(s.ctx, &domain.FeedItem{
		FeedID:      feedID,
		Link:        "https://example.com/a",
		Title:       "Edited",
		Description: "Edited body",
		PublishDate: published.Add(30 * time.Minute),
	})
	s.Require().NoError(err)
	s.Equal(id1, id2)

	var count int
	s.Require().NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM feed_items WHERE feed_id = $1", feedID))
	s.Equal(1, count)

	items, err := s.items.ListByFeed(s.ctx, feedID, 0)
	s.Require().NoError(err)
	s.Equal("Edited", items[0].Title)
	s.Equal("Edited body", items[0].Description)
	s.WithinDuration(published.Add(30*time.Minute), items[0].PublishDate, time.Second)
}

func (s *PostgresIntegrationSuite) TestItemStore_SameLinkDifferentFeeds() {
	feedA := s.createFeed("https://a.example.com/rss")
	feedB := s.createFeed("https://b.example.com/rss")
	now := time.Now()

	idA := s.upsertItem(feedA, "https://shared.example.com/post", now)
	idB := s.upsertItem(feedB, "https://shared.example.com/post", now)
	s.NotEqual(idA, idB)
}

func (s *PostgresIntegrationSuite) TestItemStore_OldestFirstGivesIncreasingIDs() {
	feedID := s.createFeed("https://example.com/rss")
	base := time.Now().Add(-3 * time.Hour)

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, s.upsertItem(feedID, "https://example.com/"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute)))
	}

	for i := 1; i < len(ids); i++ {
		s.Less(ids[i-1], ids[i])
	}

	// A later cycle re-ingests everything plus one new entry.
	for i := 0; i < 5; i++ {
		s.Equal(ids[i], s.upsertItem(feedID, "https://example.com/"+string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute)))
	}
	s.Greater(s.upsertItem(feedID, "https://example.com/z", base.Add(time.Hour)), ids[4])
}

func (s *PostgresIntegrationSuite) TestItemStore_ListRecentByFeed_ExcludesOldItems() {
	feedID := s.createFeed("https://example.com/rss")
	now := time.Now()

	s.upsertItem(feedID, "https://example.com/old", now.Add(-48*time.Hour))
	recent1 := s.upsertItem(feedID, "https://example.com/r1", now.Add(-2*time.Hour))
	recent2 := s.upsertItem(feedID, "https://example.com/r2", now.Add(-time.Hour))

	items, err := s.items.ListRecentByFeed(s.ctx, feedID, now.Add(-24*time.Hour))
	s.Require().NoError(err)
	s.Equal([]int64{recent1, recent2}, lo.Map(items, func(i domain.FeedItem, _ int) int64 { return i.ID }))
}

func (s *PostgresIntegrationSuite) TestItemStore_ListByFeed_NewestFirstWithLimit() {
	feedID := s.createFeed("https://example.com/rss")
	now := time.Now()

	s.upsertItem(feedID, "https://example.com/1", now.Add(-3*time.Hour))
	s.upsertItem(feedID, "https://example.com/2", now.Add(-2*time.Hour))
	newest := s.upsertItem(feedID, "https://example.com/3", now.Add(-time.Hour))

	items, err := s.items.ListByFeed(s.ctx, feedID, 1)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(newest, items[0].ID)

	items, err = s.items.ListByFeed(s.ctx, feedID, 0)
	s.Require().NoError(err)
	s.Len(items, 3)
}

func (s *PostgresIntegrationSuite) TestFeedStore_ListPendingNotification() {
	now := time.Now()

	withBoth := s.createFeed("https://both.example.com/rss")
	s.upsertItem(withBoth, "https://both.example.com/1", now.Add(-time.Hour))
	_, err := s.subscribers.Upsert(s.ctx, &domain.Subscriber{ChatID: 1, FeedID: withBoth, Active: true, AddDate: now})
	s.Require().NoError(err)

	noSubscribers := s.createFeed("https://nosubs.example.com/rss")
	s.upsertItem(noSubscribers, "https://nosubs.example.com/1", now.Add(-time.Hour))

	staleItems := s.createFeed("https://stale.example.com/rss")
	s.upsertItem(staleItems, "https://stale.example.com/1", now.Add(-72*time.Hour))
	_, err = s.subscribers.Upsert(s.ctx, &domain.Subscriber{ChatID: 1, FeedID: staleItems, Active: true, AddDate: now})
	s.Require().NoError(err)

	inactive := s.createFeed("https://inactive.example.com/rss")
	s.upsertItem(inactive, "https://inactive.example.com/1", now.Add(-time.Hour))
	_, err = s.subscribers.Upsert(s.ctx, &domain.Subscriber{ChatID: 1, FeedID: inactive, Active: false, AddDate: now})
	s.Require().NoError(err)

	feeds, err := s.feeds.ListPendingNotification(s.ctx, now.Add(-24*time.Hour))
	s.Require().NoError(err)
	s.Require().Len(feeds, 1)
	s.Equal(withBoth, feeds[0].ID)
}

func (s *PostgresIntegrationSuite) TestSubscriberStore_UpsertNeverLowersCursor() {
	feedID := s.createFeed("https://example.com/rss")
	now := time.Now()

	id, err := s.subscribers.Upsert(s.ctx, &domain.Subscriber{
		ChatID: 42, FeedID: feedID, Active: true, LastNotificationItemID: 10, AddDate: now,
	})
	s.Require().NoError(err)

	s.Require().NoError(s.subscribers.Deactivate(s.ctx, id))
	active, err := s.subscribers.ListActiveByFeed(s.ctx, feedID)
	s.Require().NoError(err)
	s.Empty(active)

	id2, err := s.subscribers.Upsert(s.ctx, &domain.Subscriber{
		ChatID: 42, FeedID: feedID, Active: true, LastNotificationItemID: 3, AddDate: now,
	})
	s.Require().NoError(err)
	s.Equal(id, id2)

	sub, err := s.subscribers.FindByChatAndFeed(s.ctx, 42, feedID)
	s.Require().NoError(err)
	s.True(sub.Active)
	s.Equal(int64(10), sub.LastNotificationItemID)
	s.NotNil(sub.UpdateDate)
}

func (s *PostgresIntegrationSuite) TestSubscriberStore_AdvanceCursorIsMonotonic() {
	feedID := s.createFeed("https://example.com/rss")
	now := time.Now()

	id, err := s.subscribers.Upsert(s.ctx, &domain.Subscriber{
		ChatID: 7, FeedID: feedID, Active: true, LastNotificationItemID: 100, AddDate: now,
	})
	s.Require().NoError(err)

	advanced, err := s.subscribers.AdvanceCursor(s.ctx, id, 103, now)
	s.Require().NoError(err)
	s.True(advanced)

	advanced, err = s.subscribers.AdvanceCursor(s.ctx, id, 102, now)
	s.Require().NoError(err)
	s.False(advanced)

	sub, err := s.subscribers.FindByChatAndFeed(s.ctx, 7, feedID)
	s.Require().NoError(err)
	s.Equal(int64(103), sub.LastNotificationItemID)
	s.NotNil(sub.LastNotificationDate)
}

func (s *PostgresIntegrationSuite) TestSubscriberStore_ListActiveByChat() {
	feedA := s.createFeed("https://a.example.com/rss")
	feedB := s.createFeed("https://b.example.com/rss")
	now := time.Now()

	_, err := s.subscribers.Upsert(s.ctx, &domain.Subscriber{ChatID: 5, FeedID: feedA, Active: true, AddDate: now})
	s.Require().NoError(err)
	idB, err := s.subscribers.Upsert(s.ctx, &domain.Subscriber{ChatID: 5, FeedID: feedB, Active: true, AddDate: now})
	s.Require().NoError(err)
	s.Require().NoError(s.subscribers.Deactivate(s.ctx, idB))

	subs, err := s.subscribers.ListActiveByChat(s.ctx, 5)
	s.Require().NoError(err)
	s.Require().Len(subs, 1)
	s.Equal("https://a.example.com/rss", subs[0].Feed.Link)
	s.Equal("Feed https://a.example.com/rss", subs[0].Feed.Title)
	s.Equal(int64(5), subs[0].Subscriber.ChatID)
}

func (s *PostgresIntegrationSuite) TestTransaction_Commit() {
	tm := NewTransactionManager(s.db)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		_, err := s.feeds.Create(ctx, &domain.Feed{Link: "https://tx.example.com/rss", Title: "tx"})
		return err
	})
	s.NoError(err)

	_, err = s.feeds.FindByLink(s.ctx, "https://tx.example.com/rss")
	s.NoError(err)
}

func (s *PostgresIntegrationSuite) TestTransaction_Rollback() {
	tm := NewTransactionManager(s.db)
	s.createFeed("https://pre.example.com/rss")

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if _, err := s.feeds.Create(ctx, &domain.Feed{Link: "https://rollback.example.com/rss", Title: "rb"}); err != nil {
			return err
		}
		return context.Canceled
	})
	s.Error(err)

	_, err = s.feeds.FindByLink(s.ctx, "https://rollback.example.com/rss")
	s.True(errors.Is(err, domain.ErrNotFound))

	_, err = s.feeds.FindByLink(s.ctx, "https://pre.example.com/rss")
	s.NoError(err)
}

func (s *PostgresIntegrationSuite) TestMigrate_IsIdempotent() {
	connStr, err := s.container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.NoError(Migrate(connStr))
}
