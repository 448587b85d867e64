// Package rss fetches RSS, Atom and JSON feeds over HTTP.
package rss

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mmcdole/gofeed"

	"feed_notifier/internal/domain"
)

type Config struct {
	Timeout        time.Duration
	UserAgent      string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Source struct {
	parser *gofeed.Parser
	config Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Source {
	parser := gofeed.NewParser()
	parser.UserAgent = cfg.UserAgent
	parser.Client = &http.Client{Timeout: cfg.Timeout}

	return &Source{
		parser: parser,
		config: cfg,
		logger: logger.With("component", "rss"),
	}
}

// Fetch downloads and parses the feed at link. Network failures and 5xx or
// 429 replies are retried with exponential backoff. Other client errors and
// parse errors fail immediately.
func (s *Source) Fetch(ctx context.Context, link string) (*domain.FetchResult, error) {
	var parsed *gofeed.Feed
	attempt := 0

	op := func() error {
		attempt++
		feed, err := s.parser.ParseURLWithContext(link, ctx)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		parsed = feed
		return nil
	}

	notify := func(err error, wait time.Duration) {
		s.logger.Warn("fetch failed, retrying",
			"link", link,
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(op, s.policy(ctx), notify); err != nil {
		return nil, fmt.Errorf("fetch %s after %d attempts: %w", link, attempt, err)
	}

	return toFetchResult(parsed), nil
}

func (s *Source) policy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.InitialBackoff
	b.MaxInterval = s.config.MaxBackoff
	b.MaxElapsedTime = 0

	retries := max(s.config.MaxAttempts-1, 0)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

func retryable(err error) bool {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= http.StatusInternalServerError ||
			httpErr.StatusCode == http.StatusTooManyRequests
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return !errors.Is(err, context.Canceled)
	}
	return false
}

func toFetchResult(feed *gofeed.Feed) *domain.FetchResult {
	result := &domain.FetchResult{
		Title: feed.Title,
		Items: make([]domain.FetchedItem, 0, len(feed.Items)),
	}
	if d := strings.TrimSpace(feed.Description); d != "" {
		result.Description = &d
	}
	if feed.Image != nil && feed.Image.URL != "" {
		image := feed.Image.URL
		result.Image = &image
	}

	for _, item := range feed.Items {
		result.Items = append(result.Items, toFetchedItem(item))
	}

	return result
}

func toFetchedItem(item *gofeed.Item) domain.FetchedItem {
	out := domain.FetchedItem{
		Title:   item.Title,
		Link:    item.Link,
		PubDate: item.Published,
	}

	switch {
	case item.Description != "":
		out.Content = &item.Description
	case item.Content != "":
		out.Content = &item.Content
	}

	switch {
	case item.PublishedParsed != nil:
		out.ISODate = item.PublishedParsed.UTC().Format(time.RFC3339)
	case item.UpdatedParsed != nil:
		out.ISODate = item.UpdatedParsed.UTC().Format(time.RFC3339)
	}

	return out
}
