package service

import (
	"html"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"feed_notifier/internal/domain"
)

func toFeedItem(feedID int64, raw domain.FetchedItem, now time.Time) (domain.FeedItem, bool) {
	link := cleanText(raw.Link)
	if link == "" {
		return domain.FeedItem{}, false
	}

	var description string
	if raw.Content != nil {
		description = cleanText(*raw.Content)
	}

	return domain.FeedItem{
		FeedID:      feedID,
		Link:        link,
		Title:       cleanText(raw.Title),
		Description: description,
		PublishDate: publishDate(raw, now),
	}, true
}

// publishDate prefers the normalised ISO date, then any recognisable pub
// date, then now. Second precision.
func publishDate(raw domain.FetchedItem, now time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw.ISODate)); err == nil {
		return t.UTC().Truncate(time.Second)
	}
	if pub := strings.TrimSpace(raw.PubDate); pub != "" {
		if t, err := dateparse.ParseAny(pub); err == nil {
			return t.UTC().Truncate(time.Second)
		}
	}
	return now.UTC().Truncate(time.Second)
}

func cleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(s))
}
