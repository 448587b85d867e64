package domain

import "time"

// IngestStats holds statistics about an ingestion cycle.
type IngestStats struct {
	Feeds    int
	Failed   int
	Items    int
	Skipped  int
	Errors   int
	Duration time.Duration
}

// NotifyStats holds statistics about a notification cycle.
type NotifyStats struct {
	Feeds       int
	Subscribers int
	Sent        int
	Failed      int
	Errors      int
	Duration    time.Duration
}

// DeliveryResult reports how far a single subscriber's delivery got.
type DeliveryResult struct {
	SubscriberID int64
	Attempted    int
	Sent         int
	Cursor       int64
}
