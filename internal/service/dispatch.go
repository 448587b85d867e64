package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"feed_notifier/internal/config"
	"feed_notifier/internal/domain"
	"feed_notifier/internal/message"
	"feed_notifier/internal/metrics"
	"feed_notifier/internal/scheduler"
)

// Dispatcher delivers a subscriber's pending items one at a time and moves
// the subscriber's cursor forward after every confirmed send.
type Dispatcher struct {
	sender      Sender
	subscribers SubscriberStore
	formatter   *message.Formatter
	logger      *slog.Logger
	stagger     time.Duration
	sendTimeout time.Duration
	now         func() time.Time
}

func NewDispatcher(
	sender Sender,
	subscribers SubscriberStore,
	formatter *message.Formatter,
	logger *slog.Logger,
	cfg config.NotifyConfig,
) *Dispatcher {
	return &Dispatcher{
		sender:      sender,
		subscribers: subscribers,
		formatter:   formatter,
		logger:      logger.With("component", "dispatcher"),
		stagger:     cfg.Stagger,
		sendTimeout: cfg.SendTimeout,
		now:         time.Now,
	}
}

// Deliver sends items in order. It stops at the first failed send or cursor
// write, leaving the cursor on the last confirmed item so the next cycle
// resumes from there. A runner shutdown ends delivery between items without
// an error.
func (d *Dispatcher) Deliver(
	ctx context.Context,
	feed domain.Feed,
	sub domain.Subscriber,
	items []domain.FeedItem,
) (*domain.DeliveryResult, error) {
	logger := d.logger.With("feed_id", feed.ID, "subscriber_id", sub.ID, "chat_id", sub.ChatID)

	result := &domain.DeliveryResult{
		SubscriberID: sub.ID,
		Cursor:       sub.LastNotificationItemID,
	}

	for _, item := range items {
		if item.ID <= result.Cursor {
			continue
		}

		if result.Attempted > 0 {
			if err := d.pause(ctx); err != nil {
				return result, err
			}
		}
		if stopping(ctx) {
			logger.Info("delivery interrupted by shutdown", "sent", result.Sent, "cursor", result.Cursor)
			return result, nil
		}

		result.Attempted++
		if err := d.send(ctx, sub.ChatID, d.formatter.Format(feed.Title, item)); err != nil {
			logger.Warn("send failed, delivery stopped", "item_id", item.ID, "cursor", result.Cursor, "error", err)
			return result, fmt.Errorf("send item %d: %w", item.ID, err)
		}
		result.Sent++

		advanced, err := d.subscribers.AdvanceCursor(ctx, sub.ID, item.ID, d.now())
		if err != nil {
			logger.Error("cursor write failed, delivery stopped", "item_id", item.ID, "error", err)
			return result, fmt.Errorf("advance cursor to %d: %w", item.ID, err)
		}
		if !advanced {
			logger.Debug("cursor already past item", "item_id", item.ID)
		}
		result.Cursor = item.ID
	}

	if result.Sent > 0 {
		logger.Info("delivered items", "sent", result.Sent, "cursor", result.Cursor)
	}

	return result, nil
}

func (d *Dispatcher) pause(ctx context.Context) error {
	if d.stagger <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-scheduler.Stopping(ctx):
		return nil
	case <-time.After(d.stagger):
		return nil
	}
}

func stopping(ctx context.Context) bool {
	select {
	case <-scheduler.Stopping(ctx):
		return true
	default:
		return false
	}
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, text string) error {
	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}

	start := time.Now()
	err := d.sender.Send(ctx, chatID, text, domain.ParseModeHTML)

	metrics.SendLatency.Observe(time.Since(start).Seconds())
	metrics.MessagesSent.WithLabelValues(metrics.Outcome(err)).Inc()

	return err
}
