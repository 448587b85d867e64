// Package rabbitmq hands outbound chat messages to a broker for a separate
// delivery worker.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"feed_notifier/internal/domain"
)

var ErrNacked = errors.New("message nacked by broker")

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

type Sender struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

func NewSender(cfg Config, logger *slog.Logger) (*Sender, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declare(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &Sender{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger.With("component", "rabbitmq"),
	}, nil
}

func declare(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

type OutboundMessage struct {
	ChatID    int64            `json:"chat_id"`
	Text      string           `json:"text"`
	ParseMode domain.ParseMode `json:"parse_mode"`
	Timestamp time.Time        `json:"timestamp"`
}

// Send publishes the message and blocks until the broker confirms it. A nack
// or a context expiring before the confirm arrives is a failed send.
func (s *Sender) Send(ctx context.Context, chatID int64, text string, mode domain.ParseMode) error {
	body, err := json.Marshal(OutboundMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: mode,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	confirm, err := s.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		s.exchange,
		s.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !acked {
		return ErrNacked
	}

	s.logger.Debug("message published", "chat_id", chatID, "delivery_tag", confirm.DeliveryTag)

	return nil
}

func (s *Sender) Close() error {
	if s.channel != nil {
		s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
