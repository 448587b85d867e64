//go:build integration

package rabbitmq

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"feed_notifier/internal/domain"
)

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *tcrabbitmq.RabbitMQContainer
	amqpURL   string
	logger    *slog.Logger
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := tcrabbitmq.Run(s.ctx,
		"rabbitmq:3.13-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	amqpURL, err := container.AmqpURL(s.ctx)
	s.Require().NoError(err)
	s.amqpURL = amqpURL
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestRabbitMQIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

func (s *RabbitMQIntegrationSuite) config(name string) Config {
	return Config{
		URL:        s.amqpURL,
		Exchange:   "exchange-" + name,
		RoutingKey: "key-" + name,
		QueueName:  "queue-" + name,
	}
}

func (s *RabbitMQIntegrationSuite) TestSender_Connection() {
	sender, err := NewSender(s.config("connect"), s.logger)
	s.NoError(err)
	s.NotNil(sender)

	s.NoError(sender.Close())
}

func (s *RabbitMQIntegrationSuite) TestSender_SendIsConfirmed() {
	cfg := s.config("send")

	sender, err := NewSender(cfg, s.logger)
	s.Require().NoError(err)
	defer sender.Close()

	err = sender.Send(s.ctx, 4242, "<b>Feed</b>\n\n<b>Title</b>", domain.ParseModeHTML)
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	s.Equal("application/json", msg.ContentType)
	s.Equal(uint8(amqp.Persistent), msg.DeliveryMode)

	var received OutboundMessage
	s.Require().NoError(json.Unmarshal(msg.Body, &received))
	s.Equal(int64(4242), received.ChatID)
	s.Equal("<b>Feed</b>\n\n<b>Title</b>", received.Text)
	s.Equal(domain.ParseModeHTML, received.ParseMode)
	s.False(received.Timestamp.IsZero())
}

func (s *RabbitMQIntegrationSuite) TestSender_PreservesOrder() {
	cfg := s.config("order")

	sender, err := NewSender(cfg, s.logger)
	s.Require().NoError(err)
	defer sender.Close()

	texts := []string{"first", "second", "third"}
	for _, text := range texts {
		s.Require().NoError(sender.Send(s.ctx, 1, text, domain.ParseModeHTML))
	}

	for _, want := range texts {
		msg := s.consumeMessage(cfg)
		s.Require().NotNil(msg)

		var received OutboundMessage
		s.Require().NoError(json.Unmarshal(msg.Body, &received))
		s.Equal(want, received.Text)
	}
}

func (s *RabbitMQIntegrationSuite) TestSender_FailsAfterClose() {
	sender, err := NewSender(s.config("closed"), s.logger)
	s.Require().NoError(err)
	s.Require().NoError(sender.Close())

	err = sender.Send(s.ctx, 1, "text", domain.ParseModeHTML)
	s.Error(err)
}

func (s *RabbitMQIntegrationSuite) consumeMessage(cfg Config) *amqp.Delivery {
	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	msg, ok, err := ch.Get(cfg.QueueName, true)
	deadline := time.Now().Add(5 * time.Second)
	for err == nil && !ok && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
		msg, ok, err = ch.Get(cfg.QueueName, true)
	}
	s.Require().NoError(err)
	if !ok {
		s.Fail("Timeout waiting for message")
		return nil
	}
	return &msg
}
