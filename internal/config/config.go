package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	TransportTelegram = "telegram"
	TransportAMQP     = "amqp"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Source    SourceConfig    `yaml:"source"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Notify    NotifyConfig    `yaml:"notify"`
	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	LogLevel  string          `yaml:"log_level"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// URL returns the connection string in URL form, as golang-migrate expects.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.DBName,
		RawQuery: url.Values{"sslmode": []string{d.SSLMode}}.Encode(),
	}
	return u.String()
}

type SourceConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	Retry     RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type IngestConfig struct {
	Interval     time.Duration `yaml:"interval"`
	CycleTimeout time.Duration `yaml:"cycle_timeout"`
	Concurrency  int           `yaml:"concurrency"`
}

type NotifyConfig struct {
	Interval       time.Duration `yaml:"interval"`
	CycleTimeout   time.Duration `yaml:"cycle_timeout"`
	LookbackWindow time.Duration `yaml:"lookback_window"`
	Stagger        time.Duration `yaml:"stagger"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	Concurrency    int           `yaml:"concurrency"`
	MaxBodyRunes   int           `yaml:"max_body_runes"`
}

type TransportConfig struct {
	Kind     string         `yaml:"kind"`
	Telegram TelegramConfig `yaml:"telegram"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

type TelegramConfig struct {
	Token                 string        `yaml:"token"`
	BaseURL               string        `yaml:"base_url"`
	Timeout               time.Duration `yaml:"timeout"`
	MessagesPerSecond     float64       `yaml:"messages_per_second"`
	Burst                 int           `yaml:"burst"`
	DisableWebPagePreview bool          `yaml:"disable_web_page_preview"`
}

type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportTelegram:
		if c.Transport.Telegram.Token == "" {
			return errors.New("transport.telegram.token is required")
		}
	case TransportAMQP:
		if c.Transport.RabbitMQ.URL == "" {
			return errors.New("transport.rabbitmq.url is required")
		}
	default:
		return fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}
	if c.Ingest.Concurrency < 1 || c.Notify.Concurrency < 1 {
		return errors.New("concurrency must be positive")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if c.Source.Timeout == 0 {
		c.Source.Timeout = 30 * time.Second
	}
	if c.Source.UserAgent == "" {
		c.Source.UserAgent = "FeedNotifier/1.0"
	}
	if c.Source.Retry.MaxAttempts == 0 {
		c.Source.Retry.MaxAttempts = 3
	}
	if c.Source.Retry.InitialBackoff == 0 {
		c.Source.Retry.InitialBackoff = 1 * time.Second
	}
	if c.Source.Retry.MaxBackoff == 0 {
		c.Source.Retry.MaxBackoff = 30 * time.Second
	}
	if c.Ingest.Interval == 0 {
		c.Ingest.Interval = 5 * time.Minute
	}
	if c.Ingest.CycleTimeout == 0 {
		c.Ingest.CycleTimeout = 10 * time.Minute
	}
	if c.Ingest.Concurrency == 0 {
		c.Ingest.Concurrency = 8
	}
	if c.Notify.Interval == 0 {
		c.Notify.Interval = 1 * time.Minute
	}
	if c.Notify.CycleTimeout == 0 {
		c.Notify.CycleTimeout = 30 * time.Minute
	}
	if c.Notify.LookbackWindow == 0 {
		c.Notify.LookbackWindow = 24 * time.Hour
	}
	if c.Notify.Stagger == 0 {
		c.Notify.Stagger = 1 * time.Second
	}
	if c.Notify.SendTimeout == 0 {
		c.Notify.SendTimeout = 15 * time.Second
	}
	if c.Notify.Concurrency == 0 {
		c.Notify.Concurrency = 4
	}
	if c.Notify.MaxBodyRunes == 0 {
		c.Notify.MaxBodyRunes = 3000
	}
	if c.Transport.Kind == "" {
		c.Transport.Kind = TransportTelegram
	}
	if c.Transport.Telegram.BaseURL == "" {
		c.Transport.Telegram.BaseURL = "https://api.telegram.org"
	}
	if c.Transport.Telegram.Timeout == 0 {
		c.Transport.Telegram.Timeout = 10 * time.Second
	}
	if c.Transport.Telegram.MessagesPerSecond == 0 {
		c.Transport.Telegram.MessagesPerSecond = 25
	}
	if c.Transport.Telegram.Burst == 0 {
		c.Transport.Telegram.Burst = 1
	}
	if c.Transport.RabbitMQ.Exchange == "" {
		c.Transport.RabbitMQ.Exchange = "feed_notifier"
	}
	if c.Transport.RabbitMQ.RoutingKey == "" {
		c.Transport.RabbitMQ.RoutingKey = "messages"
	}
	if c.Transport.RabbitMQ.QueueName == "" {
		c.Transport.RabbitMQ.QueueName = "outbound_messages"
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
