// Package telegram is a minimal Telegram Bot API client for sending chat
// messages.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"feed_notifier/internal/domain"
)

const maxResponseBytes = 1 << 20

type Config struct {
	Token                 string
	BaseURL               string
	Timeout               time.Duration
	MessagesPerSecond     float64
	Burst                 int
	DisableWebPagePreview bool
}

// APIError is a reply with "ok": false, or a non-JSON error status.
type APIError struct {
	StatusCode  int
	ErrorCode   int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram: %d %s (retry after %s)", e.ErrorCode, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram: %d %s", e.ErrorCode, e.Description)
}

type Client struct {
	httpClient     *http.Client
	baseURL        string
	token          string
	limiter        *rate.Limiter
	disablePreview bool
	logger         *slog.Logger

	mu          sync.Mutex
	pausedUntil time.Time
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: token is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("telegram: invalid base url %q: %w", cfg.BaseURL, err)
	}

	limit := rate.Inf
	if cfg.MessagesPerSecond > 0 {
		limit = rate.Limit(cfg.MessagesPerSecond)
	}

	return &Client{
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		token:          cfg.Token,
		limiter:        rate.NewLimiter(limit, max(cfg.Burst, 1)),
		disablePreview: cfg.DisableWebPagePreview,
		logger:         logger.With("component", "telegram"),
	}, nil
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send posts a sendMessage call. It returns nil only when the API replied ok.
func (c *Client) Send(ctx context.Context, chatID int64, text string, mode domain.ParseMode) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	return c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             string(mode),
		DisableWebPagePreview: c.disablePreview,
	})
}

func (c *Client) call(ctx context.Context, method string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", c.redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute %s: %w", method, c.redact(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var reply apiResponse
	if err := json.Unmarshal(raw, &reply); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{StatusCode: resp.StatusCode, ErrorCode: resp.StatusCode, Description: resp.Status}
		}
		return fmt.Errorf("decode %s response: %w", method, err)
	}

	if reply.OK {
		return nil
	}

	apiErr := &APIError{
		StatusCode:  resp.StatusCode,
		ErrorCode:   reply.ErrorCode,
		Description: reply.Description,
	}
	if reply.Parameters != nil && reply.Parameters.RetryAfter > 0 {
		apiErr.RetryAfter = time.Duration(reply.Parameters.RetryAfter) * time.Second
		c.pause(apiErr.RetryAfter)
		c.logger.Warn("rate limited by api", "retry_after", apiErr.RetryAfter)
	}
	return apiErr
}

// wait blocks for the local rate limiter and any server-imposed pause.
func (c *Client) wait(ctx context.Context) error {
	c.mu.Lock()
	until := c.pausedUntil
	c.mu.Unlock()

	if d := time.Until(until); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return c.limiter.Wait(ctx)
}

func (c *Client) pause(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until := time.Now().Add(d); until.After(c.pausedUntil) {
		c.pausedUntil = until
	}
}

func (c *Client) methodURL(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

// redact keeps the bot token out of transport errors, which embed the
// request URL.
func (c *Client) redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = strings.ReplaceAll(urlErr.URL, c.token, "<redacted>")
	}
	return err
}
