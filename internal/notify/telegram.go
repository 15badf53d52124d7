package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/chriscow/livekit-call-agent/pkg/finalize"
	"github.com/chriscow/livekit-call-agent/pkg/version"
)

const telegramBaseURL = "https://api.telegram.org"

// Telegram posts notifications to a chat through the Bot API.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	http    *retryablehttp.Client
	logger  *slog.Logger
}

// NewTelegram returns a notifier for the bot token and chat. baseURL may be
// empty.
func NewTelegram(token, chatID, baseURL string, logger *slog.Logger) *Telegram {
	if baseURL == "" {
		baseURL = telegramBaseURL
	}
	return &Telegram{
		token:   token,
		chatID:  chatID,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPClient(logger),
		logger:  loggerOrDefault(logger).With(slog.String("notifier", "telegram")),
	}
}

// Notify sends the formatted notification.
func (t *Telegram) Notify(ctx context.Context, n finalize.Notification) error {
	return t.Send(ctx, Format(n))
}

// Send posts a Markdown message.
func (t *Telegram) Send(ctx context.Context, text string) error {
	body := map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	if err := postJSON(ctx, t.http, t.baseURL+"/bot"+t.token+"/sendMessage", body); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	t.logger.Info("Notification sent")
	return nil
}

// StatusError is a non-2xx response from a notification endpoint.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

func newHTTPClient(logger *slog.Logger) *retryablehttp.Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = 2
	hc.RetryWaitMin = 250 * time.Millisecond
	hc.RetryWaitMax = 2 * time.Second
	hc.HTTPClient.Timeout = 5 * time.Second
	hc.Logger = loggerOrDefault(logger)
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return hc
}

func postJSON(ctx context.Context, hc *retryablehttp.Client, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return nil
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
