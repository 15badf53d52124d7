package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/chriscow/livekit-call-agent/pkg/finalize"
)

// Webhook posts call events as JSON to an automation endpoint such as n8n.
type Webhook struct {
	url    string
	http   *retryablehttp.Client
	logger *slog.Logger
}

func NewWebhook(url string, logger *slog.Logger) *Webhook {
	return &Webhook{
		url:    url,
		http:   newHTTPClient(logger),
		logger: loggerOrDefault(logger).With(slog.String("notifier", "webhook")),
	}
}

func (w *Webhook) Send(ctx context.Context, event finalize.WebhookEvent) error {
	if err := postJSON(ctx, w.http, w.url, event); err != nil {
		return fmt.Errorf("webhook %s: %w", event.Event, err)
	}
	w.logger.Info("Webhook delivered", slog.String("event", event.Event), slog.String("room", event.Room))
	return nil
}
