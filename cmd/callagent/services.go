package main

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/chriscow/livekit-call-agent/internal/calendar"
	"github.com/chriscow/livekit-call-agent/internal/config"
	"github.com/chriscow/livekit-call-agent/internal/metrics"
	"github.com/chriscow/livekit-call-agent/internal/notify"
	"github.com/chriscow/livekit-call-agent/internal/recording"
	"github.com/chriscow/livekit-call-agent/internal/store"
	"github.com/chriscow/livekit-call-agent/pkg/agent"
	"github.com/chriscow/livekit-call-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-call-agent/pkg/finalize"
	"github.com/chriscow/livekit-call-agent/pkg/plugin"
	"github.com/chriscow/livekit-call-agent/pkg/ratelimit"
)

// services are the collaborators shared by every call in the process.
// Optional ones are nil when their settings are missing.
type services struct {
	cfg    config.Config
	logger *slog.Logger

	store    *store.Store
	calendar *calendar.Client
	notifier finalize.Notifier
	webhook  *notify.Webhook
	recorder *recording.Recorder
	metrics  *metrics.Metrics
}

// openServices opens the store and builds the integrations cfg enables.
// Recording needs a LiveKit server and is only set up when live is true.
func openServices(ctx context.Context, cfg config.Config, live bool, logger *slog.Logger) (*services, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	s := &services{cfg: cfg, logger: logger, store: st, metrics: metrics.New()}

	if cfg.Calendar.APIKey != "" {
		s.calendar = calendar.New(calendar.Config{
			APIKey:      cfg.Calendar.APIKey,
			EventTypeID: cfg.Calendar.EventTypeID,
			BaseURL:     cfg.Calendar.BaseURL,
		}, logger)
	} else {
		logger.Warn("Calendar API key not set, bookings are disabled")
	}

	var notifiers notify.Multi
	if tg := cfg.Notify.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		notifiers = append(notifiers, notify.NewTelegram(tg.BotToken, tg.ChatID, "", logger))
	}
	if wa := cfg.Notify.WhatsApp; wa.AccountSID != "" && wa.AuthToken != "" {
		notifiers = append(notifiers, notify.NewWhatsApp(wa.AccountSID, wa.AuthToken, wa.From, wa.To, logger))
	}
	if len(notifiers) > 0 {
		s.notifier = notifiers
	}
	if cfg.Notify.WebhookURL != "" {
		s.webhook = notify.NewWebhook(cfg.Notify.WebhookURL, logger)
	}

	if live && cfg.Recording.Enabled {
		rec := cfg.Recording
		s.recorder = recording.New(cfg.LiveKit.URL, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, recording.Config{
			Bucket:        rec.Bucket,
			Region:        rec.Region,
			Endpoint:      rec.Endpoint,
			AccessKey:     rec.AccessKey,
			SecretKey:     rec.SecretKey,
			PublicBaseURL: rec.PublicBaseURL,
		}, logger)
	}

	logger.Info("Services ready",
		slog.String("store", cfg.Store.Driver),
		slog.Bool("calendar", s.calendar != nil),
		slog.Int("notifiers", len(notifiers)),
		slog.Bool("webhook", s.webhook != nil),
		slog.Bool("recording", s.recorder != nil))
	return s, nil
}

func (s *services) Close() error {
	return s.store.Close()
}

// pipeline builds the post-call pipeline. Failed steps are counted.
func (s *services) pipeline() *finalize.Pipeline {
	p := &finalize.Pipeline{
		Store:       s.store,
		ActiveCalls: s.store,
		Notifier:    s.notifier,
		Logger:      s.logger,
		OnStepError: func(step string, _ error) {
			s.metrics.FinalizeStepFailed(step)
		},
	}
	if s.calendar != nil {
		p.Booker = s.calendar
	}
	if s.webhook != nil {
		p.Webhook = s.webhook
	}
	if c, err := s.classifier(); err != nil {
		s.logger.Warn("Sentiment classification disabled", slog.String("error", err.Error()))
	} else {
		p.Classifier = c
	}
	return p
}

// classifier builds a chat model from the configured LLM plugin for
// post-call sentiment.
func (s *services) classifier() (finalize.Classifier, error) {
	name := s.cfg.Agent.LLMProvider
	factory, ok := plugin.Get(plugin.KindLLM, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", plugin.ErrNotFound, plugin.KindLLM, name)
	}
	opts := map[string]any{}
	maps.Copy(opts, s.cfg.ProviderOptions()[name])
	if s.cfg.Agent.LLMModel != "" {
		opts["model"] = s.cfg.Agent.LLMModel
	}
	instance, err := factory(opts)
	if err != nil {
		return nil, err
	}
	model, ok := instance.(llm.LLM)
	if !ok {
		return nil, fmt.Errorf("plugin %s returned %T", name, instance)
	}
	return finalize.LLMClassifier{LLM: model}, nil
}

// handler builds the call handler around providers. observer may be nil,
// in which case the process metrics are used.
func (s *services) handler(providers agent.ProviderFunc, observer agent.Observer) *agent.Handler {
	if observer == nil {
		observer = s.metrics
	}
	rl := s.cfg.RateLimit
	h := &agent.Handler{
		Configs:     config.NewResolver(s.cfg, s.logger),
		Providers:   providers,
		Limiter:     ratelimit.New(ratelimit.Config{MaxCalls: rl.MaxCalls, Window: rl.Window, Exempt: rl.Exempt}),
		History:     s.store,
		ActiveCalls: s.store,
		Transcripts: s.store,
		Finalizer:   s.pipeline(),
		Observer:    observer,
		Logger:      s.logger,
	}
	if s.calendar != nil {
		h.Calendar = s.calendar
	}
	if s.recorder != nil {
		h.Recorder = s.recorder
	}
	return h
}

// reportFailure tells the owner a call could not be handled.
func (s *services) reportFailure(ctx context.Context, room, phone string, cause error) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Notify(ctx, finalize.Notification{
		Kind:   finalize.AgentError,
		Room:   room,
		Phone:  phone,
		Reason: cause.Error(),
	})
	if err != nil {
		s.logger.Warn("Failed to send error notification",
			slog.String("room", room),
			slog.String("error", err.Error()))
	}
}
