package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chriscow/livekit-call-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-call-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-call-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-call-agent/pkg/call"
	"github.com/chriscow/livekit-call-agent/pkg/finalize"
	"github.com/chriscow/livekit-call-agent/pkg/ratelimit"
	"github.com/chriscow/livekit-call-agent/pkg/tools"
)

// ActiveCallLive is the live-call status written when a call starts.
const ActiveCallLive = "active"

const (
	recordingStartTimeout = 10 * time.Second
	historyLookupTimeout  = 3 * time.Second
)

// ProviderFunc builds the speech and language providers for one call.
type ProviderFunc func(ctx context.Context, cfg call.Config) (stt.STT, llm.LLM, tts.TTS, error)

// ConfigResolver returns the per-call settings for a caller.
type ConfigResolver interface {
	Resolve(phone string) call.Config
}

// CallHistory looks up the summary of a caller's previous call.
type CallHistory interface {
	LastCallSummary(ctx context.Context, phone string) (summary string, at time.Time, found bool, err error)
}

// Recorder starts recording a room.
type Recorder interface {
	Start(ctx context.Context, room string) (finalize.Recording, error)
}

// Handler is the entry point for one call. Its collaborators are shared by
// every call; each call gets its own session, tools and agent.
type Handler struct {
	Configs     ConfigResolver
	Providers   ProviderFunc
	Limiter     *ratelimit.Limiter
	Calendar    tools.Calendar
	History     CallHistory
	ActiveCalls finalize.ActiveCalls
	Transcripts TranscriptSink
	Recorder    Recorder
	Finalizer   Finalizer
	Observer    Observer
	Clock       func() time.Time
	Logger      *slog.Logger
}

// HandleCall runs one call from join to finalize. A rate-limited caller is
// turned away without error. Failures before the conversation starts are
// returned and nothing is finalized.
func (h *Handler) HandleCall(ctx context.Context, conn Conn, meta call.Meta) error {
	logger := h.logger().With(slog.String("room", meta.RoomName))
	observer := h.observer()
	defer conn.Close()

	if h.Providers == nil {
		return errors.New("no provider factory configured")
	}

	if meta.Phone != "" && !h.allow(meta.Phone, logger) {
		return nil
	}

	startTimeout := h.resolve(meta.Phone).StartTimeout
	if startTimeout <= 0 {
		startTimeout = call.DefaultStartTimeout
	}
	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	if err := conn.Connect(startCtx); err != nil {
		observer.CallRejected("start_failed")
		return fmt.Errorf("join room: %w", err)
	}

	if meta.Phone == "" || meta.CallerName == "" {
		found, err := conn.Caller(startCtx)
		if err != nil {
			observer.CallRejected("start_failed")
			return fmt.Errorf("wait for caller: %w", err)
		}
		checked := meta.Phone != ""
		if meta.Phone == "" {
			meta.Phone = found.Phone
		}
		if meta.CallerName == "" {
			meta.CallerName = found.CallerName
		}
		if !checked && meta.Phone != "" && !h.allow(meta.Phone, logger) {
			if err := conn.Hangup(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("Hangup failed", slog.String("error", err.Error()))
			}
			return nil
		}
	}
	logger.Info("Caller resolved",
		slog.String("phone", meta.Phone),
		slog.String("name", meta.CallerName),
		slog.String("direction", string(meta.Direction)))

	cfg := h.resolve(meta.Phone)
	if err := cfg.Validate(); err != nil {
		observer.CallRejected("bad_config")
		return fmt.Errorf("invalid call config: %w", err)
	}

	sttProvider, llmProvider, ttsProvider, err := h.Providers(startCtx, cfg)
	if err != nil {
		observer.CallRejected("start_failed")
		return fmt.Errorf("build providers: %w", err)
	}

	session := call.NewSession(meta, h.now())
	prompt := BuildSystemPrompt(PromptInput{
		Base:              cfg.SystemPrompt,
		LanguageDirective: cfg.LanguageDirective,
		Now:               session.StartedAt,
		LastCall:          h.lastCall(ctx, session.CallerPhone, logger),
	}, logger)

	registry := tools.NewRegistry(cfg.ToolTimeout, logger)
	tools.NewCallTools(tools.Deps{
		Session:  session,
		Calendar: h.Calendar,
		Control:  conn,
		Config:   cfg,
		Clock:    h.Clock,
		Logger:   logger,
	}).Register(registry)

	a, err := New(Config{
		Call:        cfg,
		Session:     session,
		STT:         sttProvider,
		LLM:         llmProvider,
		TTS:         ttsProvider,
		Transport:   conn,
		Tools:       registry,
		Finalizer:   h.Finalizer,
		History:     []llm.Message{{Role: llm.RoleSystem, Content: prompt}},
		Transcripts: h.Transcripts,
		Observer:    observer,
		Logger:      h.logger(),
	})
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	if err := startCtx.Err(); err != nil {
		observer.CallRejected("start_timeout")
		return fmt.Errorf("session start: %w", err)
	}
	if err := a.Start(ctx, startCtx); err != nil {
		if startCtx.Err() != nil {
			observer.CallRejected("start_timeout")
		} else {
			observer.CallRejected("start_failed")
		}
		return fmt.Errorf("start agent: %w", err)
	}
	cancel()

	a.cfg.Recording = h.startRecording(ctx, meta.RoomName, logger)
	if h.ActiveCalls != nil {
		if err := h.ActiveCalls.UpsertActiveCall(ctx, session.ID, session.CallerPhone, session.CallerName, ActiveCallLive); err != nil {
			logger.Debug("Active call not recorded", slog.String("error", err.Error()))
		}
	}

	observer.CallStarted(session.Direction)
	return a.Run(ctx)
}

func (h *Handler) allow(phone string, logger *slog.Logger) bool {
	if h.Limiter == nil {
		return true
	}
	d := h.Limiter.Check(phone, h.now())
	if !d.Allowed {
		logger.Warn("Caller rate limited",
			slog.String("phone", phone),
			slog.Duration("retry_after", d.RetryAfter))
		h.observer().CallRejected("rate_limited")
	}
	return d.Allowed
}

func (h *Handler) resolve(phone string) call.Config {
	if h.Configs == nil {
		return call.DefaultConfig()
	}
	return h.Configs.Resolve(phone)
}

func (h *Handler) lastCall(ctx context.Context, phone string, logger *slog.Logger) *PastCall {
	if h.History == nil || phone == call.UnknownPhone {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, historyLookupTimeout)
	defer cancel()

	summary, at, found, err := h.History.LastCallSummary(ctx, phone)
	if err != nil {
		logger.Warn("Could not load caller history", slog.String("error", err.Error()))
		return nil
	}
	if !found {
		return nil
	}
	logger.Info("Caller history loaded", slog.Time("last_call", at))
	return &PastCall{Date: at, Summary: summary}
}

func (h *Handler) startRecording(ctx context.Context, room string, logger *slog.Logger) finalize.Recording {
	if h.Recorder == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, recordingStartTimeout)
	defer cancel()

	rec, err := h.Recorder.Start(ctx, room)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("Recording start timed out", slog.Duration("timeout", recordingStartTimeout))
		} else {
			logger.Warn("Recording not started", slog.String("error", err.Error()))
		}
		return nil
	}
	return rec
}

func (h *Handler) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

func (h *Handler) observer() Observer {
	if h.Observer != nil {
		return h.Observer
	}
	return NopObserver{}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
