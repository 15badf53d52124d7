package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-call-agent/pkg/ai/llm"
	llmfake "github.com/chriscow/livekit-call-agent/pkg/ai/llm/fake"
	"github.com/chriscow/livekit-call-agent/pkg/ai/stt"
	sttfake "github.com/chriscow/livekit-call-agent/pkg/ai/stt/fake"
	"github.com/chriscow/livekit-call-agent/pkg/ai/tts"
	ttsfake "github.com/chriscow/livekit-call-agent/pkg/ai/tts/fake"
	"github.com/chriscow/livekit-call-agent/pkg/call"
	"github.com/chriscow/livekit-call-agent/pkg/job/fake"
	"github.com/chriscow/livekit-call-agent/pkg/ratelimit"
)

type staticConfigs call.Config

func (c staticConfigs) Resolve(string) call.Config { return call.Config(c) }

type lastCall struct {
	summary string
	at      time.Time

	mu     sync.Mutex
	phones []string
}

func (l *lastCall) LastCallSummary(_ context.Context, phone string) (string, time.Time, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.phones = append(l.phones, phone)
	return l.summary, l.at, l.summary != "", nil
}

type statusLog struct {
	mu       sync.Mutex
	statuses []string
}

func (s *statusLog) UpsertActiveCall(_ context.Context, _, _, _, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

type providers struct {
	stt *sttfake.FakeSTT
	llm *llmfake.FakeLLM
	tts *ttsfake.FakeTTS
}

func newProviders() *providers {
	return &providers{stt: sttfake.NewFakeSTT(), llm: llmfake.NewFakeLLM(), tts: ttsfake.NewFakeTTS()}
}

func (p *providers) build(context.Context, call.Config) (stt.STT, llm.LLM, tts.TTS, error) {
	return p.stt, p.llm, p.tts, nil
}

func TestHandleCall_RequiresProviders(t *testing.T) {
	is := is.New(t)
	room := fake.NewFakeRoom()
	h := &Handler{}
	err := h.HandleCall(context.Background(), room, call.Meta{RoomName: "r"})
	is.True(err != nil)
	is.True(room.Closed())
}

func TestHandleCall_RateLimited(t *testing.T) {
	is := is.New(t)
	now := time.Date(2025, 1, 6, 10, 0, 0, 0, call.IST)
	limiter := ratelimit.New(ratelimit.Config{MaxCalls: 1, Window: time.Hour})
	is.True(limiter.Check("+919800000001", now).Allowed)

	finalizer := &captureFinalizer{}
	room := fake.NewFakeRoom()
	h := &Handler{
		Providers: newProviders().build,
		Limiter:   limiter,
		Finalizer: finalizer,
		Clock:     func() time.Time { return now.Add(time.Minute) },
	}

	err := h.HandleCall(context.Background(), room, call.Meta{RoomName: "r", Phone: "+919800000001"})
	is.NoErr(err)
	is.True(!room.Connected())
	is.True(room.Closed())
	is.Equal(finalizer.runs(), 0)
}

func TestHandleCall_RateLimitedAfterCallerResolved(t *testing.T) {
	is := is.New(t)
	now := time.Now()
	limiter := ratelimit.New(ratelimit.Config{MaxCalls: 1, Window: time.Hour})
	limiter.Check("+919800000002", now)

	room := fake.NewFakeRoom()
	room.CallerMeta = call.Meta{Phone: "+919800000002"}
	finalizer := &captureFinalizer{}
	h := &Handler{
		Providers: newProviders().build,
		Limiter:   limiter,
		Finalizer: finalizer,
		Clock:     func() time.Time { return now },
	}

	is.NoErr(h.HandleCall(context.Background(), room, call.Meta{RoomName: "r"}))
	is.True(room.Connected())
	is.Equal(room.Hangups(), 1)
	is.Equal(finalizer.runs(), 0)
}

func TestHandleCall_ConnectFailure(t *testing.T) {
	is := is.New(t)
	room := fake.NewFakeRoom()
	room.ConnectErr = errors.New("room not found")
	finalizer := &captureFinalizer{}
	h := &Handler{Providers: newProviders().build, Finalizer: finalizer}

	err := h.HandleCall(context.Background(), room, call.Meta{RoomName: "r", Phone: "+919800000003"})
	is.True(errors.Is(err, room.ConnectErr))
	is.Equal(finalizer.runs(), 0)
}

func TestHandleCall_InvalidConfig(t *testing.T) {
	is := is.New(t)
	cfg := call.DefaultConfig()
	cfg.LLMProvider = ""
	finalizer := &captureFinalizer{}
	h := &Handler{Configs: staticConfigs(cfg), Providers: newProviders().build, Finalizer: finalizer}

	err := h.HandleCall(context.Background(), fake.NewFakeRoom(), call.Meta{RoomName: "r", Phone: "+919800000004"})
	is.True(err != nil)
	is.Equal(finalizer.runs(), 0)
}

func TestHandleCall_SlowSTTOpenTimesOut(t *testing.T) {
	is := is.New(t)
	cfg := call.DefaultConfig()
	cfg.StartTimeout = 50 * time.Millisecond

	p := newProviders()
	p.stt.OpenDelay = 5 * time.Second
	observer := newCountingObserver()
	finalizer := &captureFinalizer{}
	room := fake.NewFakeRoom()
	h := &Handler{Configs: staticConfigs(cfg), Providers: p.build, Finalizer: finalizer, Observer: observer}

	begin := time.Now()
	err := h.HandleCall(context.Background(), room, call.Meta{RoomName: "r", Phone: "+919800000006", CallerName: "Ravi"})
	is.True(errors.Is(err, context.DeadlineExceeded))
	is.True(time.Since(begin) < 2*time.Second)
	is.Equal(observer.rejections("start_timeout"), 1)
	is.Equal(finalizer.runs(), 0)
	is.True(room.Closed())
}

func TestHandleCall_FullCall(t *testing.T) {
	is := is.New(t)

	cfg := call.DefaultConfig()
	cfg.FirstLine = "Hello from Sunrise Dental."
	cfg.SystemPrompt = "You are the receptionist."

	p := newProviders()
	history := &lastCall{summary: "No booking", at: time.Date(2025, 1, 3, 11, 0, 0, 0, call.IST)}
	active := &statusLog{}
	finalizer := &captureFinalizer{}
	room := fake.NewFakeRoom()
	room.CallerMeta = call.Meta{Phone: "+919800000005", CallerName: "Asha"}

	h := &Handler{
		Configs:     staticConfigs(cfg),
		Providers:   p.build,
		History:     history,
		ActiveCalls: active,
		Finalizer:   finalizer,
	}

	done := make(chan error, 1)
	go func() {
		done <- h.HandleCall(context.Background(), room, call.Meta{RoomName: "room-9", Direction: call.Inbound})
	}()

	eventually(t, "greeting requested", func() bool { return len(p.llm.Requests()) > 0 })
	system := p.llm.Requests()[0].Messages[0]
	is.Equal(system.Role, llm.RoleSystem)
	is.True(strings.HasPrefix(system.Content, "You are the receptionist."))
	is.True(strings.Contains(system.Content, "[CALLER HISTORY: Last call 2025-01-03. Summary: No booking]"))

	eventually(t, "greeting spoken", func() bool { return len(p.tts.Spoken()) == 1 })
	room.Disconnect("participant_left")

	select {
	case err := <-done:
		is.NoErr(err)
	case <-time.After(5 * time.Second):
		t.Fatal("call did not end")
	}

	is.Equal(finalizer.runs(), 1)
	snap := finalizer.inputs[0].Session
	is.Equal(snap.ID, "room-9")
	is.Equal(snap.CallerPhone, "+919800000005")
	is.Equal(snap.CallerName, "Asha")
	is.Equal(history.phones, []string{"+919800000005"})
	is.Equal(active.statuses, []string{ActiveCallLive})
	is.True(room.Closed())
}
