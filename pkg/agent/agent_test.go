package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-call-agent/pkg/ai"
	"github.com/chriscow/livekit-call-agent/pkg/ai/llm"
	llmfake "github.com/chriscow/livekit-call-agent/pkg/ai/llm/fake"
	sttfake "github.com/chriscow/livekit-call-agent/pkg/ai/stt/fake"
	ttsfake "github.com/chriscow/livekit-call-agent/pkg/ai/tts/fake"
	"github.com/chriscow/livekit-call-agent/pkg/call"
	"github.com/chriscow/livekit-call-agent/pkg/finalize"
	"github.com/chriscow/livekit-call-agent/pkg/job/fake"
	"github.com/chriscow/livekit-call-agent/pkg/tools"
)

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type countingObserver struct {
	NopObserver

	mu          sync.Mutex
	turns       int
	rejected    map[string]int
	interrupted int
	tools       []string
	finished    []string
}

func newCountingObserver() *countingObserver {
	return &countingObserver{rejected: make(map[string]int)}
}

func (o *countingObserver) TurnAccepted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.turns++
}

func (o *countingObserver) TranscriptRejected(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected[reason]++
}

func (o *countingObserver) Interrupted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.interrupted++
}

func (o *countingObserver) ToolInvoked(name string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tools = append(o.tools, name)
}

func (o *countingObserver) CallFinished(_ finalize.CallLog, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, reason)
}

func (o *countingObserver) rejections(reason string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rejected[reason]
}

func (o *countingObserver) interrupts() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.interrupted
}

// captureFinalizer records every finalize input.
type captureFinalizer struct {
	mu     sync.Mutex
	inputs []finalize.Input
}

func (f *captureFinalizer) Run(_ context.Context, in finalize.Input) finalize.CallLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	return finalize.CallLog{Room: in.Session.ID, Turns: in.Session.Turns, InterruptCount: in.Session.Interrupts}
}

func (f *captureFinalizer) runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

// backOffice stands in for the booking service, notifier and call log store.
type backOffice struct {
	mu            sync.Mutex
	intents       []call.BookingIntent
	notifications []finalize.Notification
	logs          []finalize.CallLog
}

func (b *backOffice) CreateBooking(_ context.Context, intent call.BookingIntent) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.intents = append(b.intents, intent)
	return "bk_1", nil
}

func (b *backOffice) Notify(_ context.Context, n finalize.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifications = append(b.notifications, n)
	return nil
}

func (b *backOffice) SaveCallLog(_ context.Context, l finalize.CallLog) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs = append(b.logs, l)
	return nil
}

type slotCalendar struct {
	mu    sync.Mutex
	asked []time.Time
}

func (c *slotCalendar) AvailableSlots(_ context.Context, date time.Time) ([]call.Slot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asked = append(c.asked, date)
	return []call.Slot{
		{Start: time.Date(date.Year(), date.Month(), date.Day(), 10, 0, 0, 0, call.IST)},
		{Start: time.Date(date.Year(), date.Month(), date.Day(), 11, 30, 0, 0, call.IST)},
	}, nil
}

type harness struct {
	stt      *sttfake.FakeSTT
	llm      *llmfake.FakeLLM
	tts      *ttsfake.FakeTTS
	room     *fake.FakeRoom
	session  *call.Session
	observer *countingObserver
	agent    *Agent
	done     chan error
}

func testConfig() call.Config {
	cfg := call.DefaultConfig()
	cfg.FirstLine = ""
	cfg.EndpointingDelay = 10 * time.Millisecond
	cfg.ToolTimeout = time.Second
	return cfg
}

// start builds an agent around fakes and runs it in the background.
func start(t *testing.T, cfg call.Config, llmProvider *llmfake.FakeLLM, finalizer Finalizer, calendar tools.Calendar) *harness {
	t.Helper()
	is := is.New(t)

	h := &harness{
		stt:      sttfake.NewFakeSTT(),
		llm:      llmProvider,
		tts:      ttsfake.NewFakeTTS(),
		room:     fake.NewFakeRoom(),
		observer: newCountingObserver(),
		done:     make(chan error, 1),
	}
	h.tts.FrameDelay = 20 * time.Millisecond
	h.session = call.NewSession(call.Meta{RoomName: "room-1", Phone: "+919800000001"}, time.Now())

	registry := tools.NewRegistry(cfg.ToolTimeout, nil)
	tools.NewCallTools(tools.Deps{
		Session:  h.session,
		Calendar: calendar,
		Control:  h.room,
		Config:   cfg,
	}).Register(registry)

	a, err := New(Config{
		Call:      cfg,
		Session:   h.session,
		STT:       h.stt,
		LLM:       h.llm,
		TTS:       h.tts,
		Transport: h.room,
		Tools:     registry,
		Finalizer: finalizer,
		History:   []llm.Message{{Role: llm.RoleSystem, Content: "You are a receptionist."}},
		Observer:  h.observer,
	})
	is.NoErr(err)
	h.agent = a

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	is.NoErr(a.Start(ctx, ctx))
	go func() { h.done <- a.Run(ctx) }()
	return h
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}
}

func (h *harness) idle() bool {
	return !h.session.AgentSpeaking() && h.agent.State() == StateListening
}

func TestNew_Validation(t *testing.T) {
	room := fake.NewFakeRoom()
	session := call.NewSession(call.Meta{RoomName: "r"}, time.Now())

	tests := []struct {
		name   string
		config Config
	}{
		{
			name:   "missing session",
			config: Config{STT: sttfake.NewFakeSTT(), LLM: llmfake.NewFakeLLM(), TTS: ttsfake.NewFakeTTS(), Transport: room},
		},
		{
			name:   "missing providers",
			config: Config{Session: session, Transport: room},
		},
		{
			name:   "missing transport",
			config: Config{Session: session, STT: sttfake.NewFakeSTT(), LLM: llmfake.NewFakeLLM(), TTS: ttsfake.NewFakeTTS()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			a, err := New(tt.config)
			is.True(err != nil)
			is.True(a == nil)
		})
	}
}

func TestAgent_RunBeforeStart(t *testing.T) {
	is := is.New(t)
	a, err := New(Config{
		Session:   call.NewSession(call.Meta{RoomName: "r"}, time.Now()),
		STT:       sttfake.NewFakeSTT(),
		LLM:       llmfake.NewFakeLLM(),
		TTS:       ttsfake.NewFakeTTS(),
		Transport: fake.NewFakeRoom(),
	})
	is.NoErr(err)
	is.Equal(a.State(), StateConnecting)
	is.True(a.Run(context.Background()) != nil)
}

func TestAgent_BookingConversation(t *testing.T) {
	is := is.New(t)

	office := &backOffice{}
	calendar := &slotCalendar{}
	pipeline := &finalize.Pipeline{Booker: office, Notifier: office, Store: office}

	cfg := testConfig()
	cfg.FirstLine = "Hi, thanks for calling."
	script := llmfake.NewFakeLLM(
		llmfake.Say("Hi, thanks for calling."),
		llmfake.Say("Sure, which day would you like to come in for your visit?"),
		llmfake.Call("check_availability", `{"date":"2025-01-07"}`),
		llmfake.Say("Tomorrow I have 10 AM or 11:30 AM."),
		llmfake.Call("save_booking_intent", `{"start_time":"2025-01-07T10:00:00+05:30","caller_name":"Asha","caller_email":"a at b dot com"}`),
		llmfake.Say("You're booked for 10 AM tomorrow."),
	)
	h := start(t, cfg, script, pipeline, calendar)

	eventually(t, "greeting", func() bool { return len(h.tts.Spoken()) == 1 && h.idle() })
	is.Equal(h.tts.Spoken()[0], "Hi, thanks for calling.")

	is.True(h.stt.Emit("Hello", true))
	eventually(t, "second reply playing", func() bool { return len(h.tts.Spoken()) == 2 && h.session.AgentSpeaking() })

	// The agent hears itself while speaking.
	is.True(h.stt.Emit("tomorrow", true))
	eventually(t, "echo rejection", func() bool { return h.observer.rejections("echo") == 1 })
	is.Equal(h.session.Turns(), 1)

	eventually(t, "second reply finished", h.idle)
	is.True(h.stt.Emit("tomorrow", true))
	eventually(t, "slots offered", func() bool { return len(h.tts.Spoken()) == 3 && h.idle() })
	is.Equal(h.session.Turns(), 2)

	is.True(h.stt.Emit("10 AM please, I'm Asha, a at b dot com", true))
	eventually(t, "booking saved", func() bool {
		return h.session.BookingIntent() != nil && len(h.tts.Spoken()) == 4 && h.idle()
	})

	h.room.Disconnect("participant_left")
	h.wait(t)

	is.Equal(h.agent.State(), StateDisconnected)
	is.Equal(h.agent.Reason(), "participant_left")
	is.Equal(h.session.Turns(), 3)
	is.True(h.session.ShutdownFired())
	is.True(h.room.FramesWritten() > 0)

	var toolResults []string
	for _, m := range h.agent.History() {
		if m.Role == llm.RoleTool {
			toolResults = append(toolResults, m.Content)
		}
	}
	is.Equal(len(toolResults), 2)
	is.Equal(toolResults[0], "Available slots on 2025-01-07: 10:00 AM, 11:30 AM IST.")
	is.True(strings.HasPrefix(toolResults[1], "Booking intent saved for Asha (a@b.com)"))

	office.mu.Lock()
	defer office.mu.Unlock()
	is.Equal(len(office.intents), 1)
	is.Equal(office.intents[0].Email, "a@b.com")
	is.Equal(office.intents[0].Phone, "+919800000001")
	is.Equal(len(office.notifications), 1)
	is.Equal(office.notifications[0].Kind, finalize.BookingConfirmed)
	is.Equal(len(office.logs), 1)
	is.True(office.logs[0].WasBooked)
	is.Equal(office.logs[0].BookingID, "bk_1")
	is.Equal(office.logs[0].Summary, "Booking Confirmed: bk_1")
	is.Equal(office.logs[0].Turns, 3)
	is.True(strings.Contains(office.logs[0].Transcript, "[USER] Hello"))

	log := h.agent.CallLog()
	is.True(log != nil)
	is.Equal(log.BookingID, "bk_1")
}

func TestAgent_FinalizesOnce(t *testing.T) {
	is := is.New(t)
	finalizer := &captureFinalizer{}
	h := start(t, testConfig(), llmfake.NewFakeLLM(), finalizer, nil)

	h.room.Disconnect("participant_left")
	eventually(t, "call to stop", func() bool { return h.agent.Reason() != "" })
	h.room.Disconnect("room_deleted")
	h.agent.Disconnect("duplicate")
	h.wait(t)

	is.Equal(finalizer.runs(), 1)
	is.Equal(h.agent.Reason(), "participant_left")
	is.True(!h.session.BeginShutdown())
	is.True(h.agent.Run(context.Background()) != nil)
	is.Equal(finalizer.runs(), 1)
	is.Equal(len(h.observer.finished), 1)
}

func TestAgent_DisconnectKeepsFirstReason(t *testing.T) {
	is := is.New(t)
	finalizer := &captureFinalizer{}
	h := start(t, testConfig(), llmfake.NewFakeLLM(), finalizer, nil)

	h.agent.Disconnect("participant_left")
	h.agent.Disconnect("duplicate")
	h.wait(t)

	is.Equal(h.agent.Reason(), "participant_left")
	is.Equal(finalizer.runs(), 1)
}

func TestAgent_STTErrorEndsCall(t *testing.T) {
	is := is.New(t)
	finalizer := &captureFinalizer{}
	h := start(t, testConfig(), llmfake.NewFakeLLM(), finalizer, nil)

	<-h.stt.Opened()
	is.True(h.stt.Fail(errors.New("socket reset")))
	h.wait(t)

	is.Equal(h.agent.Reason(), ReasonSTTError)
	is.Equal(finalizer.runs(), 1)
	is.Equal(finalizer.inputs[0].Session.ID, "room-1")
}

func TestAgent_FatalLLMErrorEndsCall(t *testing.T) {
	is := is.New(t)
	finalizer := &captureFinalizer{}
	cfg := testConfig()
	cfg.FirstLine = "Hello there."
	script := llmfake.NewFakeLLM(llmfake.Step{Err: ai.NewFatalError(errors.New("401"), "invalid api key")})
	h := start(t, cfg, script, finalizer, nil)

	h.wait(t)
	is.Equal(h.agent.Reason(), ReasonLLMError)
	is.Equal(finalizer.runs(), 1)
	is.Equal(len(h.tts.Spoken()), 0)
}

func TestAgent_SpeaksFirstSentenceOnly(t *testing.T) {
	is := is.New(t)
	cfg := testConfig()
	cfg.FirstLine = "Hello there."
	script := llmfake.NewFakeLLM(llmfake.Say("नमस्ते, सनराइज़ डेंटल में आपका स्वागत है। मैं आपकी क्या मदद कर सकती हूँ?"))
	h := start(t, cfg, script, &captureFinalizer{}, nil)

	eventually(t, "greeting", func() bool { return len(h.tts.Spoken()) == 1 && h.idle() })
	is.Equal(h.tts.Spoken()[0], "नमस्ते, सनराइज़ डेंटल में आपका स्वागत है।")

	history := h.agent.History()
	last := history[len(history)-1]
	is.Equal(last.Role, llm.RoleAssistant)
	is.Equal(last.Content, "नमस्ते, सनराइज़ डेंटल में आपका स्वागत है।")

	h.room.Disconnect("participant_left")
	h.wait(t)
}

func TestFirstSentence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Sure. Which day works?", want: "Sure."},
		{in: "  Are you free tomorrow?  Great. ", want: "Are you free tomorrow?"},
		{in: "हाँ जी। कल सुबह दस बजे?", want: "हाँ जी।"},
		{in: "Your slot is at 10.30 AM", want: "Your slot is at 10.30 AM"},
		{in: "Booked!", want: "Booked!"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		if got := firstSentence(tt.in); got != tt.want {
			t.Errorf("firstSentence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAgent_WrapUpAtTurnLimit(t *testing.T) {
	is := is.New(t)
	finalizer := &captureFinalizer{}
	cfg := testConfig()
	cfg.MaxTurns = 1
	cfg.HangupAfterWrapUp = true
	script := llmfake.NewFakeLLM(llmfake.Say("Thanks for calling, goodbye!"))
	h := start(t, cfg, script, finalizer, nil)

	<-h.stt.Opened()
	is.True(h.stt.Emit("I want an appointment", true))
	h.wait(t)

	is.Equal(h.room.Hangups(), 1)
	is.Equal(h.agent.Reason(), ReasonHangup)
	is.Equal(h.tts.Spoken(), []string{"Thanks for calling, goodbye!"})

	reqs := h.llm.Requests()
	is.Equal(len(reqs), 1)
	msgs := reqs[0].Messages
	last := msgs[len(msgs)-1]
	is.Equal(last.Role, llm.RoleSystem)
	is.Equal(last.Content, WrapUpInstruction)
	is.Equal(msgs[len(msgs)-2].Content, "I want an appointment")
}

func TestAgent_FillerAndInterimIgnored(t *testing.T) {
	is := is.New(t)
	finalizer := &captureFinalizer{}
	cfg := testConfig()
	cfg.Fillers = []string{"umm", "okay"}
	h := start(t, cfg, llmfake.NewFakeLLM(), finalizer, nil)

	<-h.stt.Opened()
	is.True(h.stt.Emit("umm", true))
	is.True(h.stt.Emit("I would like to", false))
	is.True(h.stt.Emit("hi", true))
	eventually(t, "rejections", func() bool {
		return h.observer.rejections("filler") == 1 &&
			h.observer.rejections("interim") == 1 &&
			h.observer.rejections("too_short") == 1
	})

	h.room.Disconnect("participant_left")
	h.wait(t)
	is.Equal(h.session.Turns(), 0)
	is.Equal(len(h.llm.Requests()), 0)
}

func TestAgent_BargeInCountsInterruption(t *testing.T) {
	is := is.New(t)
	finalizer := &captureFinalizer{}
	cfg := testConfig()
	cfg.FirstLine = "Welcome to the clinic, how may I help you with your appointment today?"
	script := llmfake.NewFakeLLM(llmfake.Say(cfg.FirstLine))
	h := start(t, cfg, script, finalizer, nil)

	eventually(t, "greeting playing", h.session.AgentSpeaking)
	is.True(h.stt.Emit("wait a second", true))
	eventually(t, "interruption", func() bool { return h.session.Interrupts() == 1 && !h.session.AgentSpeaking() })

	h.room.Disconnect("participant_left")
	h.wait(t)

	is.Equal(h.observer.interrupts(), 1)
	is.Equal(h.observer.rejections("echo"), 1)
	is.Equal(finalizer.inputs[0].Session.Interrupts, 1)
	is.True(h.room.FramesWritten() < 26)
}

func TestAgent_StateTransitionMetrics(t *testing.T) {
	is := is.New(t)
	h := start(t, testConfig(), llmfake.NewFakeLLM(), &captureFinalizer{}, nil)

	eventually(t, "listening", func() bool { return h.agent.State() == StateListening })
	h.room.Disconnect("participant_left")
	h.wait(t)

	m := h.agent.Metrics()
	is.True(m.StateTransitions.Get("Connecting_to_Greeting") != nil)
	is.True(m.StateTransitions.Get("Greeting_to_Listening") != nil)
	is.True(m.StateTransitions.Get("Listening_to_Disconnected") != nil)
}
