// Package agent runs one phone call. A single loop consumes the session's
// ordered event stream, drives the conversation state machine and hands the
// finished session to the finalize pipeline exactly once.
package agent

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chriscow/livekit-call-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-call-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-call-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-call-agent/pkg/call"
	"github.com/chriscow/livekit-call-agent/pkg/finalize"
	"github.com/chriscow/livekit-call-agent/pkg/tools"
	"github.com/chriscow/livekit-call-agent/pkg/voice"
)

// State is the conversation state of a call.
type State int32

const (
	StateConnecting State = iota
	StateGreeting
	StateListening
	StateSpeaking
	StateWrapUp
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateGreeting:
		return "Greeting"
	case StateListening:
		return "Listening"
	case StateSpeaking:
		return "Speaking"
	case StateWrapUp:
		return "WrapUp"
	case StateDisconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Disconnect reasons raised by the agent itself.
const (
	ReasonSTTError  = "stt_error"
	ReasonSTTClosed = "stt_closed"
	ReasonLLMError  = "llm_error"
	ReasonCancelled = "context_cancelled"
	ReasonHangup    = "agent_hangup"
)

const (
	// WrapUpInstruction is injected once the caller reaches the turn limit.
	WrapUpInstruction = "Politely wrap up: thank the caller, say they can call back anytime, and say a warm goodbye."

	apologyReply  = "Sorry, I'm having a little trouble. Could you say that again?"
	maxToolRounds = 5
	eventBuffer   = 64
	sttSampleRate = 48000
)

// GreetingInstruction asks the model to speak the configured opening line.
func GreetingInstruction(firstLine string) string {
	return fmt.Sprintf("Say exactly this phrase: '%s'", firstLine)
}

// Metrics holds expvar counters for one agent.
type Metrics struct {
	FirstWordLatency *expvar.Float
	SessionDuration  *expvar.Float
	StateTransitions *expvar.Map
}

func newMetrics() *Metrics {
	transitions := &expvar.Map{}
	transitions.Init()
	return &Metrics{
		FirstWordLatency: &expvar.Float{},
		SessionDuration:  &expvar.Float{},
		StateTransitions: transitions,
	}
}

// Config holds everything one call needs.
type Config struct {
	Call    call.Config
	Session *call.Session

	STT stt.STT
	LLM llm.LLM
	TTS tts.TTS

	Transport Transport
	Tools     *tools.Registry
	Finalizer Finalizer
	Recording finalize.Recording

	// History seeds the conversation, normally with the system prompt.
	History     []llm.Message
	Transcripts TranscriptSink
	Observer    Observer
	Logger      *slog.Logger
}

// Agent runs a single call.
type Agent struct {
	cfg      Config
	session  *call.Session
	gate     *voice.Gate
	tracker  *voice.Tracker
	logger   *slog.Logger
	observer Observer
	metrics  *Metrics

	state atomic.Int32
	ran   atomic.Bool

	events    chan call.Event
	results   chan replyResult
	stop      chan struct{}
	stopOnce  sync.Once
	reason    string
	runCtx    context.Context
	cancelRun context.CancelFunc
	stream    stt.STTStream
	wg        sync.WaitGroup

	historyMu sync.Mutex
	history   []llm.Message

	// Owned by the run loop.
	queued      []string
	pending     []string
	endpoint    *time.Timer
	endpointC   <-chan time.Time
	replyCancel context.CancelFunc
	replyBusy   bool
	wrapUp      bool
	started     time.Time
	firstWord   sync.Once

	callLog *finalize.CallLog
}

// New validates cfg and creates an agent in the Connecting state.
func New(cfg Config) (*Agent, error) {
	var errs []error
	if cfg.Session == nil {
		errs = append(errs, errors.New("session is required"))
	}
	if cfg.STT == nil || cfg.LLM == nil || cfg.TTS == nil {
		errs = append(errs, errors.New("STT, LLM and TTS are required"))
	}
	if cfg.Transport == nil {
		errs = append(errs, errors.New("transport is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.NewRegistry(cfg.Call.ToolTimeout, cfg.Logger)
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("room", cfg.Session.ID))

	limiter := voice.NewLimiter(cfg.Call.MaxTurns)
	a := &Agent{
		cfg:      cfg,
		session:  cfg.Session,
		gate:     voice.NewGate(voice.NewFillerSet(cfg.Call.Fillers), limiter, logger),
		tracker:  voice.NewTracker(cfg.Session),
		logger:   logger,
		observer: cfg.Observer,
		metrics:  newMetrics(),
		events:   make(chan call.Event, eventBuffer),
		results:  make(chan replyResult, 1),
		stop:     make(chan struct{}),
		history:  append([]llm.Message(nil), cfg.History...),
	}
	a.state.Store(int32(StateConnecting))
	return a, nil
}

// State returns the current conversation state.
func (a *Agent) State() State {
	return State(a.state.Load())
}

// Metrics exposes the agent's expvar counters.
func (a *Agent) Metrics() *Metrics {
	return a.metrics
}

// History returns a copy of the conversation so far.
func (a *Agent) History() []llm.Message {
	a.historyMu.Lock()
	defer a.historyMu.Unlock()
	return append([]llm.Message(nil), a.history...)
}

// CallLog returns the finalized call log, or nil before finalize ran.
func (a *Agent) CallLog() *finalize.CallLog {
	return a.callLog
}

func (a *Agent) setState(next State) {
	prev := State(a.state.Swap(int32(next)))
	if prev == next {
		return
	}
	key := fmt.Sprintf("%s_to_%s", prev, next)
	if counter, ok := a.metrics.StateTransitions.Get(key).(*expvar.Int); ok {
		counter.Add(1)
	} else {
		counter := &expvar.Int{}
		counter.Set(1)
		a.metrics.StateTransitions.Set(key, counter)
	}
	a.observer.StateChanged(prev, next)
	a.logger.Debug("State changed", slog.String("from", prev.String()), slog.String("to", next.String()))
}

// Start opens the STT stream and starts the goroutines that feed the event
// stream. The greeting is queued as the first reply. ctx bounds the whole
// call; openCtx bounds only opening the stream.
func (a *Agent) Start(ctx, openCtx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	stream, err := a.openStream(runCtx, openCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create STT stream: %w", err)
	}

	a.runCtx = runCtx
	a.cancelRun = cancel
	a.stream = stream
	a.started = time.Now()

	a.wg.Add(3)
	go a.feed(runCtx, stream)
	go a.pump(runCtx, stream)
	go a.watch(runCtx)

	if a.cfg.Call.FirstLine != "" {
		a.queued = append(a.queued, GreetingInstruction(a.cfg.Call.FirstLine))
	}
	a.logger.Info("Call session started",
		slog.String("phone", a.session.CallerPhone),
		slog.String("direction", string(a.session.Direction)))
	return nil
}

type openResult struct {
	stream stt.STTStream
	err    error
}

// openStream opens a stream that lives as long as runCtx, giving up when
// openCtx ends first. A stream that opens after that is closed.
func (a *Agent) openStream(runCtx, openCtx context.Context) (stt.STTStream, error) {
	opened := make(chan openResult, 1)
	go func() {
		stream, err := a.cfg.STT.NewStream(runCtx, stt.StreamConfig{
			SampleRate:  sttSampleRate,
			NumChannels: 1,
			Lang:        a.cfg.Call.Language,
			MaxRetry:    3,
		})
		opened <- openResult{stream: stream, err: err}
	}()

	select {
	case res := <-opened:
		return res.stream, res.err
	case <-openCtx.Done():
		go func() {
			if res := <-opened; res.stream != nil {
				res.stream.CloseSend()
			}
		}()
		return nil, openCtx.Err()
	}
}

// Disconnect asks the agent to end the call. The request joins the event
// stream behind anything already queued, so the first disconnect to arrive
// keeps its reason. Safe from any goroutine, any number of times.
func (a *Agent) Disconnect(reason string) {
	select {
	case <-a.stop:
		return
	default:
	}
	select {
	case a.events <- call.Disconnected(reason, time.Now()):
	case <-a.stop:
	default:
		a.end(reason)
	}
}

// end stops the loop with reason unless it already stopped.
func (a *Agent) end(reason string) {
	a.stopOnce.Do(func() {
		a.reason = reason
		close(a.stop)
	})
}

// post appends ev to the ordered stream. It gives up once the call stopped.
func (a *Agent) post(ev call.Event) {
	select {
	case a.events <- ev:
	case <-a.stop:
	}
}

// feed copies caller audio into the STT stream.
func (a *Agent) feed(ctx context.Context, stream stt.STTStream) {
	defer a.wg.Done()
	audio := a.cfg.Transport.Audio()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-audio:
			if !ok {
				return
			}
			if err := stream.Push(frame); err != nil {
				a.logger.Debug("STT push failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// pump converts STT results into transcript events.
func (a *Agent) pump(ctx context.Context, stream stt.STTStream) {
	defer a.wg.Done()
	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					a.post(call.Disconnected(ReasonSTTClosed, time.Now()))
				}
				return
			}
			if ev.Type == stt.SpeechEventError {
				a.logger.Error("STT stream failed", slog.Any("error", ev.Error))
				a.post(call.Disconnected(ReasonSTTError, time.Now()))
				return
			}
			at := time.Now()
			if ev.Timestamp > 0 {
				at = time.UnixMilli(ev.Timestamp)
			}
			a.post(call.Transcript(ev.Text, ev.IsFinal, at))
		}
	}
}

// watch forwards transport disconnects into the stream.
func (a *Agent) watch(ctx context.Context) {
	defer a.wg.Done()
	select {
	case <-ctx.Done():
	case reason := <-a.cfg.Transport.Disconnected():
		a.post(call.Disconnected(reason, time.Now()))
	}
}

// Run processes the event stream until the call disconnects, then
// finalizes the session. It returns nil for a normal hang-up.
func (a *Agent) Run(ctx context.Context) error {
	if a.runCtx == nil {
		return errors.New("agent not started")
	}
	if !a.ran.CompareAndSwap(false, true) {
		return errors.New("agent already ran")
	}
	defer a.updateSessionDuration()

	a.loop(ctx)
	a.teardown()
	a.finalize(ctx)
	return nil
}

func (a *Agent) loop(ctx context.Context) {
	a.setState(StateGreeting)
	a.nextReply()
	if !a.replyBusy {
		a.setState(StateListening)
	}

	for {
		select {
		case <-a.stop:
			return
		case <-ctx.Done():
			a.end(ReasonCancelled)
			return
		case ev := <-a.events:
			a.handleEvent(ev)
		case <-a.endpointC:
			a.endpointC = nil
			a.nextReply()
		case res := <-a.results:
			a.replyDone(res)
		}
	}
}

func (a *Agent) handleEvent(ev call.Event) {
	switch ev.Kind {
	case call.TranscriptReceived:
		a.handleTranscript(ev.Transcript)
	case call.AgentSpeechStarted:
		a.tracker.OnAgentSpeechStarted()
		a.firstWord.Do(func() {
			a.metrics.FirstWordLatency.Set(float64(time.Since(a.started).Milliseconds()))
		})
		if a.State() != StateWrapUp {
			a.setState(StateSpeaking)
		}
	case call.AgentSpeechInterrupted:
		a.tracker.OnAgentSpeechInterrupted()
		a.observer.Interrupted()
		a.logger.Info("Agent speech interrupted", slog.Int("interrupts", a.session.Interrupts()))
	case call.AgentSpeechFinished:
		a.tracker.OnAgentSpeechFinished()
		if a.State() == StateSpeaking {
			a.setState(StateListening)
		}
	case call.ParticipantDisconnected:
		a.logger.Info("Participant disconnected", slog.String("reason", ev.Reason))
		a.end(ev.Reason)
	}
}

func (a *Agent) handleTranscript(ev call.TranscriptEvent) {
	if a.session.AgentSpeaking() && a.cfg.Call.AllowInterruptions &&
		len(strings.Fields(ev.Text)) >= max(a.cfg.Call.MinInterruptionWords, 1) && a.replyCancel != nil {
		a.logger.Debug("Caller barged in", slog.String("text", ev.Text))
		a.replyCancel()
	}

	u, rej := a.gate.Accept(ev, a.session)
	if rej.Rejected() {
		a.observer.TranscriptRejected(string(rej.Reason))
		return
	}
	a.observer.TurnAccepted()
	a.record(llm.RoleUser, u.Text)
	a.pending = append(a.pending, u.Text)
	if u.WrapUp {
		a.wrapUp = true
	}
	a.armEndpoint()
}

func (a *Agent) armEndpoint() {
	delay := a.cfg.Call.EndpointingDelay
	if a.endpoint == nil {
		a.endpoint = time.NewTimer(delay)
	} else {
		a.endpoint.Stop()
		a.endpoint.Reset(delay)
	}
	a.endpointC = a.endpoint.C
}

// nextReply starts a reply if none is in flight: queued instructions first,
// then the caller's pending words.
func (a *Agent) nextReply() {
	if a.replyBusy || a.endpointC != nil {
		return
	}
	switch {
	case len(a.queued) > 0:
		instruction := a.queued[0]
		a.queued = a.queued[1:]
		a.startReply(instruction, false)
	case len(a.pending) > 0:
		text := strings.Join(a.pending, " ")
		a.pending = nil
		a.appendHistory(llm.Message{Role: llm.RoleUser, Content: text})
		if a.wrapUp {
			a.wrapUp = false
			a.setState(StateWrapUp)
			a.logger.Info("Turn limit reached, wrapping up", slog.Int("turns", a.session.Turns()))
			a.startReply(WrapUpInstruction, true)
			return
		}
		a.startReply("", false)
	}
}

func (a *Agent) startReply(instruction string, closing bool) {
	ctx, cancel := context.WithCancel(a.runCtx)
	a.replyCancel = cancel
	a.replyBusy = true
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer cancel()
		a.results <- a.reply(ctx, instruction, closing)
	}()
}

func (a *Agent) replyDone(res replyResult) {
	a.replyBusy = false
	a.replyCancel = nil

	if res.err != nil {
		a.logger.Error("Reply failed", slog.String("error", res.err.Error()))
		if res.fatal {
			a.end(ReasonLLMError)
			return
		}
	}
	if res.endCall && a.State() != StateWrapUp {
		a.setState(StateWrapUp)
	}
	if res.closing && a.cfg.Call.HangupAfterWrapUp && !res.interrupted {
		a.hangup()
		return
	}
	if a.State() == StateGreeting {
		a.setState(StateListening)
	}
	a.nextReply()
}

func (a *Agent) hangup() {
	ctx, cancel := context.WithTimeout(a.runCtx, 5*time.Second)
	defer cancel()
	if err := a.cfg.Transport.Hangup(ctx); err != nil {
		a.logger.Warn("Hangup failed", slog.String("error", err.Error()))
	}
	a.end(ReasonHangup)
}

// teardown cancels in-flight work and waits for every goroutine.
func (a *Agent) teardown() {
	a.setState(StateDisconnected)
	a.cancelRun()
	if a.endpoint != nil {
		a.endpoint.Stop()
	}
	if err := a.stream.CloseSend(); err != nil {
		a.logger.Debug("STT close failed", slog.String("error", err.Error()))
	}
	a.wg.Wait()
	a.tracker.OnAgentSpeechFinished()
}

// finalize runs the post-call pipeline once per session.
func (a *Agent) finalize(ctx context.Context) {
	if !a.session.BeginShutdown() {
		a.logger.Debug("Finalize already ran")
		return
	}
	a.session.MarkEnded(time.Now())
	a.logger.Info("Call ended",
		slog.String("reason", a.reason),
		slog.Int("turns", a.session.Turns()),
		slog.Int("interrupts", a.session.Interrupts()))

	if a.cfg.Finalizer == nil {
		return
	}
	log := a.cfg.Finalizer.Run(context.WithoutCancel(ctx), finalize.Input{
		Session:   a.session.Snapshot(),
		History:   a.History(),
		Recording: a.cfg.Recording,
		Voice:     a.cfg.Call.Voice,
	})
	a.callLog = &log
	a.observer.CallFinished(log, a.reason)
}

// Reason is why the call ended. It is empty while the call runs.
func (a *Agent) Reason() string {
	select {
	case <-a.stop:
		return a.reason
	default:
		return ""
	}
}

func (a *Agent) appendHistory(msgs ...llm.Message) {
	a.historyMu.Lock()
	defer a.historyMu.Unlock()
	a.history = append(a.history, msgs...)
}

// record forwards a transcript line to the sink without blocking the loop.
func (a *Agent) record(role llm.MessageRole, text string) {
	if a.cfg.Transcripts == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(a.runCtx), 2*time.Second)
		defer cancel()
		if err := a.cfg.Transcripts.AppendTranscript(ctx, a.session.ID, a.session.CallerPhone, string(role), text); err != nil {
			a.logger.Debug("Transcript line not stored", slog.String("error", err.Error()))
		}
	}()
}

func (a *Agent) updateSessionDuration() {
	a.metrics.SessionDuration.Set(float64(time.Since(a.started).Milliseconds()))
}
