package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chriscow/livekit-call-agent/internal/config"
	"github.com/chriscow/livekit-call-agent/pkg/agent"
	"github.com/chriscow/livekit-call-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-call-agent/pkg/ai/stt"
	sttfake "github.com/chriscow/livekit-call-agent/pkg/ai/stt/fake"
	"github.com/chriscow/livekit-call-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-call-agent/pkg/audio/wav"
	"github.com/chriscow/livekit-call-agent/pkg/call"
	"github.com/chriscow/livekit-call-agent/pkg/finalize"
	"github.com/chriscow/livekit-call-agent/pkg/job/fake"
	"github.com/chriscow/livekit-call-agent/pkg/plugin"
	fakeplugin "github.com/chriscow/livekit-call-agent/pkg/plugin/fake"
	"github.com/chriscow/livekit-call-agent/pkg/rtc"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one call offline with a scripted caller",
	Long: `Runs a full call against an in-memory room. Caller turns come from --say
and --script and are fed to the agent as final transcripts, each one once
the agent is listening again. Agent replies come from --responses unless
--providers config selects the configured LLM and TTS. The calendar and
notifiers stay off unless --integrations is set.

The finished call log is printed as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		var opts simOptions
		opts.phone, _ = cmd.Flags().GetString("phone")
		opts.name, _ = cmd.Flags().GetString("name")
		opts.lines, _ = cmd.Flags().GetStringArray("say")
		opts.responses, _ = cmd.Flags().GetStringArray("responses")
		opts.providers, _ = cmd.Flags().GetString("providers")
		opts.callerAudio, _ = cmd.Flags().GetString("caller-audio")
		opts.record, _ = cmd.Flags().GetString("record")
		opts.turnTimeout, _ = cmd.Flags().GetDuration("turn-timeout")
		outbound, _ := cmd.Flags().GetBool("outbound")
		opts.direction = call.Inbound
		if outbound {
			opts.direction = call.Outbound
		}

		if script, _ := cmd.Flags().GetString("script"); script != "" {
			lines, err := readScript(script)
			if err != nil {
				return err
			}
			opts.lines = append(opts.lines, lines...)
		}
		if opts.providers != "fake" && opts.providers != "config" {
			return fmt.Errorf("--providers must be fake or config, got %q", opts.providers)
		}

		if live, _ := cmd.Flags().GetBool("integrations"); !live {
			cfg.Calendar = config.CalendarConfig{}
			cfg.Notify = config.NotifyConfig{}
		}
		if dsn, _ := cmd.Flags().GetString("store"); dsn != "" {
			cfg.Store.Driver, cfg.Store.DSN = "sqlite", dsn
		}
		logger := setupLogger(cfg.Logging)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		entry, err := simulate(ctx, cfg, opts, logger)
		if err != nil {
			return err
		}
		return printJSON(entry)
	},
}

type simOptions struct {
	phone       string
	name        string
	direction   call.Direction
	lines       []string
	responses   []string
	providers   string
	callerAudio string
	record      string
	turnTimeout time.Duration
}

// simulate runs one call and returns its stored call log.
func simulate(ctx context.Context, cfg config.Config, opts simOptions, logger *slog.Logger) (finalize.CallLog, error) {
	svc, err := openServices(ctx, cfg, false, logger)
	if err != nil {
		return finalize.CallLog{}, err
	}
	defer svc.Close()

	caller := sttfake.NewFakeSTT()
	options := cfg.ProviderOptions()
	options[fakeplugin.Name] = map[string]any{
		"instance":  caller,
		"responses": opts.responses,
	}
	builder := &plugin.Builder{Options: options}
	providers := func(ctx context.Context, cc call.Config) (stt.STT, llm.LLM, tts.TTS, error) {
		cc.STTProvider = fakeplugin.Name
		if opts.providers == "fake" {
			cc.LLMProvider = fakeplugin.Name
			cc.TTSProvider = fakeplugin.Name
		}
		return builder.Build(ctx, cc)
	}

	observer := &turnObserver{Observer: svc.metrics, listening: make(chan struct{}, 1)}
	handler := svc.handler(providers, observer)

	meta := call.Meta{
		RoomName:   "sim-" + uuid.NewString(),
		Phone:      opts.phone,
		CallerName: opts.name,
		Direction:  opts.direction,
	}
	room := &recordingRoom{FakeRoom: fake.NewFakeRoom()}
	room.CallerMeta = meta
	if opts.record != "" {
		f, err := os.Create(opts.record)
		if err != nil {
			return finalize.CallLog{}, fmt.Errorf("create recording: %w", err)
		}
		defer f.Close()
		room.out = f
		defer room.finish(logger)
	}

	done := make(chan error, 1)
	go func() { done <- handler.HandleCall(ctx, room, meta) }()

	if opts.callerAudio != "" {
		frames, err := readCallerAudio(opts.callerAudio)
		if err != nil {
			room.Disconnect("simulation_error")
			<-done
			return finalize.CallLog{}, err
		}
		go func() {
			for _, frame := range frames {
				select {
				case <-ctx.Done():
					return
				default:
				}
				room.SendAudio(frame)
			}
		}()
	}

	ended := false
	select {
	case <-caller.Opened():
	case err := <-done:
		return finalize.CallLog{}, fmt.Errorf("call ended before it started: %w", err)
	case <-ctx.Done():
		return finalize.CallLog{}, ctx.Err()
	}

	for _, line := range opts.lines {
		if ended = observer.wait(ctx, done, opts.turnTimeout, logger); ended {
			break
		}
		logger.Info("Caller says", slog.String("text", line))
		caller.Emit(line, true)
	}
	if !ended && !observer.wait(ctx, done, opts.turnTimeout, logger) {
		room.Disconnect("participant_left")
	}

	select {
	case err = <-done:
	case <-time.After(opts.turnTimeout + 30*time.Second):
		err = errors.New("call did not finish")
	}
	if err != nil {
		return finalize.CallLog{}, err
	}

	logs, err := svc.store.ListCallLogs(context.WithoutCancel(ctx), 1)
	if err != nil {
		return finalize.CallLog{}, err
	}
	if len(logs) == 0 {
		return finalize.CallLog{}, errors.New("no call log was stored")
	}
	return logs[0], nil
}

// turnObserver signals each time the agent starts listening.
type turnObserver struct {
	agent.Observer
	listening chan struct{}
}

func (o *turnObserver) StateChanged(from, to agent.State) {
	o.Observer.StateChanged(from, to)
	if to == agent.StateListening {
		select {
		case o.listening <- struct{}{}:
		default:
		}
	}
}

// wait blocks until the agent is listening. It reports true once the call
// has ended; the handler's result is then put back on done.
func (o *turnObserver) wait(ctx context.Context, done chan error, timeout time.Duration, logger *slog.Logger) bool {
	select {
	case <-o.listening:
		return false
	case err := <-done:
		done <- err
		return true
	case <-ctx.Done():
		return true
	case <-time.After(timeout):
		logger.Warn("Agent did not start listening in time", slog.Duration("timeout", timeout))
		return false
	}
}

// recordingRoom is a fake room that can also write the agent's audio to a
// WAV file. The file format follows the first frame.
type recordingRoom struct {
	*fake.FakeRoom

	mu  sync.Mutex
	out *os.File
	wav *wav.Writer
	err error
}

func (r *recordingRoom) WriteFrame(ctx context.Context, frame rtc.AudioFrame) error {
	if err := r.FakeRoom.WriteFrame(ctx, frame); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out == nil || r.err != nil {
		return nil
	}
	if r.wav == nil {
		r.wav, r.err = wav.NewWriter(r.out, frame.SampleRate, frame.NumChannels)
		if r.err != nil {
			return nil
		}
	}
	r.err = r.wav.WriteFrame(frame)
	return nil
}

func (r *recordingRoom) finish(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wav != nil && r.err == nil {
		r.err = r.wav.Close()
	}
	if r.err != nil {
		logger.Warn("Recording incomplete", slog.String("error", r.err.Error()))
		return
	}
	logger.Info("Agent audio recorded", slog.String("path", r.out.Name()))
}

func readCallerAudio(path string) ([]rtc.AudioFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	_, frames, err := wav.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return frames, nil
}

// readScript returns the non-blank lines of a caller script. Lines starting
// with # are comments.
func readScript(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func init() {
	simulateCmd.Flags().String("phone", "+919800000000", "Caller phone number")
	simulateCmd.Flags().String("name", "", "Caller name")
	simulateCmd.Flags().Bool("outbound", false, "Simulate a call the agent placed")
	simulateCmd.Flags().StringArray("say", nil, "Caller turn, repeatable")
	simulateCmd.Flags().String("script", "", "File with one caller turn per line")
	simulateCmd.Flags().StringArray("responses", nil, "Canned agent reply, repeatable (fake providers only)")
	simulateCmd.Flags().String("providers", "fake", "LLM and TTS to use: fake or config")
	simulateCmd.Flags().String("caller-audio", "", "WAV file streamed as caller audio")
	simulateCmd.Flags().String("record", "", "Write the agent's audio to this WAV file")
	simulateCmd.Flags().String("store", ":memory:", "SQLite DSN for the simulated call; empty uses the configured store")
	simulateCmd.Flags().Bool("integrations", false, "Use the configured calendar and notifiers instead of disabling them")
	simulateCmd.Flags().Duration("turn-timeout", 20*time.Second, "How long to wait for each agent reply")
}
