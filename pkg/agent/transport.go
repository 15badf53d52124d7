package agent

import (
	"context"
	"time"

	"github.com/chriscow/livekit-call-agent/pkg/call"
	"github.com/chriscow/livekit-call-agent/pkg/finalize"
	"github.com/chriscow/livekit-call-agent/pkg/rtc"
)

// Transport is the media side of a joined call.
type Transport interface {
	// Audio delivers the caller's audio.
	Audio() <-chan rtc.AudioFrame
	// WriteFrame plays one frame of agent audio to the caller.
	WriteFrame(ctx context.Context, frame rtc.AudioFrame) error
	// Disconnected yields the reason the call ended. It may fire more than
	// once.
	Disconnected() <-chan string

	Transfer(ctx context.Context, destination string) error
	Hangup(ctx context.Context) error
}

// Conn is a transport that has not been joined yet.
type Conn interface {
	Transport
	Connect(ctx context.Context) error
	// Caller waits for the remote participant and reports what the
	// transport knows about them. Empty fields are unknown.
	Caller(ctx context.Context) (call.Meta, error)
	Close() error
}

// Finalizer runs the post-call pipeline.
type Finalizer interface {
	Run(ctx context.Context, in finalize.Input) finalize.CallLog
}

// TranscriptSink receives each spoken line as it happens.
type TranscriptSink interface {
	AppendTranscript(ctx context.Context, room, phone, role, text string) error
}

// Observer is notified of session milestones. Implementations must be safe
// for concurrent use.
type Observer interface {
	CallStarted(direction call.Direction)
	CallRejected(reason string)
	CallFinished(log finalize.CallLog, reason string)
	StateChanged(from, to State)
	TurnAccepted()
	TranscriptRejected(reason string)
	Interrupted()
	ToolInvoked(name string, elapsed time.Duration)
	FinalizeStepFailed(step string)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) CallStarted(call.Direction) {}
func (NopObserver) CallRejected(string) {}
func (NopObserver) CallFinished(finalize.CallLog, string) {}
func (NopObserver) StateChanged(State, State) {}
func (NopObserver) TurnAccepted() {}
func (NopObserver) TranscriptRejected(string) {}
func (NopObserver) Interrupted() {}
func (NopObserver) ToolInvoked(string, time.Duration) {}
func (NopObserver) FinalizeStepFailed(string) {}
