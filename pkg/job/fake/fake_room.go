// Package fake provides an in-memory room for tests and the offline
// simulator. It satisfies the agent's Conn interface.
package fake

import (
	"context"
	"errors"
	"sync"

	"github.com/chriscow/livekit-call-agent/pkg/call"
	"github.com/chriscow/livekit-call-agent/pkg/rtc"
)

// ReasonHangup is reported on Disconnected after Hangup.
const ReasonHangup = "agent_hangup"

// FakeRoom records what the agent does to the call.
type FakeRoom struct {
	// CallerMeta is returned by Caller.
	CallerMeta call.Meta

	ConnectErr  error
	CallerErr   error
	TransferErr error
	HangupErr   error

	audio        chan rtc.AudioFrame
	disconnected chan string

	mu        sync.Mutex
	connected bool
	closed    bool
	frames    int
	transfers []string
	hangups   int
}

// NewFakeRoom creates a room with a buffered audio input.
func NewFakeRoom() *FakeRoom {
	return &FakeRoom{
		audio:        make(chan rtc.AudioFrame, 16),
		disconnected: make(chan string, 4),
	}
}

func (r *FakeRoom) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.ConnectErr != nil {
		return r.ConnectErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = true
	return nil
}

func (r *FakeRoom) Caller(ctx context.Context) (call.Meta, error) {
	if r.CallerErr != nil {
		return call.Meta{}, r.CallerErr
	}
	return r.CallerMeta, ctx.Err()
}

func (r *FakeRoom) Audio() <-chan rtc.AudioFrame { return r.audio }

// SendAudio delivers caller audio to the agent.
func (r *FakeRoom) SendAudio(frame rtc.AudioFrame) {
	r.audio <- frame
}

// WriteFrame counts agent audio.
func (r *FakeRoom) WriteFrame(ctx context.Context, _ rtc.AudioFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("room closed")
	}
	r.frames++
	return nil
}

func (r *FakeRoom) Disconnected() <-chan string { return r.disconnected }

// Disconnect simulates the caller leaving. Extra signals beyond the buffer
// are dropped, as a real room would coalesce them.
func (r *FakeRoom) Disconnect(reason string) {
	select {
	case r.disconnected <- reason:
	default:
	}
}

func (r *FakeRoom) Transfer(_ context.Context, destination string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers = append(r.transfers, destination)
	return r.TransferErr
}

// Hangup ends the call and reports ReasonHangup on Disconnected.
func (r *FakeRoom) Hangup(context.Context) error {
	r.mu.Lock()
	r.hangups++
	r.mu.Unlock()
	if r.HangupErr != nil {
		return r.HangupErr
	}
	r.Disconnect(ReasonHangup)
	return nil
}

func (r *FakeRoom) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *FakeRoom) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *FakeRoom) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// FramesWritten is the number of agent audio frames played.
func (r *FakeRoom) FramesWritten() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *FakeRoom) Transfers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.transfers...)
}

func (r *FakeRoom) Hangups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hangups
}
