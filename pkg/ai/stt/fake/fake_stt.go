// Package fake provides an STT whose transcripts are injected by the caller,
// so tests and the simulator can replay a conversation without audio.
package fake

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chriscow/livekit-call-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-call-agent/pkg/rtc"
)

// FakeSTT hands out one stream at a time; Emit writes into the current one.
type FakeSTT struct {
	mu      sync.Mutex
	current *FakeSTTStream
	opened  chan struct{}
	// NewStreamErr, when set, is returned by NewStream.
	NewStreamErr error
	// OpenDelay is how long NewStream takes to connect.
	OpenDelay time.Duration
}

// NewFakeSTT creates a new fake STT provider.
func NewFakeSTT() *FakeSTT {
	return &FakeSTT{opened: make(chan struct{})}
}

// NewStream creates a new fake STT stream.
func (f *FakeSTT) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.STTStream, error) {
	if f.NewStreamErr != nil {
		return nil, f.NewStreamErr
	}
	if f.OpenDelay > 0 {
		select {
		case <-time.After(f.OpenDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s := &FakeSTTStream{
		events: make(chan stt.SpeechEvent, 32),
		lang:   cfg.Lang,
	}
	go func() {
		<-ctx.Done()
		s.close()
	}()

	f.mu.Lock()
	first := f.current == nil
	f.current = s
	f.mu.Unlock()
	if first {
		close(f.opened)
	}
	return s, nil
}

// Opened is closed once the first stream exists.
func (f *FakeSTT) Opened() <-chan struct{} {
	return f.opened
}

// Emit injects a transcript into the current stream. It reports false when
// no stream is open.
func (f *FakeSTT) Emit(text string, final bool) bool {
	typ := stt.SpeechEventInterim
	if final {
		typ = stt.SpeechEventFinal
	}
	return f.send(stt.SpeechEvent{Type: typ, Text: text, IsFinal: final})
}

// Fail injects a stream error.
func (f *FakeSTT) Fail(err error) bool {
	return f.send(stt.SpeechEvent{Type: stt.SpeechEventError, Error: err})
}

// Frames reports how many audio frames the current stream received.
func (f *FakeSTT) Frames() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return 0
	}
	return f.current.frames.Load()
}

func (f *FakeSTT) send(ev stt.SpeechEvent) bool {
	f.mu.Lock()
	s := f.current
	f.mu.Unlock()
	if s == nil {
		return false
	}
	return s.emit(ev)
}

// Capabilities returns the fake STT capabilities.
func (f *FakeSTT) Capabilities() stt.STTCapabilities {
	return stt.STTCapabilities{
		Streaming:          true,
		InterimResults:     true,
		SupportedLanguages: []string{"en-IN", "hi-IN", "en-US"},
		SampleRates:        []int{16000, 48000},
	}
}

// FakeSTTStream is a fake STT stream implementation.
type FakeSTTStream struct {
	mu     sync.Mutex
	events chan stt.SpeechEvent
	closed bool
	lang   string
	frames atomic.Int64
}

// Push counts frames.
func (s *FakeSTTStream) Push(frame rtc.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream is closed")
	}
	s.frames.Add(1)
	return nil
}

func (s *FakeSTTStream) Events() <-chan stt.SpeechEvent {
	return s.events
}

func (s *FakeSTTStream) CloseSend() error {
	s.close()
	return nil
}

func (s *FakeSTTStream) emit(ev stt.SpeechEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if ev.Language == "" {
		ev.Language = s.lang
	}
	ev.Timestamp = time.Now().UnixMilli()
	s.events <- ev
	return true
}

func (s *FakeSTTStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}
