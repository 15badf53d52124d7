// Package stt provides interfaces and types for speech-to-text providers.
// Streams convert audio frames to interim and final transcript events.
package stt

import (
	"context"

	"github.com/chriscow/livekit-call-agent/pkg/ai"
	"github.com/chriscow/livekit-call-agent/pkg/rtc"
)

var (
	ErrRecoverable = ai.ErrRecoverable
	ErrFatal       = ai.ErrFatal
)

// StreamConfig contains configuration for STT streams.
// An empty Lang asks the provider to auto-detect.
type StreamConfig struct {
	SampleRate  int
	NumChannels int
	Lang        string
	MaxRetry    int
}

// SpeechEvent represents a speech recognition event containing transcription results or errors.
type SpeechEvent struct {
	Type      SpeechEventType
	Text      string
	IsFinal   bool
	Language  string
	Timestamp int64 // milliseconds since epoch
	Error     error // only set for error events
}

type SpeechEventType int

const (
	SpeechEventInterim SpeechEventType = iota
	SpeechEventFinal
	SpeechEventError
)

func (t SpeechEventType) String() string {
	switch t {
	case SpeechEventInterim:
		return "interim"
	case SpeechEventFinal:
		return "final"
	case SpeechEventError:
		return "error"
	default:
		return "unknown"
	}
}

// STTCapabilities describes the capabilities of an STT provider.
type STTCapabilities struct {
	Streaming          bool
	InterimResults     bool
	SupportedLanguages []string
	SampleRates        []int
}

// STT is the main interface for speech-to-text providers.
type STT interface {
	NewStream(ctx context.Context, cfg StreamConfig) (STTStream, error)
	Capabilities() STTCapabilities
}

// STTStream represents an active STT streaming session.
type STTStream interface {
	// Push sends an audio frame for processing.
	Push(frame rtc.AudioFrame) error

	// Events returns a channel of speech recognition events. It is closed
	// when the stream ends.
	Events() <-chan SpeechEvent

	// CloseSend signals that no more audio will be sent and flushes any pending data.
	CloseSend() error
}
