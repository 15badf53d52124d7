package tts

import (
	"context"

	"github.com/chriscow/livekit-call-agent/pkg/ai"
	"github.com/chriscow/livekit-call-agent/pkg/rtc"
)

var (
	ErrRecoverable = ai.ErrRecoverable
	ErrFatal       = ai.ErrFatal
)

// SynthesizeRequest contains parameters for text-to-speech synthesis.
type SynthesizeRequest struct {
	Text     string
	Voice    string
	Language string
	Speed    float32
}

// TTSCapabilities describes the capabilities of a TTS provider.
type TTSCapabilities struct {
	Streaming            bool
	SupportedLanguages   []string
	SupportedVoices      []string
	SampleRates          []int
	SupportsSpeedControl bool
}

// TTS is the main interface for text-to-speech providers.
type TTS interface {
	// Synthesize converts text to audio frames. The returned channel is closed
	// when synthesis completes or ctx is cancelled.
	Synthesize(ctx context.Context, req SynthesizeRequest) (<-chan rtc.AudioFrame, error)

	Capabilities() TTSCapabilities
}
