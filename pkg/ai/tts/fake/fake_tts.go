package fake

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chriscow/livekit-call-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-call-agent/pkg/rtc"
)

// FakeTTS synthesizes silence: one 10ms frame per FramesPerWord per word,
// sleeping FrameDelay between frames to imitate real-time output.
type FakeTTS struct {
	SampleRate    int
	FramesPerWord int
	FrameDelay    time.Duration
	// Err, when set, is returned by Synthesize.
	Err error

	mu     sync.Mutex
	spoken []string
}

// NewFakeTTS creates a new fake TTS provider.
func NewFakeTTS() *FakeTTS {
	return &FakeTTS{SampleRate: 24000, FramesPerWord: 2, FrameDelay: time.Millisecond}
}

// Spoken returns every text synthesized so far.
func (f *FakeTTS) Spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

// Synthesize generates silent audio frames for the given text.
func (f *FakeTTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (<-chan rtc.AudioFrame, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	f.spoken = append(f.spoken, req.Text)
	f.mu.Unlock()

	frames := len(strings.Fields(req.Text)) * f.FramesPerWord
	if frames == 0 {
		frames = 1
	}

	output := make(chan rtc.AudioFrame, 10)
	go func() {
		defer close(output)
		for i := 0; i < frames; i++ {
			frame := rtc.Silence(f.SampleRate, rtc.FrameDuration)
			frame.Timestamp = time.Duration(i) * rtc.FrameDuration
			select {
			case output <- frame:
			case <-ctx.Done():
				return
			}
			if f.FrameDelay > 0 {
				select {
				case <-time.After(f.FrameDelay):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return output, nil
}

// Capabilities returns the fake TTS capabilities.
func (f *FakeTTS) Capabilities() tts.TTSCapabilities {
	return tts.TTSCapabilities{
		Streaming:       true,
		SupportedVoices: []string{"fake-voice"},
		SampleRates:     []int{f.SampleRate},
	}
}
