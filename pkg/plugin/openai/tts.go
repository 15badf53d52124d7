package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/livekit-call-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-call-agent/pkg/rtc"
)

// SpeechSampleRate is the rate of OpenAI's raw PCM speech output.
const SpeechSampleRate = 24000

// OpenAITTS implements the TTS interface using OpenAI's speech endpoint with
// raw 16-bit PCM output, so frames can go straight to the room track.
type OpenAITTS struct {
	client *openai.Client
	model  string
	voice  string
	logger *slog.Logger
}

// NewTTS creates a speech provider.
func NewTTS(c Config) *OpenAITTS {
	if c.Model == "" {
		c.Model = string(openai.TTSModel1)
	}
	if c.Voice == "" {
		c.Voice = string(openai.VoiceAlloy)
	}
	return &OpenAITTS{
		client: newClient(c),
		model:  c.Model,
		voice:  c.Voice,
		logger: slog.Default().With(slog.String("provider", "openai-tts")),
	}
}

func newOpenAITTS(cfg map[string]any) (any, error) {
	c, err := configFrom(cfg, string(openai.TTSModel1))
	if err != nil {
		return nil, err
	}
	return NewTTS(c), nil
}

// Synthesize requests speech for req.Text and streams it as 10ms frames. The
// request itself is made before returning so failures surface to the caller.
func (o *OpenAITTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (<-chan rtc.AudioFrame, error) {
	voice := req.Voice
	if voice == "" {
		voice = o.voice
	}
	speechReq := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	}
	if req.Speed > 0 {
		speechReq.Speed = float64(req.Speed)
	}

	start := time.Now()
	resp, err := o.client.CreateSpeech(ctx, speechReq)
	if err != nil {
		return nil, classify(fmt.Errorf("speech request failed: %w", err))
	}

	frames := make(chan rtc.AudioFrame, 10)
	go func() {
		defer close(frames)
		defer resp.Close()

		n, err := pcmFrames(ctx, resp, frames)
		if err != nil && ctx.Err() == nil {
			o.logger.Error("Reading speech failed", slog.String("error", err.Error()))
			return
		}
		o.logger.Debug("Speech synthesized",
			slog.Int("frames", n),
			slog.Duration("duration", time.Since(start)))
	}()
	return frames, nil
}

// pcmFrames cuts a 24kHz mono PCM byte stream into 10ms frames.
func pcmFrames(ctx context.Context, r io.Reader, out chan<- rtc.AudioFrame) (int, error) {
	const frameBytes = SpeechSampleRate / 100 * 2

	count := 0
	for {
		buf := make([]byte, frameBytes)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			n -= n % 2
			frame := rtc.AudioFrame{
				Data:              buf[:n],
				SampleRate:        SpeechSampleRate,
				SamplesPerChannel: n / 2,
				NumChannels:       1,
				Timestamp:         time.Duration(count) * rtc.FrameDuration,
			}
			select {
			case out <- frame:
				count++
			case <-ctx.Done():
				return count, ctx.Err()
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return count, nil
		}
		if err != nil {
			return count, err
		}
	}
}

// Capabilities returns the OpenAI TTS provider's capabilities
func (o *OpenAITTS) Capabilities() tts.TTSCapabilities {
	return tts.TTSCapabilities{
		Streaming:            true,
		SupportedLanguages:   []string{"en", "hi", "es", "fr", "de", "it", "pt", "ja", "ko", "zh"},
		SupportedVoices:      []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"},
		SampleRates:          []int{SpeechSampleRate},
		SupportsSpeedControl: true,
	}
}
