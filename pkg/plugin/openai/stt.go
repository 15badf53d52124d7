package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chriscow/livekit-call-agent/pkg/ai"
	"github.com/chriscow/livekit-call-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-call-agent/pkg/audio/wav"
	"github.com/chriscow/livekit-call-agent/pkg/rtc"
)

var errStreamClosed = errors.New("stream is closed")

// WhisperSTT implements STT using OpenAI's Whisper API. Audio is cut into
// utterances locally and each utterance is transcribed as one final result.
type WhisperSTT struct {
	client    *openai.Client
	model     string
	language  string
	threshold float64
	gap       time.Duration
	logger    *slog.Logger
}

// NewWhisperSTT creates a new OpenAI Whisper STT provider.
func NewWhisperSTT(c Config) (*WhisperSTT, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if c.Model == "" {
		c.Model = openai.Whisper1
	}
	return &WhisperSTT{
		client:    newClient(c),
		model:     c.Model,
		language:  c.Language,
		threshold: DefaultSilenceThreshold,
		gap:       DefaultSilenceGap,
		logger:    slog.Default().With(slog.String("provider", "whisper")),
	}, nil
}

func newOpenAISTT(cfg map[string]any) (any, error) {
	c, err := configFrom(cfg, openai.Whisper1)
	if err != nil {
		return nil, err
	}
	w, err := NewWhisperSTT(c)
	if err != nil {
		return nil, err
	}
	if w.gap, err = durationOpt(cfg, "silence_gap", DefaultSilenceGap); err != nil {
		return nil, err
	}
	if t, ok := cfg["silence_threshold"].(int); ok && t > 0 {
		w.threshold = float64(t)
	}
	return w, nil
}

// NewStream starts a transcription session. The stream's language wins over
// the provider's.
func (w *WhisperSTT) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.STTStream, error) {
	lang := cfg.Lang
	if lang == "" {
		lang = w.language
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &whisperStream{
		stt:        w,
		lang:       lang,
		ctx:        ctx,
		cancel:     cancel,
		seg:        newSegmenter(w.threshold, w.gap, DefaultMaxUtterance),
		utterances: make(chan []rtc.AudioFrame, 4),
		events:     make(chan stt.SpeechEvent, 10),
	}
	go s.run()
	return s, nil
}

// Capabilities returns the STT capabilities.
func (w *WhisperSTT) Capabilities() stt.STTCapabilities {
	return stt.STTCapabilities{
		Streaming:      true,
		InterimResults: false,
		SupportedLanguages: []string{
			"en", "hi", "bn", "ta", "te", "mr", "gu", "kn", "ml", "pa", "ur",
			"es", "fr", "de", "it", "pt", "ru", "ja", "ko", "zh", "ar",
		},
		SampleRates: []int{16000, 24000, 48000},
	}
}

type whisperStream struct {
	stt    *WhisperSTT
	lang   string
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	seg        *segmenter
	utterances chan []rtc.AudioFrame
	closed     bool

	events chan stt.SpeechEvent
}

// Push adds caller audio. A full utterance queue drops the utterance rather
// than blocking the audio path.
func (s *whisperStream) Push(frame rtc.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	if utterance := s.seg.push(frame); utterance != nil {
		s.enqueue(utterance)
	}
	return nil
}

func (s *whisperStream) enqueue(utterance []rtc.AudioFrame) {
	select {
	case s.utterances <- utterance:
	default:
		s.stt.logger.Warn("Transcription backlog full, dropping utterance",
			slog.Int("frames", len(utterance)))
	}
}

func (s *whisperStream) Events() <-chan stt.SpeechEvent {
	return s.events
}

// CloseSend transcribes any speech still buffered, then ends the stream.
func (s *whisperStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if utterance := s.seg.flush(); utterance != nil {
		s.enqueue(utterance)
	}
	close(s.utterances)
	return nil
}

func (s *whisperStream) run() {
	defer close(s.events)
	defer s.cancel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case utterance, ok := <-s.utterances:
			if !ok {
				return
			}
			text, lang, err := s.transcribe(utterance)
			if err != nil {
				s.send(stt.SpeechEvent{Type: stt.SpeechEventError, Error: err, Timestamp: time.Now().UnixMilli()})
				if ai.IsFatal(err) {
					return
				}
				continue
			}
			if text == "" {
				continue
			}
			s.send(stt.SpeechEvent{
				Type:      stt.SpeechEventFinal,
				Text:      text,
				IsFinal:   true,
				Language:  lang,
				Timestamp: time.Now().UnixMilli(),
			})
		}
	}
}

func (s *whisperStream) transcribe(frames []rtc.AudioFrame) (string, string, error) {
	var buf bytes.Buffer
	if err := wav.Encode(&buf, frames); err != nil {
		return "", "", fmt.Errorf("encode utterance: %w", err)
	}
	data := buf.Bytes()

	start := time.Now()
	resp, err := ai.Retry(s.ctx, ai.DefaultRetryConfig, func(ctx context.Context) (openai.AudioResponse, error) {
		resp, err := s.stt.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    s.stt.model,
			Language: s.lang,
			Format:   openai.AudioResponseFormatJSON,
			Reader:   bytes.NewReader(data),
			FilePath: "utterance.wav",
		})
		if err != nil {
			return resp, classify(fmt.Errorf("transcription failed: %w", err))
		}
		return resp, nil
	})
	if err != nil {
		return "", "", err
	}

	s.stt.logger.Debug("Whisper transcription",
		slog.String("text", resp.Text),
		slog.Duration("duration", time.Since(start)))
	return resp.Text, resp.Language, nil
}

func (s *whisperStream) send(ev stt.SpeechEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}
