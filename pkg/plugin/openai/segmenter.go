package openai

import (
	"math"
	"time"

	"github.com/chriscow/livekit-call-agent/pkg/rtc"
)

// Endpointing defaults for batch transcription.
const (
	DefaultSilenceThreshold = 500 // RMS of 16-bit samples
	DefaultSilenceGap       = 600 * time.Millisecond
	DefaultMaxUtterance     = 30 * time.Second

	preRoll      = 200 * time.Millisecond
	minUtterance = 100 * time.Millisecond // Whisper rejects shorter audio
)

// segmenter splits a live audio stream into utterances: runs of speech that
// end after a stretch of silence.
type segmenter struct {
	threshold float64
	gap       time.Duration
	max       time.Duration

	pending  []rtc.AudioFrame
	speech   time.Duration
	silence  time.Duration
	total    time.Duration
	speaking bool
}

func newSegmenter(threshold float64, gap, maxLen time.Duration) *segmenter {
	return &segmenter{threshold: threshold, gap: gap, max: maxLen}
}

// push adds a frame and returns a finished utterance, if any.
func (s *segmenter) push(frame rtc.AudioFrame) []rtc.AudioFrame {
	d := frame.Duration()
	loud := rms(frame) >= s.threshold

	if !s.speaking {
		if !loud {
			s.pending = append(s.pending, frame)
			s.total += d
			for len(s.pending) > 1 && s.total > preRoll {
				s.total -= s.pending[0].Duration()
				s.pending = s.pending[1:]
			}
			return nil
		}
		s.speaking = true
	}

	s.pending = append(s.pending, frame)
	s.total += d
	if loud {
		s.speech += d
		s.silence = 0
	} else {
		s.silence += d
	}

	if s.silence >= s.gap || s.total >= s.max {
		return s.flush()
	}
	return nil
}

// flush returns the current utterance if it holds enough speech, and resets.
func (s *segmenter) flush() []rtc.AudioFrame {
	utterance := s.pending
	speech := s.speech
	wasSpeaking := s.speaking

	s.pending, s.speech, s.silence, s.total, s.speaking = nil, 0, 0, 0, false
	if !wasSpeaking || speech < minUtterance {
		return nil
	}
	return utterance
}

func rms(frame rtc.AudioFrame) float64 {
	samples := frame.Samples()
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		f := float64(v)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
