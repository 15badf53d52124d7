// Package rtc holds the audio frame type shared by the transport, the speech
// providers and the session orchestrator.
package rtc

import (
	"encoding/binary"
	"fmt"
	"time"
)

// FrameDuration is the nominal length of one frame. Frames produced by the
// transport are always this long; TTS providers may emit longer chunks.
const FrameDuration = 10 * time.Millisecond

// AudioFrame is a chunk of 16-bit little-endian PCM.
// Len(Data) == SamplesPerChannel * NumChannels * 2.
//
// A zero Timestamp means "live"; otherwise it is the offset from stream start.
type AudioFrame struct {
	Data              []byte
	SampleRate        int // 48 000 (room audio), 24 000 (OpenAI speech) or 16 000
	SamplesPerChannel int
	NumChannels       int
	Timestamp         time.Duration
}

// NewAudioFrame creates a 10ms AudioFrame, validating the data length.
func NewAudioFrame(data []byte, sampleRate, numChannels int, timestamp time.Duration) (*AudioFrame, error) {
	samplesPerChannel := sampleRate / 100
	expectedLen := samplesPerChannel * numChannels * 2

	if len(data) != expectedLen {
		return nil, fmt.Errorf("AudioFrame data length mismatch: got %d bytes, expected %d bytes for %dHz %d-channel 10ms audio",
			len(data), expectedLen, sampleRate, numChannels)
	}

	return &AudioFrame{
		Data:              data,
		SampleRate:        sampleRate,
		SamplesPerChannel: samplesPerChannel,
		NumChannels:       numChannels,
		Timestamp:         timestamp,
	}, nil
}

// FrameFromSamples builds a frame of arbitrary length from interleaved samples.
func FrameFromSamples(samples []int16, sampleRate, numChannels int) AudioFrame {
	if numChannels <= 0 {
		numChannels = 1
	}
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return AudioFrame{
		Data:              data,
		SampleRate:        sampleRate,
		SamplesPerChannel: len(samples) / numChannels,
		NumChannels:       numChannels,
	}
}

// Silence returns a zeroed mono frame covering d.
func Silence(sampleRate int, d time.Duration) AudioFrame {
	n := int(int64(sampleRate) * int64(d) / int64(time.Second))
	return AudioFrame{
		Data:              make([]byte, n*2),
		SampleRate:        sampleRate,
		SamplesPerChannel: n,
		NumChannels:       1,
	}
}

// Samples decodes Data into interleaved int16 samples.
func (f *AudioFrame) Samples() []int16 {
	out := make([]int16, len(f.Data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(f.Data[i*2:]))
	}
	return out
}

// Clone creates a deep copy of the AudioFrame.
func (f *AudioFrame) Clone() *AudioFrame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	return &AudioFrame{
		Data:              data,
		SampleRate:        f.SampleRate,
		SamplesPerChannel: f.SamplesPerChannel,
		NumChannels:       f.NumChannels,
		Timestamp:         f.Timestamp,
	}
}

// Duration returns the playback length of the frame.
func (f *AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return FrameDuration
	}
	return time.Duration(f.SamplesPerChannel) * time.Second / time.Duration(f.SampleRate)
}
