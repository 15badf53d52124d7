package rtc

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestNewAudioFrame(t *testing.T) {
	tests := []struct {
		name        string
		sampleRate  int
		numChannels int
		dataLen     int
		wantErr     bool
	}{
		{name: "48kHz mono", sampleRate: 48000, numChannels: 1, dataLen: 960},
		{name: "16kHz mono", sampleRate: 16000, numChannels: 1, dataLen: 320},
		{name: "48kHz stereo", sampleRate: 48000, numChannels: 2, dataLen: 1920},
		{name: "invalid data length", sampleRate: 48000, numChannels: 1, dataLen: 500, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := NewAudioFrame(make([]byte, tt.dataLen), tt.sampleRate, tt.numChannels, 100*time.Millisecond)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewAudioFrame() should have returned an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewAudioFrame() unexpected error: %v", err)
			}
			if frame.SamplesPerChannel != tt.sampleRate/100 {
				t.Errorf("SamplesPerChannel = %d, want %d", frame.SamplesPerChannel, tt.sampleRate/100)
			}
			if frame.Duration() != FrameDuration {
				t.Errorf("Duration() = %v, want %v", frame.Duration(), FrameDuration)
			}
		})
	}
}

func TestSamplesRoundTrip(t *testing.T) {
	is := is.New(t)

	in := []int16{0, 1, -1, 32767, -32768, 1234}
	frame := FrameFromSamples(in, 16000, 1)

	is.Equal(len(frame.Data), len(in)*2) // two bytes per sample
	is.Equal(frame.SamplesPerChannel, len(in))
	is.Equal(frame.Samples(), in)
}

func TestSilenceDuration(t *testing.T) {
	is := is.New(t)

	frame := Silence(24000, 250*time.Millisecond)
	is.Equal(frame.SamplesPerChannel, 6000)
	is.Equal(frame.Duration(), 250*time.Millisecond)
	for _, b := range frame.Data {
		if b != 0 {
			t.Fatal("silence frame should be zeroed")
		}
	}
}

func TestAudioFrameClone(t *testing.T) {
	is := is.New(t)

	original := FrameFromSamples([]int16{1, 2, 3, 4}, 16000, 1)
	clone := original.Clone()

	is.Equal(clone.Data, original.Data)
	clone.Data[0] = 255
	is.True(original.Data[0] != 255) // clone must not share memory
}
