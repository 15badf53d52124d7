package wav

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-call-agent/pkg/rtc"
)

func tone(rate, n int) rtc.AudioFrame {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(i * 7)
	}
	return rtc.FrameFromSamples(samples, rate, 1)
}

func TestEncodeDecode(t *testing.T) {
	is := is.New(t)

	frames := []rtc.AudioFrame{tone(16000, 160), tone(16000, 160), tone(16000, 80)}
	var buf bytes.Buffer
	is.NoErr(Encode(&buf, frames))
	is.Equal(buf.Len(), headerSize+400*2)

	header, decoded, err := Decode(&buf)
	is.NoErr(err)
	is.Equal(header.SampleRate, uint32(16000))
	is.Equal(header.NumChannels, uint16(1))
	is.Equal(header.DataSize, uint32(800))
	is.Equal(header.Duration(), 25*time.Millisecond)

	is.Equal(len(decoded), 3)
	is.Equal(decoded[2].Timestamp, 20*time.Millisecond)
	last := decoded[2].Samples()
	is.Equal(len(last), 160) // padded to a full frame
	is.Equal(last[79], int16(79*7))
	is.Equal(last[80], int16(0))
}

func TestEncodeRejectsMixedFormats(t *testing.T) {
	is := is.New(t)
	err := Encode(&bytes.Buffer{}, []rtc.AudioFrame{tone(16000, 160), tone(48000, 480)})
	is.True(errors.Is(err, ErrFormat))
	is.True(Encode(&bytes.Buffer{}, nil) != nil)
}

func TestDecodeRejectsNonPCM(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	is.NoErr(Encode(&buf, []rtc.AudioFrame{tone(16000, 160)}))
	data := buf.Bytes()
	data[20] = 3 // IEEE float

	_, _, err := Decode(bytes.NewReader(data))
	is.True(errors.Is(err, ErrFormat))

	_, _, err = Decode(bytes.NewReader([]byte("not a wav file at all")))
	is.True(errors.Is(err, ErrFormat))
}

func TestWriterPatchesHeader(t *testing.T) {
	is := is.New(t)

	path := filepath.Join(t.TempDir(), "agent.wav")
	f, err := os.Create(path)
	is.NoErr(err)

	w, err := NewWriter(f, 24000, 1)
	is.NoErr(err)
	for i := 0; i < 5; i++ {
		is.NoErr(w.WriteFrame(rtc.Silence(24000, rtc.FrameDuration)))
	}
	is.True(errors.Is(w.WriteFrame(tone(48000, 480)), ErrFormat))
	is.NoErr(w.Close())
	is.NoErr(f.Close())

	f, err = os.Open(path)
	is.NoErr(err)
	defer f.Close()
	header, frames, err := Decode(f)
	is.NoErr(err)
	is.Equal(header.DataSize, uint32(5*240*2))
	is.Equal(header.Duration(), 50*time.Millisecond)
	is.Equal(len(frames), 5)
}
