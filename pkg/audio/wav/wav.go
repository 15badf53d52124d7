// Package wav reads and writes 16-bit PCM WAV audio as rtc.AudioFrame values.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/chriscow/livekit-call-agent/pkg/rtc"
)

const (
	headerSize    = 44
	bitsPerSample = 16
)

// ErrFormat is returned for WAV data this package cannot decode.
var ErrFormat = errors.New("unsupported WAV format")

// Header describes a PCM WAV stream.
type Header struct {
	SampleRate    uint32
	NumChannels   uint16
	BitsPerSample uint16
	DataSize      uint32
}

// Duration returns the playback length of the data chunk.
func (h Header) Duration() time.Duration {
	bytesPerSecond := int64(h.SampleRate) * int64(h.NumChannels) * int64(h.BitsPerSample/8)
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(int64(h.DataSize) * int64(time.Second) / bytesPerSecond)
}

func putHeader(b []byte, sampleRate, numChannels, dataSize uint32) {
	copy(b[0:], "RIFF")
	binary.LittleEndian.PutUint32(b[4:], 36+dataSize)
	copy(b[8:], "WAVE")
	copy(b[12:], "fmt ")
	binary.LittleEndian.PutUint32(b[16:], 16)
	binary.LittleEndian.PutUint16(b[20:], 1) // PCM
	binary.LittleEndian.PutUint16(b[22:], uint16(numChannels))
	binary.LittleEndian.PutUint32(b[24:], sampleRate)
	binary.LittleEndian.PutUint32(b[28:], sampleRate*numChannels*bitsPerSample/8)
	binary.LittleEndian.PutUint16(b[32:], uint16(numChannels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(b[34:], bitsPerSample)
	copy(b[36:], "data")
	binary.LittleEndian.PutUint32(b[40:], dataSize)
}

// Encode writes frames as one WAV file. All frames must share the first
// frame's sample rate and channel count.
func Encode(w io.Writer, frames []rtc.AudioFrame) error {
	if len(frames) == 0 {
		return errors.New("no audio to encode")
	}
	rate, channels := frames[0].SampleRate, frames[0].NumChannels

	var size int
	for _, f := range frames {
		if f.SampleRate != rate || f.NumChannels != channels {
			return fmt.Errorf("%w: mixed frame formats (%dHz/%d and %dHz/%d)",
				ErrFormat, rate, channels, f.SampleRate, f.NumChannels)
		}
		size += len(f.Data)
	}

	var header [headerSize]byte
	putHeader(header[:], uint32(rate), uint32(channels), uint32(size))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write WAV header: %w", err)
	}
	for _, f := range frames {
		if _, err := w.Write(f.Data); err != nil {
			return fmt.Errorf("write WAV data: %w", err)
		}
	}
	return nil
}

// Writer streams frames into a WAV file, patching the sizes on Close.
type Writer struct {
	w           io.WriteSeeker
	sampleRate  int
	numChannels int
	written     uint32
}

// NewWriter writes a provisional header to w.
func NewWriter(w io.WriteSeeker, sampleRate, numChannels int) (*Writer, error) {
	var header [headerSize]byte
	putHeader(header[:], uint32(sampleRate), uint32(numChannels), 0)
	if _, err := w.Write(header[:]); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return &Writer{w: w, sampleRate: sampleRate, numChannels: numChannels}, nil
}

// WriteFrame appends one frame. Frames in another format are rejected.
func (w *Writer) WriteFrame(frame rtc.AudioFrame) error {
	if frame.SampleRate != w.sampleRate || frame.NumChannels != w.numChannels {
		return fmt.Errorf("%w: frame is %dHz/%d, file is %dHz/%d",
			ErrFormat, frame.SampleRate, frame.NumChannels, w.sampleRate, w.numChannels)
	}
	n, err := w.w.Write(frame.Data)
	w.written += uint32(n)
	return err
}

// Close rewrites the header with the final sizes. It does not close the
// underlying file.
func (w *Writer) Close() error {
	var header [headerSize]byte
	putHeader(header[:], uint32(w.sampleRate), uint32(w.numChannels), w.written)
	if _, err := w.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to WAV header: %w", err)
	}
	if _, err := w.w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to update WAV header: %w", err)
	}
	_, err := w.w.Seek(0, io.SeekEnd)
	return err
}

// Decode reads a whole WAV stream and splits it into 10ms frames. A short
// final frame is zero padded.
func Decode(r io.Reader) (Header, []rtc.AudioFrame, error) {
	header, err := readHeader(r)
	if err != nil {
		return Header{}, nil, err
	}

	samplesPerFrame := int(header.SampleRate) / 100
	bytesPerFrame := samplesPerFrame * int(header.NumChannels) * 2

	var frames []rtc.AudioFrame
	data := io.LimitReader(r, int64(header.DataSize))
	for i := 0; ; i++ {
		buf := make([]byte, bytesPerFrame)
		n, err := io.ReadFull(data, buf)
		if n > 0 {
			frames = append(frames, rtc.AudioFrame{
				Data:              buf,
				SampleRate:        int(header.SampleRate),
				SamplesPerChannel: samplesPerFrame,
				NumChannels:       int(header.NumChannels),
				Timestamp:         time.Duration(i) * rtc.FrameDuration,
			})
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return header, frames, nil
		}
		if err != nil {
			return header, frames, fmt.Errorf("failed to read audio data: %w", err)
		}
	}
}

func readHeader(r io.Reader) (Header, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Header{}, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Header{}, fmt.Errorf("%w: not a RIFF/WAVE file", ErrFormat)
	}

	var h Header
	sawFmt := false
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return Header{}, fmt.Errorf("failed to read chunk header: %w", err)
		}
		id, size := string(chunk[0:4]), binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return Header{}, fmt.Errorf("%w: fmt chunk too small: %d bytes", ErrFormat, size)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return Header{}, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return Header{}, fmt.Errorf("%w: only PCM is supported, got format %d", ErrFormat, format)
			}
			h.NumChannels = binary.LittleEndian.Uint16(body[2:4])
			h.SampleRate = binary.LittleEndian.Uint32(body[4:8])
			h.BitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			sawFmt = true
		case "data":
			if !sawFmt {
				return Header{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrFormat)
			}
			if h.BitsPerSample != bitsPerSample {
				return Header{}, fmt.Errorf("%w: only 16-bit samples are supported, got %d-bit", ErrFormat, h.BitsPerSample)
			}
			if h.NumChannels == 0 || h.SampleRate < 100 {
				return Header{}, fmt.Errorf("%w: %dHz with %d channels", ErrFormat, h.SampleRate, h.NumChannels)
			}
			h.DataSize = size
			return h, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return Header{}, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}
}
