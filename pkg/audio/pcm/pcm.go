// Package pcm converts between floating-point audio samples and the signed
// 16-bit little-endian PCM wire format exchanged with the Gemini Live API.
//
// All functions are pure and safe for concurrent use. No resampling is ever
// performed: callers declare the sample rate of every buffer and the codec
// trusts it. Feeding 16 kHz data into a 24 kHz [Buffer] produces pitched,
// time-stretched audio rather than an error.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// CaptureSampleRate is the rate of microphone audio sent to the channel.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of model audio received from the channel.
	PlaybackSampleRate = 24000

	// CaptureFrameSize is the number of samples in one outbound frame
	// (≈256 ms at [CaptureSampleRate]).
	CaptureFrameSize = 4096

	// BytesPerSample is the width of one encoded sample.
	BytesPerSample = 2

	scale = 32767
)

// DecodeError reports a malformed inbound audio payload. It is recoverable:
// the offending chunk is dropped and processing continues.
type DecodeError struct {
	// Op names the failed operation ("base64", "pcm16", "buffer").
	Op string

	// Len is the length in bytes (or characters for base64) of the payload.
	Len int

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pcm: decode %s (%d bytes): %v", e.Op, e.Len, e.Err)
	}
	return fmt.Sprintf("pcm: decode %s (%d bytes): malformed payload", e.Op, e.Len)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error { return e.Err }

// MIMEType returns the MIME type announcing raw PCM16 at the given rate,
// e.g. "audio/pcm;rate=16000".
func MIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// Encode converts samples in [-1, 1] to little-endian int16 PCM. Each sample
// is scaled by 32767, rounded to the nearest integer and clamped to the int16
// range so values slightly outside [-1, 1] saturate instead of wrapping.
func Encode(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(quantize(s)))
	}
	return out
}

// Decode converts little-endian int16 PCM back to samples, the exact inverse
// of [Encode]'s scaling. The most negative code (-32768) maps to -1.
//
// An odd byte count returns a [*DecodeError].
func Decode(data []byte) ([]float32, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, &DecodeError{Op: "pcm16", Len: len(data)}
	}
	out := make([]float32, len(data)/BytesPerSample)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
		out[i] = dequantize(v)
	}
	return out, nil
}

// EncodeBase64 applies the standard base64 transport encoding.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 reverses [EncodeBase64]. Malformed input returns a
// [*DecodeError] wrapping the base64 error.
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &DecodeError{Op: "base64", Len: len(s), Err: err}
	}
	return data, nil
}

func quantize(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	v := math.Round(float64(s) * scale)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

func dequantize(v int16) float32 {
	if v == math.MinInt16 {
		return -1
	}
	return float32(v) / scale
}

// Buffer is a decoded block of audio ready to be scheduled on an output
// device. Samples are interleaved when Channels > 1.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// NewBuffer decodes raw PCM16 bytes into a [Buffer] at the declared sample
// rate and channel count. The rate is not checked against the content.
// Empty data carries nothing to play and returns a [*DecodeError].
func NewBuffer(data []byte, sampleRate, channels int) (*Buffer, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Op: "buffer", Err: errors.New("empty chunk")}
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, &DecodeError{
			Op:  "buffer",
			Len: len(data),
			Err: fmt.Errorf("invalid format %d Hz / %d channels", sampleRate, channels),
		}
	}
	samples, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if len(samples)%channels != 0 {
		return nil, &DecodeError{
			Op:  "buffer",
			Len: len(data),
			Err: fmt.Errorf("%d samples do not divide into %d channels", len(samples), channels),
		}
	}
	return &Buffer{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// Frames returns the number of sample frames (samples per channel).
func (b *Buffer) Frames() int {
	if b == nil || b.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	return FramesToDuration(b.Frames(), b.sampleRate())
}

func (b *Buffer) sampleRate() int {
	if b == nil {
		return 0
	}
	return b.SampleRate
}

// FramesToDuration converts a frame count at sampleRate to a duration.
func FramesToDuration(frames, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// DurationToFrames converts a duration to the nearest whole frame count at
// sampleRate.
func DurationToFrames(d time.Duration, sampleRate int) int64 {
	if sampleRate <= 0 {
		return 0
	}
	return int64(math.Round(d.Seconds() * float64(sampleRate)))
}
