package pcm_test

import (
	"encoding/binary"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio/pcm"
)

func int16At(b []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(b[i*2:]))
}

func TestEncode_Scaling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"full positive", 1, 32767},
		{"full negative", -1, -32767},
		{"half", 0.5, 16384}, // round(16383.5)
		{"over range clamps", 1.5, 32767},
		{"under range clamps", -1.5, -32768},
		{"NaN is silence", float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := pcm.Encode([]float32{tt.in})
			if len(got) != 2 {
				t.Fatalf("len = %d, want 2", len(got))
			}
			if v := int16At(got, 0); v != tt.want {
				t.Errorf("Encode(%v) = %d, want %d", tt.in, v, tt.want)
			}
		})
	}
}

func TestEncode_LittleEndian(t *testing.T) {
	t.Parallel()

	got := pcm.Encode([]float32{1})
	if got[0] != 0xFF || got[1] != 0x7F {
		t.Errorf("bytes = %#x %#x, want 0xff 0x7f", got[0], got[1])
	}
}

func TestRoundTrip_WithinOneStep(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(1, 2))
	samples := make([]float32, 10_000)
	for i := range samples {
		samples[i] = r.Float32()*2 - 1
	}
	samples[0], samples[1] = 1, -1

	decoded, err := pcm.Decode(pcm.Encode(samples))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("len = %d, want %d", len(decoded), len(samples))
	}
	const step = 1.0 / 32767
	for i := range samples {
		if d := math.Abs(float64(decoded[i] - samples[i])); d > step {
			t.Fatalf("sample %d: |%v - %v| = %v exceeds one step", i, decoded[i], samples[i], d)
		}
	}
}

func TestDecode_MinInt16MapsToMinusOne(t *testing.T) {
	t.Parallel()

	got, err := pcm.Decode([]byte{0x00, 0x80})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got[0] != -1 {
		t.Errorf("got %v, want -1", got[0])
	}
}

func TestDecode_OddLength(t *testing.T) {
	t.Parallel()

	_, err := pcm.Decode([]byte{1, 2, 3})
	var de *pcm.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("want *DecodeError, got %v", err)
	}
	if de.Op != "pcm16" || de.Len != 3 {
		t.Errorf("DecodeError = %+v", de)
	}
}

func TestBase64(t *testing.T) {
	t.Parallel()

	raw := pcm.Encode([]float32{0.25, -0.25, 0})
	enc := pcm.EncodeBase64(raw)
	dec, err := pcm.DecodeBase64(enc)
	if err != nil {
		t.Fatalf("DecodeBase64: %v", err)
	}
	if string(dec) != string(raw) {
		t.Errorf("round trip mismatch: %v != %v", dec, raw)
	}

	_, err = pcm.DecodeBase64("not base64!!")
	var de *pcm.DecodeError
	if !errors.As(err, &de) || de.Op != "base64" {
		t.Errorf("want base64 DecodeError, got %v", err)
	}
}

func TestNewBuffer(t *testing.T) {
	t.Parallel()

	data := pcm.Encode(make([]float32, 2400))
	buf, err := pcm.NewBuffer(data, pcm.PlaybackSampleRate, 1)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	if buf.Frames() != 2400 {
		t.Errorf("Frames = %d, want 2400", buf.Frames())
	}
	if buf.Duration() != 100*time.Millisecond {
		t.Errorf("Duration = %v, want 100ms", buf.Duration())
	}
}

func TestNewBuffer_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     []byte
		rate, ch int
	}{
		{"odd bytes", []byte{1}, 24000, 1},
		{"empty", nil, 24000, 1},
		{"channel mismatch", pcm.Encode([]float32{0, 0, 0}), 24000, 2},
		{"zero rate", pcm.Encode([]float32{0}), 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := pcm.NewBuffer(tt.data, tt.rate, tt.ch)
			var de *pcm.DecodeError
			if !errors.As(err, &de) {
				t.Errorf("want *DecodeError, got %v", err)
			}
		})
	}
}

func TestDurationConversions(t *testing.T) {
	t.Parallel()

	if got := pcm.FramesToDuration(pcm.CaptureFrameSize, pcm.CaptureSampleRate); got != 256*time.Millisecond {
		t.Errorf("FramesToDuration = %v, want 256ms", got)
	}
	if got := pcm.DurationToFrames(time.Second, pcm.PlaybackSampleRate); got != 24000 {
		t.Errorf("DurationToFrames = %d, want 24000", got)
	}
	if got := pcm.MIMEType(16000); got != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q", got)
	}
}
