package capture_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/parley/internal/capture"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/mock"
	"github.com/MrWong99/parley/pkg/audio/pcm"
)

// ─── Framer ─────────────────────────────────────────────────────────────────

func TestFramer_SlicesArbitraryBuffers(t *testing.T) {
	t.Parallel()

	f := capture.NewFramer(4)
	var frames [][]float32
	emit := func(fr []float32) { frames = append(frames, append([]float32(nil), fr...)) }

	f.Write([]float32{1, 2, 3}, emit)
	if len(frames) != 0 || f.Buffered() != 3 {
		t.Fatalf("after 3 samples: frames=%d buffered=%d", len(frames), f.Buffered())
	}
	f.Write([]float32{4, 5, 6, 7, 8, 9, 10}, emit)
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	want := [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}}
	for i := range want {
		for j := range want[i] {
			if frames[i][j] != want[i][j] {
				t.Fatalf("frame %d = %v, want %v", i, frames[i], want[i])
			}
		}
	}
	if f.Buffered() != 2 {
		t.Errorf("Buffered = %d, want 2", f.Buffered())
	}
	f.Reset()
	if f.Buffered() != 0 {
		t.Error("Reset kept samples")
	}
}

func TestFramer_InvalidSizePanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	capture.NewFramer(0)
}

// ─── Pipeline ───────────────────────────────────────────────────────────────

type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *frameSink) put(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, b)
}

func (s *frameSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestAcquire_PassesConfig(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{}
	opts := capture.DefaultOptions()
	opts.DeviceName = "USB Mic"
	p := capture.New(dev, opts)

	if err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if dev.CaptureOpens() != 1 {
		t.Errorf("OpenCapture called %d times", dev.CaptureOpens())
	}
	cfg := dev.CaptureConfigs[0]
	if cfg.SampleRate != pcm.CaptureSampleRate || cfg.FramesPerBuffer != pcm.CaptureFrameSize {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.EchoCancellation || !cfg.NoiseSuppression || cfg.AutoGainControl {
		t.Errorf("processing flags = %+v", cfg)
	}
	if cfg.DeviceName != "USB Mic" {
		t.Errorf("DeviceName = %q", cfg.DeviceName)
	}
}

func TestAcquire_FailureIsDeviceError(t *testing.T) {
	t.Parallel()

	dev := &mock.Device{OpenCaptureErr: errors.New("permission denied")}
	p := capture.New(dev, capture.DefaultOptions())

	err := p.Acquire(context.Background())
	if !audio.IsDeviceError(err) {
		t.Fatalf("err = %v, want DeviceError", err)
	}
}

func TestStart_BeforeAcquire(t *testing.T) {
	t.Parallel()

	p := capture.New(&mock.Device{}, capture.DefaultOptions())
	if err := p.Start(func([]byte) {}); !errors.Is(err, capture.ErrNotAcquired) {
		t.Errorf("err = %v", err)
	}
}

func TestStart_DeliversEncodedFrames(t *testing.T) {
	t.Parallel()

	stream := &mock.CaptureStream{}
	p := capture.New(&mock.Device{Stream: stream}, capture.Options{FrameSize: 4})
	if err := p.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Acquired but not started: nothing is delivered.
	if stream.Emit([]float32{1, 1, 1, 1}) {
		t.Error("stream delivered before Start")
	}

	sink := &frameSink{}
	if err := p.Start(sink.put); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream.Emit([]float32{0.5, -0.5, 1})
	stream.Emit([]float32{-1, 0, 0, 0, 0, 0})

	if sink.len() != 2 {
		t.Fatalf("frames = %d, want 2", sink.len())
	}
	f0 := sink.frames[0]
	if len(f0) != 4*pcm.BytesPerSample {
		t.Fatalf("frame bytes = %d", len(f0))
	}
	got, _ := pcm.Decode(f0)
	want := []float32{0.5, -0.5, 1, -1}
	for i := range want {
		if d := got[i] - want[i]; d > 1e-4 || d < -1e-4 {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStart_DeviceStartError(t *testing.T) {
	t.Parallel()

	stream := &mock.CaptureStream{StartErr: errors.New("busy")}
	p := capture.New(&mock.Device{Stream: stream}, capture.DefaultOptions())
	_ = p.Acquire(context.Background())
	if err := p.Start(func([]byte) {}); !audio.IsDeviceError(err) {
		t.Errorf("err = %v", err)
	}
}

func TestClose_DetachesAndReleases(t *testing.T) {
	t.Parallel()

	stream := &mock.CaptureStream{}
	p := capture.New(&mock.Device{Stream: stream}, capture.Options{FrameSize: 2})
	_ = p.Acquire(context.Background())
	sink := &frameSink{}
	_ = p.Start(sink.put)

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if stream.CallCountStop != 1 || stream.CallCountClose != 1 {
		t.Errorf("stop=%d close=%d, want 1 each", stream.CallCountStop, stream.CallCountClose)
	}
	stream.Emit([]float32{1, 1})
	if sink.len() != 0 {
		t.Error("frames delivered after Close")
	}
	if err := p.Start(sink.put); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("Start after Close: %v", err)
	}
}

func TestClose_RunsAllStepsOnError(t *testing.T) {
	t.Parallel()

	stopErr := errors.New("stop failed")
	closeErr := errors.New("close failed")
	stream := &mock.CaptureStream{StopErr: stopErr, CloseErr: closeErr}
	p := capture.New(&mock.Device{Stream: stream}, capture.DefaultOptions())
	_ = p.Acquire(context.Background())

	err := p.Close()
	if !errors.Is(err, stopErr) || !errors.Is(err, closeErr) {
		t.Errorf("err = %v, want both failures joined", err)
	}
	if !stream.Closed() {
		t.Error("stream not closed after stop failure")
	}
}

func TestClose_WithoutAcquire(t *testing.T) {
	t.Parallel()

	p := capture.New(&mock.Device{}, capture.DefaultOptions())
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
