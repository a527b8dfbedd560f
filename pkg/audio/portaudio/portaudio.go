// Package portaudio implements [audio.Device] on top of the PortAudio
// cross-platform audio I/O library.
//
// Capture streams are opened full-duplex: the microphone feeds the capture
// callback and the output half is continuously filled with silence, keeping
// the host audio graph running without audible monitoring. When no output
// device exists the stream falls back to input-only.
//
// Outputs are driven by a [mixer.Timeline]: the PortAudio callback pulls
// rendered samples from the timeline, so the timeline's frame counter is the
// playback clock reported by [audio.Output.Now].
//
// PortAudio performs no echo cancellation, noise suppression or gain control;
// those capture flags are logged and the raw signal is delivered.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/mixer"
)

// Compile-time interface assertions.
var (
	_ audio.Device        = (*Device)(nil)
	_ audio.CaptureStream = (*captureStream)(nil)
)

// Device is an [audio.Device] backed by PortAudio. Create one per process
// with [New] and release it with [Device.Close].
type Device struct {
	mu     sync.Mutex
	closed bool
}

// New initialises the PortAudio library.
func New() (*Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, &audio.DeviceError{Op: "initialize", Err: err}
	}
	return &Device{}, nil
}

// Close terminates the PortAudio library. Idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

func (d *Device) checkOpen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return audio.ErrClosed
	}
	return nil
}

// OpenCapture implements [audio.Capturer].
func (d *Device) OpenCapture(ctx context.Context, cfg audio.CaptureConfig) (audio.CaptureStream, error) {
	fail := func(op string, err error) error {
		return &audio.DeviceError{Op: op, Device: cfg.DeviceName, Err: err}
	}
	if err := d.checkOpen(); err != nil {
		return nil, fail("open capture", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fail("open capture", err)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fail("list devices", err)
	}
	in, err := pickDevice(devices, cfg.DeviceName, true)
	if err != nil {
		return nil, fail("open capture", err)
	}
	if in == nil {
		if in, err = portaudio.DefaultInputDevice(); err != nil {
			return nil, fail("open capture", err)
		}
	}
	// The silent sink is best-effort: headless hosts often have no output.
	out, _ := portaudio.DefaultOutputDevice()

	warnUnprocessed(slog.Default(), cfg)

	params := portaudio.LowLatencyParameters(in, out)
	params.Input.Channels = 1
	if out != nil {
		params.Output.Channels = 1
	}
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FramesPerBuffer

	s := &captureStream{}
	var stream *portaudio.Stream
	if out != nil {
		stream, err = portaudio.OpenStream(params, s.duplex)
	} else {
		stream, err = portaudio.OpenStream(params, s.inputOnly)
	}
	if err != nil {
		return nil, fail("open capture", err)
	}
	s.stream = stream

	slog.Info("portaudio: capture opened",
		"device", in.Name,
		"sample_rate", cfg.SampleRate,
		"frames_per_buffer", cfg.FramesPerBuffer,
		"silent_sink", out != nil,
	)
	return s, nil
}

// OpenOutput implements [audio.Player].
func (d *Device) OpenOutput(ctx context.Context, cfg audio.OutputConfig) (audio.Output, error) {
	fail := func(op string, err error) error {
		return &audio.DeviceError{Op: op, Device: cfg.DeviceName, Err: err}
	}
	if err := d.checkOpen(); err != nil {
		return nil, fail("open output", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fail("open output", err)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fail("list devices", err)
	}
	out, err := pickDevice(devices, cfg.DeviceName, false)
	if err != nil {
		return nil, fail("open output", err)
	}
	if out == nil {
		if out, err = portaudio.DefaultOutputDevice(); err != nil {
			return nil, fail("open output", err)
		}
	}

	channels := max(cfg.Channels, 1)
	params := portaudio.LowLatencyParameters(nil, out)
	params.Output.Channels = channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FramesPerBuffer

	var stream *portaudio.Stream
	tl := mixer.New(cfg.SampleRate, channels, mixer.WithOnClose(func() error {
		if stream == nil {
			return nil
		}
		stopErr := stream.Stop()
		closeErr := stream.Close()
		if stopErr != nil {
			return fmt.Errorf("portaudio: stop output: %w", stopErr)
		}
		if closeErr != nil {
			return fmt.Errorf("portaudio: close output: %w", closeErr)
		}
		return nil
	}))

	stream, err = portaudio.OpenStream(params, func(buf []float32) { tl.Render(buf) })
	if err != nil {
		_ = tl.Close()
		return nil, fail("open output", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		stream = nil
		_ = tl.Close()
		return nil, fail("start output", err)
	}

	slog.Info("portaudio: output opened",
		"device", out.Name,
		"sample_rate", cfg.SampleRate,
		"channels", channels,
	)
	return tl, nil
}

// pickDevice returns the device called name that supports the requested
// direction. An empty name returns (nil, nil) so the caller falls back to the
// system default.
// warnUnprocessed reports capture processing that was requested but that
// PortAudio cannot apply. Without echo cancellation the microphone picks up
// the assistant's own playback unless headphones are used.
func warnUnprocessed(log *slog.Logger, cfg audio.CaptureConfig) {
	if !cfg.EchoCancellation && !cfg.NoiseSuppression && !cfg.AutoGainControl {
		return
	}
	log.Warn("portaudio: capture processing is not available, delivering raw microphone input",
		"echo_cancellation", cfg.EchoCancellation,
		"noise_suppression", cfg.NoiseSuppression,
		"auto_gain_control", cfg.AutoGainControl,
		"hint", "use headphones so the assistant does not hear itself",
	)
}

func pickDevice(devices []*portaudio.DeviceInfo, name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		return nil, nil
	}
	for _, dev := range devices {
		if dev == nil || dev.Name != name {
			continue
		}
		if input && dev.MaxInputChannels > 0 {
			return dev, nil
		}
		if !input && dev.MaxOutputChannels > 0 {
			return dev, nil
		}
	}
	kind := "output"
	if input {
		kind = "input"
	}
	return nil, fmt.Errorf("no %s device named %q", kind, name)
}

// captureStream adapts a PortAudio stream to [audio.CaptureStream].
type captureStream struct {
	stream *portaudio.Stream
	cb     atomic.Pointer[func([]float32)]

	mu      sync.Mutex
	started bool
	stopped bool
	closed  bool
}

func (s *captureStream) duplex(in, out []float32) {
	clear(out)
	s.inputOnly(in)
}

func (s *captureStream) inputOnly(in []float32) {
	if cb := s.cb.Load(); cb != nil {
		(*cb)(in)
	}
}

// Start implements [audio.CaptureStream].
func (s *captureStream) Start(cb func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stopped {
		return audio.ErrClosed
	}
	if s.started {
		return nil
	}
	s.cb.Store(&cb)
	if err := s.stream.Start(); err != nil {
		s.cb.Store(nil)
		return &audio.DeviceError{Op: "start capture", Err: err}
	}
	s.started = true
	return nil
}

// Stop implements [audio.CaptureStream].
func (s *captureStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb.Store(nil)
	if !s.started || s.stopped {
		s.stopped = true
		return nil
	}
	s.stopped = true
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("portaudio: stop capture: %w", err)
	}
	return nil
}

// Close implements [audio.CaptureStream].
func (s *captureStream) Close() error {
	stopErr := s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("portaudio: close capture: %w", err)
	}
	return stopErr
}
