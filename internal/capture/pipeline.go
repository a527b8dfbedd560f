// Package capture turns live microphone input into a stream of fixed-size
// PCM16 frames ready for the channel.
//
// A [Pipeline] is used once per session: [Pipeline.Acquire] opens the device
// while the session is connecting, [Pipeline.Start] begins delivery once the
// channel is open, and [Pipeline.Close] releases everything on teardown.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/pcm"
)

// ErrNotAcquired is returned by Start when the device has not been opened.
var ErrNotAcquired = errors.New("capture: device not acquired")

// Options configures a Pipeline.
type Options struct {
	// DeviceName selects the input device; empty means the system default.
	DeviceName string

	// SampleRate is the capture rate. Default: [pcm.CaptureSampleRate].
	SampleRate int

	// FrameSize is the number of samples per emitted frame.
	// Default: [pcm.CaptureFrameSize].
	FrameSize int

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool

	// Metrics receives frame counts. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// DefaultOptions returns the capture settings used for voice sessions: echo
// cancellation and noise suppression on, automatic gain control off.
func DefaultOptions() Options {
	return Options{
		SampleRate:       pcm.CaptureSampleRate,
		FrameSize:        pcm.CaptureFrameSize,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// Pipeline owns one microphone stream.
type Pipeline struct {
	dev  audio.Capturer
	opts Options

	mu     sync.Mutex
	stream audio.CaptureStream
	closed bool

	// fmu guards framer. It is only held on the callback path, never across
	// device calls.
	fmu    sync.Mutex
	framer *Framer

	sink atomic.Pointer[func([]byte)]
}

// New returns a Pipeline reading from dev. Zero numeric options take their
// defaults.
func New(dev audio.Capturer, opts Options) *Pipeline {
	if opts.SampleRate <= 0 {
		opts.SampleRate = pcm.CaptureSampleRate
	}
	if opts.FrameSize <= 0 {
		opts.FrameSize = pcm.CaptureFrameSize
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	return &Pipeline{dev: dev, opts: opts, framer: NewFramer(opts.FrameSize)}
}

// Acquire opens the input stream. The stream does not deliver frames until
// Start. Failures are returned as [*audio.DeviceError].
func (p *Pipeline) Acquire(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return audio.ErrClosed
	}
	if p.stream != nil {
		return nil
	}

	stream, err := p.dev.OpenCapture(ctx, audio.CaptureConfig{
		DeviceName:       p.opts.DeviceName,
		SampleRate:       p.opts.SampleRate,
		FramesPerBuffer:  p.opts.FrameSize,
		EchoCancellation: p.opts.EchoCancellation,
		NoiseSuppression: p.opts.NoiseSuppression,
		AutoGainControl:  p.opts.AutoGainControl,
	})
	if err != nil {
		var de *audio.DeviceError
		if errors.As(err, &de) {
			return err
		}
		return &audio.DeviceError{Op: "open capture", Device: p.opts.DeviceName, Err: err}
	}
	p.stream = stream
	return nil
}

// Start begins delivering frames to sink. Each completed frame is encoded as
// PCM16 and handed to sink immediately on the device callback goroutine, so
// sink must not block.
func (p *Pipeline) Start(sink func(frame []byte)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return audio.ErrClosed
	}
	if p.stream == nil {
		return ErrNotAcquired
	}
	p.sink.Store(&sink)
	if err := p.stream.Start(p.onSamples); err != nil {
		p.sink.Store(nil)
		return &audio.DeviceError{Op: "start capture", Device: p.opts.DeviceName, Err: err}
	}
	return nil
}

// onSamples runs on the device goroutine.
func (p *Pipeline) onSamples(samples []float32) {
	if p.sink.Load() == nil {
		return
	}
	p.fmu.Lock()
	defer p.fmu.Unlock()
	p.framer.Write(samples, func(frame []float32) {
		// Re-check: Close may have detached the sink mid-buffer.
		sink := p.sink.Load()
		if sink == nil {
			return
		}
		p.opts.Metrics.CaptureFrames.Add(context.Background(), 1)
		(*sink)(pcm.Encode(frame))
	})
}

// Close detaches the sink, then stops and releases the stream. Every step
// runs even if an earlier one fails; the errors are joined. Idempotent.
func (p *Pipeline) Close() error {
	p.sink.Store(nil)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	stream := p.stream
	p.stream = nil
	p.mu.Unlock()

	p.fmu.Lock()
	p.framer.Reset()
	p.fmu.Unlock()

	if stream == nil {
		return nil
	}
	// Device calls run unlocked: a backend Stop may wait for an in-flight
	// callback to return.
	var errs []error
	if err := stream.Stop(); err != nil {
		slog.Warn("capture: stop stream", "err", err)
		errs = append(errs, err)
	}
	if err := stream.Close(); err != nil {
		slog.Warn("capture: close stream", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
