// Package audio defines the device boundary of the voice-session engine:
// microphone capture and scheduled speaker output.
//
// The primary abstractions are:
//
//   - [Capturer] opens a [CaptureStream] that delivers raw microphone samples
//     to a callback as they become available.
//   - [Player] opens an [Output] on which decoded buffers are scheduled to
//     start at explicit times on the device's playback clock.
//   - [Device] is a backend that provides both and owns its lifecycle.
//
// Implementations are provided by backend packages (e.g. audio/portaudio) and
// by audio/mock for tests.
package audio

import (
	"context"
	"time"

	"github.com/MrWong99/parley/pkg/audio/pcm"
)

// CaptureConfig describes how a microphone stream should be opened.
type CaptureConfig struct {
	// DeviceName selects an input device by name. Empty selects the system
	// default input.
	DeviceName string

	// SampleRate is the capture rate in Hz. The session engine always uses
	// [pcm.CaptureSampleRate].
	SampleRate int

	// FramesPerBuffer is a hint for the size of each callback delivery.
	// Backends may deliver other sizes; the capture pipeline reframes.
	FramesPerBuffer int

	// EchoCancellation, NoiseSuppression and AutoGainControl request the
	// corresponding platform processing. Backends without such processing
	// log the request and deliver the raw signal.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// CaptureStream is an open microphone stream.
//
// Implementations must be safe for concurrent use. Close must be idempotent.
type CaptureStream interface {
	// Start begins delivering mono samples in [-1, 1] to cb. cb is invoked on
	// a backend-owned goroutine and must not block; the slice is only valid
	// for the duration of the call.
	Start(cb func(samples []float32)) error

	// Stop halts delivery. A stopped stream may not be restarted.
	Stop() error

	// Close stops the stream if needed and releases the device. It is safe
	// to call Close more than once; subsequent calls return nil.
	Close() error
}

// Capturer opens microphone streams.
type Capturer interface {
	// OpenCapture acquires the input device. Permission or availability
	// failures are returned as [*DeviceError].
	OpenCapture(ctx context.Context, cfg CaptureConfig) (CaptureStream, error)
}

// OutputConfig describes how a speaker output should be opened.
type OutputConfig struct {
	// DeviceName selects an output device by name. Empty selects the system
	// default output.
	DeviceName string

	// SampleRate is the output rate in Hz. The session engine always uses
	// [pcm.PlaybackSampleRate].
	SampleRate int

	// Channels is the number of output channels. The engine uses mono.
	Channels int

	// FramesPerBuffer is the device callback size hint.
	FramesPerBuffer int
}

// Output is an open speaker output with its own monotonically advancing
// playback clock.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// Now returns the current position of the playback clock, measured from
	// the moment the output was opened.
	Now() time.Duration

	// Schedule arranges for buf to start playing when the clock reaches at.
	// A start time already in the past begins playback immediately; the
	// returned voice reports the start actually used. The buffer's sample
	// rate and channel count must match the output's.
	Schedule(buf *pcm.Buffer, at time.Duration) (Voice, error)

	// Close stops every scheduled voice and releases the device. It is safe
	// to call Close more than once; subsequent calls return nil.
	Close() error
}

// Voice is a handle to one scheduled buffer.
type Voice interface {
	// Stop cancels the voice immediately, whether it is pending or playing.
	// Stopping an already stopped or finished voice returns nil.
	Stop() error

	// Done is closed once the voice has finished playing or was stopped.
	Done() <-chan struct{}

	// Start returns the clock position at which the voice begins. It is
	// later than the requested time when the clock had already passed it
	// while the voice was being placed.
	Start() time.Duration
}

// Player opens speaker outputs.
type Player interface {
	// OpenOutput acquires the output device. Failures are returned as
	// [*DeviceError].
	OpenOutput(ctx context.Context, cfg OutputConfig) (Output, error)
}

// Device is a complete audio backend.
//
// Implementations must be safe for concurrent use.
type Device interface {
	Capturer
	Player

	// Close releases backend-wide resources. Streams and outputs obtained
	// from the device should be closed first.
	Close() error
}
