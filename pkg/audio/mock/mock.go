// Package mock provides in-memory implementations of the [audio.Device],
// [audio.CaptureStream], [audio.Output] and [audio.Voice] interfaces for use
// in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	stream := &mock.CaptureStream{}
//	out := &mock.Output{}
//	dev := &mock.Device{Stream: stream, Out: out}
//	// ... start a session using dev ...
//	stream.Emit(make([]float32, 4096)) // simulate the microphone
//	out.SetNow(2 * time.Second)        // advance the playback clock
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/pcm"
)

// Compile-time interface assertions.
var (
	_ audio.Device        = (*Device)(nil)
	_ audio.CaptureStream = (*CaptureStream)(nil)
	_ audio.Output        = (*Output)(nil)
	_ audio.Voice         = (*Voice)(nil)
)

// ─── Device ──────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// Stream is returned by OpenCapture. If nil, a fresh [CaptureStream] is
	// created for every call.
	Stream *CaptureStream

	// Out is returned by OpenOutput. If nil, a fresh [Output] is created for
	// every call.
	Out *Output

	// OpenCaptureErr, if non-nil, is returned by OpenCapture.
	OpenCaptureErr error

	// OpenOutputErr, if non-nil, is returned by OpenOutput.
	OpenOutputErr error

	// CaptureConfigs records the config of every OpenCapture call.
	CaptureConfigs []audio.CaptureConfig

	// OutputConfigs records the config of every OpenOutput call.
	OutputConfigs []audio.OutputConfig

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// OpenCapture implements [audio.Capturer].
func (d *Device) OpenCapture(_ context.Context, cfg audio.CaptureConfig) (audio.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CaptureConfigs = append(d.CaptureConfigs, cfg)
	if d.OpenCaptureErr != nil {
		return nil, d.OpenCaptureErr
	}
	if d.Stream != nil {
		return d.Stream, nil
	}
	return &CaptureStream{}, nil
}

// OpenOutput implements [audio.Player].
func (d *Device) OpenOutput(_ context.Context, cfg audio.OutputConfig) (audio.Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OutputConfigs = append(d.OutputConfigs, cfg)
	if d.OpenOutputErr != nil {
		return nil, d.OpenOutputErr
	}
	if d.Out != nil {
		return d.Out, nil
	}
	return &Output{}, nil
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	return nil
}

// CaptureOpens returns how many times OpenCapture was called.
func (d *Device) CaptureOpens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.CaptureConfigs)
}

// OutputOpens returns how many times OpenOutput was called.
func (d *Device) OutputOpens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OutputConfigs)
}

// ─── CaptureStream ───────────────────────────────────────────────────────────

// CaptureStream is a mock implementation of [audio.CaptureStream]. Tests push
// microphone samples with [CaptureStream.Emit].
type CaptureStream struct {
	mu sync.Mutex
	cb func([]float32)

	// StartErr, StopErr and CloseErr are returned by the matching methods.
	StartErr error
	StopErr  error
	CloseErr error

	// CallCountStart, CallCountStop and CallCountClose record calls.
	CallCountStart int
	CallCountStop  int
	CallCountClose int

	started bool
	stopped bool
	closed  bool
}

// Start implements [audio.CaptureStream].
func (s *CaptureStream) Start(cb func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartErr != nil {
		return s.StartErr
	}
	if s.closed {
		return audio.ErrClosed
	}
	s.cb = cb
	s.started = true
	return nil
}

// Stop implements [audio.CaptureStream].
func (s *CaptureStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.stopped = true
	return s.StopErr
}

// Close implements [audio.CaptureStream].
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return s.CloseErr
}

// Emit delivers samples to the registered callback as a device would. It
// reports false when the stream is not started, or is stopped or closed.
func (s *CaptureStream) Emit(samples []float32) bool {
	s.mu.Lock()
	cb := s.cb
	live := s.started && !s.stopped && !s.closed
	s.mu.Unlock()
	if !live || cb == nil {
		return false
	}
	cb(samples)
	return true
}

// Closed reports whether Close has been called.
func (s *CaptureStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Output ──────────────────────────────────────────────────────────────────

// ScheduleCall records one invocation of [Output.Schedule].
type ScheduleCall struct {
	Buffer *pcm.Buffer
	At     time.Duration
	Voice  *Voice
}

// Output is a mock implementation of [audio.Output] with a manually driven
// clock. Nothing is played; voices stay pending until stopped or finished by
// the test.
type Output struct {
	mu  sync.Mutex
	now time.Duration

	// ScheduleErr, if non-nil, is returned by Schedule.
	ScheduleErr error

	// CloseErr is returned by Close.
	CloseErr error

	// ScheduleCalls records every successful Schedule call in order.
	ScheduleCalls []ScheduleCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// SetNow moves the playback clock to d.
func (o *Output) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

// Now implements [audio.Output].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Schedule implements [audio.Output].
func (o *Output) Schedule(buf *pcm.Buffer, at time.Duration) (audio.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ScheduleErr != nil {
		return nil, o.ScheduleErr
	}
	v := NewVoice()
	v.StartAt = max(at, o.now)
	o.ScheduleCalls = append(o.ScheduleCalls, ScheduleCall{Buffer: buf, At: at, Voice: v})
	return v, nil
}

// Close implements [audio.Output]. It stops every scheduled voice.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	for _, c := range o.ScheduleCalls {
		_ = c.Voice.Stop()
	}
	return o.CloseErr
}

// Calls returns a copy of the recorded Schedule calls.
func (o *Output) Calls() []ScheduleCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ScheduleCall, len(o.ScheduleCalls))
	copy(out, o.ScheduleCalls)
	return out
}

// Closes returns how many times Close was called.
func (o *Output) Closes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CallCountClose
}

// ─── Voice ───────────────────────────────────────────────────────────────────

// Voice is a mock implementation of [audio.Voice].
type Voice struct {
	mu   sync.Mutex
	once sync.Once
	done chan struct{}

	// StartAt is returned by Start. Output.Schedule sets it to the later
	// of the requested time and the clock.
	StartAt time.Duration

	// StopErr is returned by Stop.
	StopErr error

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// NewVoice returns a pending voice.
func NewVoice() *Voice {
	return &Voice{done: make(chan struct{})}
}

// Stop implements [audio.Voice].
func (v *Voice) Stop() error {
	v.mu.Lock()
	v.CallCountStop++
	err := v.StopErr
	v.mu.Unlock()
	v.once.Do(func() { close(v.done) })
	return err
}

// Done implements [audio.Voice].
func (v *Voice) Done() <-chan struct{} { return v.done }

// Start implements [audio.Voice].
func (v *Voice) Start() time.Duration { return v.StartAt }

// Finish marks the voice as played to completion.
func (v *Voice) Finish() {
	v.once.Do(func() { close(v.done) })
}

// Stops returns how many times Stop was called.
func (v *Voice) Stops() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.CallCountStop
}
