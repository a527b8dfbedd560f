package mixer

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/pcm"
)

// Compile-time interface assertions.
var (
	_ audio.Output = (*Timeline)(nil)
	_ audio.Voice  = (*voice)(nil)
)

// defaultQueueCap is the initial capacity hint for the pending-voice queue.
const defaultQueueCap = 16

// Option configures a [Timeline] during construction.
type Option func(*Timeline)

// WithQueueCapacity sets the initial capacity hint for the pending-voice
// queue. This does not impose a hard limit.
func WithQueueCapacity(n int) Option {
	return func(t *Timeline) {
		if n > 0 {
			t.pending = make(voiceHeap, 0, n)
		}
	}
}

// WithOnClose registers fn to run once when the timeline is closed. Device
// backends use it to stop the stream that pulls from the timeline.
func WithOnClose(fn func() error) Option {
	return func(t *Timeline) { t.onClose = fn }
}

// Timeline is an [audio.Output] whose clock is the number of frames rendered
// so far. Buffers are scheduled at absolute clock positions; [Timeline.Render]
// mixes every voice overlapping the rendered window into the output slice and
// advances the clock.
//
// Voices that overlap in time are summed and the sum is clamped to [-1, 1].
// Gapless scheduling upstream means that in practice at most one voice plays
// at a time.
//
// All exported methods are safe for concurrent use. Render is normally called
// from a real-time device callback and never blocks on anything but the
// internal mutex.
type Timeline struct {
	sampleRate int
	channels   int
	onClose    func() error

	mu      sync.Mutex
	pos     int64 // frames rendered so far (the clock)
	pending voiceHeap
	playing []*voice
	seq     uint64
	closed  bool
}

// New creates a [Timeline] for mono or interleaved multi-channel output at
// sampleRate.
func New(sampleRate, channels int, opts ...Option) *Timeline {
	if channels <= 0 {
		channels = 1
	}
	t := &Timeline{
		sampleRate: sampleRate,
		channels:   channels,
		pending:    make(voiceHeap, 0, defaultQueueCap),
	}
	for _, o := range opts {
		o(t)
	}
	heap.Init(&t.pending)
	return t
}

// SampleRate returns the output rate in Hz.
func (t *Timeline) SampleRate() int { return t.sampleRate }

// Channels returns the output channel count.
func (t *Timeline) Channels() int { return t.channels }

// Now returns the clock position as a duration since the timeline was created.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return pcm.FramesToDuration(int(t.pos), t.sampleRate)
}

// Position returns the clock position in frames.
func (t *Timeline) Position() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

// Schedule places buf on the timeline starting at clock position at. Start
// times already in the past are moved to the current position.
func (t *Timeline) Schedule(buf *pcm.Buffer, at time.Duration) (audio.Voice, error) {
	if buf == nil {
		return nil, fmt.Errorf("mixer: schedule: nil buffer")
	}
	if buf.SampleRate != t.sampleRate || buf.Channels != t.channels {
		return nil, fmt.Errorf("mixer: schedule: buffer format %d Hz/%d ch does not match output %d Hz/%d ch",
			buf.SampleRate, buf.Channels, t.sampleRate, t.channels)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, audio.ErrClosed
	}

	start := pcm.DurationToFrames(at, t.sampleRate)
	if start < t.pos {
		start = t.pos
	}
	v := &voice{tl: t, buf: buf, start: start, done: make(chan struct{})}
	if buf.Frames() == 0 {
		v.finish()
		return v, nil
	}

	t.seq++
	heap.Push(&t.pending, entry{v: v, start: start, seq: t.seq})
	return v, nil
}

// Render fills out with the mix of every voice overlapping the next
// len(out)/channels frames and advances the clock by that many frames.
// Any trailing partial frame in out is zeroed and not counted. It returns the
// number of frames rendered.
func (t *Timeline) Render(out []float32) int {
	for i := range out {
		out[i] = 0
	}
	frames := len(out) / t.channels

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || frames == 0 {
		return 0
	}

	windowEnd := t.pos + int64(frames)

	// Promote every pending voice that starts inside this window.
	for t.pending.Len() > 0 && t.pending[0].start < windowEnd {
		e := heap.Pop(&t.pending).(entry)
		if e.v.stopped {
			continue
		}
		t.playing = append(t.playing, e.v)
	}

	kept := t.playing[:0]
	for _, v := range t.playing {
		if v.stopped {
			continue
		}
		if t.mixLocked(v, out, windowEnd) {
			v.finish()
			continue
		}
		kept = append(kept, v)
	}
	for i := len(kept); i < len(t.playing); i++ {
		t.playing[i] = nil
	}
	t.playing = kept

	for i := 0; i < frames*t.channels; i++ {
		if out[i] > 1 {
			out[i] = 1
		} else if out[i] < -1 {
			out[i] = -1
		}
	}

	t.pos = windowEnd
	return frames
}

// mixLocked adds v's samples for the window [t.pos, windowEnd) into out and
// reports whether v has played to its end. Must be called with t.mu held.
func (t *Timeline) mixLocked(v *voice, out []float32, windowEnd int64) bool {
	from := max(v.start, t.pos)
	total := int64(v.buf.Frames())
	end := min(v.start+total, windowEnd)

	for f := from; f < end; f++ {
		src := int(f-v.start) * t.channels
		dst := int(f-t.pos) * t.channels
		for c := 0; c < t.channels; c++ {
			out[dst+c] += v.buf.Samples[src+c]
		}
	}
	return v.start+total <= windowEnd
}

// Active returns the number of voices that are scheduled or playing.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, e := range t.pending {
		if !e.v.stopped {
			n++
		}
	}
	for _, v := range t.playing {
		if !v.stopped {
			n++
		}
	}
	return n
}

// Close stops every voice, rejects further scheduling and runs the close hook
// registered with [WithOnClose]. Close is idempotent; subsequent calls are
// no-ops and return nil.
func (t *Timeline) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	for t.pending.Len() > 0 {
		e := heap.Pop(&t.pending).(entry)
		e.v.stopLocked()
	}
	for _, v := range t.playing {
		v.stopLocked()
	}
	t.playing = nil
	onClose := t.onClose
	t.mu.Unlock()

	if onClose != nil {
		return onClose()
	}
	return nil
}

// voice is the [audio.Voice] handle for one scheduled buffer. Its state is
// guarded by the owning timeline's mutex.
type voice struct {
	tl       *Timeline
	buf      *pcm.Buffer
	start    int64
	stopped  bool
	finished bool
	done     chan struct{}
}

// Stop cancels the voice. Already stopped or finished voices are left alone.
func (v *voice) Stop() error {
	v.tl.mu.Lock()
	defer v.tl.mu.Unlock()
	v.stopLocked()
	return nil
}

// Done is closed when the voice has finished or was stopped.
func (v *voice) Done() <-chan struct{} { return v.done }

// Start returns the position the voice was placed at. It is fixed once
// Schedule returns.
func (v *voice) Start() time.Duration {
	return pcm.FramesToDuration(int(v.start), v.tl.sampleRate)
}

func (v *voice) stopLocked() {
	if v.stopped || v.finished {
		return
	}
	v.stopped = true
	close(v.done)
}

func (v *voice) finish() {
	if v.stopped || v.finished {
		return
	}
	v.finished = true
	close(v.done)
}
