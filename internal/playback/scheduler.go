// Package playback schedules decoded model audio on an output device so that
// consecutive chunks play back to back without gaps or overlap, and cancels
// everything still queued when the user interrupts.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/pcm"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithFormat overrides the expected chunk format. Defaults to 24 kHz mono.
func WithFormat(sampleRate, channels int) Option {
	return func(s *Scheduler) {
		s.sampleRate = sampleRate
		s.channels = channels
	}
}

// Scheduler places audio chunks on an [audio.Output] timeline.
//
// The cursor nextStart is the output-clock time at which the next chunk
// should begin. Each chunk starts at max(nextStart, now) and advances the
// cursor from the start the output actually used, so a clock that moves
// while the chunk is placed never causes overlap. All methods are safe for
// concurrent use.
type Scheduler struct {
	out        audio.Output
	metrics    *observe.Metrics
	sampleRate int
	channels   int

	mu        sync.Mutex
	nextStart time.Duration
	voices    []audio.Voice
	scheduled uint64
	closed    bool
}

// New returns a Scheduler writing to out.
func New(out audio.Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:        out,
		sampleRate: pcm.PlaybackSampleRate,
		channels:   1,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Enqueue decodes chunk and schedules it directly after the previously
// scheduled audio, or immediately if the output clock has already passed that
// point. It returns the scheduled start time.
//
// A chunk that fails to decode is reported as a [*pcm.DecodeError] and leaves
// the scheduler unchanged.
func (s *Scheduler) Enqueue(chunk []byte) (time.Duration, error) {
	buf, err := pcm.NewBuffer(chunk, s.sampleRate, s.channels)
	if err != nil {
		s.metrics.PlaybackDropped.Add(context.Background(), 1)
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, audio.ErrClosed
	}

	want := max(s.nextStart, s.out.Now())
	v, err := s.out.Schedule(buf, want)
	if err != nil {
		return 0, err
	}

	start := v.Start()
	if s.nextStart > 0 && start > s.nextStart {
		s.metrics.PlaybackLag.Record(context.Background(), (start - s.nextStart).Seconds())
	}
	s.nextStart = start + buf.Duration()
	s.prune()
	s.voices = append(s.voices, v)
	s.scheduled++
	s.metrics.PlaybackChunks.Add(context.Background(), 1)
	return start, nil
}

// Flush stops every registered voice, empties the registry and resets the
// cursor so the next chunk starts at the current clock. Stop failures are
// logged and do not interrupt the flush. It returns how many voices were
// stopped.
func (s *Scheduler) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Scheduler) flushLocked() int {
	n := len(s.voices)
	for _, v := range s.voices {
		if err := v.Stop(); err != nil {
			slog.Warn("playback: stop voice", "err", err)
		}
	}
	s.voices = nil
	s.nextStart = 0
	return n
}

// prune drops voices that have finished playing. Caller holds mu.
func (s *Scheduler) prune() {
	kept := s.voices[:0]
	for _, v := range s.voices {
		select {
		case <-v.Done():
		default:
			kept = append(kept, v)
		}
	}
	clear(s.voices[len(kept):])
	s.voices = kept
}

// Pending returns the number of voices that are scheduled or playing.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	return len(s.voices)
}

// Speaking reports whether any scheduled voice is still playing or waiting
// to play.
func (s *Scheduler) Speaking() bool {
	return s.Pending() > 0
}

// Scheduled returns the total number of chunks scheduled since creation.
func (s *Scheduler) Scheduled() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}

// NextStart returns the current cursor.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Close flushes and closes the output. Subsequent calls return nil.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.flushLocked()
	s.mu.Unlock()

	if err := s.out.Close(); err != nil && !errors.Is(err, audio.ErrClosed) {
		return err
	}
	return nil
}
