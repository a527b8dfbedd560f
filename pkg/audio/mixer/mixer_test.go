package mixer_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/mixer"
	"github.com/MrWong99/parley/pkg/audio/pcm"
)

// rate keeps frame arithmetic readable: one frame per millisecond.
const rate = 1000

// constBuffer returns a mono buffer of n frames all set to v.
func constBuffer(n int, v float32) *pcm.Buffer {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return &pcm.Buffer{Samples: s, SampleRate: rate, Channels: 1}
}

func render(t *testing.T, tl *mixer.Timeline, frames int) []float32 {
	t.Helper()
	out := make([]float32, frames)
	if n := tl.Render(out); n != frames {
		t.Fatalf("Render = %d frames, want %d", n, frames)
	}
	return out
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// ─── clock ───────────────────────────────────────────────────────────────────

func TestTimeline_ClockAdvancesWithRender(t *testing.T) {
	t.Parallel()

	tl := mixer.New(rate, 1)
	if tl.Now() != 0 {
		t.Fatalf("Now = %v, want 0", tl.Now())
	}
	render(t, tl, 250)
	if tl.Now() != 250*time.Millisecond {
		t.Errorf("Now = %v, want 250ms", tl.Now())
	}
	if tl.Position() != 250 {
		t.Errorf("Position = %d, want 250", tl.Position())
	}
}

// ─── scheduling ──────────────────────────────────────────────────────────────

func TestTimeline_PlaysAtScheduledOffset(t *testing.T) {
	t.Parallel()

	tl := mixer.New(rate, 1)
	v, err := tl.Schedule(constBuffer(10, 0.5), 5*time.Millisecond)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	out := render(t, tl, 20)
	for i, s := range out {
		want := float32(0)
		if i >= 5 && i < 15 {
			want = 0.5
		}
		if s != want {
			t.Fatalf("frame %d = %v, want %v", i, s, want)
		}
	}
	if !isClosed(v.Done()) {
		t.Error("voice not done after playing through")
	}
	if tl.Active() != 0 {
		t.Errorf("Active = %d, want 0", tl.Active())
	}
}

func TestTimeline_BackToBackAcrossWindows(t *testing.T) {
	t.Parallel()

	tl := mixer.New(rate, 1)
	_, _ = tl.Schedule(constBuffer(7, 0.25), 0)
	_, _ = tl.Schedule(constBuffer(7, -0.25), 7*time.Millisecond)

	var all []float32
	for range 4 {
		all = append(all, render(t, tl, 4)...)
	}
	for i := 0; i < 14; i++ {
		want := float32(0.25)
		if i >= 7 {
			want = -0.25
		}
		if all[i] != want {
			t.Fatalf("frame %d = %v, want %v (gap or overlap)", i, all[i], want)
		}
	}
	if all[14] != 0 || all[15] != 0 {
		t.Errorf("trailing frames not silent: %v", all[14:])
	}
}

func TestTimeline_PastStartPlaysImmediately(t *testing.T) {
	t.Parallel()

	tl := mixer.New(rate, 1)
	render(t, tl, 100)
	v, err := tl.Schedule(constBuffer(3, 0.1), 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if v.Start() != 100*time.Millisecond {
		t.Errorf("Start = %v, want the clock position 100ms", v.Start())
	}

	out := render(t, tl, 3)
	for i, s := range out {
		if s != 0.1 {
			t.Fatalf("frame %d = %v, want 0.1", i, s)
		}
	}
}

func TestTimeline_OverlapIsClamped(t *testing.T) {
	t.Parallel()

	tl := mixer.New(rate, 1)
	_, _ = tl.Schedule(constBuffer(2, 0.75), 0)
	_, _ = tl.Schedule(constBuffer(2, 0.75), 0)

	out := render(t, tl, 2)
	if out[0] != 1 || out[1] != 1 {
		t.Errorf("out = %v, want clamped to 1", out)
	}
}

func TestTimeline_FormatMismatch(t *testing.T) {
	t.Parallel()

	tl := mixer.New(rate, 1)
	buf := &pcm.Buffer{Samples: []float32{0, 0}, SampleRate: rate, Channels: 2}
	if _, err := tl.Schedule(buf, 0); err == nil {
		t.Error("expected error for channel mismatch")
	}
	if _, err := tl.Schedule(nil, 0); err == nil {
		t.Error("expected error for nil buffer")
	}
}

// ─── stopping ────────────────────────────────────────────────────────────────

func TestVoice_StopSilencesImmediately(t *testing.T) {
	t.Parallel()

	tl := mixer.New(rate, 1)
	v, _ := tl.Schedule(constBuffer(100, 0.5), 0)

	render(t, tl, 10)
	if err := v.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !isClosed(v.Done()) {
		t.Fatal("Done not closed after Stop")
	}
	out := render(t, tl, 10)
	for i, s := range out {
		if s != 0 {
			t.Fatalf("frame %d = %v after stop, want 0", i, s)
		}
	}
	// Stopping twice is harmless.
	if err := v.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestVoice_StopPending(t *testing.T) {
	t.Parallel()

	tl := mixer.New(rate, 1)
	v, _ := tl.Schedule(constBuffer(5, 0.5), 50*time.Millisecond)
	_ = v.Stop()
	if tl.Active() != 0 {
		t.Errorf("Active = %d, want 0", tl.Active())
	}
	out := render(t, tl, 60)
	for i, s := range out {
		if s != 0 {
			t.Fatalf("frame %d = %v, want 0", i, s)
		}
	}
}

func TestTimeline_Close(t *testing.T) {
	t.Parallel()

	hookCalls := 0
	tl := mixer.New(rate, 1, mixer.WithOnClose(func() error {
		hookCalls++
		return nil
	}))
	v, _ := tl.Schedule(constBuffer(5, 0.5), 0)

	if err := tl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if hookCalls != 1 {
		t.Errorf("close hook ran %d times, want 1", hookCalls)
	}
	if !isClosed(v.Done()) {
		t.Error("voice not stopped by Close")
	}
	if _, err := tl.Schedule(constBuffer(1, 0), 0); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("Schedule after Close: err = %v, want ErrClosed", err)
	}
}

func TestTimeline_Stereo(t *testing.T) {
	t.Parallel()

	tl := mixer.New(rate, 2)
	buf := &pcm.Buffer{Samples: []float32{0.1, 0.2, 0.3, 0.4}, SampleRate: rate, Channels: 2}
	if _, err := tl.Schedule(buf, 0); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	out := make([]float32, 5) // two frames plus a dangling sample
	if n := tl.Render(out); n != 2 {
		t.Fatalf("Render = %d, want 2", n)
	}
	want := []float32{0.1, 0.2, 0.3, 0.4, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}
