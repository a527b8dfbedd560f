package live_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/provider/live"
)

// ─── Outbox ──────────────────────────────────────────────────────────────────

func TestOutbox_FIFO(t *testing.T) {
	t.Parallel()

	o := live.NewOutbox(4)
	for _, f := range []string{"a", "b", "c"} {
		if err := o.Push([]byte(f)); err != nil {
			t.Fatalf("Push(%s): %v", f, err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got, ok := o.Next(context.Background())
		if !ok || string(got) != want {
			t.Fatalf("Next = %q, %v; want %q", got, ok, want)
		}
	}
}

func TestOutbox_DropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	o := live.NewOutbox(2)
	_ = o.Push([]byte("1"))
	_ = o.Push([]byte("2"))
	if err := o.Push([]byte("3")); !errors.Is(err, live.ErrFrameDropped) {
		t.Fatalf("Push on full outbox: err = %v, want ErrFrameDropped", err)
	}
	if o.Dropped() != 1 || o.Len() != 2 {
		t.Fatalf("Dropped = %d, Len = %d; want 1, 2", o.Dropped(), o.Len())
	}
	got, _ := o.Next(context.Background())
	if string(got) != "2" {
		t.Errorf("oldest surviving frame = %q, want 2", got)
	}
}

func TestOutbox_NextUnblocksOnPush(t *testing.T) {
	t.Parallel()

	o := live.NewOutbox(1)
	got := make(chan []byte, 1)
	go func() {
		f, _ := o.Next(context.Background())
		got <- f
	}()
	time.Sleep(10 * time.Millisecond)
	_ = o.Push([]byte("x"))

	select {
	case f := <-got:
		if string(f) != "x" {
			t.Errorf("got %q", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not wake on Push")
	}
}

func TestOutbox_Close(t *testing.T) {
	t.Parallel()

	o := live.NewOutbox(1)
	done := make(chan bool, 1)
	go func() {
		_, ok := o.Next(context.Background())
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	o.Close()
	o.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Next returned ok after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not wake on Close")
	}
	if err := o.Push([]byte("late")); !errors.Is(err, live.ErrChannelClosed) {
		t.Errorf("Push after Close: err = %v, want ErrChannelClosed", err)
	}
}

func TestOutbox_NextHonoursContext(t *testing.T) {
	t.Parallel()

	o := live.NewOutbox(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := o.Next(ctx); ok {
		t.Error("Next returned ok on cancelled context")
	}
}

// ─── EventStream ─────────────────────────────────────────────────────────────

func TestEventStream_FinishClosesOnce(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	s := live.NewEventStream(4, done)
	s.Emit(live.Event{Kind: live.EventOpened})
	s.Finish(live.Event{Kind: live.EventClosed})
	s.Finish(live.Event{Kind: live.EventError})

	var kinds []live.EventKind
	for ev := range s.C() {
		kinds = append(kinds, ev.Kind)
	}
	if len(kinds) != 2 || kinds[0] != live.EventOpened || kinds[1] != live.EventClosed {
		t.Errorf("kinds = %v", kinds)
	}
}

func TestEventStream_EmitAfterDone(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	s := live.NewEventStream(0, done)
	close(done)
	if s.Emit(live.Event{Kind: live.EventAudio}) {
		t.Error("Emit succeeded after done")
	}
	s.Finish(live.Event{Kind: live.EventClosed})
	if _, ok := <-s.C(); ok {
		t.Error("unbuffered stream delivered terminal event with no reader")
	}
}

// ─── errors and strings ──────────────────────────────────────────────────────

func TestChannelError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := &live.ChannelError{Op: "read", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("ChannelError does not unwrap to cause")
	}
	if err.Summary() != "connection reset" {
		t.Errorf("Summary = %q", err.Summary())
	}

	withMsg := &live.ChannelError{Op: "server", Message: "quota exceeded"}
	if withMsg.Summary() != "quota exceeded" {
		t.Errorf("Summary = %q", withMsg.Summary())
	}
	if !strings.Contains(withMsg.Error(), "server") {
		t.Errorf("Error = %q", withMsg.Error())
	}
	if (&live.ChannelError{Op: "dial"}).Summary() != "connection error" {
		t.Error("empty ChannelError summary")
	}
}

func TestEventKindString(t *testing.T) {
	t.Parallel()

	if live.EventTurnComplete.String() != "turn_complete" {
		t.Errorf("got %q", live.EventTurnComplete.String())
	}
	if live.EventKind(99).String() != "EventKind(99)" {
		t.Errorf("got %q", live.EventKind(99).String())
	}
	if live.DirectionOutput.String() != "output" || live.DirectionInput.String() != "input" {
		t.Error("Direction strings")
	}
}
