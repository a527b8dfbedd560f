package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a settable clock for breakers.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	cfg.now = clk.Now
	return NewBreaker(cfg), clk
}

func fail() error    { return errTest }
func succeed() error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{Name: "test"})
	if b.cfg.MaxFailures != 3 || b.cfg.Cooldown != 30*time.Second || b.cfg.Probes != 1 {
		t.Errorf("cfg = %+v", b.cfg)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 3, Cooldown: time.Minute})
	for range 3 {
		_ = b.Do(fail)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("err = %v, called = %v", err, called)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 3})
	_ = b.Do(fail)
	_ = b.Do(fail)
	_ = b.Do(succeed)
	_ = b.Do(fail)
	_ = b.Do(fail)
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_IgnoredErrorsDoNotCount(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 1})
	for _, err := range []error{
		context.Canceled,
		fmt.Errorf("dial: %w", context.DeadlineExceeded),
	} {
		if got := b.Do(func() error { return err }); !errors.Is(got, err) {
			t.Errorf("Do = %v, want %v", got, err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}

	custom, _ := newTestBreaker(BreakerConfig{
		MaxFailures: 1,
		Ignore:      func(err error) bool { return errors.Is(err, errTest) },
	})
	_ = custom.Do(fail)
	if custom.State() != StateClosed {
		t.Error("custom ignore not applied")
	}
}

// ─── Half-open ───────────────────────────────────────────────────────────────

func TestBreaker_HalfOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		probes int
		calls  []func() error
		want   State
	}{
		{name: "probe succeeds", probes: 1, calls: []func() error{succeed}, want: StateClosed},
		{name: "probe fails", probes: 1, calls: []func() error{fail}, want: StateOpen},
		{name: "needs two probes", probes: 2, calls: []func() error{succeed}, want: StateHalfOpen},
		{name: "two probes succeed", probes: 2, calls: []func() error{succeed, succeed}, want: StateClosed},
		{name: "second probe fails", probes: 2, calls: []func() error{succeed, fail}, want: StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, clk := newTestBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Minute, Probes: tt.probes})
			_ = b.Do(fail)
			clk.Advance(59 * time.Second)
			if b.State() != StateOpen {
				t.Fatalf("state before cooldown = %v", b.State())
			}
			clk.Advance(time.Second)
			if b.State() != StateHalfOpen {
				t.Fatalf("state after cooldown = %v", b.State())
			}
			for _, c := range tt.calls {
				_ = b.Do(c)
			}
			if b.State() != tt.want {
				t.Errorf("state = %v, want %v", b.State(), tt.want)
			}
		})
	}
}

func TestBreaker_HalfOpenLimitsConcurrentProbes(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Second})
	_ = b.Do(fail)
	clk.Advance(time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if err := b.Do(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Hour})
	_ = b.Do(fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("state = %v", b.State())
	}
	if err := b.Do(succeed); err != nil {
		t.Errorf("Do after reset = %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
