package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/parley/pkg/provider/live"
)

// LiveFallback is a [live.Provider] that opens channels on the first healthy
// backend. Only Connect is guarded; an open channel is never moved to another
// backend.
type LiveFallback struct {
	group *Group[live.Provider]
}

var _ live.Provider = (*LiveFallback)(nil)

// NewLiveFallback returns a LiveFallback preferring primary.
func NewLiveFallback(primaryName string, primary live.Provider, cfg BreakerConfig) *LiveFallback {
	g := NewGroup[live.Provider](cfg)
	g.Add(primaryName, primary)
	return &LiveFallback{group: g}
}

// AddFallback registers p after the backends already present.
func (f *LiveFallback) AddFallback(name string, p live.Provider) {
	f.group.Add(name, p)
}

// Backends returns the backend names in preference order.
func (f *LiveFallback) Backends() []string { return f.group.Names() }

// Connect opens a channel on the first backend that accepts. If every
// breaker is open the error is a [live.ChannelError] so the status line
// stays readable.
func (f *LiveFallback) Connect(ctx context.Context, cfg live.Config) (live.Channel, error) {
	ch, name, err := Call(ctx, f.group, func(p live.Provider) (live.Channel, error) {
		return p.Connect(ctx, cfg)
	})
	if err != nil {
		var cerr *live.ChannelError
		if errors.Is(err, ErrAllFailed) && !errors.As(err, &cerr) {
			return nil, &live.ChannelError{Op: "dial", Message: "service temporarily unavailable", Err: err}
		}
		return nil, err
	}
	slog.Debug("channel opened", "backend", name)
	return ch, nil
}

// Ping fails when every backend's breaker is open.
func (f *LiveFallback) Ping(context.Context) error {
	if f.group.Available() {
		return nil
	}
	return fmt.Errorf("%w: every circuit is open", ErrAllFailed)
}

// Close closes the backends that hold resources.
func (f *LiveFallback) Close() error {
	var errs []error
	for _, m := range f.group.members {
		if c, ok := m.value.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
			}
		}
	}
	return errors.Join(errs...)
}
