package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no member of a [Group] could serve a call.
var ErrAllFailed = errors.New("resilience: all backends failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group holds backends of one kind in preference order, each behind its own
// [Breaker]. Members are added before the group is shared.
type Group[T any] struct {
	cfg     BreakerConfig
	members []member[T]
}

// NewGroup returns an empty group whose breakers use cfg. cfg.Name is
// replaced by each member's name.
func NewGroup[T any](cfg BreakerConfig) *Group[T] {
	return &Group[T]{cfg: cfg}
}

// Add appends a backend. Backends are tried in the order they were added.
func (g *Group[T]) Add(name string, v T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{name: name, value: v, breaker: NewBreaker(cfg)})
}

// Names returns the member names in preference order.
func (g *Group[T]) Names() []string {
	names := make([]string, len(g.members))
	for i, m := range g.members {
		names[i] = m.name
	}
	return names
}

// Available reports whether at least one member would accept a call.
func (g *Group[T]) Available() bool {
	for _, m := range g.members {
		if m.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Call runs fn against each member in order until one succeeds and returns
// its result with the member's name. It stops early when ctx is done. When
// every member fails the error wraps [ErrAllFailed] and the last failure.
func Call[T, R any](ctx context.Context, g *Group[T], fn func(T) (R, error)) (R, string, error) {
	var (
		zero    R
		lastErr error
	)
	for _, m := range g.members {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		var out R
		err := m.breaker.Do(func() error {
			var err error
			out, err = fn(m.value)
			return err
		})
		if err == nil {
			return out, m.name, nil
		}
		if isContextError(err) && ctx.Err() != nil {
			return zero, "", err
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping backend, circuit open", "backend", m.name)
			if lastErr == nil {
				lastErr = err
			}
			continue
		}
		slog.Warn("backend failed, trying next", "backend", m.name, "err", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no backends configured")
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
