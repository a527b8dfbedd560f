// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled channels. Use
// Channel to push inbound events and inspect the frames that were sent.
//
// Example:
//
//	ch := mock.NewChannel()
//	p := &mock.Provider{Channel: ch}
//	// ... engine connects through p ...
//	ch.Push(live.Event{Kind: live.EventOpened})
//	ch.Push(live.Event{Kind: live.EventTranscript, Direction: live.DirectionOutput, Text: "Hello"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/live"
)

// Compile-time interface assertions.
var (
	_ live.Provider = (*Provider)(nil)
	_ live.Channel  = (*Channel)(nil)
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Cfg is the Config passed to Connect.
	Cfg live.Config
}

// Provider is a mock implementation of [live.Provider].
type Provider struct {
	mu sync.Mutex

	// Channel is returned by Connect. If nil, Connect returns a fresh
	// [Channel] for every call; the latest is available via Last.
	Channel *Channel

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Block, if non-nil, makes Connect wait until it is closed or the
	// context is done. Used to hold a session in the connecting state.
	Block chan struct{}

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	last *Channel
}

// Connect records the call and returns Channel, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Channel, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Cfg: cfg})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &live.ChannelError{Op: "dial", Err: ctx.Err()}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	ch := p.Channel
	if ch == nil {
		ch = NewChannel()
	}
	p.last = ch
	return ch, nil
}

// Connects returns the number of Connect calls.
func (p *Provider) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Last returns the channel handed out by the most recent successful Connect.
func (p *Provider) Last() *Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Channel is a mock implementation of [live.Channel].
type Channel struct {
	mu     sync.Mutex
	events chan live.Event
	closed bool
	ended  bool

	// SendErr, if non-nil, is returned by Send (the frame is still recorded).
	SendErr error

	// CloseErr is returned by Close.
	CloseErr error

	// Sent records every frame passed to Send, in order.
	Sent [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewChannel returns a Channel with a generously buffered event stream.
func NewChannel() *Channel {
	return &Channel{events: make(chan live.Event, 256)}
}

// Send records frame.
func (c *Channel) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.ended {
		return live.ErrChannelClosed
	}
	c.Sent = append(c.Sent, frame)
	return c.SendErr
}

// Events implements [live.Channel].
func (c *Channel) Events() <-chan live.Event { return c.events }

// Push delivers ev to the consumer. Pushing a terminal event (error or
// closed) ends the stream. Pushes after the stream ended are ignored and
// report false.
func (c *Channel) Push(ev live.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return false
	}
	c.events <- ev
	if ev.Kind == live.EventError || ev.Kind == live.EventClosed {
		c.ended = true
		close(c.events)
	}
	return true
}

// Close implements [live.Channel]. The first call ends the event stream with
// an [live.EventClosed] acknowledgment.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	if !c.closed {
		c.closed = true
		if !c.ended {
			c.ended = true
			select {
			case c.events <- live.Event{Kind: live.EventClosed}:
			default:
			}
			close(c.events)
		}
	}
	return c.CloseErr
}

// SentFrames returns a copy of the recorded frames.
func (c *Channel) SentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.Sent))
	copy(out, c.Sent)
	return out
}

// Closes returns how many times Close was called.
func (c *Channel) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountClose
}
