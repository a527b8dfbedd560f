package live

import (
	"context"
	"errors"
	"sync"
)

// ErrFrameDropped is returned by [Channel.Send] when the outbound queue was
// full. The new frame was queued and the oldest queued frame discarded; the
// channel remains usable.
var ErrFrameDropped = errors.New("live: outbound queue full, oldest frame dropped")

// DefaultOutboxCapacity is the outbound queue depth used by the bundled
// channel implementations: 64 frames of 4096 samples is about 16 s of audio.
const DefaultOutboxCapacity = 64

// Outbox is a bounded FIFO of outbound frames shared between a non-blocking
// producer (the capture callback) and a single writer goroutine. When full,
// Push evicts the oldest frame so the freshest audio is always sent.
//
// Outbox is safe for concurrent use.
type Outbox struct {
	mu      sync.Mutex
	queue   [][]byte
	cap     int
	closed  bool
	dropped uint64
	notify  chan struct{}
}

// NewOutbox creates an Outbox holding at most capacity frames. A capacity
// below one uses [DefaultOutboxCapacity].
func NewOutbox(capacity int) *Outbox {
	if capacity < 1 {
		capacity = DefaultOutboxCapacity
	}
	return &Outbox{
		queue:  make([][]byte, 0, capacity),
		cap:    capacity,
		notify: make(chan struct{}, 1),
	}
}

// Push appends frame without blocking. It returns [ErrChannelClosed] after
// Close and [ErrFrameDropped] when an older frame had to be evicted.
func (o *Outbox) Push(frame []byte) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrChannelClosed
	}
	var err error
	if len(o.queue) == o.cap {
		o.queue[0] = nil
		o.queue = o.queue[1:]
		o.dropped++
		err = ErrFrameDropped
	}
	o.queue = append(o.queue, frame)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
	return err
}

// Next blocks until a frame is available, the outbox is closed, or ctx is
// done. ok is false in the latter two cases.
func (o *Outbox) Next(ctx context.Context) (frame []byte, ok bool) {
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return nil, false
		}
		if len(o.queue) > 0 {
			frame = o.queue[0]
			o.queue[0] = nil
			o.queue = o.queue[1:]
			o.mu.Unlock()
			return frame, true
		}
		o.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-o.notify:
		}
	}
}

// Len returns the number of queued frames.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Dropped returns how many frames have been evicted so far.
func (o *Outbox) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// Close discards queued frames and wakes any waiting writer. Idempotent.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.queue = nil
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}
