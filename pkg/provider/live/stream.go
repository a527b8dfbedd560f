package live

import "sync"

// DefaultEventBuffer is the inbound event buffer used by the bundled channel
// implementations.
const DefaultEventBuffer = 64

// EventStream is the producer side of [Channel.Events] shared by channel
// implementations. A single receive goroutine emits events in arrival order;
// Finish delivers the terminal event and closes the stream exactly once.
type EventStream struct {
	ch   chan Event
	done <-chan struct{}
	once sync.Once
}

// NewEventStream creates a stream with the given buffer. Emission gives up
// when done is closed, which is how a local Close unblocks a receive
// goroutine whose consumer has gone away.
func NewEventStream(buffer int, done <-chan struct{}) *EventStream {
	if buffer < 0 {
		buffer = 0
	}
	return &EventStream{ch: make(chan Event, buffer), done: done}
}

// C returns the consumer side.
func (s *EventStream) C() <-chan Event { return s.ch }

// Emit delivers ev, blocking while the buffer is full. It reports false if
// done was closed first.
func (s *EventStream) Emit(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Finish delivers the terminal event (if the consumer can still take it
// without blocking after done, or with blocking before) and closes the
// stream. Only the first call has any effect.
func (s *EventStream) Finish(ev Event) {
	s.once.Do(func() {
		if !s.Emit(ev) {
			select {
			case s.ch <- ev:
			default:
			}
		}
		close(s.ch)
	})
}
