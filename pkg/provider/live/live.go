// Package live defines the boundary to an external bidirectional streaming
// conversation channel such as the Gemini Live API.
//
// A [Provider] opens a [Channel]. The caller streams encoded PCM16 microphone
// frames into the channel with [Channel.Send] and receives a single ordered
// stream of [Event] values from [Channel.Events]: readiness, audio chunks,
// transcript deltas, interruption and turn-completion signals, and finally an
// error or close.
//
// Implementations live in sub-packages (live/gemini speaks the raw WebSocket
// protocol, live/genailive uses the official SDK) and live/mock provides a
// scriptable test double.
//
// This package lives under pkg/ because external code may provide additional
// channel implementations.
package live

import (
	"context"
	"errors"
	"fmt"
)

// ErrChannelClosed is returned by [Channel.Send] after the channel has been
// closed locally or ended remotely.
var ErrChannelClosed = errors.New("live: channel closed")

// Config holds the parameters sent to the remote agent when a channel opens.
// The response modality is always audio.
type Config struct {
	// Model identifies the remote model, e.g.
	// "gemini-2.5-flash-native-audio-preview-09-2025".
	Model string

	// Voice is the prebuilt synthetic voice identifier, e.g. "Zephyr".
	Voice string

	// Instructions is the system prompt. It is opaque to this package.
	Instructions string

	// InputTranscription requests transcripts of the user's speech.
	InputTranscription bool

	// OutputTranscription requests transcripts of the agent's speech.
	OutputTranscription bool
}

// EventKind classifies an [Event].
type EventKind int

const (
	// EventOpened signals that the channel is ready for audio.
	EventOpened EventKind = iota

	// EventAudio carries one chunk of agent audio (PCM16LE, 24 kHz mono) in
	// [Event.Audio].
	EventAudio

	// EventTranscript carries an incremental transcript delta in
	// [Event.Text], tagged with [Event.Direction].
	EventTranscript

	// EventInterrupted signals that the in-progress agent output was
	// superseded because the user started speaking.
	EventInterrupted

	// EventTurnComplete signals the end of the current turn.
	EventTurnComplete

	// EventError signals a fatal channel failure; [Event.Err] is a
	// [*ChannelError]. No further events follow.
	EventError

	// EventClosed signals that the channel ended, remotely or as the
	// acknowledgment of a local close. No further events follow.
	EventClosed
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventAudio:
		return "audio"
	case EventTranscript:
		return "transcript"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Direction tags a transcript delta with the speaker it belongs to.
type Direction int

const (
	// DirectionInput is the user's speech.
	DirectionInput Direction = iota

	// DirectionOutput is the agent's speech.
	DirectionOutput
)

// String returns "input" or "output".
func (d Direction) String() string {
	if d == DirectionOutput {
		return "output"
	}
	return "input"
}

// Event is a single inbound occurrence on a [Channel].
type Event struct {
	Kind EventKind

	// Audio is set for [EventAudio].
	Audio []byte

	// Direction and Text are set for [EventTranscript].
	Direction Direction
	Text      string

	// Err is set for [EventError].
	Err error
}

// Channel is an open bidirectional streaming session.
//
// Implementations must be safe for concurrent use. In particular Send may be
// called from an audio device callback while another goroutine consumes
// Events and a third calls Close.
type Channel interface {
	// Send queues one encoded PCM16LE 16 kHz mono frame for transmission. It
	// never blocks on the network and carries no acknowledgment. If the
	// outbound queue is full the oldest queued frame is dropped. After the
	// channel ends Send returns [ErrChannelClosed].
	Send(frame []byte) error

	// Events returns the inbound event stream. Events arrive in the order
	// the remote produced them. The channel is closed after the terminal
	// [EventError] or [EventClosed] has been delivered, or after Close.
	Events() <-chan Event

	// Close ends the session without waiting for the remote side to
	// acknowledge. Close is idempotent; subsequent calls return nil.
	Close() error
}

// Provider opens channels.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect dials the remote agent and sends cfg. It returns as soon as the
	// transport is established; readiness is reported asynchronously with
	// [EventOpened]. Failures to dial are returned as [*ChannelError].
	Connect(ctx context.Context, cfg Config) (Channel, error)
}

// ChannelError is a transport-level failure reported by a channel. It is
// terminal for the current session.
type ChannelError struct {
	// Op is the failed operation ("dial", "setup", "read", "write", "server").
	Op string

	// Message is a short human-readable description suitable for a status
	// line.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *ChannelError) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("live: %s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("live: %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("live: %s: %s", e.Op, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *ChannelError) Unwrap() error { return e.Err }

// Summary returns the text shown to users: the message if set, otherwise the
// cause.
func (e *ChannelError) Summary() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "connection error"
}
