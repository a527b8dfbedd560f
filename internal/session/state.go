package session

import (
	"fmt"

	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/pkg/memory"
)

// State is the lifecycle state of a voice session.
type State int

const (
	// StateIdle means no session is running. Start is accepted only here.
	StateIdle State = iota

	// StateConnecting means devices and the channel are being acquired.
	StateConnecting

	// StateActive means the channel is open and audio flows both ways.
	StateActive

	// StateClosing means teardown is in progress.
	StateClosing
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// User-facing status lines.
const (
	StatusIdle          = "Idle. Press Start to talk."
	StatusConnecting    = "Connecting…"
	StatusConnected     = "Connected! You can start speaking now."
	StatusMicError      = "Error: Could not access microphone."
	StatusDisconnecting = "Disconnecting…"
)

// errorStatus formats a session failure for display.
func errorStatus(msg string) string {
	return "Error: " + msg + ". Please try again."
}

// View is a coarse presentation state for indicators and animations.
type View int

const (
	ViewIdle View = iota
	ViewConnecting
	ViewListening
	ViewSpeaking
)

// String returns the lowercase view name.
func (v View) String() string {
	switch v {
	case ViewIdle:
		return "idle"
	case ViewConnecting:
		return "connecting"
	case ViewListening:
		return "listening"
	case ViewSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("View(%d)", int(v))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (v View) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// Snapshot is a consistent, immutable copy of the observable session state.
type Snapshot struct {
	State     State                        `json:"state"`
	Status    string                       `json:"status"`
	SessionID string                       `json:"session_id,omitempty"`
	Turn      turn.Turn                    `json:"turn"`
	History   []memory.TranscriptionRecord `json:"history"`
	Speaking  bool                         `json:"speaking"`
	View      View                         `json:"view"`
}

// DeriveView projects a snapshot onto the presentation states. An active
// session is speaking while model audio is scheduled and listening otherwise.
func DeriveView(s Snapshot) View {
	switch s.State {
	case StateConnecting:
		return ViewConnecting
	case StateActive:
		if s.Speaking {
			return ViewSpeaking
		}
		return ViewListening
	default:
		return ViewIdle
	}
}
