package audio

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a stream or output that has already
// been closed.
var ErrClosed = errors.New("audio: closed")

// DeviceError reports that an audio device could not be acquired or used,
// for example because permission was denied or no device exists. It is
// terminal for a session start attempt and is never retried automatically.
type DeviceError struct {
	// Op is the failed operation ("open capture", "start capture", ...).
	Op string

	// Device is the requested device name; empty means the system default.
	Device string

	// Err is the backend error.
	Err error
}

// Error implements error.
func (e *DeviceError) Error() string {
	name := e.Device
	if name == "" {
		name = "default"
	}
	if e.Err == nil {
		return fmt.Sprintf("audio: %s (%s device)", e.Op, name)
	}
	return fmt.Sprintf("audio: %s (%s device): %v", e.Op, name, e.Err)
}

// Unwrap returns the backend error.
func (e *DeviceError) Unwrap() error { return e.Err }

// IsDeviceError reports whether err (or anything it wraps) is a
// [*DeviceError].
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
