// Package memory defines the persistence boundary for voice session history.
//
// A history is the ordered sequence of [TranscriptionRecord] values produced
// by completed turns. It is stored and retrieved as a whole: a [HistoryStore]
// behaves like a single key holding the latest sequence. Saving an empty
// sequence removes the key entirely.
//
// Implementations live in sub-packages:
//
//   - memory/badger   – embedded BadgerDB key-value store (on disk or in memory)
//   - memory/postgres – PostgreSQL via pgx connection pool
//   - memory/mock     – in-memory test double with call recording
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
)

// DefaultHistoryKey is the storage key under which the history is kept when
// no other key is configured.
const DefaultHistoryKey = "massivebio-voice-history"

// ErrNotFound is returned by implementations that distinguish a missing key
// internally. [HistoryStore.Load] itself never returns it: a missing key loads
// as an empty history.
var ErrNotFound = errors.New("memory: not found")

// HistoryStore persists the completed-turn history of a voice session.
type HistoryStore interface {
	// Load returns the stored history in order. A missing key yields an
	// empty, non-nil slice and a nil error. Malformed stored data is reported
	// as an error; callers treat it as an empty history.
	Load(ctx context.Context) ([]TranscriptionRecord, error)

	// Save replaces the stored history with records. An empty records slice
	// removes the key.
	Save(ctx context.Context, records []TranscriptionRecord) error

	// Clear removes the stored history. Clearing a missing key is not an
	// error.
	Clear(ctx context.Context) error
}
