// Package mock provides an in-memory [memory.HistoryStore].
//
// HistoryStore keeps the history in process memory and records every method
// call for assertion in tests. It doubles as the "memory" history backend for
// deployments that do not need persistence across restarts. Safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.HistoryStore{}
//	store.Seed([]memory.TranscriptionRecord{{ID: "1", UserInput: "hello"}})
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Save"); got != 1 {
//	    t.Errorf("expected 1 Save call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/memory"
)

// Ensure HistoryStore satisfies the interface at compile time.
var _ memory.HistoryStore = (*HistoryStore)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// HistoryStore is an in-memory [memory.HistoryStore]. The zero value is an
// empty store ready for use.
type HistoryStore struct {
	mu sync.Mutex

	calls   []Call
	records []memory.TranscriptionRecord
	present bool

	// LoadErr is returned by [HistoryStore.Load] when non-nil.
	LoadErr error

	// SaveErr is returned by [HistoryStore.Save] when non-nil. The stored
	// history is left unchanged.
	SaveErr error

	// ClearErr is returned by [HistoryStore.Clear] when non-nil.
	ClearErr error
}

// Seed replaces the stored history without recording a call.
func (m *HistoryStore) Seed(records []memory.TranscriptionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = memory.Clone(records)
	m.present = len(records) > 0
}

// Records returns a copy of the stored history.
func (m *HistoryStore) Records() []memory.TranscriptionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memory.Clone(m.records)
}

// Present reports whether the history key exists.
func (m *HistoryStore) Present() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.present
}

// Calls returns a copy of all recorded method invocations.
func (m *HistoryStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *HistoryStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering the stored history.
func (m *HistoryStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Load implements [memory.HistoryStore].
func (m *HistoryStore) Load(_ context.Context) ([]memory.TranscriptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Load"})
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return memory.Clone(m.records), nil
}

// Save implements [memory.HistoryStore].
func (m *HistoryStore) Save(_ context.Context, records []memory.TranscriptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Save", Args: []any{memory.Clone(records)}})
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.records = memory.Clone(records)
	m.present = len(records) > 0
	return nil
}

// Clear implements [memory.HistoryStore].
func (m *HistoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Clear"})
	if m.ClearErr != nil {
		return m.ClearErr
	}
	m.records = nil
	m.present = false
	return nil
}
