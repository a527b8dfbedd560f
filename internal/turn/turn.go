// Package turn accumulates streaming transcript deltas into the live turn and
// finalizes completed turns into history records.
//
// A [Turn] is a value: every append returns a new Turn, so the session loop
// can hand out copies in snapshots without further synchronisation.
package turn

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// Turn holds the transcript text received so far for the exchange in
// progress.
type Turn struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// AppendInput returns t with text appended to the user transcript.
func (t Turn) AppendInput(text string) Turn {
	t.Input += text
	return t
}

// AppendOutput returns t with text appended to the model transcript.
func (t Turn) AppendOutput(text string) Turn {
	t.Output += text
	return t
}

// Append routes text to the accumulator for dir.
func (t Turn) Append(dir live.Direction, text string) Turn {
	if dir == live.DirectionInput {
		return t.AppendInput(text)
	}
	return t.AppendOutput(text)
}

// Empty reports whether neither accumulator holds text.
func (t Turn) Empty() bool {
	return t.Input == "" && t.Output == ""
}

// Finalizer turns a completed [Turn] into a history record.
type Finalizer struct {
	// NewID generates record identifiers. Defaults to [uuid.NewString].
	NewID func() string

	// Now stamps records. Defaults to [time.Now].
	Now func() time.Time
}

// Finalize appends a record built from t to history and returns the reset
// turn, the new history, the appended record and true.
//
// The returned history never shares a backing array with the input, so
// snapshots taken before finalization stay unchanged. If t is empty nothing
// happens and ok is false.
func (f Finalizer) Finalize(t Turn, history []memory.TranscriptionRecord) (Turn, []memory.TranscriptionRecord, memory.TranscriptionRecord, bool) {
	if t.Empty() {
		return t, history, memory.TranscriptionRecord{}, false
	}
	newID := f.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := f.Now
	if now == nil {
		now = time.Now
	}

	rec := memory.TranscriptionRecord{
		ID:          newID(),
		UserInput:   t.Input,
		ModelOutput: t.Output,
		CreatedAt:   now().UTC(),
	}
	out := make([]memory.TranscriptionRecord, len(history), len(history)+1)
	copy(out, history)
	out = append(out, rec)
	return Turn{}, out, rec, true
}
