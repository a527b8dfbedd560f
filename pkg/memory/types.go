package memory

import "time"

// TranscriptionRecord is one completed exchange between the user and the
// voice model. Records are immutable once appended to the history.
//
// The JSON field names match the persisted history format so existing
// histories written by earlier clients load unchanged.
type TranscriptionRecord struct {
	// ID uniquely identifies the record within a history.
	ID string `json:"id"`

	// UserInput is the accumulated transcript of what the user said.
	UserInput string `json:"userInput"`

	// ModelOutput is the accumulated transcript of what the model said.
	ModelOutput string `json:"modelOutput"`

	// CreatedAt is when the turn was finalized. Zero for records loaded from
	// histories that predate the field.
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// Clone returns a copy of records that does not share a backing array with
// the input. A nil input yields an empty, non-nil slice.
func Clone(records []TranscriptionRecord) []TranscriptionRecord {
	out := make([]TranscriptionRecord, len(records))
	copy(out, records)
	return out
}
