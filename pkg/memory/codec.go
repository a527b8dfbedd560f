package memory

import (
	"encoding/json"
	"fmt"
)

// EncodeHistory serialises records as a JSON array, the persisted history
// format shared by key-value backends.
func EncodeHistory(records []TranscriptionRecord) ([]byte, error) {
	if records == nil {
		records = []TranscriptionRecord{}
	}
	b, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("memory: encode history: %w", err)
	}
	return b, nil
}

// DecodeHistory parses a JSON array produced by [EncodeHistory]. An empty
// input decodes to an empty history.
func DecodeHistory(data []byte) ([]TranscriptionRecord, error) {
	if len(data) == 0 {
		return []TranscriptionRecord{}, nil
	}
	var records []TranscriptionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("memory: decode history: %w", err)
	}
	if records == nil {
		records = []TranscriptionRecord{}
	}
	return records, nil
}
