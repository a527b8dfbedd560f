package mock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/memory/mock"
)

func TestHistoryStore_SaveLoadClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := &mock.HistoryStore{}

	got, err := s.Load(ctx)
	if err != nil || len(got) != 0 {
		t.Fatalf("Load on zero value = %v, %v", got, err)
	}

	recs := []memory.TranscriptionRecord{{ID: "1"}, {ID: "2"}}
	if err := s.Save(ctx, recs); err != nil {
		t.Fatalf("Save: %v", err)
	}
	recs[0].ID = "mutated"
	if got := s.Records(); got[0].ID != "1" {
		t.Error("Save retained caller's backing array")
	}
	if !s.Present() {
		t.Error("key not present after Save")
	}

	if err := s.Save(ctx, nil); err != nil {
		t.Fatalf("Save(nil): %v", err)
	}
	if s.Present() {
		t.Error("empty save did not remove key")
	}

	s.Seed([]memory.TranscriptionRecord{{ID: "x"}})
	_ = s.Clear(ctx)
	if s.Present() || len(s.Records()) != 0 {
		t.Error("Clear left history behind")
	}

	if got := s.CallCount("Save"); got != 2 {
		t.Errorf("Save calls = %d, want 2", got)
	}
	if got := s.CallCount("Load"); got != 1 {
		t.Errorf("Load calls = %d, want 1", got)
	}
}

func TestHistoryStore_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	boom := errors.New("boom")
	s := &mock.HistoryStore{LoadErr: boom, SaveErr: boom, ClearErr: boom}
	s.Seed([]memory.TranscriptionRecord{{ID: "keep"}})

	if _, err := s.Load(ctx); !errors.Is(err, boom) {
		t.Errorf("Load err = %v", err)
	}
	if err := s.Save(ctx, nil); !errors.Is(err, boom) {
		t.Errorf("Save err = %v", err)
	}
	if err := s.Clear(ctx); !errors.Is(err, boom) {
		t.Errorf("Clear err = %v", err)
	}
	if got := s.Records(); len(got) != 1 || got[0].ID != "keep" {
		t.Errorf("failed calls changed history: %+v", got)
	}

	s.Reset()
	if len(s.Calls()) != 0 {
		t.Error("Reset did not clear calls")
	}
}
