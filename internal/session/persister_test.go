package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/memory/mock"
)

// gatedStore blocks Save until released so tests can pile up requests.
type gatedStore struct {
	*mock.HistoryStore
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (g *gatedStore) Save(ctx context.Context, records []memory.TranscriptionRecord) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.gate
	})
	return g.HistoryStore.Save(ctx, records)
}

// ctxStore fails every operation whose context is already done, as a
// network-backed store does.
type ctxStore struct {
	*mock.HistoryStore
}

func (s ctxStore) Load(ctx context.Context) ([]memory.TranscriptionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.HistoryStore.Load(ctx)
}

func (s ctxStore) Save(ctx context.Context, records []memory.TranscriptionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.HistoryStore.Save(ctx, records)
}

func records(ids ...string) []memory.TranscriptionRecord {
	out := make([]memory.TranscriptionRecord, len(ids))
	for i, id := range ids {
		out[i] = memory.TranscriptionRecord{ID: id, UserInput: "in " + id, ModelOutput: "out " + id}
	}
	return out
}

func TestPersister_CoalescesPendingSnapshots(t *testing.T) {
	t.Parallel()

	store := &gatedStore{
		HistoryStore: &mock.HistoryStore{},
		gate:         make(chan struct{}),
		entered:      make(chan struct{}),
	}
	p := NewPersister(store)
	p.Start(context.Background())

	p.Save(records("1"))
	<-store.entered
	// The first write is in flight; these three collapse into one.
	p.Save(records("1", "2"))
	p.Save(records("1", "2", "3"))
	p.Save(records("1", "2", "3", "4"))
	close(store.gate)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Stop(ctx)

	if n := store.CallCount("Save"); n != 2 {
		t.Errorf("Save calls = %d, want 2", n)
	}
	if got := store.Records(); len(got) != 4 || got[3].ID != "4" {
		t.Errorf("stored = %+v", got)
	}
}

func TestPersister_SaveCopiesInput(t *testing.T) {
	t.Parallel()

	store := &mock.HistoryStore{}
	p := NewPersister(store)
	in := records("a")
	p.Save(in)
	in[0].UserInput = "mutated"

	p.Start(context.Background())
	p.Stop(context.Background())
	if got := store.Records(); got[0].UserInput != "in a" {
		t.Errorf("stored %q, want the snapshot taken at Save", got[0].UserInput)
	}
}

func TestPersister_ClearWaitsForStore(t *testing.T) {
	t.Parallel()

	store := &mock.HistoryStore{}
	store.Seed(records("x"))
	p := NewPersister(store)
	p.Start(context.Background())
	defer p.Stop(context.Background())

	select {
	case err := <-p.Clear():
		if err != nil {
			t.Fatalf("Clear: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Clear never completed")
	}
	if store.Present() {
		t.Error("history still stored")
	}
}

func TestPersister_ClearSupersededBySave(t *testing.T) {
	t.Parallel()

	store := &mock.HistoryStore{}
	p := NewPersister(store)
	done := p.Clear()
	p.Save(records("new"))
	p.Start(context.Background())
	defer p.Stop(context.Background())

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Clear: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("superseded Clear never reported")
	}
	if store.CallCount("Clear") != 0 {
		t.Error("superseded Clear reached the store")
	}
	if got := store.Records(); len(got) != 1 || got[0].ID != "new" {
		t.Errorf("stored = %+v", got)
	}
}

func TestPersister_ClearReportsError(t *testing.T) {
	t.Parallel()

	boom := errors.New("read-only")
	store := &mock.HistoryStore{ClearErr: boom}
	p := NewPersister(store)
	p.Start(context.Background())
	defer p.Stop(context.Background())

	if err := <-p.Clear(); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestPersister_LoadSeesPendingWrite(t *testing.T) {
	t.Parallel()

	store := &mock.HistoryStore{}
	p := NewPersister(store)
	// Not started: the write is only pending.
	p.Save(records("p"))

	got, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].ID != "p" {
		t.Errorf("Load = %+v", got)
	}
}

func TestPersister_LoadWithCancelledContextKeepsPendingWrite(t *testing.T) {
	t.Parallel()

	store := ctxStore{HistoryStore: &mock.HistoryStore{}}
	p := NewPersister(store)
	p.Save(records("p"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Load(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Load err = %v, want context.Canceled", err)
	}
	if got := store.Records(); len(got) != 1 || got[0].ID != "p" {
		t.Errorf("stored = %+v, want the pending snapshot", got)
	}
}

func TestPersister_StopDrainsAfterCancel(t *testing.T) {
	t.Parallel()

	store := &mock.HistoryStore{}
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPersister(store)
	p.Start(ctx)
	cancel()
	p.Save(records("last"))
	p.Stop(context.Background())

	if got := store.Records(); len(got) != 1 {
		t.Errorf("stored = %+v, want the final snapshot", got)
	}
}

func TestPersister_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	p := NewPersister(&mock.HistoryStore{})
	p.Start(context.Background())
	p.Stop(context.Background())
	p.Stop(context.Background())
}
