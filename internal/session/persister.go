package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/memory"
)

// drainTimeout bounds the final write performed when the persister stops.
const drainTimeout = 5 * time.Second

// persistOp is the latest requested store mutation. Later requests replace
// earlier ones that have not started yet.
type persistOp struct {
	records []memory.TranscriptionRecord
	clear   bool

	// waiters are notified with the result of the write that satisfied
	// them. A clear superseded by a later save is satisfied by that save.
	waiters []chan error
}

// Persister writes history snapshots to a [memory.HistoryStore] on its own
// goroutine. Only the most recent snapshot is written; intermediate ones are
// coalesced away, so slow store I/O never holds up the session loop.
//
// All methods are safe for concurrent use.
type Persister struct {
	store memory.HistoryStore

	mu      sync.Mutex
	pending *persistOp

	// io serialises store access so loads never observe a write in flight.
	io sync.Mutex

	wake     chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewPersister returns a Persister for store. Call [Persister.Start] before
// scheduling writes.
func NewPersister(store memory.HistoryStore) *Persister {
	return &Persister{
		store:   store,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start runs the write loop until [Persister.Stop] is called. Cancelling ctx
// does not end the loop, so the final snapshot is still written on Stop.
func (p *Persister) Start(ctx context.Context) {
	go p.loop(context.WithoutCancel(ctx))
}

// Save schedules records to replace the stored history.
func (p *Persister) Save(records []memory.TranscriptionRecord) {
	p.enqueue(&persistOp{records: memory.Clone(records)})
}

// Clear schedules removal of the stored history. The returned channel
// receives the outcome once the store has been updated.
func (p *Persister) Clear() <-chan error {
	res := make(chan error, 1)
	p.enqueue(&persistOp{clear: true, waiters: []chan error{res}})
	return res
}

func (p *Persister) enqueue(op *persistOp) {
	p.mu.Lock()
	if p.pending != nil {
		op.waiters = append(p.pending.waiters, op.waiters...)
	}
	p.pending = op
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Load writes any pending snapshot and then reads the stored history. The
// pending write does not inherit ctx's cancellation: a caller giving up on
// the read must not lose the write.
func (p *Persister) Load(ctx context.Context) ([]memory.TranscriptionRecord, error) {
	p.io.Lock()
	defer p.io.Unlock()
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	p.writePendingLocked(wctx)
	cancel()
	return p.store.Load(ctx)
}

// Stop writes the last pending snapshot and ends the loop. It waits until the
// loop has exited or ctx is done.
func (p *Persister) Stop(ctx context.Context) {
	p.stopOnce.Do(func() { close(p.done) })
	select {
	case <-p.stopped:
	case <-ctx.Done():
	}
}

func (p *Persister) loop(ctx context.Context) {
	defer close(p.stopped)
	for {
		select {
		case <-p.wake:
			p.flush(ctx)
		case <-p.done:
			dctx, cancel := context.WithTimeout(ctx, drainTimeout)
			p.flush(dctx)
			cancel()
			return
		}
	}
}

func (p *Persister) flush(ctx context.Context) {
	p.io.Lock()
	defer p.io.Unlock()
	p.writePendingLocked(ctx)
}

// writePendingLocked performs the pending operation, if any. Caller holds io.
func (p *Persister) writePendingLocked(ctx context.Context) {
	p.mu.Lock()
	op := p.pending
	p.pending = nil
	p.mu.Unlock()
	if op == nil {
		return
	}

	var err error
	if op.clear {
		err = p.store.Clear(ctx)
	} else {
		err = p.store.Save(ctx, op.records)
	}
	if err != nil {
		slog.Warn("session: persist history", "records", len(op.records), "clear", op.clear, "err", err)
	}
	for _, w := range op.waiters {
		w <- err
	}
}

// inMemoryStore is the history store used when none is configured.
type inMemoryStore struct {
	mu      sync.Mutex
	records []memory.TranscriptionRecord
}

func (s *inMemoryStore) Load(context.Context) ([]memory.TranscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memory.Clone(s.records), nil
}

func (s *inMemoryStore) Save(_ context.Context, records []memory.TranscriptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = memory.Clone(records)
	return nil
}

func (s *inMemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	return nil
}
