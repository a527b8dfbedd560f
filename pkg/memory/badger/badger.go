// Package badger implements [memory.HistoryStore] on an embedded BadgerDB
// key-value database.
//
// The whole history is kept as a JSON array under a single key. Saving an
// empty history deletes the key, so a cleared store is indistinguishable from
// a fresh one.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/MrWong99/parley/pkg/memory"
)

var _ memory.HistoryStore = (*Store)(nil)

// Options configures a Store.
type Options struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool

	// Key is the storage key. Defaults to [memory.DefaultHistoryKey].
	Key string
}

// Store is a BadgerDB-backed history store. Safe for concurrent use.
type Store struct {
	db  *badgerdb.DB
	key []byte
}

// Open opens (or creates) the database described by opts.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger history: Dir is required for on-disk mode")
	}
	dbOpts := badgerdb.DefaultOptions(opts.Dir).WithLogger(slogLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badgerdb.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("badger history: open: %w", err)
	}
	key := opts.Key
	if key == "" {
		key = memory.DefaultHistoryKey
	}
	return &Store{db: db, key: []byte(key)}, nil
}

// Load implements [memory.HistoryStore].
func (s *Store) Load(_ context.Context) ([]memory.TranscriptionRecord, error) {
	var val []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return []memory.TranscriptionRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("badger history: load: %w", err)
	}
	return memory.DecodeHistory(val)
}

// Save implements [memory.HistoryStore].
func (s *Store) Save(ctx context.Context, records []memory.TranscriptionRecord) error {
	if len(records) == 0 {
		return s.Clear(ctx)
	}
	val, err := memory.EncodeHistory(records)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(s.key, val)
	})
	if err != nil {
		return fmt.Errorf("badger history: save: %w", err)
	}
	return nil
}

// Clear implements [memory.HistoryStore].
func (s *Store) Clear(_ context.Context) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(s.key)
	})
	if err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
		return fmt.Errorf("badger history: clear: %w", err)
	}
	return nil
}

// Has reports whether the history key is present.
func (s *Store) Has() (bool, error) {
	err := s.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(s.key)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// slogLogger routes badger's internal logging through slog. Info and debug
// chatter is demoted to debug.
type slogLogger struct{}

func (slogLogger) Errorf(f string, args ...any) {
	slog.Error(fmt.Sprintf("badger: "+f, args...))
}

func (slogLogger) Warningf(f string, args ...any) {
	slog.Warn(fmt.Sprintf("badger: "+f, args...))
}

func (slogLogger) Infof(f string, args ...any) {
	slog.Debug(fmt.Sprintf("badger: "+f, args...))
}

func (slogLogger) Debugf(f string, args ...any) {
	slog.Debug(fmt.Sprintf("badger: "+f, args...))
}
