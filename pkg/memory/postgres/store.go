package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/pkg/memory"
)

var _ memory.HistoryStore = (*Store)(nil)

// Store is a PostgreSQL-backed history store bound to a single history key.
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	key  string
}

// NewStore creates a connection pool for dsn, verifies connectivity and runs
// [Migrate]. An empty key selects [memory.DefaultHistoryKey].
func NewStore(ctx context.Context, dsn, key string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	if key == "" {
		key = memory.DefaultHistoryKey
	}
	return &Store{pool: pool, key: key}, nil
}

// Load implements [memory.HistoryStore]. Rows are returned in position order.
func (s *Store) Load(ctx context.Context) ([]memory.TranscriptionRecord, error) {
	const q = `
		SELECT id, user_input, model_output, created_at
		FROM   voice_history
		WHERE  history_key = $1
		ORDER  BY position`

	rows, err := s.pool.Query(ctx, q, s.key)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load: %w", err)
	}
	return collectRecords(rows)
}

// Save implements [memory.HistoryStore]. The key's rows are replaced in one
// transaction; an empty records slice leaves no rows behind.
func (s *Store) Save(ctx context.Context, records []memory.TranscriptionRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: save: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM voice_history WHERE history_key = $1`, s.key); err != nil {
		return fmt.Errorf("postgres store: save: delete: %w", err)
	}

	if len(records) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"voice_history"},
			[]string{"history_key", "position", "id", "user_input", "model_output", "created_at"},
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				r := records[i]
				var created *time.Time
				if !r.CreatedAt.IsZero() {
					created = &r.CreatedAt
				}
				return []any{s.key, i, r.ID, r.UserInput, r.ModelOutput, created}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("postgres store: save: copy: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: save: commit: %w", err)
	}
	return nil
}

// Clear implements [memory.HistoryStore].
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM voice_history WHERE history_key = $1`, s.key); err != nil {
		return fmt.Errorf("postgres store: clear: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// collectRecords scans pgx rows into a slice of TranscriptionRecord values.
func collectRecords(rows pgx.Rows) ([]memory.TranscriptionRecord, error) {
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.TranscriptionRecord, error) {
		var (
			r       memory.TranscriptionRecord
			created *time.Time
		)
		if err := row.Scan(&r.ID, &r.UserInput, &r.ModelOutput, &created); err != nil {
			return memory.TranscriptionRecord{}, err
		}
		if created != nil {
			r.CreatedAt = created.UTC()
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if records == nil {
		records = []memory.TranscriptionRecord{}
	}
	return records, nil
}
