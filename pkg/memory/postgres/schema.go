// Package postgres provides a PostgreSQL-backed [memory.HistoryStore].
//
// Each history key owns an ordered set of rows in the voice_history table,
// one row per completed turn. A save replaces the key's rows inside a single
// transaction, so readers never observe a partially written history.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, memory.DefaultHistoryKey)
//	if err != nil { … }
//	defer store.Close()
//
//	records, _ := store.Load(ctx)
//	_ = store.Save(ctx, append(records, rec))
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL: voice history
// ─────────────────────────────────────────────────────────────────────────────

const ddlVoiceHistory = `
CREATE TABLE IF NOT EXISTS voice_history (
    history_key  TEXT         NOT NULL,
    position     INTEGER      NOT NULL,
    id           TEXT         NOT NULL,
    user_input   TEXT         NOT NULL DEFAULT '',
    model_output TEXT         NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ,
    PRIMARY KEY (history_key, position)
);

CREATE INDEX IF NOT EXISTS idx_voice_history_key
    ON voice_history (history_key);
`

// Migrate creates the voice_history table if it does not exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlVoiceHistory); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
