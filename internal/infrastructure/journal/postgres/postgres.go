package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"bank-saga/internal/infrastructure/journal"
	"bank-saga/internal/pkg/logging"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Journal is the PostgreSQL-backed event journal and snapshot store.
//
// Events live in journal_events keyed by (persistence_id, seq). Seq
// allocation happens inside a transaction that locks the key's row in
// journal_keys, which makes appends linearizable per key while keys stay
// independent of each other.
type Journal struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS journal_keys (
    persistence_id TEXT PRIMARY KEY,
    last_seq       BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS journal_events (
    persistence_id TEXT        NOT NULL,
    seq            BIGINT      NOT NULL,
    event_type     TEXT        NOT NULL,
    payload        JSONB       NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (persistence_id, seq)
);

CREATE TABLE IF NOT EXISTS journal_snapshots (
    persistence_id TEXT        PRIMARY KEY,
    seq            BIGINT      NOT NULL,
    state          JSONB       NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// NewJournal creates a PostgreSQL journal with a connection pool
func NewJournal(cfg *Config) (*Journal, error) {
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	j := &Journal{pool: pool}
	if err := j.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logging.Info("PostgreSQL journal initialized",
		logging.F("host", cfg.Host), logging.F("port", cfg.Port), logging.F("database", cfg.Database))
	return j, nil
}

// NewJournalWithPool wraps an existing pool; used by tests that manage
// their own container lifecycle.
func NewJournalWithPool(ctx context.Context, pool *pgxpool.Pool) (*Journal, error) {
	j := &Journal{pool: pool}
	if err := j.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) ensureSchema(ctx context.Context) error {
	if _, err := j.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (j *Journal) Close() {
	if j.pool != nil {
		j.pool.Close()
	}
}

// Append durably persists events under key. The key's row lock serializes
// concurrent appends for the same entity.
func (j *Journal) Append(ctx context.Context, key string, events ...journal.Event) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin append transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var lastSeq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO journal_keys (persistence_id, last_seq)
		VALUES ($1, 0)
		ON CONFLICT (persistence_id) DO UPDATE SET last_seq = journal_keys.last_seq
		RETURNING last_seq
	`, key).Scan(&lastSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to lock journal key %s: %w", key, err)
	}

	for _, ev := range events {
		lastSeq++
		_, err = tx.Exec(ctx, `
			INSERT INTO journal_events (persistence_id, seq, event_type, payload)
			VALUES ($1, $2, $3, $4)
		`, key, lastSeq, ev.Type, ev.Data)
		if err != nil {
			return 0, fmt.Errorf("failed to append event %s: %w", ev.Type, err)
		}
	}

	_, err = tx.Exec(ctx, `UPDATE journal_keys SET last_seq = $1 WHERE persistence_id = $2`, lastSeq, key)
	if err != nil {
		return 0, fmt.Errorf("failed to advance journal key %s: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit append: %w", err)
	}
	return lastSeq, nil
}

// Replay returns all events for key with seq > fromOffset in order.
func (j *Journal) Replay(ctx context.Context, key string, fromOffset int64) ([]journal.Envelope, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT seq, event_type, payload
		FROM journal_events
		WHERE persistence_id = $1 AND seq > $2
		ORDER BY seq
	`, key, fromOffset)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal events: %w", err)
	}
	defer rows.Close()

	var out []journal.Envelope
	for rows.Next() {
		var (
			seq       int64
			eventType string
			payload   []byte
		)
		if err := rows.Scan(&seq, &eventType, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan journal event: %w", err)
		}
		out = append(out, journal.Envelope{
			Offset: seq,
			Event:  journal.Event{Type: eventType, Data: json.RawMessage(payload)},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal events: %w", err)
	}
	return out, nil
}

// SaveSnapshot upserts the latest snapshot for key.
func (j *Journal) SaveSnapshot(ctx context.Context, key string, snap journal.Snapshot) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO journal_snapshots (persistence_id, seq, state)
		VALUES ($1, $2, $3)
		ON CONFLICT (persistence_id)
		DO UPDATE SET seq = EXCLUDED.seq, state = EXCLUDED.state, created_at = now()
	`, key, snap.Offset, snap.State)
	if err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", key, err)
	}
	return nil
}

// LoadSnapshot returns the latest snapshot for key, if any.
func (j *Journal) LoadSnapshot(ctx context.Context, key string) (journal.Snapshot, bool, error) {
	var (
		seq   int64
		state []byte
	)
	err := j.pool.QueryRow(ctx, `
		SELECT seq, state FROM journal_snapshots WHERE persistence_id = $1
	`, key).Scan(&seq, &state)
	if err == pgx.ErrNoRows {
		return journal.Snapshot{}, false, nil
	}
	if err != nil {
		return journal.Snapshot{}, false, fmt.Errorf("failed to load snapshot for %s: %w", key, err)
	}
	return journal.Snapshot{Offset: seq, State: json.RawMessage(state)}, true, nil
}
