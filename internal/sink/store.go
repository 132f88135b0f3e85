// Package sink implements the receiving side of the telemetry wire protocol
// for local development: an HTTP endpoint accepting event batches and a
// SQLite store persisting them per session.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ReceivedEvent is one stored telemetry event row.
type ReceivedEvent struct {
	ID         int64     `db:"id"`
	SessionID  string    `db:"session_id"`
	EventID    string    `db:"event_id"`
	CreatedAt  int64     `db:"created_at"`
	Payload    string    `db:"payload"`
	ReceivedAt time.Time `db:"received_at"`
}

// Store persists received event batches in SQLite.
type Store struct {
	db *sqlx.DB
}

// OpenStore opens (creating if needed) the event store at path.
// ":memory:" gives an ephemeral store for tests.
func OpenStore(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	statements := []string{
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			payload TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// InsertBatch stores one delivered batch atomically, in payload order.
func (s *Store) InsertBatch(ctx context.Context, batch []ReceivedEvent) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for i := range batch {
		batch[i].ReceivedAt = now
		_, err := tx.NamedExecContext(ctx,
			`INSERT INTO events (session_id, event_id, created_at, payload, received_at)
			 VALUES (:session_id, :event_id, :created_at, :payload, :received_at)`,
			batch[i])
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	return tx.Commit()
}

// SessionEvents returns all stored events for one session in insertion order.
func (s *Store) SessionEvents(ctx context.Context, sessionID string) ([]ReceivedEvent, error) {
	var out []ReceivedEvent
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, session_id, event_id, created_at, payload, received_at
		 FROM events WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	return out, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
