// Package convlog provides a durable conversation transcript with
// bounded retention. Records are append-only; a background prune keeps
// the database from growing past the retention window.
package convlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Record is one completed conversation turn.
type Record struct {
	ID        string
	Timestamp time.Time
	SessionID string
	Turn      int
	UserText  string
	Reply     string
	Done      bool
}

// Store is an append-only SQLite transcript store. All public methods
// are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db        *sql.DB
	retention time.Duration
	logger    *slog.Logger
}

// Open creates a store at the given database path. The schema is
// created automatically on first use.
func Open(path string, retention time.Duration, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open conversation log: %w", err)
	}
	return NewStore(db, retention, logger)
}

// NewStore wraps an existing database handle. Tests pass an in-memory
// database here.
func NewStore(db *sql.DB, retention time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, retention: retention, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate conversation log schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversation_log (
		id         TEXT PRIMARY KEY,
		timestamp  TEXT NOT NULL,
		session_id TEXT NOT NULL,
		turn       INTEGER NOT NULL,
		user_text  TEXT NOT NULL,
		reply      TEXT NOT NULL,
		done       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_convlog_timestamp ON conversation_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_convlog_session ON conversation_log(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append persists one turn. If rec.ID is empty, a UUIDv7 is generated.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_log
			(id, timestamp, session_id, turn, user_text, reply, done)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.SessionID, rec.Turn, rec.UserText, rec.Reply, rec.Done,
	)
	if err != nil {
		return fmt.Errorf("append conversation record: %w", err)
	}
	return nil
}

// Recent returns up to limit records for a session, newest first.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, session_id, turn, user_text, reply, done
		 FROM conversation_log
		 WHERE session_id = ?
		 ORDER BY timestamp DESC
		 LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversation log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var ts string
		if err := rows.Scan(&rec.ID, &ts, &rec.SessionID, &rec.Turn,
			&rec.UserText, &rec.Reply, &rec.Done); err != nil {
			return nil, fmt.Errorf("scan conversation record: %w", err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes records older than the retention window and returns
// how many were removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.retention).UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune conversation log: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Debug("pruned conversation log", "removed", n)
	}
	return n, nil
}

// Run prunes hourly until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Prune(ctx); err != nil {
				s.logger.Error("conversation log prune failed", "error", err)
			}
		}
	}
}
