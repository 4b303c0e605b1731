package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteStore persists sessions as JSON documents in a single table with an
// optimistic version column.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the session database at path.
func NewSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency across processes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			status     TEXT NOT NULL,
			version    INTEGER NOT NULL,
			data       TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
		CREATE INDEX IF NOT EXISTS idx_sessions_account ON sessions(account_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("Session store initialized")

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create inserts a new session record at version 1.
func (s *SQLiteStore) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		return fmt.Errorf("session id is required")
	}

	now := time.Now().UTC()
	sess.Version = 1
	sess.CreatedAt = now
	sess.UpdatedAt = now

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, account_id, status, version, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.AccountID, string(sess.Status), sess.Version, string(data), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	s.logger.Debug().Str("session_id", sess.ID).Msg("Session created")
	return nil
}

// Update overwrites the full record, failing with ErrVersionConflict when
// the persisted version no longer matches the caller's copy.
func (s *SQLiteStore) Update(ctx context.Context, sess *Session) error {
	prev := sess.Version
	sess.Version = prev + 1
	sess.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(sess)
	if err != nil {
		sess.Version = prev
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, version = ?, data = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(sess.Status), sess.Version, string(data), sess.UpdatedAt, sess.ID, prev,
	)
	if err != nil {
		sess.Version = prev
		return fmt.Errorf("failed to update session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		sess.Version = prev
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		sess.Version = prev
		// Distinguish a missing row from a stale version.
		var exists int
		row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions WHERE id = ?`, sess.ID)
		if scanErr := row.Scan(&exists); scanErr == nil && exists == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	return nil
}

// Load fetches one session by id.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return &sess, nil
}

// ListByStatus returns every session currently in the given status. Used by
// the nudge dispatcher to find dormant waiting_event sessions.
func (s *SQLiteStore) ListByStatus(ctx context.Context, status Status) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM sessions WHERE status = ?`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		var sess Session
		if err := json.Unmarshal([]byte(data), &sess); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}
