// Package memory persists durable per-account notes and condenses them into
// the digest layer of the session system prompt.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Note is one remembered fact about an account.
type Note struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Category  string    `json:"category"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps account notes in sqlite.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger

	// maxDigestNotes caps how many notes one digest includes, newest first.
	maxDigestNotes int
}

// NewStore opens the note store at dbPath.
func NewStore(dbPath string, logger zerolog.Logger) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'general',
			text TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notes_account ON notes(account_id, created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, logger: logger, maxDigestNotes: 20}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Remember stores one note for an account.
func (s *Store) Remember(ctx context.Context, accountID, category, text string) (*Note, error) {
	if accountID == "" {
		return nil, errors.New("account id is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("note text is required")
	}
	if category == "" {
		category = "general"
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate note id: %w", err)
	}

	note := &Note{
		ID:        id,
		AccountID: accountID,
		Category:  category,
		Text:      strings.TrimSpace(text),
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notes (id, account_id, category, text, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, note.ID, note.AccountID, note.Category, note.Text, note.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to insert note: %w", err)
	}

	s.logger.Debug().Str("account_id", accountID).Str("category", category).Msg("Note remembered")
	return note, nil
}

// Forget removes a note by id.
func (s *Store) Forget(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("note not found: %s", id)
	}
	return nil
}

// List returns an account's notes, newest first.
func (s *Store) List(ctx context.Context, accountID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, category, text, created_at
		FROM notes
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		var created int64
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Category, &n.Text, &created); err != nil {
			return nil, err
		}
		n.CreatedAt = time.Unix(created, 0).UTC()
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// Digest condenses an account's notes into one prompt-ready block, grouped by
// category with the newest notes first. It implements the prompt assembler's
// memory source; an account without notes yields an empty digest.
func (s *Store) Digest(ctx context.Context, accountID string) (string, error) {
	notes, err := s.List(ctx, accountID)
	if err != nil {
		return "", err
	}
	if len(notes) == 0 {
		return "", nil
	}
	if len(notes) > s.maxDigestNotes {
		notes = notes[:s.maxDigestNotes]
	}

	grouped := make(map[string][]Note)
	var order []string
	for _, n := range notes {
		if _, ok := grouped[n.Category]; !ok {
			order = append(order, n.Category)
		}
		grouped[n.Category] = append(grouped[n.Category], n)
	}

	var b strings.Builder
	for i, category := range order {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s:\n", category)
		for _, n := range grouped[category] {
			fmt.Fprintf(&b, "- %s\n", n.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}
