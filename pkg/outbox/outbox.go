// Package outbox queues outbound member messages and staff tasks in sqlite
// for the external delivery processor to drain. It backs the messaging and
// task tools and delivers reply reminders.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pulsefit/retain/pkg/coretools"
	"github.com/pulsefit/retain/pkg/session"
	"github.com/rs/zerolog"
)

// Outbox stores queued deliveries.
type Outbox struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New opens the outbox at dbPath.
func New(dbPath string, logger zerolog.Logger) (*Outbox, error) {
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
		CREATE TABLE IF NOT EXISTS outbound_messages (
			id TEXT PRIMARY KEY,
			member_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			subject TEXT,
			body TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'message',
			session_id TEXT,
			queued_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_outbound_queued ON outbound_messages(queued_at);

		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			member_id TEXT,
			title TEXT NOT NULL,
			notes TEXT,
			priority TEXT NOT NULL DEFAULT 'normal',
			queued_at INTEGER NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Outbox{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (o *Outbox) Close() error {
	return o.db.Close()
}

// Send queues one outbound member message and returns its id.
func (o *Outbox) Send(ctx context.Context, msg coretools.Message) (string, error) {
	return o.enqueue(ctx, msg, "message", "")
}

// CreateTask queues one staff follow-up task and returns its id.
func (o *Outbox) CreateTask(ctx context.Context, task coretools.Task) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate task id: %w", err)
	}
	priority := task.Priority
	if priority == "" {
		priority = "normal"
	}

	_, err = o.db.ExecContext(ctx, `
		INSERT INTO tasks (id, member_id, title, notes, priority, queued_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, task.MemberID, task.Title, task.Notes, priority, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("failed to queue task: %w", err)
	}

	o.logger.Info().Str("task_id", id).Str("title", task.Title).Msg("Task queued")
	return id, nil
}

// Nudge queues a reminder about the unanswered question a session is
// suspended on.
func (o *Outbox) Nudge(ctx context.Context, sess *session.Session, attempt int) error {
	memberID := ""
	if sess.Wait != nil {
		memberID = sess.Wait.MemberID
	}

	body := "Just checking in, we had asked:"
	if sess.Wait != nil && sess.Wait.Summary != "" {
		body = fmt.Sprintf("Just checking in, we had asked: %s", sess.Wait.Summary)
	}

	_, err := o.enqueue(ctx, coretools.Message{
		MemberID: memberID,
		Channel:  "email",
		Subject:  "We'd still love to hear from you",
		Body:     body,
	}, fmt.Sprintf("nudge_%d", attempt), sess.ID)
	return err
}

func (o *Outbox) enqueue(ctx context.Context, msg coretools.Message, kind, sessionID string) (string, error) {
	if msg.Body == "" {
		return "", errors.New("message body is required")
	}
	channel := msg.Channel
	if channel == "" {
		channel = "email"
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate message id: %w", err)
	}

	_, err = o.db.ExecContext(ctx, `
		INSERT INTO outbound_messages (id, member_id, channel, subject, body, kind, session_id, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, msg.MemberID, channel, msg.Subject, msg.Body, kind, sessionID, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("failed to queue message: %w", err)
	}

	o.logger.Info().
		Str("message_id", id).
		Str("member_id", msg.MemberID).
		Str("channel", channel).
		Str("kind", kind).
		Msg("Message queued")
	return id, nil
}

// Pending returns the number of queued outbound messages.
func (o *Outbox) Pending(ctx context.Context) (int, error) {
	var n int
	err := o.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbound_messages`).Scan(&n)
	return n, err
}
