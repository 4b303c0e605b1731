package session

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a session id has no persisted record.
var ErrNotFound = errors.New("session not found")

// ErrVersionConflict is returned when an update races with another writer.
// Persistence is a full-record overwrite, so concurrent resumes of the same
// session id must fail loudly instead of silently losing state.
var ErrVersionConflict = errors.New("session version conflict")

// Store persists sessions. Create assigns the initial version; Update
// performs an optimistic version check and bumps the version on success.
type Store interface {
	Create(ctx context.Context, sess *Session) error
	Update(ctx context.Context, sess *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	ListByStatus(ctx context.Context, status Status) ([]*Session, error)
}
