package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and single-shot runs. It
// applies the same version discipline as the SQLite store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]byte
	versions map[string]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]byte),
		versions: make(map[string]int64),
	}
}

func (m *MemoryStore) put(sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	m.sessions[sess.ID] = data
	m.versions[sess.ID] = sess.Version
	return nil
}

// Create inserts a session at version 1.
func (m *MemoryStore) Create(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	sess.Version = 1
	sess.CreatedAt = now
	sess.UpdatedAt = now
	return m.put(sess)
}

// Update overwrites the record after an optimistic version check.
func (m *MemoryStore) Update(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.versions[sess.ID]
	if !ok {
		return ErrNotFound
	}
	if current != sess.Version {
		return ErrVersionConflict
	}
	sess.Version++
	sess.UpdatedAt = time.Now().UTC()
	if err := m.put(sess); err != nil {
		sess.Version--
		return err
	}
	return nil
}

// Load returns a deep copy of the stored session.
func (m *MemoryStore) Load(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListByStatus returns copies of all sessions in the given status.
func (m *MemoryStore) ListByStatus(ctx context.Context, status Status) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Session
	for _, data := range m.sessions {
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, err
		}
		if sess.Status == status {
			out = append(out, &sess)
		}
	}
	return out, nil
}
