package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), zerolog.New(os.Stdout).Level(zerolog.Disabled))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleSession(id string) *Session {
	s := &Session{
		ID:          id,
		AccountID:   "acct-1",
		Goal:        "win back lapsed members",
		CreatedBy:   "owner-1",
		Status:      StatusActive,
		Mode:        ModeSemiAuto,
		MaxTurns:    20,
		Model:       "claude-sonnet-4-20250514",
		BudgetCents: 500,
	}
	s.AppendMessage("user", ContentBlock{Type: BlockText, Text: s.Goal})
	return s
}

func TestSQLiteStoreCRUD(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	t.Run("should round-trip a session", func(t *testing.T) {
		sess := sampleSession("sess-1")
		require.NoError(t, store.Create(ctx, sess))
		assert.Equal(t, int64(1), sess.Version)

		loaded, err := store.Load(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, sess.Goal, loaded.Goal)
		assert.Equal(t, sess.Mode, loaded.Mode)
		require.Len(t, loaded.Messages, 1)
		assert.Equal(t, BlockText, loaded.Messages[0].Blocks[0].Type)
	})

	t.Run("should preserve suspension state", func(t *testing.T) {
		sess := sampleSession("sess-2")
		require.NoError(t, store.Create(ctx, sess))

		sess.Status = StatusWaitingApproval
		sess.PendingApprovals = []PendingApproval{{
			CallID:   "call-1",
			ToolName: "send_member_message",
			Input:    map[string]interface{}{"member_id": "m-1"},
		}}
		sess.CachedResults = []ToolResultRecord{{CallID: "call-0", Content: "ok"}}
		require.NoError(t, store.Update(ctx, sess))

		loaded, err := store.Load(ctx, "sess-2")
		require.NoError(t, err)
		assert.Equal(t, StatusWaitingApproval, loaded.Status)
		require.Len(t, loaded.PendingApprovals, 1)
		assert.Equal(t, "m-1", loaded.PendingApprovals[0].Input["member_id"])
		require.Len(t, loaded.CachedResults, 1)
	})

	t.Run("should report missing sessions", func(t *testing.T) {
		_, err := store.Load(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("should reject duplicate creation", func(t *testing.T) {
		sess := sampleSession("sess-dup")
		require.NoError(t, store.Create(ctx, sess))
		assert.Error(t, store.Create(ctx, sampleSession("sess-dup")))
	})
}

func TestSQLiteStoreVersioning(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	sess := sampleSession("sess-v")
	require.NoError(t, store.Create(ctx, sess))

	first, err := store.Load(ctx, "sess-v")
	require.NoError(t, err)
	second, err := store.Load(ctx, "sess-v")
	require.NoError(t, err)

	first.TurnCount = 1
	require.NoError(t, store.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	// The stale copy must fail loudly instead of clobbering.
	second.TurnCount = 99
	assert.ErrorIs(t, store.Update(ctx, second), ErrVersionConflict)

	loaded, err := store.Load(ctx, "sess-v")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.TurnCount)

	t.Run("should distinguish a vanished session", func(t *testing.T) {
		ghost := sampleSession("sess-ghost")
		ghost.Version = 1
		assert.ErrorIs(t, store.Update(ctx, ghost), ErrNotFound)
	})
}

func TestSQLiteStoreListByStatus(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	a := sampleSession("sess-a")
	require.NoError(t, store.Create(ctx, a))

	b := sampleSession("sess-b")
	b.Status = StatusWaitingEvent
	require.NoError(t, store.Create(ctx, b))

	waiting, err := store.ListByStatus(ctx, StatusWaitingEvent)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "sess-b", waiting[0].ID)

	none, err := store.ListByStatus(ctx, StatusFailed)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLastAssistantToolUses(t *testing.T) {
	sess := sampleSession("sess-m")
	sess.AppendMessage("assistant",
		ContentBlock{Type: BlockText, Text: "working on it"},
		ContentBlock{Type: BlockToolUse, ID: "call-1", Name: "a"},
		ContentBlock{Type: BlockToolUse, ID: "call-2", Name: "b"},
	)
	sess.AppendMessage("user", ContentBlock{Type: BlockToolResult, ToolUseID: "call-1"})

	uses := sess.LastAssistantToolUses()
	require.Len(t, uses, 2)
	assert.Equal(t, "call-1", uses[0].ID)
	assert.Equal(t, "call-2", uses[1].ID)
}
