package nudge

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/pulsefit/retain/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	sent []string
	err  error
}

func (n *recordingNotifier) Nudge(ctx context.Context, sess *session.Session, attempt int) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sess.ID)
	return nil
}

func waitingSession(t *testing.T, store session.Store, id string, nextDue time.Time, sent, max int) {
	t.Helper()
	sess := &session.Session{
		ID:        id,
		AccountID: "acct-1",
		Goal:      "win back lapsed members",
		Status:    session.StatusWaitingEvent,
		Mode:      session.ModeFullAuto,
		Wait: &session.WaitMarker{
			Token:   "tok-" + id,
			CallID:  "call-1",
			SetAt:   nextDue.Add(-24 * time.Hour),
			Summary: "Would mornings work?",
		},
		Nudges: &session.NudgePlan{
			Sent:       sent,
			Max:        max,
			NextDueAt:  nextDue,
			BackoffSeq: []time.Duration{24 * time.Hour, 72 * time.Hour, 168 * time.Hour},
		},
	}
	require.NoError(t, store.Create(context.Background(), sess))
}

func newTestDispatcher(t *testing.T, store session.Store, notifier Notifier, now time.Time) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(Config{
		Store:    store,
		Notifier: notifier,
		Logger:   zerolog.New(os.Stdout).Level(zerolog.Disabled),
		Clock:    func() time.Time { return now },
	})
	require.NoError(t, err)
	return d
}

func TestScan(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	t.Run("should send due reminders and advance the backoff", func(t *testing.T) {
		store := session.NewMemoryStore()
		notifier := &recordingNotifier{}
		waitingSession(t, store, "due", now.Add(-time.Minute), 0, 3)
		waitingSession(t, store, "not-due", now.Add(time.Hour), 0, 3)

		d := newTestDispatcher(t, store, notifier, now)
		require.NoError(t, d.Scan(context.Background()))

		assert.Equal(t, []string{"due"}, notifier.sent)

		sess, err := store.Load(context.Background(), "due")
		require.NoError(t, err)
		assert.Equal(t, 1, sess.Nudges.Sent)
		assert.Equal(t, now.Add(72*time.Hour), sess.Nudges.NextDueAt)
	})

	t.Run("should stop after the reminder budget is spent", func(t *testing.T) {
		store := session.NewMemoryStore()
		notifier := &recordingNotifier{}
		waitingSession(t, store, "spent", now.Add(-time.Minute), 3, 3)

		d := newTestDispatcher(t, store, notifier, now)
		require.NoError(t, d.Scan(context.Background()))

		assert.Empty(t, notifier.sent)
	})

	t.Run("should clear the due time on the final reminder", func(t *testing.T) {
		store := session.NewMemoryStore()
		notifier := &recordingNotifier{}
		waitingSession(t, store, "last", now.Add(-time.Minute), 2, 3)

		d := newTestDispatcher(t, store, notifier, now)
		require.NoError(t, d.Scan(context.Background()))

		sess, err := store.Load(context.Background(), "last")
		require.NoError(t, err)
		assert.Equal(t, 3, sess.Nudges.Sent)
		assert.True(t, sess.Nudges.NextDueAt.IsZero())
	})

	t.Run("should not advance state when delivery fails", func(t *testing.T) {
		store := session.NewMemoryStore()
		notifier := &recordingNotifier{err: errors.New("smtp down")}
		waitingSession(t, store, "failing", now.Add(-time.Minute), 0, 3)

		d := newTestDispatcher(t, store, notifier, now)
		require.NoError(t, d.Scan(context.Background()))

		sess, err := store.Load(context.Background(), "failing")
		require.NoError(t, err)
		assert.Equal(t, 0, sess.Nudges.Sent)
	})
}

func TestNewDispatcher(t *testing.T) {
	_, err := NewDispatcher(Config{Notifier: &recordingNotifier{}})
	assert.Error(t, err)

	_, err = NewDispatcher(Config{Store: session.NewMemoryStore()})
	assert.Error(t, err)
}
