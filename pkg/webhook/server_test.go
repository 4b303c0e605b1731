package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefit/retain/pkg/agent"
	"github.com/pulsefit/retain/pkg/session"
)

type stubResumer struct {
	sessionID string
	input     agent.ResumeInput
	calls     int
	events    []agent.Event
}

func (r *stubResumer) Resume(ctx context.Context, id string, in agent.ResumeInput) (<-chan agent.Event, error) {
	r.calls++
	r.sessionID = id
	r.input = in
	ch := make(chan agent.Event, len(r.events))
	for _, ev := range r.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

// recordingSink collects broadcast events and signals when the stream is done.
type recordingSink struct {
	mu     sync.Mutex
	events []agent.Event
	done   chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: make(chan struct{})}
}

func (s *recordingSink) Broadcast(ev agent.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if ev.Type == agent.EventDone {
		close(s.done)
	}
}

func waitingSession(t *testing.T, store session.Store, token, memberID string) *session.Session {
	t.Helper()
	sess := &session.Session{
		ID:        "sess-" + token,
		AccountID: "acct-1",
		Status:    session.StatusWaitingEvent,
		Wait: &session.WaitMarker{
			Token:    token,
			CallID:   "call-1",
			MemberID: memberID,
			SetAt:    time.Now().UTC(),
		},
	}
	require.NoError(t, store.Create(context.Background(), sess))
	return sess
}

func newTestServer(t *testing.T, opts Options) (*Server, *session.MemoryStore, *stubResumer) {
	t.Helper()
	store := session.NewMemoryStore()
	resumer := &stubResumer{}
	srv, err := NewServer(opts, store, resumer, nil, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { srv.limiter.Stop() })
	return srv, store, resumer
}

func postReply(t *testing.T, handler http.Handler, payload ReplyPayload, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/replies", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("should reject missing collaborators", func(t *testing.T) {
		_, err := NewServer(Options{}, nil, &stubResumer{}, nil, zerolog.Nop())
		assert.Error(t, err)
		_, err = NewServer(Options{}, session.NewMemoryStore(), nil, nil, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("should apply defaults", func(t *testing.T) {
		srv, _, _ := newTestServer(t, Options{})
		assert.Equal(t, 8788, srv.opts.Port)
		assert.Equal(t, "X-Retain-Signature", srv.opts.SignatureHeader)
	})
}

func TestReplyResumesWaitingSession(t *testing.T) {
	srv, store, resumer := newTestServer(t, Options{})
	sess := waitingSession(t, store, "tok-1", "m-1")

	rec := postReply(t, srv.Handler(), ReplyPayload{
		Token:    "tok-1",
		MemberID: "m-1",
		Channel:  "email",
		Body:     "Saturday mornings would work",
	}, nil)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, 1, resumer.calls)
	assert.Equal(t, sess.ID, resumer.sessionID)
	assert.Equal(t, "tok-1", resumer.input.ReplyToken)
	assert.Equal(t, "Saturday mornings would work", resumer.input.Reply)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, sess.ID, resp["session_id"])
}

func TestReplyEventsReachSink(t *testing.T) {
	// Events the resumed session emits are forwarded to the configured sink
	// so connected dashboards see the post-reply turns.
	store := session.NewMemoryStore()
	resumer := &stubResumer{events: []agent.Event{
		{Type: agent.EventMessage, SessionID: "sess-tok-1", Text: "Great, booking it"},
		{Type: agent.EventDone, SessionID: "sess-tok-1", Summary: "Member re-engaged"},
	}}
	sink := newRecordingSink()
	srv, err := NewServer(Options{}, store, resumer, sink, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { srv.limiter.Stop() })

	sess := waitingSession(t, store, "tok-1", "m-1")

	rec := postReply(t, srv.Handler(), ReplyPayload{Token: "tok-1", Body: "yes please"}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	select {
	case <-sink.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for forwarded events")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 2)
	assert.Equal(t, agent.EventMessage, sink.events[0].Type)
	assert.Equal(t, sess.ID, sink.events[0].SessionID)
	assert.Equal(t, agent.EventDone, sink.events[1].Type)
}

func TestReplyUnknownToken(t *testing.T) {
	srv, store, resumer := newTestServer(t, Options{})
	waitingSession(t, store, "tok-1", "m-1")

	rec := postReply(t, srv.Handler(), ReplyPayload{Token: "tok-other", Body: "hello"}, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, resumer.calls)
}

func TestReplyMemberMismatch(t *testing.T) {
	srv, store, resumer := newTestServer(t, Options{})
	waitingSession(t, store, "tok-1", "m-1")

	rec := postReply(t, srv.Handler(), ReplyPayload{Token: "tok-1", MemberID: "m-2", Body: "hello"}, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, resumer.calls)
}

func TestReplyValidation(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})

	t.Run("should require token and body", func(t *testing.T) {
		rec := postReply(t, srv.Handler(), ReplyPayload{Token: "tok-1"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = postReply(t, srv.Handler(), ReplyPayload{Body: "hello"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("should reject non-POST methods", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/replies", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("should reject malformed JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/replies", bytes.NewReader([]byte("{nope")))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSignatureVerification(t *testing.T) {
	srv, store, resumer := newTestServer(t, Options{Secret: "hush"})
	waitingSession(t, store, "tok-1", "m-1")

	payload := ReplyPayload{Token: "tok-1", Body: "sounds good"}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	t.Run("should reject a missing signature", func(t *testing.T) {
		rec := postReply(t, srv.Handler(), payload, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Zero(t, resumer.calls)
	})

	t.Run("should reject a wrong signature", func(t *testing.T) {
		rec := postReply(t, srv.Handler(), payload, map[string]string{
			"X-Retain-Signature": "sha256=deadbeef",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("should accept a valid signature", func(t *testing.T) {
		rec := postReply(t, srv.Handler(), payload, map[string]string{
			"X-Retain-Signature": computeSignature(body, "hush"),
		})
		assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		assert.Equal(t, 1, resumer.calls)
	})
}

func TestRateLimit(t *testing.T) {
	srv, store, _ := newTestServer(t, Options{RateLimitPerMinute: 2})
	waitingSession(t, store, "tok-1", "m-1")

	handler := srv.Handler()
	payload := ReplyPayload{Token: "tok-other", Body: "x"}

	for i := 0; i < 2; i++ {
		rec := postReply(t, handler, payload, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	rec := postReply(t, handler, payload, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}
