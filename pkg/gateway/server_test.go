package gateway

import (
	"context"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pulsefit/retain/pkg/agent"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	srv, err := NewServer(ServerConfig{
		Addr:   "127.0.0.1:0",
		Token:  "secret",
		Logger: zerolog.New(os.Stdout).Level(zerolog.Disabled),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server, token string) (*websocket.Conn, int) {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		require.NotNil(t, resp)
		return nil, resp.StatusCode
	}
	t.Cleanup(func() { conn.Close() })
	return conn, resp.StatusCode
}

func TestAuth(t *testing.T) {
	_, ts := newTestServer(t)

	t.Run("should reject a bad token", func(t *testing.T) {
		conn, status := dial(t, ts, "wrong")
		assert.Nil(t, conn)
		assert.Equal(t, 401, status)
	})

	t.Run("should accept the configured token", func(t *testing.T) {
		conn, _ := dial(t, ts, "secret")
		assert.NotNil(t, conn)
	})
}

func TestBroadcast(t *testing.T) {
	srv, ts := newTestServer(t)

	conn, _ := dial(t, ts, "secret")
	require.NotNil(t, conn)

	// Registration happens in the HTTP handler; wait for it to land.
	require.Eventually(t, func() bool { return srv.clients.Count() == 1 }, time.Second, 10*time.Millisecond)

	srv.Broadcaster().Broadcast(agent.Event{
		Type:      agent.EventMessage,
		SessionID: "sess-1",
		Text:      "hello",
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg EventMessage
	require.NoError(t, conn.ReadJSON(&msg))

	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, string(agent.EventMessage), msg.Event)
	assert.Equal(t, "sess-1", msg.SessionID)
	assert.Equal(t, int64(1), msg.Seq)
}

func TestPumpForwardsUntilClose(t *testing.T) {
	srv, ts := newTestServer(t)

	conn, _ := dial(t, ts, "secret")
	require.NotNil(t, conn)
	require.Eventually(t, func() bool { return srv.clients.Count() == 1 }, time.Second, 10*time.Millisecond)

	events := make(chan agent.Event, 2)
	events <- agent.Event{Type: agent.EventSessionCreated, SessionID: "sess-1"}
	events <- agent.Event{Type: agent.EventDone, SessionID: "sess-1", Summary: "done"}
	close(events)

	done := make(chan struct{})
	go func() {
		srv.Broadcaster().Pump(context.Background(), events)
		close(done)
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var first, second EventMessage
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))

	assert.Equal(t, string(agent.EventSessionCreated), first.Event)
	assert.Equal(t, string(agent.EventDone), second.Event)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not exit after stream close")
	}
}
