package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Server exposes the session event stream over websocket.
type Server struct {
	addr        string
	token       string
	clients     *ClientRegistry
	broadcaster *Broadcaster
	logger      zerolog.Logger
	upgrader    websocket.Upgrader
	httpServer  *http.Server
}

// ServerConfig holds gateway server configuration.
type ServerConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:8787".
	Addr string
	// Token authenticates clients; empty disables the gateway.
	Token  string
	Logger zerolog.Logger
}

// NewServer builds a gateway server and its broadcaster.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Addr == "" {
		return nil, errors.New("listen address is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("auth token is required")
	}

	clients := NewClientRegistry()
	return &Server{
		addr:        cfg.Addr,
		token:       cfg.Token,
		clients:     clients,
		broadcaster: NewBroadcaster(clients, cfg.Logger),
		logger:      cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The gateway binds locally and authenticates by token.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Broadcaster returns the fan-out attached to this server.
func (s *Server) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// Handler returns the websocket endpoint handler, exposed separately for
// tests and for mounting under an existing mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start begins serving. It blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", s.addr).Msg("Gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// Shutdown stops the listener and closes all client connections.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, client := range s.clients.GetAll() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &Client{
		ID:          uuid.NewString(),
		Conn:        conn,
		ConnectedAt: time.Now(),
		IPAddress:   r.RemoteAddr,
	}
	s.clients.Add(client)
	s.logger.Info().Str("client_id", client.ID).Str("ip", client.IPAddress).Msg("Client connected")

	go s.readLoop(client)
}

// readLoop drains inbound frames so pings and close handshakes are processed,
// and unregisters the client when the connection drops.
func (s *Server) readLoop(client *Client) {
	defer func() {
		s.clients.Remove(client.ID)
		client.Conn.Close()
		s.logger.Info().Str("client_id", client.ID).Msg("Client disconnected")
	}()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ") == s.token
	}
	return r.URL.Query().Get("token") == s.token
}
