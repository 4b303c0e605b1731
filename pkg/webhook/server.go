package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsefit/retain/pkg/agent"
	"github.com/pulsefit/retain/pkg/session"
)

// Server receives member replies from messaging providers and resumes the
// sessions waiting on them. A reply is matched to its session through the
// correlation token the outbound message carried.
type Server struct {
	opts    Options
	store   session.Store
	resumer Resumer
	sink    EventSink
	limiter *rateLimiter
	logger  zerolog.Logger

	server   *http.Server
	inFlight sync.WaitGroup

	mu       sync.RWMutex
	draining bool
}

// NewServer wires a reply server. The resumer is typically the agent engine;
// sink, when non-nil, receives every event a resumed session emits.
func NewServer(opts Options, store session.Store, resumer Resumer, sink EventSink, logger zerolog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if resumer == nil {
		return nil, fmt.Errorf("resumer is required")
	}
	if opts.Host == "" {
		opts.Host = "0.0.0.0"
	}
	if opts.Port == 0 {
		opts.Port = 8788
	}
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = "X-Retain-Signature"
	}
	if opts.RateLimitPerMinute == 0 {
		opts.RateLimitPerMinute = 60
	}

	return &Server{
		opts:    opts,
		store:   store,
		resumer: resumer,
		sink:    sink,
		limiter: newRateLimiter(opts.RateLimitPerMinute),
		logger:  logger.With().Str("component", "webhook").Logger(),
	}, nil
}

// Handler returns the HTTP handler, exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/replies", s.handleReply)
	return mux
}

// Start blocks serving until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port),
		Handler: s.Handler(),
	}

	s.logger.Info().
		Str("host", s.opts.Host).
		Int("port", s.opts.Port).
		Msg("Starting reply webhook server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("reply server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown deadline reached with requests in flight")
	}

	s.limiter.Stop()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	if s.draining {
		s.mu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.mu.RUnlock()

	s.inFlight.Add(1)
	defer s.inFlight.Done()

	ip := clientIP(r)
	if !s.limiter.Allow(ip) {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", s.limiter.RetryAfter(ip)))
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if s.opts.Secret != "" {
		signature := r.Header.Get(s.opts.SignatureHeader)
		if signature == "" || !verifySignature(rawBody, signature, s.opts.Secret) {
			s.logger.Warn().Str("ip", ip).Msg("Rejected reply with bad signature")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var payload ReplyPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if payload.Token == "" || payload.Body == "" {
		http.Error(w, "token and body are required", http.StatusBadRequest)
		return
	}

	sess, err := s.findWaitingSession(r.Context(), payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to look up waiting sessions")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if sess == nil {
		s.logger.Debug().Str("token", payload.Token).Msg("No session waiting on reply token")
		http.Error(w, "no session is waiting on this token", http.StatusNotFound)
		return
	}

	events, err := s.resumer.Resume(context.WithoutCancel(r.Context()), sess.ID, agent.ResumeInput{
		Reply:      payload.Body,
		ReplyToken: payload.Token,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("Failed to resume session")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// The loop runs past the response; drain so the engine never blocks.
	go s.drainEvents(sess.ID, events)

	s.logger.Info().
		Str("session_id", sess.ID).
		Str("ip", ip).
		Str("channel", payload.Channel).
		Msg("Member reply accepted")

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"session_id": sess.ID,
		"status":     "resuming",
	})
}

// findWaitingSession matches the reply token against suspended sessions. A
// member id in the payload must agree with the wait marker when both are set.
func (s *Server) findWaitingSession(ctx context.Context, payload ReplyPayload) (*session.Session, error) {
	waiting, err := s.store.ListByStatus(ctx, session.StatusWaitingEvent)
	if err != nil {
		return nil, err
	}
	for _, sess := range waiting {
		if sess.Wait == nil || sess.Wait.Token != payload.Token {
			continue
		}
		if payload.MemberID != "" && sess.Wait.MemberID != "" && payload.MemberID != sess.Wait.MemberID {
			continue
		}
		return sess, nil
	}
	return nil, nil
}

func (s *Server) drainEvents(sessionID string, events <-chan agent.Event) {
	for ev := range events {
		if s.sink != nil {
			s.sink.Broadcast(ev)
		}
		if ev.Type == agent.EventError {
			s.logger.Warn().
				Str("session_id", sessionID).
				Str("message", ev.Message).
				Msg("Resume reported an error")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
