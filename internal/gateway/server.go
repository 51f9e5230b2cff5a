// Package gateway serves the SSE transport of the tool dispatcher.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marcushq/marcus/internal/events"
	"github.com/marcushq/marcus/internal/mcptools"
)

const pingInterval = 30 * time.Second

// Server is the Marcus SSE gateway.
//
// GET /sse opens a session stream whose first event names the message
// endpoint; POST /sse/messages carries JSON-RPC requests and returns the
// response as plain JSON. The SSE channel itself only carries the endpoint
// event and liveness pings.
type Server struct {
	httpServer *http.Server
	registry   *mcptools.Registry
	bus        *events.Bus
	sessions   *sessionStore
	tokens     []string
	version    string
	log        *slog.Logger
}

// NewServer creates a gateway over the shared tool registry. tokens is the
// bearer allow-list; an empty list disables authentication.
func NewServer(registry *mcptools.Registry, bus *events.Bus, host string, port int, tokens []string, version string, log *slog.Logger) *Server {
	s := &Server{
		registry: registry,
		bus:      bus,
		sessions: newSessionStore(),
		tokens:   tokens,
		version:  version,
		log:      log,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/sse", s.handleSSE)
	r.Post("/sse/messages", s.handleMessages)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/events", s.handleEvents)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}
	return s
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.log.Info("marcus gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// authorized checks the bearer token against the allow-list.
func (s *Server) authorized(r *http.Request) bool {
	if len(s.tokens) == 0 {
		return true
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	for _, want := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1 {
			return true
		}
	}
	return false
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess := s.sessions.open()
	defer s.sessions.close(sess.id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// The first event tells the client where to POST its requests.
	fmt.Fprintf(w, "event: endpoint\ndata: /sse/messages?session_id=%s\n\n", sess.id)
	flusher.Flush()

	s.log.Info("sse session opened", "session_id", sess.id)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintf(w, "event: ping\ndata: %s\n\n", time.Now().UTC().Format(time.RFC3339))
			flusher.Flush()
		case <-r.Context().Done():
			s.log.Info("sse session closed", "session_id", sess.id)
			return
		}
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if _, ok := s.sessions.get(sessionID); !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	var req rpcRequest
	resp := &rpcResponse{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp = errorResponse(nil, codeParseError, "parse error")
	} else {
		resp = s.dispatch(r.Context(), &req)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn("write response failed", "session_id", sessionID, "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": s.sessions.count(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}

	history := []events.Event{}
	if s.bus != nil {
		history = s.bus.History(limit)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}
