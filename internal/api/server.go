// Package api implements the assistant's HTTP API: the chat endpoint,
// trigger administration, the audit view, and a WebSocket event feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MahfuzulAlam/smart-assistant/internal/buildinfo"
	"github.com/MahfuzulAlam/smart-assistant/internal/chat"
	"github.com/MahfuzulAlam/smart-assistant/internal/events"
	"github.com/MahfuzulAlam/smart-assistant/internal/trigger"
)

// Chatter is the slice of the chat service the server needs.
type Chatter interface {
	Handle(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	listen   string
	chatter  Chatter
	registry *trigger.Registry
	settings *trigger.SettingsStore
	audit    *trigger.AuditLog
	bus      *events.Bus
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates an API server. listen is a host:port string.
func NewServer(listen string, chatter Chatter, registry *trigger.Registry,
	settings *trigger.SettingsStore, audit *trigger.AuditLog, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		listen:   listen,
		chatter:  chatter,
		registry: registry,
		settings: settings,
		audit:    audit,
		bus:      bus,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler builds the route table. Exposed separately so tests can drive
// it through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/triggers", s.handleTriggerList)
	mux.HandleFunc("PUT /api/triggers/{id}/settings", s.handleTriggerSettings)
	mux.HandleFunc("GET /api/audit", s.handleAudit)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second, // model calls are slow
	}

	s.logger.Info("starting API server", "listen", s.listen)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": message}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.errorResponse(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "smart-assistant",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

// chatRequest is the POST /api/chat body. UserID is supplied by the
// site front end, which authenticates the visitor before proxying here.
type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	UserID    int64  `json:"userId,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" || req.SessionID == "" {
		s.errorResponse(w, http.StatusBadRequest, "message and sessionId are required")
		return
	}

	resp, err := s.chatter.Handle(r.Context(), chat.Request{
		Message:   req.Message,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if errors.Is(err, chat.ErrRateLimited) {
		s.errorResponse(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	if err != nil {
		s.logger.Error("chat request failed", "session_id", req.SessionID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "chat error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// triggerInfo is one row of GET /api/triggers.
type triggerInfo struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Params      []string                `json:"params"`
	Schema      []trigger.SettingsField `json:"schema"`
	Settings    map[string]any          `json:"settings"`
}

func (s *Server) handleTriggerList(w http.ResponseWriter, r *http.Request) {
	handlers := s.registry.All()
	out := make([]triggerInfo, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, triggerInfo{
			ID:          h.ID(),
			Name:        h.Name(),
			Description: h.Description(),
			Params:      h.RequiredParams(),
			Schema:      h.SettingsSchema(),
			Settings:    s.settings.Get(r.Context(), h),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, out, s.logger)
}

func (s *Server) handleTriggerSettings(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h, ok := s.registry.Get(id)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, fmt.Sprintf("unknown trigger %q", id))
		return
	}

	var settings map[string]any
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Only schema-declared fields are stored.
	allowed := make(map[string]bool, len(h.SettingsSchema()))
	for _, f := range h.SettingsSchema() {
		allowed[f.Name] = true
	}
	for name := range settings {
		if !allowed[name] {
			s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("unknown setting %q", name))
			return
		}
	}

	if err := s.settings.Set(r.Context(), id, settings); err != nil {
		s.logger.Error("settings update failed", "trigger_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "settings update failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.settings.Get(r.Context(), h), s.logger)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.errorResponse(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("audit read failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "audit read failed")
		return
	}
	if entries == nil {
		entries = []trigger.AuditEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, entries, s.logger)
}

// handleEvents streams the operational event bus over a WebSocket. One
// goroutine per connection; a closed or stalled peer ends the stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(ch)

	// Reader goroutine: detect peer close and control frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

// clientIP extracts the caller's address, honoring the front end's
// forwarding header.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
