// Package server exposes the session over HTTP: JSON chat, SSE streaming,
// skill and thread management, and a websocket channel per thread.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/docpilot/docpilot/pkg/agent"
	"github.com/docpilot/docpilot/pkg/logger"
	"github.com/docpilot/docpilot/pkg/version"
)

// Config holds the listener settings.
type Config struct {
	Host string
	Port int
}

// Validate checks the listener settings.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// Server routes HTTP traffic onto a session.
type Server struct {
	config   *Config
	session  *agent.Session
	router   *mux.Router
	handler  http.Handler
	server   *http.Server
	upgrades websocketUpgrader
}

// NewServer builds the server and its routes.
func NewServer(config *Config, session *agent.Session) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}

	s := &Server{
		config:   config,
		session:  session,
		router:   mux.NewRouter(),
		upgrades: newWebsocketUpgrader(),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/chat", s.handleChat).Methods("POST")
	api.HandleFunc("/chat/stream", s.handleChatStream).Methods("POST")
	api.HandleFunc("/skills", s.handleListSkills).Methods("GET")
	api.HandleFunc("/threads", s.handleListThreads).Methods("GET")
	api.HandleFunc("/threads", s.handleCreateThread).Methods("POST")
	api.HandleFunc("/threads/{id}", s.handleDeleteThread).Methods("DELETE")
	api.HandleFunc("/threads/{id}/history", s.handleThreadHistory).Methods("GET")

	s.router.HandleFunc("/ws/{id}", s.handleWebsocket)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.HandleFunc("/", s.handleRoot).Methods("GET")

	// The middleware chain wraps the router from the outside so that OPTIONS
	// preflight requests, which match no registered route, still pass through
	// the CORS handler instead of falling into the router's 404.
	s.handler = s.requestIDMiddleware(s.loggingMiddleware(s.corsMiddleware(s.router)))
}

// Handler exposes the full middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

type chatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

type chatResponse struct {
	Response string `json:"response"`
	ThreadID string `json:"thread_id"`
}

func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid request body", err)
		return req, false
	}
	if req.Message == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "message is required", nil)
		return req, false
	}
	return req, true
}

// resolveThread creates the requested thread on demand, matching the
// create-if-absent behavior of the interactive loop.
func (s *Server) resolveThread(ctx context.Context, threadID string) string {
	if threadID == "" {
		id, _ := s.session.CreateThread(ctx, "")
		return id
	}
	if err := s.session.SwitchThread(ctx, threadID); err != nil {
		_, _ = s.session.CreateThread(ctx, threadID)
	}
	return threadID
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	threadID := s.resolveThread(r.Context(), req.ThreadID)
	response, err := s.session.Chat(r.Context(), threadID, req.Message)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "chat failed", err)
		return
	}
	s.writeJSONResponse(w, chatResponse{Response: response, ThreadID: threadID})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeErrorResponse(w, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}

	threadID := s.resolveThread(r.Context(), req.ThreadID)
	events, err := s.session.ChatStream(r.Context(), threadID, req.Message)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "chat failed", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeSSE := func(payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			logger.G(r.Context()).WithError(err).Error("failed to marshal SSE event")
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	// The thread ID leads so clients can correlate before any text arrives.
	writeSSE(map[string]string{"type": "thread_id", "thread_id": threadID})
	errored := false
	for event := range events {
		writeSSE(event)
		if event.Type == agent.EventError {
			errored = true
		}
	}
	// An error event is terminal for the turn; no done marker follows it.
	if !errored {
		writeSSE(agent.Event{Type: agent.EventDone})
	}
}

type skillInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	catalog := s.session.Registry().List()
	infos := make([]skillInfo, 0, len(catalog))
	for _, skill := range catalog {
		infos = append(infos, skillInfo{
			Name:        skill.Name,
			Description: skill.Description,
			Tags:        skill.Tags,
		})
	}
	s.writeJSONResponse(w, infos)
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, s.session.Threads())
}

type createThreadRequest struct {
	ThreadID string `json:"thread_id,omitempty"`
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeErrorResponse(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	id, err := s.session.CreateThread(r.Context(), req.ThreadID)
	if err != nil {
		s.writeErrorResponse(w, http.StatusConflict, "failed to create thread", err)
		return
	}
	s.writeJSONResponse(w, map[string]string{
		"thread_id":  id,
		"created_at": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.session.DeleteThread(r.Context(), id); err != nil {
		if errors.Is(err, agent.ErrThreadNotFound) {
			s.writeErrorResponse(w, http.StatusNotFound, "thread not found", nil)
			return
		}
		s.writeErrorResponse(w, http.StatusInternalServerError, "failed to delete thread", err)
		return
	}
	s.writeJSONResponse(w, map[string]string{"message": fmt.Sprintf("Thread %s deleted", id)})
}

func (s *Server) handleThreadHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.writeJSONResponse(w, map[string]any{
		"thread_id": id,
		"messages":  s.session.History(id),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, map[string]any{
		"service": "docpilot",
		"version": version.Version,
		"status":  "running",
		"skills":  s.session.Registry().Len(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		w.Header().Set("X-Request-ID", requestID)
		ctx := logger.WithLogger(r.Context(), logger.G(r.Context()).WithField("request_id", requestID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter captures the status code for request logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so SSE streaming works through the
// logging middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack forwards to the wrapped writer so websocket upgrades work through
// the logging middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.L.WithError(err).Error("failed to encode JSON response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		logger.L.WithError(err).Error(message)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error":  message,
		"status": statusCode,
	}); err != nil {
		logger.L.WithError(err).Error("failed to encode error response")
	}
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    address,
		Handler: s.handler,
	}

	logger.G(ctx).WithField("address", address).Info("starting API server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.G(ctx).WithError(err).Error("API server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Stop shuts the server down immediately.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
