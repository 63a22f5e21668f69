// Package api implements the HTTP API the voice relay talks to.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nugget/cradle-ai-agent/internal/agent"
	"github.com/nugget/cradle-ai-agent/internal/buildinfo"
	"github.com/nugget/cradle-ai-agent/internal/convlog"
	"github.com/nugget/cradle-ai-agent/internal/huckleberry"
	"github.com/nugget/cradle-ai-agent/internal/session"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	loop     *agent.Loop
	hb       *huckleberry.Client
	feed     *huckleberry.Feed
	sessions *session.Store
	convlog  *convlog.Store
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, loop *agent.Loop, hb *huckleberry.Client, sessions *session.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:  address,
		port:     port,
		loop:     loop,
		hb:       hb,
		sessions: sessions,
		logger:   logger,
	}
}

// SetFeed configures the push feed for health reporting.
func (s *Server) SetFeed(f *huckleberry.Feed) {
	s.feed = f
}

// SetConvLog configures the transcript store for history endpoints.
func (s *Server) SetConvLog(cl *convlog.Store) {
	s.convlog = cl
}

// Handler builds the routing table. Split out from Start so tests can
// drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /message", s.handleMessage)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	mux.HandleFunc("GET /v1/conversations/{sessionId}", s.handleConversationGet)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Long enough for slow tool rounds
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
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

// MessageRequest is one transcribed utterance from the voice relay.
type MessageRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// MessageResponse carries the spoken reply back to the relay. The
// relay speaks Reply verbatim and closes the listening window when
// ConversationDone is true.
type MessageResponse struct {
	SessionID        string `json:"session_id"`
	Reply            string `json:"reply"`
	TurnCount        int    `json:"turn_count"`
	ConversationDone bool   `json:"conversation_done"`
}

// Fixed replies for failure paths. These go through text-to-speech, so
// they are written to be spoken, not parsed.
const (
	replyNotAuthenticated = "I'm having trouble reaching the baby tracker right now. Please try again in a bit."
	replyBusy             = "I'm still working on your last request. Give me just a moment."
	replyTimeout          = "Sorry, that took too long. Please try again."
	replyInternal         = "Sorry, something went wrong on my end. Please try again."
)

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	if !s.hb.Authenticated() {
		s.spokenError(w, http.StatusServiceUnavailable, sessionID, replyNotAuthenticated)
		return
	}

	res, err := s.loop.HandleMessage(r.Context(), sessionID, req.Message)
	if err != nil {
		s.logger.Error("message handling failed", "session_id", sessionID, "error", err)

		var authErr *huckleberry.AuthError
		switch {
		case errors.Is(err, session.ErrBusy):
			s.spokenError(w, http.StatusConflict, sessionID, replyBusy)
		case errors.Is(err, context.DeadlineExceeded):
			s.spokenError(w, http.StatusGatewayTimeout, sessionID, replyTimeout)
		case errors.As(err, &authErr):
			s.spokenError(w, http.StatusServiceUnavailable, sessionID, replyNotAuthenticated)
		default:
			s.spokenError(w, http.StatusInternalServerError, sessionID, replyInternal)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, MessageResponse{
		SessionID:        sessionID,
		Reply:            res.Reply,
		TurnCount:        res.TurnCount,
		ConversationDone: res.Done,
	}, s.logger)
}

// spokenError returns a speakable reply with done=true so the relay
// announces the failure and closes the session cleanly instead of
// leaving the speaker hanging.
func (s *Server) spokenError(w http.ResponseWriter, code int, sessionID, reply string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, MessageResponse{
		SessionID:        sessionID,
		Reply:            reply,
		TurnCount:        0,
		ConversationDone: true,
	}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Cradle",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	feedConnected := false
	if s.feed != nil {
		feedConnected = s.feed.Connected()
	}

	status := "ok"
	if !s.hb.Authenticated() {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":                    status,
		"huckleberry_authenticated": s.hb.Authenticated(),
		"feed_connected":            feedConnected,
		"state_ready":               s.hb.Cache().Ready(),
		"active_sessions":           s.sessions.ActiveCount(),
		"uptime":                    buildinfo.Uptime().Round(time.Second).String(),
		"version":                   buildinfo.Version,
	}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	if s.convlog == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "conversation log not configured")
		return
	}

	sessionID := r.PathValue("sessionId")
	limit := parseIntParam(r, "limit", 50)

	records, err := s.convlog.Recent(r.Context(), sessionID, limit)
	if err != nil {
		s.logger.Error("conversation lookup failed", "session_id", sessionID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "conversation lookup failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session_id": sessionID,
		"turns":      records,
		"count":      len(records),
	}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
