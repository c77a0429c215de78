package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/arbiter/internal/agent"
	"github.com/MrWong99/arbiter/internal/health"
	"github.com/MrWong99/arbiter/internal/observe"
	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Messages shown to the user instead of internal error detail.
const (
	msgProviderFailed = "The assistant could not answer right now. Please try again."
	msgInternal       = "Something went wrong. Please try again."
)

// Config holds the dependencies of a [Server].
type Config struct {
	// Sessions maps session ids to agents. Must not be nil.
	Sessions *agent.Sessions

	// Health serves /healthz and /readyz. Optional.
	Health *health.Handler

	// Metrics instruments every request. Optional.
	Metrics *observe.Metrics

	// MetricsHandler serves /metrics. Default: promhttp.Handler().
	MetricsHandler http.Handler
}

// Server is the HTTP front end.
type Server struct {
	sessions *agent.Sessions
	health   *health.Handler
	metrics  *observe.Metrics
	prom     http.Handler
}

// NewServer creates a Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("web: Sessions must not be nil")
	}
	prom := cfg.MetricsHandler
	if prom == nil {
		prom = promhttp.Handler()
	}
	return &Server{
		sessions: cfg.Sessions,
		health:   cfg.Health,
		metrics:  cfg.Metrics,
		prom:     prom,
	}, nil
}

// Handler returns the router:
//
//	POST   /api/chat                  run a turn
//	POST   /api/reset                 clear a session
//	GET    /api/sessions/{id}/history windowed turns and summary
//	DELETE /api/sessions/{id}         end a session
//	GET    /ws                        chat over a WebSocket
//	GET    /healthz, /readyz, /metrics
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(observe.Middleware(s.metrics))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/reset", s.handleReset)
		r.Get("/sessions/{id}/history", s.handleHistory)
		r.Delete("/sessions/{id}", s.handleCloseSession)
	})
	r.Get("/ws", s.handleWS)

	if s.health != nil {
		s.health.Register(r)
	}
	r.Method(http.MethodGet, "/metrics", s.prom)
	return r
}

// chatRequest is the JSON body of POST /api/chat. History is the panel as
// the client currently shows it.
type chatRequest struct {
	SessionID string  `json:"session_id"`
	Query     string  `json:"query"`
	History   []Entry `json:"history"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	ChatResult
}

type errorResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error"`
}

// handleChat handles POST /api/chat. An empty or unknown session id starts
// a new session.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, a := s.sessions.Open(req.SessionID)
	res, err := Chat(r.Context(), a, req.Query, req.History, a.Summary())
	if err != nil {
		observe.Logger(r.Context()).Error("web: chat turn failed", "session_id", id, "err", err)
		status, msg := classify(err)
		writeJSON(w, status, errorResponse{SessionID: id, Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{SessionID: id, ChatResult: res})
}

type resetRequest struct {
	SessionID string `json:"session_id"`
}

// handleReset handles POST /api/reset. Resetting an unknown session is not
// an error.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if a, ok := s.sessions.Lookup(req.SessionID); ok {
		a.Reset()
	}
	writeJSON(w, http.StatusOK, chatResponse{SessionID: req.SessionID, ChatResult: Reset()})
}

type turnView struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

type historyResponse struct {
	SessionID string     `json:"session_id"`
	Summary   string     `json:"summary"`
	Turns     []turnView `json:"turns"`
}

// handleHistory handles GET /api/sessions/{id}/history. Answers are shown
// as stored, truncation included.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := s.sessions.Lookup(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}
	window := a.History()
	turns := make([]turnView, 0, len(window))
	for _, t := range window {
		turns = append(turns, turnView{Query: t.Query(), Answer: t.Answer()})
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: id, Summary: a.Summary(), Turns: turns})
}

// handleCloseSession handles DELETE /api/sessions/{id}.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Close(chi.URLParam(r, "id")) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// classify maps a turn error to a status code and a user-facing message.
func classify(err error) (int, string) {
	if errors.Is(err, llm.ErrProviderFatal) {
		return http.StatusBadGateway, msgProviderFailed
	}
	return http.StatusInternalServerError, msgInternal
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
