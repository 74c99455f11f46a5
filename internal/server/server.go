// Package server exposes the analysis agent over a small JSON HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xaenox/lab-agent/internal/agent"
	"github.com/xaenox/lab-agent/internal/session"
	"go.uber.org/zap"
)

// ReindexFunc rescans the data directory and rebuilds the dataset
// registry and search index, returning the number of indexed files.
type ReindexFunc func() (files int, err error)

// Server handles the HTTP surface of the agent.
type Server struct {
	agent    *agent.Agent
	sessions *session.Manager
	reindex  ReindexFunc
	logger   *zap.Logger
}

func New(a *agent.Agent, sessions *session.Manager, reindex ReindexFunc, logger *zap.Logger) *Server {
	return &Server{
		agent:    a,
		sessions: sessions,
		reindex:  reindex,
		logger:   logger,
	}
}

// Router builds the HTTP route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{sessionID}", s.handleGetSession)
		r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
		r.Post("/files/reindex", s.handleReindex)
		r.Get("/health", s.handleHealth)
	})
	return r
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"session_id"`
		Query     string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	response, _ := s.agent.Query(r.Context(), payload.SessionID, payload.Query)
	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.sessions.ListIDs()
	if err != nil {
		s.logger.Error("listing sessions failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not list sessions")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": ids})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("loading session failed", zap.Error(err), zap.String("session_id", sessionID))
		respondError(w, http.StatusInternalServerError, "could not load session")
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.sessions.Clear(sessionID); err != nil {
		s.logger.Error("deleting session failed", zap.Error(err), zap.String("session_id", sessionID))
		respondError(w, http.StatusInternalServerError, "could not delete session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if s.reindex == nil {
		respondError(w, http.StatusNotImplemented, "reindexing is not configured")
		return
	}
	files, err := s.reindex()
	if err != nil {
		s.logger.Error("reindex failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "reindex failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "files": files})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
