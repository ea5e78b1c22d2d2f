// Package server exposes the engine over HTTP: event ingestion for topic
// producers, conversation settings for the policy subsystem, and admin
// controls for operators.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lazypower/wind/internal/engine"
	"github.com/lazypower/wind/internal/killswitch"
	"github.com/lazypower/wind/internal/store"
)

// Server is the wind HTTP API server.
type Server struct {
	engine  *engine.Engine
	db      *store.DB
	kill    *killswitch.Switch
	logger  *zap.Logger
	router  chi.Router
	version string
	started time.Time
}

// New creates a Server. kill may be nil, in which case the kill switch
// routes report it as unavailable.
func New(e *engine.Engine, kill *killswitch.Switch, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:  e,
		db:      e.DB,
		kill:    kill,
		logger:  logger.Named("server"),
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Put("/health/guard", s.handleSetGuard)
		r.Get("/killswitch", s.handleGetKillSwitch)
		r.Put("/killswitch", s.handleSetKillSwitch)

		r.Post("/tick", s.handleTick)

		r.Post("/topics", s.handleSubmitTopic)
		r.Get("/topics/{topicID}", s.handleGetTopic)
		r.Post("/topics/{topicID}/ack", s.handleAckTopic)
		r.Post("/topics/{topicID}/dismiss", s.handleDismissTopic)

		r.Get("/conversations", s.handleListConversations)
		r.Route("/conversations/{conversationID}", func(r chi.Router) {
			r.Get("/", s.handleGetConversation)
			r.Put("/", s.handlePutConversation)
			r.Get("/topics", s.handleListTopics)
			r.Post("/messages", s.handleUserMessage)
			r.Post("/feedback", s.handleFeedback)
			r.Post("/snooze", s.handleSnooze)
			r.Post("/archive", s.handleArchive)
			r.Post("/mine", s.handleMine)
			r.Get("/impulse", s.handleImpulseLogs)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}
	killed := s.kill != nil && s.kill.Engaged()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     s.version,
		"uptime":      time.Since(s.started).Seconds(),
		"db":          dbOK,
		"db_path":     s.db.Path,
		"wind":        s.engine.Config.Enabled,
		"kill_switch": killed,
		"guard":       s.engine.Health().Status(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine and store errors onto status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidTopic), errors.Is(err, engine.ErrInvalidFeedback):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrTopicClosed), errors.Is(err, engine.ErrStaleTick):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
