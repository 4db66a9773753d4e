package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/onno/internal/leveling"
	"github.com/MikeSquared-Agency/onno/internal/preference"
	"github.com/MikeSquared-Agency/onno/internal/store"
)

// SessionCounter reports how many meetings are live.
type SessionCounter interface {
	ActiveSessions() int
}

// SignalBus reports whether the signal bus is connected.
type SignalBus interface {
	Connected() bool
}

// MeetingLookup resolves the meeting a rated question belongs to.
type MeetingLookup interface {
	GetMeeting(ctx context.Context, id uuid.UUID) (*store.Meeting, error)
}

type Deps struct {
	Meetings    MeetingLookup
	Preferences *preference.Engine
	Levels      *leveling.Engine
	Sessions    SessionCounter
	// Signals and WebSocket are optional. WebSocket serves /ws.
	Signals   SignalBus
	WebSocket http.Handler
}

type Server struct {
	router *chi.Mux
	port   int
	http   *http.Server

	meetings MeetingLookup
	prefs    *preference.Engine
	levels   *leveling.Engine
	sessions SessionCounter
	signals  SignalBus
	logger   *slog.Logger
}

func NewServer(d Deps, port int, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		meetings: d.Meetings,
		prefs:    d.Preferences,
		levels:   d.Levels,
		sessions: d.Sessions,
		signals:  d.Signals,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/onno/status", s.status)
	if d.WebSocket != nil {
		router.Handle("/ws", d.WebSocket)
	}

	router.Route("/api/v1/users/{userID}", func(r chi.Router) {
		r.Post("/question-actions", s.handleQuestionAction)
		r.Post("/question-feedback", s.handleQuestionFeedback)
		r.Get("/preferences", s.handleGetPreferences)
		r.Patch("/preferences", s.handlePatchPreferences)
		r.Post("/personalize-questions", s.handlePersonalize)

		r.Get("/progress", s.handleProgress)
		r.Get("/level-history", s.handleLevelHistory)
		r.Route("/domains/{domain}", func(r chi.Router) {
			r.Get("/level", s.handleGetLevel)
			r.Get("/next-level", s.handleNextLevel)
			r.Put("/persona", s.handleSetPersona)
			r.Post("/xp", s.handleAwardXP)
			r.Post("/follow-ups", s.handleFollowUp)
		})
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks until the server stops. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	active := 0
	if s.sessions != nil {
		active = s.sessions.ActiveSessions()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":           "onno",
		"status":          "live",
		"active_sessions": active,
		"nats_connected":  s.signals != nil && s.signals.Connected(),
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

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}
