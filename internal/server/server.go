// Package server exposes a game over HTTP: JSON control routes and a
// websocket stream of game events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/lox/toninas/internal/game"
	"github.com/lox/toninas/internal/slots"
)

const shutdownTimeout = 5 * time.Second

// Server bundles the router, the event hub and the game service.
type Server struct {
	router *chi.Mux
	hub    *Hub
	games  *GameService
	logger *log.Logger
}

// NewServer wires the hub to the game service and registers routes.
func NewServer(games *GameService, hub *Hub, logger *log.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		hub:    hub,
		games:  games,
		logger: logger.WithPrefix("server"),
	}
	hub.SetCommander(games)

	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(chimw.Recoverer)
	s.router.Use(s.requestLogger)

	s.router.Get("/ws", s.handleWebSocket)

	s.router.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(15 * time.Second))
		r.Use(jsonContentType)

		r.Get("/health", s.handleHealth)
		r.Route("/game", func(r chi.Router) {
			r.Get("/", s.handleGetGame)
			r.Post("/start", s.handleStartGame)
			r.Post("/stop", s.handleStopGame)
			r.Post("/restart", s.handleRestartGame)
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", r.URL.Path)
	})

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully and stops the current game.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.hub.Start()
	defer s.hub.Stop()
	defer func() { _ = s.games.Close() }()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()))
	})
}

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "watchers": s.hub.Count()})
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.games.Current()
	if !ok {
		writeError(w, http.StatusNotFound, "no_game", ErrNoGame.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStartGame(w http.ResponseWriter, r *http.Request) {
	var o Overrides
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}

	snap, err := s.games.StartGame(r.Context(), o)
	if err != nil {
		s.writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStopGame(w http.ResponseWriter, r *http.Request) {
	snap, err := s.games.StopGame(r.Context())
	if err != nil {
		s.writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRestartGame(w http.ResponseWriter, r *http.Request) {
	snap, err := s.games.RestartControllers(r.Context())
	if err != nil {
		s.writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleWebSocket greets new watchers with the current game's config so
// they can draw the board before the next status arrives.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var greeting *game.Event
	if snap, ok := s.games.Current(); ok {
		ev := game.ConfigEvent(snap)
		greeting = &ev
	}
	s.hub.serve(w, r, greeting)
}

func (s *Server) writeGameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoGame):
		writeError(w, http.StatusNotFound, "no_game", err.Error())
	case errors.Is(err, game.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, "invalid_config", err.Error())
	case errors.Is(err, slots.ErrInsufficientSlots):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_slots", err.Error())
	case errors.Is(err, ErrNoControllers):
		writeError(w, http.StatusConflict, "no_controllers", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "timeout", err.Error())
	default:
		s.logger.Error("Game request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
