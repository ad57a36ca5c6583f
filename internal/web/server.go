// Package web serves the core's commands and state as JSON over HTTP.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/conorfennell/knoldeck/internal/app"
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/importer"
	"github.com/conorfennell/knoldeck/internal/scheduler"
)

// Core is the part of app.Core the server exposes.
type Core interface {
	View() (app.View, error)
	WaitFor(ctx context.Context, ready func(app.View) bool) (app.View, error)
	Flush(ctx context.Context) error

	AddDeck(name string) error
	RenameDeck(id, name string) error
	DeleteDeck(id string) error
	StartCards(deckID string) error
	AddCard(deckID, front, back string) error
	UpdateCard(id string, card domain.Card) error
	DeleteCard(id string) error

	EnterReview(deckID string) error
	ExitReview() error
	Rate(key string, r scheduler.Rating) error
	RestartSession() error
	SignOut() error
}

// Importer runs a deck import.
type Importer interface {
	Import(ctx context.Context, source string) (importer.Report, error)
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	core     Core
	importer Importer
	router   *http.ServeMux
	log      *slog.Logger
	wait     time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithImporter enables POST /api/import.
func WithImporter(i Importer) Option {
	return func(s *Server) { s.importer = i }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithWait bounds how long a request waits for subscriptions to deliver.
func WithWait(d time.Duration) Option {
	return func(s *Server) { s.wait = d }
}

// NewServer creates and configures a new server.
func NewServer(core Core, opts ...Option) *Server {
	s := &Server{
		core:   core,
		router: http.NewServeMux(),
		log:    slog.Default(),
		wait:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /api/state", s.handleState())

	s.router.HandleFunc("POST /api/decks", s.handleAddDeck())
	s.router.HandleFunc("PUT /api/decks/{id}", s.handleRenameDeck())
	s.router.HandleFunc("DELETE /api/decks/{id}", s.handleDeleteDeck())

	s.router.HandleFunc("GET /api/decks/{id}/cards", s.handleGetCards())
	s.router.HandleFunc("POST /api/decks/{id}/cards", s.handleAddCard())
	s.router.HandleFunc("PUT /api/cards/{id}", s.handleUpdateCard())
	s.router.HandleFunc("DELETE /api/cards/{id}", s.handleDeleteCard())

	s.router.HandleFunc("POST /api/decks/{id}/review", s.handleEnterReview())
	s.router.HandleFunc("POST /api/review/rate", s.handleRate())
	s.router.HandleFunc("POST /api/review/restart", s.handleRestart())
	s.router.HandleFunc("DELETE /api/review", s.handleExitReview())

	s.router.HandleFunc("POST /api/signout", s.handleSignOut())
	s.router.HandleFunc("POST /api/import", s.handleImport())
}

type deckRequest struct {
	Name string `json:"name"`
}

type cardRequest struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

type rateRequest struct {
	Key    string `json:"key"`
	Rating string `json:"rating"`
}

type importRequest struct {
	Source string `json:"source"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleState renders the current state.
func (s *Server) handleState() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respondView(w, r)
	}
}

func (s *Server) handleAddDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deckRequest
		if !s.decode(w, r, &req) {
			return
		}
		s.write(w, r, s.core.AddDeck(req.Name))
	}
}

func (s *Server) handleRenameDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deckRequest
		if !s.decode(w, r, &req) {
			return
		}
		s.write(w, r, s.core.RenameDeck(r.PathValue("id"), req.Name))
	}
}

func (s *Server) handleDeleteDeck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.write(w, r, s.core.DeleteDeck(r.PathValue("id")))
	}
}

// handleGetCards switches the cards subscription to the deck and renders the
// state once its cards have arrived.
func (s *Server) handleGetCards() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.core.StartCards(id); err != nil {
			s.fail(w, err)
			return
		}
		s.await(w, r, func(v app.View) bool {
			return v.CardsDeckID == id && !v.LoadingCards
		})
	}
}

func (s *Server) handleAddCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cardRequest
		if !s.decode(w, r, &req) {
			return
		}
		s.write(w, r, s.core.AddCard(r.PathValue("id"), req.Front, req.Back))
	}
}

func (s *Server) handleUpdateCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req cardRequest
		if !s.decode(w, r, &req) {
			return
		}
		s.write(w, r, s.core.UpdateCard(r.PathValue("id"), domain.Card{Front: req.Front, Back: req.Back}))
	}
}

func (s *Server) handleDeleteCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.write(w, r, s.core.DeleteCard(r.PathValue("id")))
	}
}

// handleEnterReview starts a session and renders it once it is built.
func (s *Server) handleEnterReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.core.EnterReview(id); err != nil {
			s.fail(w, err)
			return
		}
		s.await(w, r, func(v app.View) bool {
			return v.Session == nil || v.Session.DeckID != id || v.Session.Phase != "uninitialized"
		})
	}
}

func (s *Server) handleRate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rateRequest
		if !s.decode(w, r, &req) {
			return
		}
		rating, err := scheduler.ParseRating(req.Rating)
		if err != nil {
			s.respond(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		s.write(w, r, s.core.Rate(req.Key, rating))
	}
}

func (s *Server) handleRestart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.write(w, r, s.core.RestartSession())
	}
}

func (s *Server) handleExitReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.write(w, r, s.core.ExitReview())
	}
}

func (s *Server) handleSignOut() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.write(w, r, s.core.SignOut())
	}
}

// handleImport runs an import in the foreground to make the caller wait.
func (s *Server) handleImport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.importer == nil {
			http.Error(w, "Import is not enabled", http.StatusNotFound)
			return
		}
		var req importRequest
		if !s.decode(w, r, &req) {
			return
		}
		if req.Source == "" {
			s.respond(w, http.StatusBadRequest, errorResponse{Error: "Source cannot be empty"})
			return
		}
		report, err := s.importer.Import(r.Context(), req.Source)
		if err != nil {
			s.fail(w, err)
			return
		}
		errs := make([]string, 0, len(report.Errors))
		for _, e := range report.Errors {
			errs = append(errs, e.Error())
		}
		s.respond(w, http.StatusOK, map[string]any{
			"decks":   report.Decks,
			"added":   report.Added,
			"skipped": report.Skipped,
			"pruned":  report.Pruned,
			"errors":  errs,
		})
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respond(w, http.StatusBadRequest, errorResponse{Error: "Invalid JSON body"})
		return false
	}
	return true
}

// write waits for the command's store writes and renders the state.
func (s *Server) write(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.wait)
	defer cancel()
	if err := s.core.Flush(ctx); err != nil {
		s.log.Warn("flush failed", "error", err)
	}
	s.respondView(w, r)
}

func (s *Server) await(w http.ResponseWriter, r *http.Request, ready func(app.View) bool) {
	ctx, cancel := context.WithTimeout(r.Context(), s.wait)
	defer cancel()
	v, err := s.core.WaitFor(ctx, ready)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, v)
}

func (s *Server) respondView(w http.ResponseWriter, r *http.Request) {
	v, err := s.core.View()
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, v)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotAuthenticated):
		code = http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, app.ErrClosed):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	s.respond(w, code, errorResponse{Error: err.Error()})
}

func (s *Server) respond(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("failed to encode response", "error", err)
	}
}
