// Package server exposes the local admin API. It is a thin JSON layer
// over the importer, the job queue, and the bag validator; all state
// lives below it.
package server

import (
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mkaverti/fieldvault/internal/bag"
	"github.com/mkaverti/fieldvault/internal/events"
	"github.com/mkaverti/fieldvault/internal/importer"
	"github.com/mkaverti/fieldvault/internal/queue"
)

type Handler struct {
	DB        *sql.DB
	Importer  *importer.Orchestrator
	Queue     *queue.Queue
	Validator *bag.Validator
	Hub       *events.Hub
}

func New(database *sql.DB, imp *importer.Orchestrator, q *queue.Queue, validator *bag.Validator, hub *events.Hub) *Handler {
	return &Handler{
		DB:        database,
		Importer:  imp,
		Queue:     q,
		Validator: validator,
		Hub:       hub,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	apiRL := NewRateLimiter(10.0, 30)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apiRL.Middleware)

		r.Get("/status", h.APIStatus)

		r.Get("/settings/archive", h.APIArchiveGet)
		r.Put("/settings/archive", h.APIArchiveSet)

		r.Post("/locations", h.APILocationCreate)
		r.Get("/locations", h.APILocationList)
		r.Get("/locations/{locid}", h.APILocationGet)
		r.Post("/locations/{locid}/validate", h.APIValidateOne)

		r.Post("/imports", h.APIImportStart)
		r.Get("/imports", h.APISessionList)
		r.Get("/imports/{id}", h.APISessionGet)
		r.Post("/imports/{id}/resume", h.APIImportResume)
		r.Post("/imports/{id}/cancel", h.APIImportCancel)

		r.Get("/queues/{queue}", h.APIQueueCounts)
		r.Get("/dead-letters", h.APIDeadLetterList)
		r.Post("/dead-letters/{id}/retry", h.APIDeadLetterRetry)
		r.Post("/dead-letters/ack", h.APIDeadLetterAck)

		r.Post("/validate", h.APIValidateAll)

		r.Get("/events", h.EventStream)
	})

	return r
}

func renderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func renderJSONError(w http.ResponseWriter, status int, code, message string) {
	renderJSON(w, status, map[string]apiError{"error": {Code: code, Message: message}})
}
