package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mkaverti/fieldvault/internal/db"
	"github.com/mkaverti/fieldvault/internal/importer"
	"github.com/mkaverti/fieldvault/internal/model"
)

type apiSession struct {
	ID        string   `json:"id"`
	LocID     string   `json:"locid"`
	SubID     string   `json:"subid,omitempty"`
	Status    string   `json:"status"`
	Stage     string   `json:"stage"`
	Files     int      `json:"files"`
	Paths     []string `json:"paths,omitempty"`
	Aborted   bool     `json:"aborted"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

func sessionToAPI(s *model.ImportSession) apiSession {
	return apiSession{
		ID:        s.ID,
		LocID:     s.LocID,
		SubID:     s.SubID,
		Status:    s.Status,
		Stage:     string(s.Stage),
		Files:     len(s.Outcomes),
		Paths:     s.Paths,
		Aborted:   s.Aborted,
		CreatedAt: s.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		UpdatedAt: s.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// APIImportStart — POST /api/v1/imports
//
// Runs the whole pipeline before responding. The admin API is local and
// single-operator; progress is observable on /api/v1/events while the
// request is in flight.
func (h *Handler) APIImportStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paths       []string          `json:"paths"`
		LocID       string            `json:"locid"`
		SubID       string            `json:"subid"`
		Attribution map[string]string `json:"attribution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if len(req.Paths) == 0 {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "paths must be a non-empty array")
		return
	}
	if req.LocID == "" {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "locid is required")
		return
	}

	result, err := h.Importer.Import(r.Context(), req.Paths, importer.Options{
		LocID:       req.LocID,
		SubID:       req.SubID,
		Attribution: req.Attribution,
	})
	if err != nil {
		h.renderImportError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, result)
}

// APIImportResume — POST /api/v1/imports/{id}/resume
func (h *Handler) APIImportResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.Importer.Resume(r.Context(), id, importer.Options{})
	if err != nil {
		h.renderImportError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// APIImportCancel — POST /api/v1/imports/{id}/cancel
func (h *Handler) APIImportCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Importer.Cancel(id); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
			return
		}
		slog.Error("cancel import", "session", id, "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to cancel session")
		return
	}
	renderJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// APISessionList — GET /api/v1/imports
func (h *Handler) APISessionList(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Importer.ResumableSessions()
	if err != nil {
		slog.Error("list sessions", "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list sessions")
		return
	}
	out := make([]apiSession, 0, len(sessions))
	for i := range sessions {
		out = append(out, sessionToAPI(&sessions[i]))
	}
	renderJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// APISessionGet — GET /api/v1/imports/{id}
func (h *Handler) APISessionGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := db.GetImportSession(h.DB, id)
	if err != nil {
		slog.Error("get session", "session", id, "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to get session")
		return
	}
	if sess == nil {
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}

	resp := struct {
		apiSession
		Outcomes []model.FileOutcome `json:"outcomes"`
	}{sessionToAPI(sess), sess.Outcomes}
	renderJSON(w, http.StatusOK, resp)
}

func (h *Handler) renderImportError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrArchiveNotConfigured):
		renderJSONError(w, http.StatusConflict, "ARCHIVE_NOT_CONFIGURED", "archive folder is not configured")
	case errors.Is(err, model.ErrLocationNotFound):
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "location not found")
	case errors.Is(err, model.ErrSessionNotFound):
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
	default:
		slog.Error("import", "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "import failed")
	}
}
