package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/mkaverti/fieldvault/internal/db"
	"github.com/mkaverti/fieldvault/internal/model"
)

type apiLocation struct {
	LocID           string `json:"locid"`
	Name            string `json:"name"`
	Category        string `json:"category,omitempty"`
	Address         string `json:"address,omitempty"`
	MediaCount      int    `json:"media_count"`
	MediaBytes      int64  `json:"media_bytes"`
	BagStatus       string `json:"bag_status"`
	BagLastVerified string `json:"bag_last_verified,omitempty"`
	BagLastError    string `json:"bag_last_error,omitempty"`
}

func locationToAPI(l *model.Location) apiLocation {
	out := apiLocation{
		LocID:        l.ID,
		Name:         l.Name,
		Category:     l.Category,
		Address:      l.Address,
		MediaCount:   l.MediaCount,
		MediaBytes:   l.MediaBytes,
		BagStatus:    string(l.BagStatus),
		BagLastError: l.BagLastError,
	}
	if l.BagLastVerified != nil {
		out.BagLastVerified = l.BagLastVerified.UTC().Format("2006-01-02T15:04:05Z")
	}
	return out
}

// APILocationCreate — POST /api/v1/locations
func (h *Handler) APILocationCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LocID    string `json:"locid"`
		Name     string `json:"name"`
		Category string `json:"category"`
		Address  string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if req.LocID == "" || req.Name == "" {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "locid and name are required")
		return
	}

	loc := &model.Location{ID: req.LocID, Name: req.Name, Category: req.Category, Address: req.Address}
	if err := db.CreateLocation(h.DB, loc); err != nil {
		slog.Error("create location", "locid", req.LocID, "error", err)
		renderJSONError(w, http.StatusConflict, "CONFLICT", "location already exists or could not be created")
		return
	}
	renderJSON(w, http.StatusCreated, locationToAPI(loc))
}

// APILocationList — GET /api/v1/locations
func (h *Handler) APILocationList(w http.ResponseWriter, r *http.Request) {
	locations, err := db.ListLocations(h.DB)
	if err != nil {
		slog.Error("list locations", "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list locations")
		return
	}
	out := make([]apiLocation, 0, len(locations))
	for i := range locations {
		out = append(out, locationToAPI(&locations[i]))
	}
	renderJSON(w, http.StatusOK, map[string]any{"locations": out})
}

// APILocationGet — GET /api/v1/locations/{locid}
func (h *Handler) APILocationGet(w http.ResponseWriter, r *http.Request) {
	locid := chi.URLParam(r, "locid")
	loc, err := db.GetLocation(h.DB, locid)
	if err != nil {
		slog.Error("get location", "locid", locid, "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to get location")
		return
	}
	if loc == nil {
		renderJSONError(w, http.StatusNotFound, "NOT_FOUND", "location not found")
		return
	}
	renderJSON(w, http.StatusOK, locationToAPI(loc))
}

// APIValidateOne — POST /api/v1/locations/{locid}/validate
func (h *Handler) APIValidateOne(w http.ResponseWriter, r *http.Request) {
	locid := chi.URLParam(r, "locid")
	report, err := h.Validator.ValidateOne(r.Context(), locid)
	if err != nil {
		slog.Error("validate bag", "locid", locid, "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "validation failed")
		return
	}
	renderJSON(w, http.StatusOK, report)
}

// APIValidateAll — POST /api/v1/validate
func (h *Handler) APIValidateAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Validator.ValidateAll(r.Context(), nil)
	if err != nil {
		slog.Error("validate all bags", "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "validation failed")
		return
	}
	renderJSON(w, http.StatusOK, summary)
}

// APIArchiveGet — GET /api/v1/settings/archive
func (h *Handler) APIArchiveGet(w http.ResponseWriter, r *http.Request) {
	path, err := db.GetSetting(h.DB, db.ArchiveFolderKey)
	if err != nil {
		slog.Error("get archive setting", "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read setting")
		return
	}
	renderJSON(w, http.StatusOK, map[string]string{"path": path})
}

// APIArchiveSet — PUT /api/v1/settings/archive
//
// The new path takes effect on the next daemon start; components bind
// the archive root at construction.
func (h *Handler) APIArchiveSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if req.Path == "" || !filepath.IsAbs(req.Path) {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "path must be absolute")
		return
	}
	if info, err := os.Stat(req.Path); err != nil || !info.IsDir() {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "path must be an existing directory")
		return
	}
	if err := db.SetSetting(h.DB, db.ArchiveFolderKey, req.Path); err != nil {
		slog.Error("set archive setting", "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to save setting")
		return
	}
	renderJSON(w, http.StatusOK, map[string]string{"path": req.Path, "note": "restart required to apply"})
}
