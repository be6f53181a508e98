package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mkaverti/fieldvault/internal/model"
	"github.com/mkaverti/fieldvault/internal/queue"
)

type apiDeadLetter struct {
	ID            string `json:"id"`
	OriginalJobID string `json:"original_job_id"`
	Queue         string `json:"queue"`
	Payload       string `json:"payload"`
	Reason        string `json:"reason"`
	Attempts      int    `json:"attempts"`
	Retried       bool   `json:"retried"`
	CreatedAt     string `json:"created_at"`
}

func deadLetterToAPI(d *model.DeadLetterEntry) apiDeadLetter {
	return apiDeadLetter{
		ID:            d.ID,
		OriginalJobID: d.OriginalJobID,
		Queue:         d.Queue,
		Payload:       d.Payload,
		Reason:        d.Reason,
		Attempts:      d.Attempts,
		Retried:       d.Retried,
		CreatedAt:     d.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// APIStatus — GET /api/v1/status
func (h *Handler) APIStatus(w http.ResponseWriter, r *http.Request) {
	queues := make(map[string]map[string]int)
	for _, name := range queue.Queues() {
		counts, err := h.Queue.Counts(name)
		if err != nil {
			slog.Error("queue counts", "queue", name, "error", err)
			renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to count jobs")
			return
		}
		queues[name] = counts
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"import": h.Importer.Status(),
		"queues": queues,
	})
}

// APIQueueCounts — GET /api/v1/queues/{queue}
func (h *Handler) APIQueueCounts(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "queue")
	counts, err := h.Queue.Counts(name)
	if err != nil {
		slog.Error("queue counts", "queue", name, "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to count jobs")
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"queue": name, "counts": counts})
}

// APIDeadLetterList — GET /api/v1/dead-letters?queue=thumbnail
func (h *Handler) APIDeadLetterList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Queue.DeadLetters(r.URL.Query().Get("queue"))
	if err != nil {
		slog.Error("list dead letters", "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list dead letters")
		return
	}
	out := make([]apiDeadLetter, 0, len(entries))
	for i := range entries {
		out = append(out, deadLetterToAPI(&entries[i]))
	}
	renderJSON(w, http.StatusOK, map[string]any{"dead_letters": out})
}

// APIDeadLetterRetry — POST /api/v1/dead-letters/{id}/retry
func (h *Handler) APIDeadLetterRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	jobID, err := h.Queue.RetryDeadLetter(id)
	if err != nil {
		slog.Error("retry dead letter", "id", id, "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to retry dead letter")
		return
	}
	renderJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
}

// APIDeadLetterAck — POST /api/v1/dead-letters/ack
func (h *Handler) APIDeadLetterAck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if len(req.IDs) == 0 {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "ids must be a non-empty array")
		return
	}
	if err := h.Queue.Acknowledge(req.IDs); err != nil {
		slog.Error("ack dead letters", "error", err)
		renderJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to acknowledge")
		return
	}
	renderJSON(w, http.StatusOK, map[string]int{"acknowledged": len(req.IDs)})
}
