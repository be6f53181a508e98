package server

import (
	"fmt"
	"net/http"
)

// EventStream — GET /api/v1/events?topic=session:<id>
//
// Streams hub events for one topic as server-sent events. Clients that
// want import progress subscribe before starting the import request on
// a second connection.
func (h *Handler) EventStream(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		renderJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "topic query parameter is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsub := h.Hub.Subscribe(topic)
	defer unsub()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
		}
	}
}
