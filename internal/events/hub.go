// Package events carries typed notifications from the import pipeline
// and the worker pool to interested collaborators (IPC bridges, CLIs,
// test harnesses) without coupling them to the producers.
package events

import (
	"sync"
)

// Event types published by the core.
const (
	TypeImportProgress = "import.progress"
	TypeImportDone     = "import.done"
	TypeJobCompleted   = "job.completed"
	TypeJobDead        = "job.dead"
	TypeThumbnailReady = "media.thumbnail_ready"
	TypeProxyReady     = "media.proxy_ready"
	TypeBagValidated   = "bag.validated"
)

// Event is a typed notification with a JSON payload.
type Event struct {
	Type string
	Data string
}

// Hub is an in-memory pub/sub hub.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[chan Event]struct{}
}

func New() *Hub {
	return &Hub{
		clients: make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe registers a listener on the given topic.
// Returns a receive-only channel and an unsubscribe function.
func (h *Hub) Subscribe(topic string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[chan Event]struct{})
	}
	h.clients[topic][ch] = struct{}{}
	h.mu.Unlock()

	unsub := func() {
		h.mu.Lock()
		delete(h.clients[topic], ch)
		if len(h.clients[topic]) == 0 {
			delete(h.clients, topic)
		}
		h.mu.Unlock()
		// drain anything buffered; no new sends can arrive once the
		// channel is out of the map
		for {
			select {
			case <-ch:
			default:
				return
			}
		}
	}

	return ch, unsub
}

// Publish sends an event to all subscribers on the given topic.
// Non-blocking: slow clients are skipped.
func (h *Hub) Publish(topic string, event Event) {
	h.mu.Lock()
	subs := h.clients[topic]
	// Copy the set under lock to avoid holding it during sends
	channels := make([]chan Event, 0, len(subs))
	for ch := range subs {
		channels = append(channels, ch)
	}
	h.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- event:
		default:
			// skip slow client
		}
	}
}
