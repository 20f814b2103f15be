package server

import (
	"net/http"
	"sync"
	"time"
)

const eventsHeartbeat = 30 * time.Second

// storeEvent is pushed to subscribers when the watched store file
// changes on disk.
type storeEvent struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
}

// eventHub fans store-change notifications out to SSE subscribers.
type eventHub struct {
	mu     sync.Mutex
	subs   map[chan storeEvent]struct{}
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[chan storeEvent]struct{})}
}

// StoreChanged notifies all subscribers. Slow subscribers miss the
// event rather than block the watcher.
func (h *eventHub) StoreChanged() {
	ev := storeEvent{Type: "store_changed", Time: time.Now().Unix()}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *eventHub) subscribe() chan storeEvent {
	ch := make(chan storeEvent, 4)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	return ch
}

func (h *eventHub) unsubscribe(ch chan storeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// Close drops all subscribers, ending their streams.
func (h *eventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

// handleEvents streams store-change notifications over SSE so the
// frontend can refresh its session list after a re-decrypt.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	stream, err := NewSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ch := s.events.subscribe()
	defer s.events.unsubscribe(ch)

	heartbeat := time.NewTicker(eventsHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := stream.SendJSON("store", ev); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := stream.SendComment("heartbeat"); err != nil {
				return
			}
		}
	}
}
