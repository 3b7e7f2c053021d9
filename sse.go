package qadash

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"

	"github.com/qadash/qadash/internal/metric"
)

// Event is pushed to connected dashboards whenever a result is ingested.
type Event struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

// broker fans events out to SSE subscribers. Publish never blocks, slow
// consumers lose events rather than stalling ingestion.
type broker struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	closed      bool
}

func newBroker() *broker {
	return &broker{subscribers: map[chan Event]struct{}{}}
}

func (b *broker) Subscribe() chan Event {
	events := make(chan Event, 16)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(events)
		return events
	}

	b.subscribers[events] = struct{}{}
	metric.EventSubscribers.Inc()

	return events
}

func (b *broker) Unsubscribe(events chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[events]; !ok {
		return
	}

	delete(b.subscribers, events)
	close(events)
	metric.EventSubscribers.Dec()
}

func (b *broker) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for events := range b.subscribers {
		select {
		case events <- e:
		default:
		}
	}
}

func (b *broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true

	for events := range b.subscribers {
		delete(b.subscribers, events)
		close(events)
		metric.EventSubscribers.Dec()
	}
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Internal Server Error",
			"message": "streaming not supported",
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprint(w, "event: connection-status\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()

	events := s.notifier.Subscribe()
	defer s.notifier.Unsubscribe(events)

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}

			data, err := json.Marshal(e)
			if err != nil {
				s.log.Error("could not marshal event", "error", err)
				continue
			}

			fmt.Fprintf(w, "event: new-test-result\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
