// Path: internal/delivery/rest/handlers.go
package rest

import (
	"encoding/json"
	"net/http"
	"sync"

	"loki-downloader/internal/domain"
	"loki-downloader/internal/events"
)

// progressSource defines what the handlers need from the running download.
type progressSource interface {
	Progress() domain.Progress
}

// StatusHandlers holds dependencies for status HTTP handlers.
type StatusHandlers struct {
	source progressSource
}

// NewStatusHandlers creates a new handler struct.
func NewStatusHandlers(s progressSource) *StatusHandlers {
	return &StatusHandlers{source: s}
}

// GetStatus returns the latest progress snapshot.
// Path: /status
func (h *StatusHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.source.Progress()); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// Healthz reports that the process is alive.
// Path: /healthz
func (h *StatusHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// --- Broker-fed progress ---

// Tracker remembers the most recent progress published on the broker.
type Tracker struct {
	broker *events.Broker
	sub    <-chan events.Event
	done   chan struct{}

	mu     sync.RWMutex
	latest domain.Progress
}

// NewTracker subscribes to run events and starts consuming them.
func NewTracker(broker *events.Broker) *Tracker {
	t := &Tracker{
		broker: broker,
		sub:    broker.Subscribe(events.TopicPhase, events.TopicCommitted),
		done:   make(chan struct{}),
		latest: domain.Progress{Phase: domain.PhaseIdle},
	}
	go t.consume()
	return t
}

func (t *Tracker) consume() {
	defer close(t.done)
	for ev := range t.sub {
		if p, ok := ev.Data.(domain.Progress); ok {
			t.mu.Lock()
			t.latest = p
			t.mu.Unlock()
		}
	}
}

// Progress implements progressSource.
func (t *Tracker) Progress() domain.Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest
}

// Close stops tracking and waits for the consumer to exit.
func (t *Tracker) Close() {
	t.broker.Unsubscribe(t.sub)
	<-t.done
}
