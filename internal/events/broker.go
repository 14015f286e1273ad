// Path: internal/events/broker.go
package events

import "sync"

// Topics published by a download run. Both carry a domain.Progress.
const (
	TopicPhase     = "run:phase"
	TopicCommitted = "batch:committed"
)

// Event represents a message passed through the broker.
type Event struct {
	Topic string
	Data  any
}

// Broker implements a simple in-memory pub/sub system.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string][]chan Event),
	}
}

// Subscribe creates a new subscription to one or more topics.
// It returns a read-only channel where events for those topics will be sent.
func (b *Broker) Subscribe(topics ...string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 16) // Buffered so a slow reader does not block the run
	for _, topic := range topics {
		b.subscribers[topic] = append(b.subscribers[topic], ch)
	}
	return ch
}

// Unsubscribe removes the channel from every topic and closes it.
func (b *Broker) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var owned chan Event
	for topic, subs := range b.subscribers {
		kept := subs[:0]
		for _, ch := range subs {
			if ch == sub {
				owned = ch
				continue
			}
			kept = append(kept, ch)
		}
		if len(kept) == 0 {
			delete(b.subscribers, topic)
		} else {
			b.subscribers[topic] = kept
		}
	}
	if owned != nil {
		close(owned)
	}
}

// Publish sends an event to all subscribers of a topic. A nil Broker drops everything.
func (b *Broker) Publish(topic string, data any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{Topic: topic, Data: data}
	for _, ch := range b.subscribers[topic] {
		// Non-blocking send
		select {
		case ch <- event:
		default:
			// Subscriber is not ready, drop the event to avoid blocking.
		}
	}
}
