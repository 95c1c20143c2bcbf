package events

import (
	"encoding/json"
	"sync"
	"time"

	"clinica/internal/models"
)

const (
	EventAppointmentCreated = "appointment_created"
	EventAppointmentUpdated = "appointment_updated"
	EventAppointmentDeleted = "appointment_deleted"
)

// AppointmentEventTypes lists every event emitted by appointment writes.
var AppointmentEventTypes = []string{
	EventAppointmentCreated,
	EventAppointmentUpdated,
	EventAppointmentDeleted,
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
	// Origin is empty for events raised in this process and holds the
	// publishing instance id for events received through a relay.
	Origin string
}

// Local reports whether the event was raised in this process.
func (e *Event) Local() bool {
	return e.Origin == ""
}

// DecodeAppointmentChange unmarshals the payload of an appointment event.
func DecodeAppointmentChange(event *Event) (models.AppointmentChange, error) {
	var change models.AppointmentChange
	err := json.Unmarshal(event.Payload, &change)
	return change, err
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

type subscriber struct {
	id      uint64
	handler EventHandler
}

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]subscriber
	nextID      uint64
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]subscriber)}
}

// Subscribe registers a handler for the given event types and returns a
// function that removes it again.
func (b *EventBus) Subscribe(handler EventHandler, eventTypes ...string) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	for _, eventType := range eventTypes {
		b.subscribers[eventType] = append(b.subscribers[eventType], subscriber{id: id, handler: handler})
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id, eventTypes) })
	}
}

func (b *EventBus) unsubscribe(id uint64, eventTypes []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, eventType := range eventTypes {
		subs := b.subscribers[eventType]
		kept := subs[:0]
		for _, s := range subs {
			if s.id != id {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(b.subscribers, eventType)
			continue
		}
		b.subscribers[eventType] = kept
	}
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]subscriber(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, s := range handlers {
		// Handlers run synchronously; they hand slow work off themselves.
		_ = s.handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}

	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
