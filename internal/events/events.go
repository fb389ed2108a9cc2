package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the scheduling facade.
const (
	BookingCommitted   = "booking.committed"
	BookingCancelled   = "booking.cancelled"
	WindowChanged      = "window.changed"
	VenueWindowChanged = "venue_window.changed"
	AmenityChanged     = "amenity.changed"
)

// Event represents a lightweight domain event.
type Event struct {
	ID         string
	Type       string
	LocationID int64
	Payload    []byte
	CreatedAt  time.Time
}

// New builds an event with a fresh id and a JSON payload.
func New(eventType string, locationID int64, payload any) (Event, error) {
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
		}
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		LocationID: locationID,
		Payload:    data,
		CreatedAt:  time.Now(),
	}, nil
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish runs every subscriber of the event type in the caller's goroutine.
// All handlers run even if one fails; their errors are joined.
func (b *EventBus) Publish(event Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler: %w", event.Type, err))
		}
	}
	return errors.Join(errs...)
}
