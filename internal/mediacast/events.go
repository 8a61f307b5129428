package mediacast

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventStaged         EventType = "file_staged"
	EventDelivered      EventType = "delivered"
	EventDeliveryFailed EventType = "delivery_failed"
	EventExhausted      EventType = "delivery_exhausted"
	EventReclaimed      EventType = "file_reclaimed"
	EventDiscarded      EventType = "file_discarded"
)

// DeliveryEvent describes one observable step of a distribution run. Events
// are advisory: slow or absent subscribers never block delivery.
type DeliveryEvent struct {
	EventID string    `json:"eventId"`
	Type    EventType `json:"type"`
	File    string    `json:"file"`
	Kind    string    `json:"kind,omitempty"`
	ChatID  int64     `json:"chatId,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      string    `json:"at"`
}

const eventSubscriberBuffer = 64

// EventBus is a small in-process fan-out of delivery events. Publish never
// blocks; a subscriber whose buffer is full misses the event.
type EventBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan DeliveryEvent
}

func NewEventBus() *EventBus {
	return &EventBus{subs: map[int]chan DeliveryEvent{}}
}

// Subscribe registers a listener. The returned cancel func must be called to
// release the subscription; the channel is closed by it.
func (b *EventBus) Subscribe() (<-chan DeliveryEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan DeliveryEvent, eventSubscriberBuffer)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

func (b *EventBus) Publish(event DeliveryEvent) {
	if b == nil {
		return
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.At == "" {
		event.At = time.Now().UTC().Format(time.RFC3339)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
