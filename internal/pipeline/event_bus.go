package pipeline

import (
	"context"
	"log"
	"sync"

	"watchpost/internal/database"
)

// EventBus fans stored events out to subscribers such as the websocket hub
// and the NATS publisher.
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	name    string
	handler EventHandler
	channel chan *database.DetectionEvent
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler and returns an unsubscribe function.
func (b *EventBus) Subscribe(name string, handler EventHandler) func() {
	sub := &eventSubscription{name: name, handler: handler}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a buffered channel of events. Events are dropped
// for a subscriber whose channel is full.
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *database.DetectionEvent, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *database.DetectionEvent, bufferSize)
	sub := &eventSubscription{channel: ch}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}
}

// Publish delivers ev to every subscriber. A panicking handler is logged and
// does not stop delivery to the others.
func (b *EventBus) Publish(ctx context.Context, ev *database.DetectionEvent) {
	if ev == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.handler != nil {
			b.deliver(ctx, sub, ev)
			continue
		}
		select {
		case sub.channel <- ev:
		default:
		}
	}
}

func (b *EventBus) deliver(ctx context.Context, sub *eventSubscription, ev *database.DetectionEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[EventBus] Subscriber %s panicked on event %d: %v", sub.name, ev.ID, r)
		}
	}()
	sub.handler.OnEvent(ctx, ev)
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
