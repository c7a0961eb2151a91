package events

import (
	"context"
	"sync"

	"github.com/agent-mesh/agent-mesh/pkg/observability"
)

// Subscription identifies a registered handler so it can be removed later
type Subscription struct {
	eventType EventType
	id        int
}

type subscriber struct {
	id      int
	handler Handler
}

// Bus is an in-process event bus. Handlers run synchronously in
// registration order; a failing handler does not stop the others.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[EventType][]subscriber
	closed   bool
	logger   observability.Logger
}

// NewBus creates a new in-process event bus
func NewBus(logger observability.Logger) *Bus {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Bus{
		handlers: make(map[EventType][]subscriber),
		logger:   logger,
	}
}

// Subscribe registers a handler for events of a specific type
func (b *Bus) Subscribe(eventType EventType, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[eventType] = append(b.handlers[eventType], subscriber{id: b.nextID, handler: handler})
	return Subscription{eventType: eventType, id: b.nextID}
}

// Unsubscribe removes a previously registered handler
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[sub.eventType]
	for i, s := range subs {
		if s.id == sub.id {
			b.handlers[sub.eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to all handlers registered for its type
func (b *Bus) Publish(ctx context.Context, event *DomainEvent) error {
	if event == nil {
		return nil
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil
	}
	subs := b.handlers[event.Type]
	// Copy so handlers can subscribe or unsubscribe without deadlocking
	subsCopy := make([]subscriber, len(subs))
	copy(subsCopy, subs)
	b.mu.RUnlock()

	for _, s := range subsCopy {
		if err := s.handler(ctx, event); err != nil {
			b.logger.Warn("Event handler failed", map[string]interface{}{
				"event_type": string(event.Type),
				"event_id":   event.ID,
				"error":      err.Error(),
			})
		}
	}
	return nil
}

// PublishBatch publishes multiple events in order
func (b *Bus) PublishBatch(ctx context.Context, events []*DomainEvent) error {
	for _, event := range events {
		if err := b.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Close stops delivery and clears all handlers
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.handlers = make(map[EventType][]subscriber)
	return nil
}
