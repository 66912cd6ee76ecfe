package events

import (
	"sync"
	"time"

	"offsync/internal/models"
)

const (
	EventEntityChanged        = "entity_changed"
	EventNetworkStatusChanged = "network_status_changed"
	EventPushCompleted        = "push_completed"
	EventPullCompleted        = "pull_completed"
)

// EntityChanged is published by the local repository after a successful write.
// Before is only set for updates whose previous image was available.
type EntityChanged struct {
	ResourceType string
	Key          string
	Operation    models.Operation
	Before       *models.Resource
	After        *models.Resource
}

// NetworkStatusChanged is published when upstream reachability flips.
type NetworkStatusChanged struct {
	Available bool
	Changed   time.Time
}

// Direction names the side of synchronization a completion event belongs to.
type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
)

// Completed is published when a lock-protected push or pull section exits.
type Completed struct {
	Direction Direction
	Started   time.Time
	Finished  time.Time
	Err       error
}

// Event represents a lightweight in-process event.
type Event struct {
	Type      string
	Payload   interface{}
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

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

// Publish notifies subscribers of the event type and returns the first handler error.
func (b *EventBus) Publish(event *Event) error {
	if b == nil {
		return nil
	}

	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var first error
	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// PublishEntityChanged publishes a local write notification.
func (b *EventBus) PublishEntityChanged(change EntityChanged) error {
	return b.Publish(&Event{Type: EventEntityChanged, Payload: change})
}

// PublishNetworkStatus publishes a reachability transition.
func (b *EventBus) PublishNetworkStatus(status NetworkStatusChanged) error {
	return b.Publish(&Event{Type: EventNetworkStatusChanged, Payload: status})
}

// PublishCompleted publishes a push or pull completion.
func (b *EventBus) PublishCompleted(c Completed) error {
	eventType := EventPullCompleted
	if c.Direction == DirectionPush {
		eventType = EventPushCompleted
	}
	return b.Publish(&Event{Type: eventType, Payload: c})
}

// OnEntityChanged subscribes a typed handler to local write notifications.
func (b *EventBus) OnEntityChanged(fn func(EntityChanged) error) {
	b.Subscribe(EventEntityChanged, func(event *Event) error {
		change, ok := event.Payload.(EntityChanged)
		if !ok {
			return nil
		}
		return fn(change)
	})
}

// OnNetworkStatusChanged subscribes a typed handler to reachability transitions.
func (b *EventBus) OnNetworkStatusChanged(fn func(NetworkStatusChanged)) {
	b.Subscribe(EventNetworkStatusChanged, func(event *Event) error {
		if status, ok := event.Payload.(NetworkStatusChanged); ok {
			fn(status)
		}
		return nil
	})
}

// OnCompleted subscribes a typed handler to completions of one direction.
func (b *EventBus) OnCompleted(direction Direction, fn func(Completed)) {
	eventType := EventPullCompleted
	if direction == DirectionPush {
		eventType = EventPushCompleted
	}
	b.Subscribe(eventType, func(event *Event) error {
		if c, ok := event.Payload.(Completed); ok {
			fn(c)
		}
		return nil
	})
}
