package events

import (
	"errors"
	"testing"

	"offsync/internal/models"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	handler := func(event *Event) error {
		received = event
		callCount++
		return nil
	}

	bus.Subscribe("test_event", handler)

	if err := bus.Publish(&Event{Type: "test_event", Payload: "hello"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}

	if received.Payload != "hello" {
		t.Errorf("expected payload hello, got %v", received.Payload)
	}

	if received.CreatedAt.IsZero() {
		t.Errorf("expected CreatedAt to be set")
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe("event", func(_ *Event) error { count1++; return errors.New("first") })
	bus.Subscribe("event", func(_ *Event) error { count2++; return errors.New("second") })

	err := bus.Publish(&Event{Type: "event"})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}
	if err == nil || err.Error() != "first" {
		t.Errorf("expected first handler error, got %v", err)
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Should not panic
	if err := bus.Publish(&Event{Type: "unknown"}); err != nil {
		t.Errorf("Publish failed: %v", err)
	}

	var nilBus *EventBus
	if err := nilBus.PublishEntityChanged(EntityChanged{}); err != nil {
		t.Errorf("nil bus should be a no-op, got %v", err)
	}
}

func TestTypedSubscriptions(t *testing.T) {
	bus := NewEventBus()

	var changes []EntityChanged
	bus.OnEntityChanged(func(c EntityChanged) error {
		changes = append(changes, c)
		return nil
	})

	var statuses []bool
	bus.OnNetworkStatusChanged(func(s NetworkStatusChanged) {
		statuses = append(statuses, s.Available)
	})

	var pushes, pulls int
	bus.OnCompleted(DirectionPush, func(Completed) { pushes++ })
	bus.OnCompleted(DirectionPull, func(Completed) { pulls++ })

	after := &models.Resource{Type: "Patient", Key: "p1"}
	if err := bus.PublishEntityChanged(EntityChanged{ResourceType: "Patient", Key: "p1", Operation: models.OperationInsert, After: after}); err != nil {
		t.Fatalf("PublishEntityChanged failed: %v", err)
	}
	// A payload of the wrong shape is ignored by the typed handler.
	_ = bus.Publish(&Event{Type: EventEntityChanged, Payload: 42})

	_ = bus.PublishNetworkStatus(NetworkStatusChanged{Available: true})
	_ = bus.PublishCompleted(Completed{Direction: DirectionPush})
	_ = bus.PublishCompleted(Completed{Direction: DirectionPull})
	_ = bus.PublishCompleted(Completed{Direction: DirectionPull})

	if len(changes) != 1 || changes[0].After != after {
		t.Errorf("expected one entity change carrying the resource, got %+v", changes)
	}
	if len(statuses) != 1 || !statuses[0] {
		t.Errorf("expected one available status, got %v", statuses)
	}
	if pushes != 1 || pulls != 2 {
		t.Errorf("expected 1 push and 2 pulls, got %d and %d", pushes, pulls)
	}
}
