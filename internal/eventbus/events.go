package eventbus

import (
	"context"
	"time"
)

// EventType represents the type of an event
type EventType string

// Standard event types
const (
	// Plan resolution events
	EventResolutionStarted EventType = "resolution_started"
	EventResolutionSuccess EventType = "resolution_success"
	EventResolutionFailure EventType = "resolution_failure"

	// Step execution events
	EventStepStarted  EventType = "step_started"
	EventStepSuccess  EventType = "step_success"
	EventStepFailure  EventType = "step_failure"
	EventStepCanceled EventType = "step_canceled"

	// Request lifecycle events
	EventRequestStarted EventType = "request_started"
	EventRequestSuccess EventType = "request_success"
	EventRequestFailure EventType = "request_failure"

	// Background task events (external async invocations)
	EventTaskSpawned  EventType = "task_spawned"
	EventTaskFinished EventType = "task_finished"
)

// EventHandler is a function that handles events
type EventHandler func(context.Context, Event) error

// Event represents something that has happened within the system
type Event interface {
	// Type returns the event type
	Type() EventType

	// Payload returns the event data
	Payload() interface{}

	// Metadata returns additional information about the event
	Metadata() map[string]interface{}

	// Timestamp returns when the event occurred
	Timestamp() int64

	// Source returns information about what generated the event
	Source() string
}

// EventBus distributes events to subscribed handlers.
type EventBus interface {
	// Publish delivers an event to all matching subscribers. Delivery is
	// asynchronous; Publish never blocks on handlers.
	Publish(ctx context.Context, event Event)

	// Subscribe registers a handler for one event type and returns a
	// subscription ID usable with Unsubscribe.
	Subscribe(eventType EventType, handler EventHandler) string

	// SubscribeAll registers a handler for every event type.
	SubscribeAll(handler EventHandler) string

	// Unsubscribe removes a subscription by ID.
	Unsubscribe(subscriptionID string)

	// Shutdown stops the bus and waits for in-flight deliveries.
	Shutdown(ctx context.Context) error
}

// BaseEvent is the standard Event implementation.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
	metadata  map[string]interface{}
	timestamp int64
	source    string
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, payload interface{}, source string, metadata map[string]interface{}) Event {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	return &BaseEvent{
		eventType: eventType,
		payload:   payload,
		metadata:  metadata,
		timestamp: time.Now().UnixNano(),
		source:    source,
	}
}

// Type returns the event type.
func (e *BaseEvent) Type() EventType { return e.eventType }

// Payload returns the event data.
func (e *BaseEvent) Payload() interface{} { return e.payload }

// Metadata returns additional information about the event.
func (e *BaseEvent) Metadata() map[string]interface{} { return e.metadata }

// Timestamp returns when the event occurred in nanoseconds since epoch.
func (e *BaseEvent) Timestamp() int64 { return e.timestamp }

// Source returns what generated the event.
func (e *BaseEvent) Source() string { return e.source }
