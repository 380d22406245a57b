// Package eventbus provides event distribution for agent lifecycle events.
package eventbus

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

// ChannelEventBus is an EventBus backed by a buffered channel and a small
// pool of dispatch workers.
type ChannelEventBus struct {
	// subscribers maps event types to subscription IDs to handlers
	subscribers map[EventType]map[string]EventHandler

	// allSubscribers receive every event regardless of type
	allSubscribers map[string]EventHandler

	// eventChan carries published events to the workers
	eventChan chan queuedEvent

	// done signals shutdown to the workers
	done chan struct{}

	closed bool

	wg    sync.WaitGroup
	mutex sync.RWMutex

	bufferSize  int
	workerCount int
}

// queuedEvent bundles an event with the context it was published under.
type queuedEvent struct {
	ctx   context.Context
	event Event
}

// ChannelEventBusOption configures the channel-based event bus.
type ChannelEventBusOption func(*ChannelEventBus)

// WithBufferSize sets the event channel buffer size.
func WithBufferSize(size int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		if size > 0 {
			eb.bufferSize = size
		}
	}
}

// WithWorkerCount sets the number of dispatch workers.
func WithWorkerCount(count int) ChannelEventBusOption {
	return func(eb *ChannelEventBus) {
		if count > 0 {
			eb.workerCount = count
		}
	}
}

// NewChannelEventBus creates a channel-based event bus and starts its
// dispatch workers.
func NewChannelEventBus(options ...ChannelEventBusOption) *ChannelEventBus {
	eb := &ChannelEventBus{
		subscribers:    make(map[EventType]map[string]EventHandler),
		allSubscribers: make(map[string]EventHandler),
		done:           make(chan struct{}),
		bufferSize:     100,
		workerCount:    5,
	}

	for _, option := range options {
		option(eb)
	}

	eb.eventChan = make(chan queuedEvent, eb.bufferSize)

	for i := 0; i < eb.workerCount; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	return eb
}

func (eb *ChannelEventBus) worker() {
	defer eb.wg.Done()

	for {
		select {
		case <-eb.done:
			// Drain anything still queued before exiting.
			for {
				select {
				case evt := <-eb.eventChan:
					eb.dispatch(evt)
				default:
					return
				}
			}
		case evt := <-eb.eventChan:
			eb.dispatch(evt)
		}
	}
}

// dispatch delivers one event to all matching handlers.
func (eb *ChannelEventBus) dispatch(evt queuedEvent) {
	if evt.ctx.Err() != nil {
		return
	}

	// Copy the handler sets so handlers can subscribe or unsubscribe
	// without deadlocking against dispatch.
	eb.mutex.RLock()
	handlers := make([]EventHandler, 0, len(eb.allSubscribers))
	if typed, ok := eb.subscribers[evt.event.Type()]; ok {
		for _, handler := range typed {
			handlers = append(handlers, handler)
		}
	}
	for _, handler := range eb.allSubscribers {
		handlers = append(handlers, handler)
	}
	eb.mutex.RUnlock()

	for _, handler := range handlers {
		if evt.ctx.Err() != nil {
			return
		}
		if err := handler(evt.ctx, evt.event); err != nil {
			// A failing handler must not stop the others.
			log.Printf("Event handler error (event_type: %s): %v", evt.event.Type(), err)
		}
	}
}

// Publish queues an event for delivery. Events published after shutdown or
// on a cancelled context are dropped.
func (eb *ChannelEventBus) Publish(ctx context.Context, event Event) {
	eb.mutex.RLock()
	closed := eb.closed
	eb.mutex.RUnlock()
	if closed {
		return
	}

	select {
	case <-ctx.Done():
	case <-eb.done:
	case eb.eventChan <- queuedEvent{ctx: ctx, event: event}:
	}
}

// Subscribe registers a handler for one event type.
func (eb *ChannelEventBus) Subscribe(eventType EventType, handler EventHandler) string {
	if handler == nil {
		return ""
	}

	subscriptionID := uuid.New().String()

	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	if _, exists := eb.subscribers[eventType]; !exists {
		eb.subscribers[eventType] = make(map[string]EventHandler)
	}
	eb.subscribers[eventType][subscriptionID] = handler

	return subscriptionID
}

// SubscribeAll registers a handler for every event type.
func (eb *ChannelEventBus) SubscribeAll(handler EventHandler) string {
	if handler == nil {
		return ""
	}

	subscriptionID := uuid.New().String()

	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	eb.allSubscribers[subscriptionID] = handler

	return subscriptionID
}

// Unsubscribe removes a subscription by ID.
func (eb *ChannelEventBus) Unsubscribe(subscriptionID string) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	delete(eb.allSubscribers, subscriptionID)
	for eventType := range eb.subscribers {
		delete(eb.subscribers[eventType], subscriptionID)
	}
}

// Shutdown stops the workers and waits for queued events to drain or the
// context to expire.
func (eb *ChannelEventBus) Shutdown(ctx context.Context) error {
	eb.mutex.Lock()
	if eb.closed {
		eb.mutex.Unlock()
		return nil
	}
	eb.closed = true
	eb.mutex.Unlock()

	close(eb.done)

	finished := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
