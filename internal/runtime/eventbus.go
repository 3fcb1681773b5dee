package runtime

import (
	"sync"
	"time"
)

// EventType represents the type of pipeline event.
type EventType string

const (
	EventFrameDropped      EventType = "frame_dropped"
	EventCaptureFailed     EventType = "capture_failed"
	EventExtractionFailed  EventType = "extraction_failed"
	EventCycleSkipped      EventType = "cycle_skipped"
	EventProviderRequested EventType = "provider_requested"
	EventProviderFailed    EventType = "provider_failed"
	EventAnalysisUpdated   EventType = "analysis_updated"
	EventCycleFailed       EventType = "cycle_failed"
	EventKeyInfoAdded      EventType = "key_info_added"
)

// Event represents a pipeline event with associated data.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

// EventHandler is a function that handles events. Handlers run on the
// publishing goroutine and must not block.
type EventHandler func(Event)

// EventBus manages event publication and subscription.
// It lets the pipeline stages report without knowing who listens.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
	clock       func() time.Time
}

// NewEventBus creates a new event bus. A nil clock uses time.Now.
func NewEventBus(clock func() time.Time) *EventBus {
	if clock == nil {
		clock = time.Now
	}
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
		clock:    clock,
	}
}

// Subscribe registers a handler for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types.
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allHandlers = append(eb.allHandlers, handler)
}

// Publish sends an event to all registered handlers.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = eb.clock()
	}

	for _, handler := range eb.handlers[event.Type] {
		handler(event)
	}
	for _, handler := range eb.allHandlers {
		handler(event)
	}
}

// PublishWithData publishes an event with associated data.
func (eb *EventBus) PublishWithData(eventType EventType, data map[string]any) {
	eb.Publish(Event{
		Type: eventType,
		Data: data,
	})
}

// Counter tallies events by type. Subscribe its Handle method.
type Counter struct {
	mu     sync.Mutex
	counts map[EventType]int
}

func NewCounter() *Counter {
	return &Counter{counts: make(map[EventType]int)}
}

func (c *Counter) Handle(e Event) {
	c.mu.Lock()
	c.counts[e.Type]++
	c.mu.Unlock()
}

// Count returns how many events of type t were seen.
func (c *Counter) Count(t EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[t]
}

// Snapshot returns a copy of all counts.
func (c *Counter) Snapshot() map[EventType]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[EventType]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
