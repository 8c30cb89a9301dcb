// internal/handler/event_bus.go
package handler

import (
	"sync"

	"go.uber.org/zap"

	"dut-service/internal/model"
)

// AllEvents subscribes to every event type
const AllEvents model.EventType = "*"

// EventBus fans DUT events out to subscribers. Publishing never blocks;
// events are dropped when the bus or a subscriber falls behind.
type EventBus struct {
	subscribers map[model.EventType][]chan *model.DUTEvent
	events      chan *model.DUTEvent
	mutex       sync.RWMutex
	logger      *zap.Logger
	closeOnce   sync.Once
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[model.EventType][]chan *model.DUTEvent),
		events:      make(chan *model.DUTEvent, 1000),
		logger:      logger,
	}
}

// Start distributes events until Close is called
func (eb *EventBus) Start() {
	for event := range eb.events {
		eb.distributeEvent(event)
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	for _, subs := range eb.subscribers {
		for _, sub := range subs {
			close(sub)
		}
	}
	eb.subscribers = make(map[model.EventType][]chan *model.DUTEvent)
}

// Close stops the bus and closes all subscriber channels
func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() {
		eb.mutex.Lock()
		close(eb.events)
		eb.events = nil
		eb.mutex.Unlock()
	})
}

// Publish queues an event for distribution
func (eb *EventBus) Publish(event *model.DUTEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	if eb.events == nil {
		return
	}

	select {
	case eb.events <- event:
	default:
		if eb.logger != nil {
			eb.logger.Warn("Event bus full, dropping event",
				zap.String("event_type", string(event.EventType)),
			)
		}
	}
}

// Subscribe returns a channel receiving events of eventType, or of every
// type for AllEvents.
func (eb *EventBus) Subscribe(eventType model.EventType) <-chan *model.DUTEvent {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan *model.DUTEvent, 100)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
	return subscriber
}

// Unsubscribe removes and closes a channel returned by Subscribe
func (eb *EventBus) Unsubscribe(ch <-chan *model.DUTEvent) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	for eventType, subs := range eb.subscribers {
		for i, sub := range subs {
			if sub == ch {
				eb.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(sub)
				return
			}
		}
	}
}

func (eb *EventBus) distributeEvent(event *model.DUTEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	deliver := func(subscribers []chan *model.DUTEvent) {
		for _, subscriber := range subscribers {
			select {
			case subscriber <- event:
			default:
				// slow subscriber
			}
		}
	}
	deliver(eb.subscribers[event.EventType])
	deliver(eb.subscribers[AllEvents])
}
