package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(BlockCreatedEvent{...})
func (b *Bus) Publish(ev Event) {
	// kelindar/event routes on the static type, so dispatch per concrete type
	switch e := ev.(type) {
	case BlockCreatedEvent:
		event.Publish(b.dispatcher, e)
	case BlockRecoveredEvent:
		event.Publish(b.dispatcher, e)
	case BlockAttachedEvent:
		event.Publish(b.dispatcher, e)
	case BlockLostEvent:
		event.Publish(b.dispatcher, e)
	case ChannelStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case ChannelStatsEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type determines which events it receives.
// Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e BlockLostEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(BlockCreatedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BlockRecoveredEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BlockAttachedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BlockLostEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ChannelStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ChannelStatsEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Unknown handler types are ignored
		return func() {}
	}
}
