// Package events carries sequencer lifecycle events to the status tracker,
// metrics and MQTT publisher. Delivery is asynchronous. Events of one type
// reach a subscriber in publish order; events of different types may
// interleave.
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

// Publish publishes an event to all subscribers.
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case RunStarted:
		event.Publish(b.dispatcher, e)
	case StepApplied:
		event.Publish(b.dispatcher, e)
	case RunFinished:
		event.Publish(b.dispatcher, e)
	}
}

// OnRunStarted subscribes to RunStarted events. Returns an unsubscribe function.
func (b *Bus) OnRunStarted(handler func(RunStarted)) func() {
	return event.Subscribe(b.dispatcher, handler)
}

// OnStepApplied subscribes to StepApplied events. Returns an unsubscribe function.
func (b *Bus) OnStepApplied(handler func(StepApplied)) func() {
	return event.Subscribe(b.dispatcher, handler)
}

// OnRunFinished subscribes to RunFinished events. Returns an unsubscribe function.
func (b *Bus) OnRunFinished(handler func(RunFinished)) func() {
	return event.Subscribe(b.dispatcher, handler)
}
