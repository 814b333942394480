package game

import (
	"context"

	"github.com/lox/toninas/internal/controller"
)

// Signal names an event published by a session.
type Signal string

const (
	SignalHealthCheck Signal = "health_check"
	SignalStatus      Signal = "status"
	SignalWin         Signal = "win"
	SignalTimeout     Signal = "timeout"
	SignalConfig      Signal = "config"
)

// String returns the string representation of the signal
func (s Signal) String() string {
	return string(s)
}

// Event is one message on the outbound stream. Value is omitted for
// signals without a payload.
type Event struct {
	Signal Signal `json:"signal"`
	Value  any    `json:"value,omitempty"`
}

// HealthValue is the payload of a health_check event.
type HealthValue struct {
	Sender   controller.Health `json:"sender"`
	Receiver controller.Health `json:"receiver"`
}

// Publisher receives the events of a running session. Publish is only ever
// called from the session's loop goroutine, one event at a time.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, Event) error { return nil })

func HealthCheckEvent(sender, receiver controller.Health) Event {
	return Event{Signal: SignalHealthCheck, Value: HealthValue{Sender: sender, Receiver: receiver}}
}

// StatusEvent copies state so later ticks cannot mutate a published event.
func StatusEvent(state []int) Event {
	return Event{Signal: SignalStatus, Value: append([]int{}, state...)}
}

func WinEvent() Event {
	return Event{Signal: SignalWin}
}

func TimeoutEvent() Event {
	return Event{Signal: SignalTimeout}
}

func ConfigEvent(snap Snapshot) Event {
	return Event{Signal: SignalConfig, Value: snap}
}
