package relay

import "time"

// EventKind names a relay lifecycle transition.
type EventKind string

const (
	EventConnected     EventKind = "connected"
	EventDisconnected  EventKind = "disconnected"
	EventStreamStarted EventKind = "stream_started"
	EventStreamEnded   EventKind = "stream_ended"
	EventViewerJoined  EventKind = "viewer_joined"
	EventViewerLeft    EventKind = "viewer_left"
	EventHostChanged   EventKind = "host_changed"
	EventRouted        EventKind = "routed"
	EventDropped       EventKind = "dropped"
)

// Drop reasons reported with EventDropped.
const (
	DropMalformed     = "malformed"
	DropUnknownType   = "unknown_type"
	DropServerOnly    = "server_only"
	DropUnbound       = "unbound"
	DropSpoofed       = "spoofed"
	DropNoRoom        = "no_room"
	DropNotMember     = "not_member"
	DropNotHost       = "not_host"
	DropHostTaken     = "host_taken"
	DropForbidden     = "forbidden"
	DropNoTarget      = "no_target"
	DropInvalidSignal = "invalid_signal"
	DropQueueFull     = "queue_full"
)

// Event is handed to the Observer from the relay loop.
type Event struct {
	Kind     EventKind
	UserID   UserID
	StreamID StreamID
	Type     Type
	Reason   string
	At       time.Time
}

// Observer receives relay events. Observe runs on the relay loop and must
// not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) Observe(Event) {}

func (r *Relay) observe(e Event) {
	if e.At.IsZero() {
		e.At = r.opts.Now()
	}
	r.observer.Observe(e)
}
