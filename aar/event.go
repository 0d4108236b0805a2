package aar

import "strconv"

// Event is a connection lifecycle event listeners can subscribe to.
type Event int

const (
	EventConnected Event = iota
	EventDisconnected

	numEvents
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	default:
		return "event(" + strconv.Itoa(int(e)) + ")"
	}
}

func (e Event) valid() bool {
	return e >= 0 && e < numEvents
}

// Listener wraps a callback. The pointer is the registration identity:
// registering the same *Listener twice keeps one registration, and Off
// needs the pointer that was passed to On.
type Listener struct {
	fn func()
}

func NewListener(fn func()) *Listener {
	return &Listener{fn: fn}
}

// listenerSet holds the listeners of one event. Iteration order is unspecified.
type listenerSet map[*Listener]struct{}

func (s listenerSet) snapshot() []*Listener {
	out := make([]*Listener, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	return out
}
