package comm

import (
	"fmt"
	"time"
)

// State is the connection state of a Client.
type State int

const (
	StateNone State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind classifies a notification published by a Client.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventConnectionLost
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventConnectionLost:
		return "connection_lost"
	case EventMessage:
		return "message"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// MarshalText lets events be serialised with readable kinds.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is one notification. Text is set for EventMessage only, with the
// delimiter already stripped.
type Event struct {
	Kind EventKind `json:"kind"`
	Text string    `json:"text,omitempty"`
	Time time.Time `json:"time"`
}

// Sink receives the notifications of a Client.
//
// Notify is called in event order while the Client holds its lock, so it
// must return quickly and must not call back into the Client.
type Sink interface {
	Notify(e Event)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(e Event)

func (f SinkFunc) Notify(e Event) { f(e) }
