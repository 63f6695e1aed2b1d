package core

import (
	"github.com/bjarneo/shelfie/internal/protocol"
)

// State is the lifecycle state of a chat session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Joined
	Error
)

var stateNames = [...]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
	Joined:       "joined",
	Error:        "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText lets State render as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is the closed set of things that happen on a session. Switches over
// it should handle every variant declared in this file.
type Event interface {
	isEvent()
}

// Transport events, emitted by a chat connection in arrival order.
type (
	// Registered is sent once the server accepted the connection.
	Registered struct{ Nick string }
	// JoinedChannel is sent when our own JOIN to a channel was confirmed.
	JoinedChannel struct{ Channel, Nick string }
	// ConnectionLost ends every connection's event stream. Err is nil after
	// a voluntary quit.
	ConnectionLost struct{ Err error }
	Notice         struct{ From, Text string }
	TransferOffer  struct{ Offer protocol.Offer }
)

// Session lifecycle events.
type (
	StateChanged    struct{ From, To State }
	Reconnecting    struct{ Attempt, Max int }
	Reconnected     struct{ Attempt int }
	ReconnectFailed struct {
		Attempts int
		Err      error
	}
)

// TransferProgress reports bytes received for an inbound transfer.
type TransferProgress struct {
	FileName        string
	Received, Total int64
}

func (Registered) isEvent()       {}
func (JoinedChannel) isEvent()    {}
func (ConnectionLost) isEvent()   {}
func (Notice) isEvent()           {}
func (TransferOffer) isEvent()    {}
func (StateChanged) isEvent()     {}
func (Reconnecting) isEvent()     {}
func (Reconnected) isEvent()      {}
func (ReconnectFailed) isEvent()  {}
func (TransferProgress) isEvent() {}

// Observer receives session events. Observe is called from the session's
// event goroutine and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
