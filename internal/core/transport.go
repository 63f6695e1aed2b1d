package core

import "context"

// Identity is who we register as on the chat network.
type Identity struct {
	Nick     string
	User     string
	RealName string
}

// Conn is one chat connection. Its events arrive on Events in the order
// they happened; the channel is closed after a ConnectionLost event.
type Conn interface {
	Events() <-chan Event
	Join(channel string) error
	Send(target, text string) error
	Quit(reason string) error
}

// Dialer opens chat connections.
type Dialer interface {
	Dial(ctx context.Context, addr string, id Identity) (Conn, error)
}
