// Package wsx abstracts the duplex transport used by the realtime core. The
// connection state machine talks to these interfaces only; production wires
// the gorilla-backed dialer and tests substitute an in-memory pair.
package wsx

import "context"

// Conn is one open duplex channel carrying text frames.
type Conn interface {
	// ReadMessage blocks until the next inbound frame or a transport error.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one outbound frame.
	WriteMessage(data []byte) error

	// Close tears the channel down. Safe to call more than once.
	Close() error
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}
