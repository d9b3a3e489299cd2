package transport

import (
	"errors"
	"fmt"

	"nhooyr.io/websocket"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrSendQueueFull    = errors.New("send queue full")
	ErrClosed           = errors.New("connection closed")
	ErrSessionActive    = errors.New("session already active for order")
)

// TransportError covers connect, send and read/write failures on a session.
// Op is one of "connect", "send", "read" or "write".
type TransportError struct {
	Op      string
	OrderID string
	Err     error
}

func (e *TransportError) Error() string {
	if e.OrderID == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s order %s: %v", e.Op, e.OrderID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ClosedByPeer reports whether err is the server ending the connection with
// a normal closure, as the relay does once an order is finished.
func ClosedByPeer(err error) bool {
	return websocket.CloseStatus(err) == websocket.StatusNormalClosure
}
