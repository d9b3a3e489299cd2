package tracking

import (
	"context"
	"errors"

	"nuha.dev/ridertrack/internal/transport"
)

var (
	ErrStopped      = errors.New("tracking stopped")
	ErrStarted      = errors.New("tracking already started")
	ErrNotPublisher = errors.New("actor does not publish locations")
	ErrNoRider      = errors.New("order has no rider assigned")
)

// FrameReader is one cursor over a session's inbound frames.
type FrameReader interface {
	Next(ctx context.Context) (string, error)
}

// Session is the part of transport.Session the tracking loops use.
type Session interface {
	Connect(ctx context.Context, hs transport.Handshake) error
	Send(payload string) error
	Messages() FrameReader
	Disconnect() error
	State() transport.ConnectionState
}

// Transport hands out the single session of an order and takes it back.
type Transport interface {
	Acquire(orderID string, actor Actor) (Session, error)
	Release(orderID string, s Session)
}

// RiderResolver looks up the rider assigned to an order.
type RiderResolver interface {
	RiderFor(ctx context.Context, orderID string) (string, error)
}

type registrySession struct {
	*transport.Session
}

func (s registrySession) Messages() FrameReader {
	return s.Session.Messages()
}

type registryTransport struct {
	reg *transport.Registry
}

// NewTransport serves sessions from reg.
func NewTransport(reg *transport.Registry) Transport {
	return &registryTransport{reg: reg}
}

func (t *registryTransport) Acquire(orderID string, actor Actor) (Session, error) {
	s, err := t.reg.Acquire(orderID, actor.Path)
	if err != nil {
		return nil, err
	}
	return registrySession{s}, nil
}

func (t *registryTransport) Release(orderID string, s Session) {
	rs, ok := s.(registrySession)
	if !ok {
		_ = s.Disconnect()
		return
	}
	t.reg.Release(orderID, rs.Session)
}
