package tracking

import (
	"context"
	"sync"

	"github.com/phuslu/log"

	"nuha.dev/ridertrack/internal/latest"
	"nuha.dev/ridertrack/internal/location"
	"nuha.dev/ridertrack/internal/transport"
	"nuha.dev/ridertrack/internal/wire"
)

const (
	PUBLISH_STARTED string = "publish_started"
	PUBLISH_STOPPED string = "publish_stopped"
	PUBLISH_ABORTED string = "publish_aborted"
)

type CoordinatorState int

const (
	Idle CoordinatorState = iota
	Connecting
	Streaming
	Stopped
)

func (s CoordinatorState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Sampler is the location source the coordinator drives.
type Sampler interface {
	Sample(ctx context.Context) (location.Fix, error)
	Start(ctx context.Context) (*location.Stream, error)
	Stop()
}

// Coordinator publishes one rider's fixes for one order. It runs once:
// Idle, Connecting, Streaming, then Stopped.
type Coordinator struct {
	actor     Actor
	sampler   Sampler
	transport Transport
	log       log.Logger
	state     *latest.Value[CoordinatorState]
	done      chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	session Session
	orderID string
	riderID string
	sent    uint64
	err     error
}

func NewCoordinator(actor Actor, sampler Sampler, tr Transport) *Coordinator {
	c := &Coordinator{}
	c.actor = actor
	c.sampler = sampler
	c.transport = tr
	c.state = latest.New(Idle)
	c.done = make(chan struct{})
	c.log = log.DefaultLogger
	c.log.Context = log.NewContext(nil).Str("module", "coordinator").Str("actor", actor.Name).Value()
	return c
}

func (c *Coordinator) MarshalObject(e *log.Entry) {
	c.mu.Lock()
	e.Str("order_id", c.orderID).Str("rider_id", c.riderID).Uint64("sent", c.sent)
	c.mu.Unlock()
}

func (c *Coordinator) State() CoordinatorState {
	return c.state.Load()
}

func (c *Coordinator) Watch(ctx context.Context) <-chan CoordinatorState {
	return c.state.Watch(ctx)
}

// Done is closed once the coordinator reaches Stopped.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err is the error that aborted publishing, nil after Stop.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Sent counts location messages handed to the transport.
func (c *Coordinator) Sent() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

// Start takes an initial fix, connects the order's session with it as the
// handshake and then publishes every sampled fix until Stop or an error.
// ctx bounds the startup only.
func (c *Coordinator) Start(ctx context.Context, orderID, riderID string) error {
	if !c.actor.Publishes {
		return ErrNotPublisher
	}
	c.mu.Lock()
	if c.state.Load() != Idle {
		c.mu.Unlock()
		return ErrStarted
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.orderID = orderID
	c.riderID = riderID
	c.state.Set(Connecting)
	c.mu.Unlock()

	sctx, scancel := context.WithCancel(ctx)
	defer scancel()
	stop := context.AfterFunc(runCtx, scancel)
	defer stop()

	fix, err := c.sampler.Sample(sctx)
	if err != nil {
		return c.abortStart(runCtx, err)
	}
	sess, err := c.transport.Acquire(orderID, c.actor)
	if err != nil {
		return c.abortStart(runCtx, err)
	}
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	err = sess.Connect(sctx, transport.Handshake{OrderID: orderID, RiderID: riderID, Latitude: fix.Latitude, Longitude: fix.Longitude})
	if err != nil {
		return c.abortStart(runCtx, err)
	}
	inbound := sess.Messages()
	stream, err := c.sampler.Start(runCtx)
	if err != nil {
		return c.abortStart(runCtx, err)
	}
	if runCtx.Err() != nil {
		return c.abortStart(runCtx, runCtx.Err())
	}

	c.state.Set(Streaming)
	c.log.Info().Str("event", PUBLISH_STARTED).EmbedObject(c).Msg("")
	go c.watchSession(runCtx, inbound)
	go c.run(runCtx, sess, stream, orderID, riderID)
	return nil
}

func (c *Coordinator) abortStart(runCtx context.Context, err error) error {
	if runCtx.Err() != nil {
		err = ErrStopped
		c.finish(nil)
	} else {
		c.finish(err)
	}
	return err
}

// run keeps one subscription to the sample stream for the whole Streaming
// state.
func (c *Coordinator) run(ctx context.Context, sess Session, stream *location.Stream, orderID, riderID string) {
	var err error
	for {
		var fix location.Fix
		fix, err = stream.Next(ctx)
		if err != nil {
			break
		}
		var payload string
		payload, err = wire.MarshalLocation(&wire.OutboundLocationMessage{
			OrderID: orderID, RiderID: riderID, Latitude: fix.Latitude, Longitude: fix.Longitude,
		})
		if err != nil {
			break
		}
		err = sess.Send(payload)
		if err != nil {
			break
		}
		c.mu.Lock()
		c.sent++
		c.mu.Unlock()
		if ctx.Err() != nil {
			break
		}
	}
	if ctx.Err() != nil {
		err = nil
	}
	c.finish(err)
}

// watchSession aborts publishing as soon as the connection ends. A normal
// closure from the server ends it without error. The rider does not consume
// inbound frames.
func (c *Coordinator) watchSession(ctx context.Context, r FrameReader) {
	for {
		_, err := r.Next(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() == nil {
			if transport.ClosedByPeer(err) {
				err = nil
			}
			c.abort(err)
		}
		return
	}
}

// abort records err and stops the run loop.
func (c *Coordinator) abort(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	cancel := c.cancel
	c.mu.Unlock()
	cancel()
}

// finish releases everything in order: sampler first, then the session.
func (c *Coordinator) finish(err error) {
	c.sampler.Stop()
	c.mu.Lock()
	sess, orderID := c.session, c.orderID
	c.session = nil
	if c.err == nil {
		c.err = err
	}
	err = c.err
	cancel := c.cancel
	c.mu.Unlock()
	if sess != nil {
		c.transport.Release(orderID, sess)
	}
	cancel()
	c.state.Set(Stopped)
	c.state.Close(nil)
	if err != nil {
		c.log.Error().Err(err).Str("event", PUBLISH_ABORTED).EmbedObject(c).Msg("")
	} else {
		c.log.Info().Str("event", PUBLISH_STOPPED).EmbedObject(c).Msg("")
	}
	close(c.done)
}

// Stop halts publishing after the fix in flight, stops the sampler and
// disconnects. It blocks until Stopped and is safe to call repeatedly.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-c.done
}
