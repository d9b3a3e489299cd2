package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/phuslu/log"

	"nuha.dev/ridertrack/internal/latest"
	"nuha.dev/ridertrack/internal/polyline"
	"nuha.dev/ridertrack/internal/transport"
	"nuha.dev/ridertrack/internal/wire"
)

const (
	TRACKING_OPENED  string = "tracking_opened"
	TRACKING_CLOSED  string = "tracking_closed"
	TRACKING_FAILED  string = "tracking_failed"
	FRAME_DROPPED    string = "frame_dropped"
	STATUS_NO_EFFECT string = "status_no_effect"
)

// TrackingState is what the presentation layer reads: the last good frame
// and its decoded route.
type TrackingState struct {
	Frame    wire.InboundTrackingFrame
	Route    []polyline.Point
	Received time.Time
	Seq      uint64
}

// Subscriber follows one order at a time for a customer or a restaurant.
type Subscriber struct {
	actor     Actor
	transport Transport
	riders    RiderResolver
	log       log.Logger
	state     *latest.Value[*TrackingState]
	conn      *latest.Value[transport.ConnectionState]
	connMu    sync.Mutex

	mu      sync.Mutex
	orderID string
	session Session
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	seq     uint64
	dropped uint64
}

func NewSubscriber(actor Actor, tr Transport, riders RiderResolver) *Subscriber {
	s := &Subscriber{}
	s.actor = actor
	s.transport = tr
	s.riders = riders
	s.state = latest.New[*TrackingState](nil)
	s.conn = latest.New(transport.Disconnected)
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "subscriber").Str("actor", actor.Name).Value()
	return s
}

// State is the latest tracking state, nil until the first good frame.
func (s *Subscriber) State() *TrackingState {
	return s.state.Load()
}

func (s *Subscriber) Watch(ctx context.Context) <-chan *TrackingState {
	return s.state.Watch(ctx)
}

func (s *Subscriber) ConnectionState() transport.ConnectionState {
	return s.conn.Load()
}

func (s *Subscriber) WatchConnection(ctx context.Context) <-chan transport.ConnectionState {
	return s.conn.Watch(ctx)
}

// Err is the error that ended the last tracking attempt.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Dropped counts frames discarded because they did not parse.
func (s *Subscriber) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// OnStatus reacts to the order's status. The actor's in-transit status opens
// tracking unless it is already open, a terminal status closes it and any
// other status is ignored.
func (s *Subscriber) OnStatus(ctx context.Context, orderID, status string) error {
	switch {
	case s.actor.Tracks(status):
		return s.open(ctx, orderID)
	case s.actor.IsTerminal(status):
		s.mu.Lock()
		cur := s.orderID
		s.mu.Unlock()
		if cur == orderID {
			s.Close()
		}
		return nil
	default:
		s.log.Debug().Str("event", STATUS_NO_EFFECT).Str("order_id", orderID).Str("status", status).Msg("")
		return nil
	}
}

func (s *Subscriber) open(ctx context.Context, orderID string) error {
	s.mu.Lock()
	if s.session != nil && s.orderID == orderID {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	// following a different order now
	s.Close()

	riderID, err := s.riders.RiderFor(ctx, orderID)
	if err == nil && riderID == "" {
		err = ErrNoRider
	}
	if err != nil {
		s.setErr(err)
		return err
	}
	sess, err := s.transport.Acquire(orderID, s.actor)
	if err != nil {
		s.setErr(err)
		return err
	}
	s.setConn(transport.Connecting)
	err = sess.Connect(ctx, transport.Handshake{OrderID: orderID, RiderID: riderID})
	if err != nil {
		s.transport.Release(orderID, sess)
		s.setErr(err)
		s.setConn(transport.Failed)
		s.setConn(transport.Disconnected)
		s.log.Error().Err(err).Str("event", TRACKING_FAILED).Str("order_id", orderID).Msg("")
		return err
	}
	r := sess.Messages()

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.orderID = orderID
	s.session = sess
	s.cancel = cancel
	s.done = done
	s.err = nil
	s.mu.Unlock()
	s.setConn(transport.Connected)
	s.log.Info().Str("event", TRACKING_OPENED).Str("order_id", orderID).Str("rider_id", riderID).Msg("")
	go s.consume(runCtx, sess, r, done)
	return nil
}

// setConn moves the published connection state along the session lifecycle.
// Err keeps the cause of a failure after the state settles on Disconnected.
func (s *Subscriber) setConn(to transport.ConnectionState) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	from := s.conn.Load()
	if from == to {
		return
	}
	if !transport.ValidTransition(from, to) {
		s.log.Error().Str("from", from.String()).Str("to", to.String()).Msg("invalid connection transition")
		return
	}
	s.conn.Set(to)
}

func (s *Subscriber) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Subscriber) consume(ctx context.Context, sess Session, r FrameReader, done chan struct{}) {
	defer close(done)
	for {
		frame, err := r.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.fail(sess, err)
			}
			return
		}
		s.apply(frame)
	}
}

// apply folds one inbound frame into the state. Blank frames are keep-alives;
// frames that do not parse are dropped and the previous state stays.
func (s *Subscriber) apply(frame string) bool {
	if wire.IsKeepAlive(frame) {
		return false
	}
	f, route, err := wire.ParseFrame(frame)
	if err != nil {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.log.Warn().Err(err).Str("event", FRAME_DROPPED).Msg("")
		return false
	}
	s.mu.Lock()
	s.seq++
	st := &TrackingState{Frame: *f, Route: route, Received: time.Now(), Seq: s.seq}
	s.mu.Unlock()
	s.state.Set(st)
	return true
}

func (s *Subscriber) fail(sess Session, err error) {
	s.mu.Lock()
	if s.session != sess {
		s.mu.Unlock()
		return
	}
	orderID := s.orderID
	s.session = nil
	s.orderID = ""
	peer := transport.ClosedByPeer(err)
	if !peer {
		s.err = err
	}
	s.mu.Unlock()
	s.transport.Release(orderID, sess)
	if peer {
		s.setConn(transport.Disconnected)
		s.log.Info().Str("event", TRACKING_CLOSED).Str("order_id", orderID).Msg("closed by server")
		return
	}
	s.setConn(transport.Failed)
	s.setConn(transport.Disconnected)
	s.log.Error().Err(err).Str("event", TRACKING_FAILED).Str("order_id", orderID).Msg("")
}

// Close stops following the current order. The last tracking state is kept.
// Calling Close with nothing open does nothing.
func (s *Subscriber) Close() {
	s.mu.Lock()
	sess, orderID, cancel, done := s.session, s.orderID, s.cancel, s.done
	s.session = nil
	s.orderID = ""
	s.mu.Unlock()
	if sess == nil {
		return
	}
	cancel()
	s.transport.Release(orderID, sess)
	<-done
	s.setConn(transport.Disconnected)
	s.log.Info().Str("event", TRACKING_CLOSED).Str("order_id", orderID).Msg("")
}
