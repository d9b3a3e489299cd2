package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nhooyr.io/websocket"

	"nuha.dev/ridertrack/internal/latest"
	"nuha.dev/ridertrack/internal/util"
	"nuha.dev/ridertrack/internal/wire"
)

const (
	SESSION_CONNECTING string = "session_connecting"
	SESSION_CONNECTED  string = "session_connected"
	SESSION_FAILED     string = "session_failed"
	SESSION_CLOSED     string = "session_closed"
)

type Config struct {
	URL              string
	Path             string
	Token            string
	SendQueue        int
	Backlog          int
	HandshakeTimeout time.Duration
	ReadLimit        int64
}

func (c Config) withDefaults() Config {
	if c.SendQueue <= 0 {
		c.SendQueue = 64
	}
	if c.Backlog <= 0 {
		c.Backlog = 32
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	return c
}

type Handshake struct {
	OrderID   string
	RiderID   string
	Latitude  float64
	Longitude float64
}

// Session owns one websocket for one order. Its connection state is written
// only by the session itself; callers read snapshots through State and
// WatchState.
type Session struct {
	id      string
	config  Config
	log     log.Logger
	state   *latest.Value[ConnectionState]
	mu      sync.Mutex
	orderID string
	cur     *link
	lastErr error
}

// link is the per-connection half of a session, replaced on every Connect.
type link struct {
	c      *websocket.Conn
	outq   chan []byte
	bcast  *Broadcast
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSession(config *Config) *Session {
	s := &Session{}
	s.id = util.GenUUID()
	s.config = config.withDefaults()
	s.state = latest.New(Disconnected)
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "transport").Str("session", s.id).Value()
	return s
}

func (s *Session) MarshalObject(e *log.Entry) {
	e.Str("session", s.id).Str("path", s.config.Path)
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() ConnectionState {
	return s.state.Load()
}

func (s *Session) WatchState(ctx context.Context) <-chan ConnectionState {
	return s.state.Watch(ctx)
}

// LastError is the error that ended the most recent connection, nil after a
// clean Disconnect.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// setState must be called with s.mu held.
func (s *Session) setState(to ConnectionState) {
	from := s.state.Load()
	if from == to {
		return
	}
	if !ValidTransition(from, to) {
		s.log.Warn().EmbedObject(s).Msgf("ignoring transition %s -> %s", from, to)
		return
	}
	s.state.Set(to)
}

// Connect dials the server and sends the handshake. It does not retry; on
// failure the session is back to Disconnected and a *TransportError is
// returned.
func (s *Session) Connect(ctx context.Context, hs Handshake) error {
	s.mu.Lock()
	if s.cur != nil {
		s.mu.Unlock()
		return &TransportError{Op: "connect", OrderID: hs.OrderID, Err: ErrAlreadyConnected}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	l := &link{cancel: cancel}
	s.cur = l
	s.orderID = hs.OrderID
	s.lastErr = nil
	s.setState(Connecting)
	s.mu.Unlock()
	s.log.Info().Str("event", SESSION_CONNECTING).EmbedObject(s).Str("order_id", hs.OrderID).Msg("")

	c, err := s.dial(ctx, runCtx, hs)
	if err != nil {
		return s.fail(l, "connect", err)
	}

	s.mu.Lock()
	if s.cur != l {
		s.mu.Unlock()
		_ = c.Close(websocket.StatusNormalClosure, "disconnect")
		return &TransportError{Op: "connect", OrderID: hs.OrderID, Err: ErrClosed}
	}
	l.c = c
	l.outq = make(chan []byte, s.config.SendQueue)
	l.bcast = NewBroadcast(s.config.Backlog)
	s.setState(Connected)
	l.wg.Add(2)
	go s.readLoop(runCtx, l)
	go s.writeLoop(runCtx, l)
	s.mu.Unlock()
	s.log.Info().Str("event", SESSION_CONNECTED).EmbedObject(s).Str("order_id", hs.OrderID).Msg("")
	return nil
}

func (s *Session) endpoint(orderID string) string {
	return strings.TrimRight(s.config.URL, "/") + "/ws/" + s.config.Path + "/" + url.PathEscape(orderID)
}

func (s *Session) dial(ctx, runCtx context.Context, hs Handshake) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	hdr := http.Header{}
	if s.config.Token != "" {
		hdr.Set("Authorization", "Bearer "+s.config.Token)
	}
	c, _, err := websocket.Dial(dctx, s.endpoint(hs.OrderID), &websocket.DialOptions{
		HTTPHeader: hdr, CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return nil, err
	}
	if s.config.ReadLimit > 0 {
		c.SetReadLimit(s.config.ReadLimit)
	}
	payload, err := wire.MarshalLocation(&wire.OutboundLocationMessage{
		OrderID: hs.OrderID, RiderID: hs.RiderID, Latitude: hs.Latitude, Longitude: hs.Longitude,
	})
	if err != nil {
		_ = c.Close(websocket.StatusPolicyViolation, "invalid handshake")
		return nil, err
	}
	err = c.Write(dctx, websocket.MessageText, []byte(payload))
	if err != nil {
		_ = c.Close(websocket.StatusInternalError, "handshake failed")
		return nil, err
	}
	return c, nil
}

// fail ends link l after an error. Links that were already replaced or
// disconnected are left alone.
func (s *Session) fail(l *link, op string, err error) error {
	s.mu.Lock()
	orderID := s.orderID
	te := &TransportError{Op: op, OrderID: orderID, Err: err}
	if s.cur != l {
		s.mu.Unlock()
		return te
	}
	s.cur = nil
	s.lastErr = te
	c := l.c
	s.setState(Failed)
	s.setState(Disconnected)
	s.mu.Unlock()

	l.cancel()
	if c != nil {
		_ = c.Close(websocket.StatusInternalError, op+" failed")
	}
	if l.bcast != nil {
		l.bcast.Close(te)
	}
	s.log.Error().Err(err).Str("event", SESSION_FAILED).Str("op", op).EmbedObject(s).Str("order_id", orderID).Msg("")
	return te
}

func (s *Session) readLoop(ctx context.Context, l *link) {
	defer l.wg.Done()
	for {
		_, msg, err := l.c.Read(ctx)
		if err != nil {
			s.fail(l, "read", err)
			return
		}
		l.bcast.Publish(string(msg))
	}
}

func (s *Session) writeLoop(ctx context.Context, l *link) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-l.outq:
			err := l.c.Write(ctx, websocket.MessageText, d)
			if err != nil {
				s.fail(l, "write", err)
				return
			}
		}
	}
}

// Send queues one text frame. Frames leave in the order they were queued;
// there is no acknowledgement.
func (s *Session) Send(payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || s.cur.outq == nil {
		return &TransportError{Op: "send", OrderID: s.orderID, Err: ErrNotConnected}
	}
	select {
	case s.cur.outq <- []byte(payload):
		return nil
	default:
		return &TransportError{Op: "send", OrderID: s.orderID, Err: ErrSendQueueFull}
	}
}

// Messages returns a new cursor over the inbound frames of the current
// connection, starting with the oldest one still retained, so frames the
// server sends right after the handshake are not lost. When not connected
// the reader fails immediately.
func (s *Session) Messages() *Reader {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || s.cur.bcast == nil {
		b := NewBroadcast(1)
		b.Close(&TransportError{Op: "read", OrderID: s.orderID, Err: ErrNotConnected})
		return b.Subscribe()
	}
	return s.cur.bcast.Replay()
}

// Disconnect closes the connection if there is one. Calling it again, or on
// a session that never connected, does nothing.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	l := s.cur
	if l == nil {
		s.mu.Unlock()
		return nil
	}
	s.cur = nil
	c := l.c
	orderID := s.orderID
	s.setState(Disconnected)
	s.mu.Unlock()

	if c != nil {
		_ = c.Close(websocket.StatusNormalClosure, "disconnect")
	}
	l.cancel()
	l.wg.Wait()
	if l.bcast != nil {
		l.bcast.Close(&TransportError{Op: "read", OrderID: orderID, Err: ErrClosed})
	}
	s.log.Info().Str("event", SESSION_CLOSED).EmbedObject(s).Str("order_id", orderID).Msg("")
	return nil
}
