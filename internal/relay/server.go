// Package relay is the websocket server between riders and the people
// following them. It accepts rider fixes, turns them into tracking frames
// and fans the frames out to every customer and restaurant watching the
// order.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mustafaturan/bus/v3"
	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"
	hashids "github.com/speps/go-hashids/v2"
	"nhooyr.io/websocket"

	"nuha.dev/ridertrack/internal/order"
	"nuha.dev/ridertrack/internal/polyline"
	"nuha.dev/ridertrack/internal/store"
	"nuha.dev/ridertrack/internal/tracking"
	"nuha.dev/ridertrack/internal/util"
	"nuha.dev/ridertrack/internal/wire"
)

const (
	RIDER_CONNECTED      string = "rider_connected"
	RIDER_DISCONNECTED   string = "rider_disconnected"
	WATCHER_CONNECTED    string = "watcher_connected"
	WATCHER_DISCONNECTED string = "watcher_disconnected"
	HANDSHAKE_REJECTED   string = "handshake_rejected"
	FIX_REJECTED         string = "fix_rejected"
	ORDER_UPDATED        string = "order_updated"
	PUBLISH_FAILED       string = "publish_failed"
	CACHE_FAILED         string = "cache_failed"
)

type ServerConfig struct {
	ListenAddr       string
	ProxyProtocol    bool
	TokenHash        string
	AllowedOrigins   []string
	Keepalive        time.Duration
	HandshakeTimeout time.Duration
	Progress         ProgressConfig
	NodeID           uint64
	HashidsSalt      string
}

type Server struct {
	config      *ServerConfig
	log         log.Logger
	r           chi.Router
	s           *http.Server
	hubs        *HubMap
	orders      store.OrderStore
	bus         *bus.Bus
	metrics     *Metrics
	cache       FrameCache
	ids         *hashids.HashID
	cid_counter uint64
	now         func() time.Time
}

func NewServer(orders store.OrderStore, locations store.LocationStore, config *ServerConfig) (*Server, error) {
	s := &Server{config: config}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "relay").Value()
	if s.config.HandshakeTimeout <= 0 {
		s.config.HandshakeTimeout = time.Second
	}
	if s.config.Progress.SpeedKmh <= 0 {
		s.config.Progress.SpeedKmh = 25
	}
	if len(s.config.AllowedOrigins) == 0 {
		s.config.AllowedOrigins = []string{"https://*", "http://*"}
	}
	s.orders = orders
	s.hubs = NewHubMap()
	s.metrics = NewMetrics()
	s.now = time.Now

	hd := hashids.NewData()
	hd.Salt = config.HashidsSalt
	hd.MinLength = 8
	ids, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, err
	}
	s.ids = ids

	b, err := NewBus(config.NodeID)
	if err != nil {
		return nil, err
	}
	s.bus = b
	s.bus.RegisterHandler("metrics", metricsHandler(s.metrics))
	if locations != nil {
		s.bus.RegisterHandler("store", storeHandler(locations))
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", s.metrics.Handler())
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/status", s.status)
		r.Get("/orders/{orderId}", s.getOrder)
		r.Put("/orders/{orderId}", s.putOrder)
		r.Get("/ws/rider/{orderId}", s.serveRider)
		r.Get("/ws/{actor}/{orderId}", s.serveWatcher)
	})
	s.r = r

	// Write and read timeouts would outlive the upgrade and cut websocket
	// connections, so only the header read is bounded.
	s.s = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s, nil
}

// SetCache makes the relay remember the last frame of every order in c and
// replay it to watchers joining an order the relay has not seen yet.
func (s *Server) SetCache(c FrameCache) {
	s.cache = c
	s.bus.RegisterHandler("cache", cacheHandler(c, &s.log))
}

// SetPublisher forwards accepted fixes to p under subject.<orderId>.
func (s *Server) SetPublisher(p Publisher, subject string) {
	s.bus.RegisterHandler("publish", publishHandler(p, subject, &s.log))
}

func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) Hubs() *HubMap {
	return s.hubs
}

// Run serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		s.log.Error().Err(err).Msg("unable to listen")
		return err
	}
	if s.config.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln}
	}
	s.log.Info().Msgf("starting relay on : %s", ln.Addr())
	err = s.s.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	s.log.Error().Err(err).Msg("")
	return err
}

// Shutdown stops accepting connections and ends every order stream.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.s.Shutdown(ctx)
	s.hubs.CloseAll()
	return err
}

func (s *Server) nextConnID() string {
	n := atomic.AddUint64(&s.cid_counter, 1)
	id, err := s.ids.EncodeInt64([]int64{int64(n)})
	if err != nil {
		panic(err)
	}
	return id
}

func (s *Server) emit(topic string, data interface{}) {
	err := s.bus.Emit(context.Background(), topic, data)
	if err != nil {
		s.log.Error().Err(err).Str("topic", topic).Msg("emit failed")
	}
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.TokenHash != "" && !util.CheckPwd(s.config.TokenHash, util.BearerToken(r)) {
			s.metrics.Rejected.WithLabelValues("auth").Inc()
			util.JsonError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, s.hubs.Status())
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.orders.Get(r.Context(), chi.URLParam(r, "orderId"))
	if errors.Is(err, order.ErrNotFound) {
		util.JsonError(w, http.StatusNotFound, "unknown order")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("order lookup failed")
		util.JsonError(w, http.StatusInternalServerError, "order lookup failed")
		return
	}
	util.JsonWrite(w, o)
}

// putOrder creates or updates an order. Moving an order to a terminal status
// ends its stream for everyone.
func (s *Server) putOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	u := &order.Update{}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(u); err != nil {
		util.JsonError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := u.Validate(); err != nil {
		util.JsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	if u.Route != "" {
		if _, err := polyline.Decode(u.Route); err != nil {
			util.JsonError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	o, err := s.orders.Get(r.Context(), orderID)
	if errors.Is(err, order.ErrNotFound) {
		o = &order.Order{OrderID: orderID}
	} else if err != nil {
		s.log.Error().Err(err).Msg("order lookup failed")
		util.JsonError(w, http.StatusInternalServerError, "order lookup failed")
		return
	}
	o.Apply(u, s.now())
	if o.Status == "" {
		util.JsonError(w, http.StatusBadRequest, "status required")
		return
	}
	if err := s.orders.Save(r.Context(), o); err != nil {
		s.log.Error().Err(err).Msg("order save failed")
		util.JsonError(w, http.StatusInternalServerError, "order save failed")
		return
	}
	s.log.Info().Str("event", ORDER_UPDATED).Str("order_id", orderID).Str("status", o.Status).Msg("")
	finished := tracking.Customer.IsTerminal(o.Status)
	if hub, ok := s.hubs.GetHub(orderID, false); ok {
		_ = hub.SetOrder(o)
		if finished {
			s.hubs.Remove(orderID)
		}
	}
	if finished && s.cache != nil {
		if err := s.cache.Forget(r.Context(), orderID); err != nil {
			s.log.Warn().Str("event", CACHE_FAILED).Err(err).Str("order_id", orderID).Msg("")
		}
	}
	util.JsonWrite(w, o)
}

// lookup loads the order of a websocket request, answering the request
// itself when the order cannot be streamed.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request, orderID string) (*order.Order, bool) {
	o, err := s.orders.Get(r.Context(), orderID)
	if errors.Is(err, order.ErrNotFound) {
		s.metrics.Rejected.WithLabelValues("unknown_order").Inc()
		util.JsonError(w, http.StatusNotFound, "unknown order")
		return nil, false
	}
	if err != nil {
		s.log.Error().Err(err).Msg("order lookup failed")
		util.JsonError(w, http.StatusInternalServerError, "order lookup failed")
		return nil, false
	}
	if tracking.Customer.IsTerminal(o.Status) {
		s.metrics.Rejected.WithLabelValues("order_finished").Inc()
		util.JsonError(w, http.StatusGone, "order finished")
		return nil, false
	}
	return o, true
}

// openHub returns the order's hub, creating it if needed. The order is read
// again once the hub exists: a terminal status saved after lookup removes the
// hub here or in putOrder, whichever comes second.
func (s *Server) openHub(ctx context.Context, orderID string) (*Hub, bool) {
	hub, _ := s.hubs.GetHub(orderID, true)
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		s.log.Error().Err(err).Str("order_id", orderID).Msg("order lookup failed")
		return nil, false
	}
	if tracking.Customer.IsTerminal(o.Status) {
		s.hubs.Remove(orderID)
		return nil, false
	}
	hub.InitOrder(o)
	return hub, true
}

// handshake reads the first message of a connection, which must be a
// location message for orderID.
func (s *Server) handshake(ctx context.Context, c *websocket.Conn, orderID string) (*wire.OutboundLocationMessage, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.config.HandshakeTimeout)
	defer cancel()
	_, msg, err := c.Read(readCtx)
	if err != nil {
		return nil, err
	}
	m, err := wire.ParseLocation(msg)
	if err != nil {
		return nil, err
	}
	if m.OrderID != orderID {
		return nil, errors.New("handshake for another order")
	}
	return m, nil
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, CompressionMode: websocket.CompressionDisabled,
	})
}

func (s *Server) serveRider(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	o, ok := s.lookup(w, r, orderID)
	if !ok {
		return
	}
	c, err := s.accept(w, r)
	if err != nil {
		s.log.Error().Err(err).Msg("Error while upgrading websocket")
		return
	}
	cid := s.nextConnID()
	ctx := r.Context()

	m, err := s.handshake(ctx, c, orderID)
	if err == nil && (o.RiderID == "" || m.RiderID != o.RiderID) {
		err = errors.New("rider not assigned to order")
	}
	if err != nil {
		s.metrics.Rejected.WithLabelValues("handshake").Inc()
		s.log.Info().Str("event", HANDSHAKE_REJECTED).Str("conn_id", cid).Str("order_id", orderID).Err(err).Msg("")
		c.Close(websocket.StatusPolicyViolation, "invalid handshake")
		return
	}
	hub, ok := s.openHub(ctx, orderID)
	if !ok {
		c.Close(websocket.StatusNormalClosure, "order finished")
		return
	}
	if !hub.ClaimRider(cid) {
		s.metrics.Rejected.WithLabelValues("session_active").Inc()
		s.log.Info().Str("event", HANDSHAKE_REJECTED).Str("conn_id", cid).Str("order_id", orderID).Msg("rider already connected")
		c.Close(websocket.StatusPolicyViolation, "session active")
		return
	}
	defer hub.ReleaseRider(cid)

	ev := &SessionEvent{OrderID: orderID, ConnID: cid, Actor: tracking.Rider.Name}
	s.log.Info().Str("event", RIDER_CONNECTED).EmbedObject(ev).Str("rider_id", m.RiderID).Msg("")
	s.emit(TopicSessionOpened, ev)
	defer func() {
		s.emit(TopicSessionClosed, ev)
		s.log.Info().Str("event", RIDER_DISCONNECTED).EmbedObject(ev).Msg("")
	}()

	s.track(hub, m)
	for {
		if hub.Closed() {
			c.Close(websocket.StatusNormalClosure, "order finished")
			return
		}
		_, msg, err := c.Read(ctx)
		if err != nil {
			s.log.Debug().Err(err).EmbedObject(ev).Msg("rider read ended")
			return
		}
		if wire.IsKeepAlive(string(msg)) {
			continue
		}
		fix, err := wire.ParseLocation(msg)
		if err == nil && (fix.OrderID != orderID || fix.RiderID != m.RiderID) {
			err = errors.New("fix for another order or rider")
		}
		if err != nil {
			s.metrics.Rejected.WithLabelValues("fix").Inc()
			s.log.Warn().Str("event", FIX_REJECTED).EmbedObject(ev).Err(err).Msg("")
			continue
		}
		s.track(hub, fix)
	}
}

// track turns an accepted fix into a frame for the order's watchers.
func (s *Server) track(hub *Hub, m *wire.OutboundLocationMessage) {
	o, route := hub.Order()
	f := ComputeFrame(o, route, polyline.Point{Lat: m.Latitude, Lng: m.Longitude}, &s.config.Progress)
	d, err := wire.MarshalFrame(f)
	if err != nil {
		s.log.Error().Err(err).Str("order_id", m.OrderID).Msg("frame marshal failed")
		return
	}
	hub.Send(d)
	s.emit(TopicLocation, &LocationEvent{
		OrderID: m.OrderID, RiderID: m.RiderID, Latitude: m.Latitude, Longitude: m.Longitude,
		Phase: f.DeliveryPhase, At: s.now(), Frame: d,
	})
}

func (s *Server) serveWatcher(w http.ResponseWriter, r *http.Request) {
	actor, ok := tracking.ActorByName(chi.URLParam(r, "actor"))
	if !ok || actor.Publishes {
		util.JsonError(w, http.StatusNotFound, "unknown actor")
		return
	}
	orderID := chi.URLParam(r, "orderId")
	if _, ok := s.lookup(w, r, orderID); !ok {
		return
	}
	c, err := s.accept(w, r)
	if err != nil {
		s.log.Error().Err(err).Msg("Error while upgrading websocket")
		return
	}
	cid := s.nextConnID()
	ctx := r.Context()
	if _, err := s.handshake(ctx, c, orderID); err != nil {
		s.metrics.Rejected.WithLabelValues("handshake").Inc()
		s.log.Info().Str("event", HANDSHAKE_REJECTED).Str("conn_id", cid).Str("order_id", orderID).Err(err).Msg("")
		c.Close(websocket.StatusPolicyViolation, "invalid handshake")
		return
	}

	hub, ok := s.openHub(ctx, orderID)
	if !ok {
		c.Close(websocket.StatusNormalClosure, "order finished")
		return
	}
	if hub.Last() == nil && s.cache != nil {
		d, err := s.cache.Frame(ctx, orderID)
		if err != nil {
			s.log.Warn().Str("event", CACHE_FAILED).Err(err).Str("order_id", orderID).Msg("")
		} else if d != nil {
			hub.Seed(d)
		}
	}
	wt := newWatcher(c, cid, s.metrics, s.log)
	if !hub.Subscribe(wt) {
		c.Close(websocket.StatusNormalClosure, "order finished")
		return
	}
	defer hub.Unsubscribe(wt)

	ev := &SessionEvent{OrderID: orderID, ConnID: cid, Actor: actor.Name}
	s.log.Info().Str("event", WATCHER_CONNECTED).EmbedObject(ev).Msg("")
	s.emit(TopicSessionOpened, ev)
	wt.run(ctx, s.config.Keepalive)
	s.emit(TopicSessionClosed, ev)
	s.log.Info().Str("event", WATCHER_DISCONNECTED).EmbedObject(ev).EmbedObject(wt).Msg("")
}
