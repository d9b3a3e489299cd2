package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mustafaturan/bus/v3"
	"github.com/mustafaturan/monoton/v2"
	"github.com/mustafaturan/monoton/v2/sequencer"
	"github.com/phuslu/log"

	"nuha.dev/ridertrack/internal/store"
)

const (
	TopicLocation      string = "rider.location"
	TopicSessionOpened string = "session.opened"
	TopicSessionClosed string = "session.closed"
)

// LocationEvent is emitted for every fix the relay accepts.
type LocationEvent struct {
	OrderID   string    `json:"orderId"`
	RiderID   string    `json:"riderId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Phase     string    `json:"deliveryPhase"`
	At        time.Time `json:"at"`
	Frame     []byte    `json:"-"`
}

type SessionEvent struct {
	OrderID string `json:"orderId"`
	ConnID  string `json:"connId"`
	Actor   string `json:"actor"`
}

func (e *SessionEvent) MarshalObject(le *log.Entry) {
	le.Str("order_id", e.OrderID).Str("conn_id", e.ConnID).Str("actor", e.Actor)
}

// Publisher is the subset of *nats.Conn the relay needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NewBus returns an event bus with the relay topics registered. Event ids
// come from a monoton generator seeded with node.
func NewBus(node uint64) (*bus.Bus, error) {
	m, err := monoton.New(sequencer.NewMillisecond(), node, uint64(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()))
	if err != nil {
		return nil, err
	}
	var idGen bus.Next = m.Next
	b, err := bus.NewBus(idGen)
	if err != nil {
		return nil, err
	}
	b.RegisterTopics(TopicLocation, TopicSessionOpened, TopicSessionClosed)
	return b, nil
}

// storeHandler hands every accepted fix to the location store.
func storeHandler(s store.LocationStore) bus.Handler {
	return bus.Handler{
		Handle: func(ctx context.Context, e bus.Event) {
			ev, ok := e.Data.(*LocationEvent)
			if !ok {
				return
			}
			s.Put(ev.OrderID, ev.RiderID, ev.Latitude, ev.Longitude, ev.At)
		},
		Matcher: "^" + TopicLocation + "$",
	}
}

// publishHandler forwards fixes to subject.<orderId>.
func publishHandler(p Publisher, subject string, l *log.Logger) bus.Handler {
	return bus.Handler{
		Handle: func(ctx context.Context, e bus.Event) {
			ev, ok := e.Data.(*LocationEvent)
			if !ok {
				return
			}
			d, err := json.Marshal(ev)
			if err != nil {
				return
			}
			if err := p.Publish(subject+"."+ev.OrderID, d); err != nil {
				l.Warn().Str("event", PUBLISH_FAILED).Err(err).Str("order_id", ev.OrderID).Msg("")
			}
		},
		Matcher: "^" + TopicLocation + "$",
	}
}

// cacheHandler keeps the last frame of every order in c.
func cacheHandler(c FrameCache, l *log.Logger) bus.Handler {
	return bus.Handler{
		Handle: func(ctx context.Context, e bus.Event) {
			ev, ok := e.Data.(*LocationEvent)
			if !ok || ev.Frame == nil {
				return
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := c.SetFrame(ctx, ev.OrderID, ev.Frame); err != nil {
					l.Warn().Str("event", CACHE_FAILED).Err(err).Str("order_id", ev.OrderID).Msg("")
				}
			}()
		},
		Matcher: "^" + TopicLocation + "$",
	}
}

// metricsHandler counts fixes and tracks open sessions per actor.
func metricsHandler(m *Metrics) bus.Handler {
	return bus.Handler{
		Handle: func(ctx context.Context, e bus.Event) {
			switch ev := e.Data.(type) {
			case *LocationEvent:
				m.Fixes.WithLabelValues(ev.Phase).Inc()
			case *SessionEvent:
				if e.Topic == TopicSessionOpened {
					m.Sessions.WithLabelValues(ev.Actor).Inc()
				} else {
					m.Sessions.WithLabelValues(ev.Actor).Dec()
				}
			}
		},
		Matcher: ".*",
	}
}
