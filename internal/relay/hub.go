package relay

import (
	"sort"
	"sync"

	"nuha.dev/ridertrack/internal/order"
	"nuha.dev/ridertrack/internal/polyline"
)

// Subscriber receives the frames of one order. Push must not block; it
// returns true once the subscriber is gone so the hub can drop it.
type Subscriber interface {
	Push(orderID string, d []byte) bool
	Close()
}

type HubMap struct {
	mu   *sync.Mutex
	list map[string]*Hub
}

// Hub is the fan-out point of one order: the order as last written, its
// decoded route, the connected rider and every watcher.
type Hub struct {
	key    string
	list   map[Subscriber]bool
	data   []byte
	order  *order.Order
	route  []polyline.Point
	rider  string
	closed bool
	mu     *sync.Mutex
}

type HubStatus struct {
	OrderID  string `json:"orderId"`
	Status   string `json:"status"`
	Rider    string `json:"riderConn,omitempty"`
	Watchers int    `json:"watchers"`
	HasFrame bool   `json:"hasFrame"`
}

func NewHubMap() *HubMap {
	m := HubMap{}
	m.mu = &sync.Mutex{}
	m.list = map[string]*Hub{}
	return &m
}

func (s *HubMap) GetHub(key string, create bool) (*Hub, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.list[key]
	if ok {
		return h, true
	}
	if !create {
		return nil, false
	}
	h = &Hub{}
	h.list = make(map[Subscriber]bool)
	h.key = key
	h.mu = &sync.Mutex{}
	s.list[key] = h
	return h, true
}

// Remove closes the hub of key and all of its watchers.
func (s *HubMap) Remove(key string) {
	s.mu.Lock()
	h, ok := s.list[key]
	delete(s.list, key)
	s.mu.Unlock()
	if ok {
		h.Close()
	}
}

func (s *HubMap) Status() []HubStatus {
	s.mu.Lock()
	hubs := make([]*Hub, 0, len(s.list))
	for _, h := range s.list {
		hubs = append(hubs, h)
	}
	s.mu.Unlock()
	res := make([]HubStatus, 0, len(hubs))
	for _, h := range hubs {
		res = append(res, h.Status())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].OrderID < res[j].OrderID })
	return res
}

// Subscribe adds sub and replays the last frame to it. It returns false if
// the hub was already closed.
func (s *Hub) Subscribe(sub Subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.list[sub] = true
	if s.data != nil {
		sub.Push(s.key, s.data)
	}
	return true
}

func (s *Hub) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	delete(s.list, sub)
	s.mu.Unlock()
}

// Send stores d as the last frame and pushes it to every watcher.
func (s *Hub) Send(d []byte) {
	s.mu.Lock()
	s.data = d
	for sub := range s.list {
		closed := sub.Push(s.key, d)
		if closed {
			delete(s.list, sub)
		}
	}
	s.mu.Unlock()
}

// Seed sets the last frame if none was sent yet.
func (s *Hub) Seed(d []byte) {
	s.mu.Lock()
	if s.data == nil {
		s.data = d
	}
	s.mu.Unlock()
}

func (s *Hub) Last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// SetOrder replaces the hub's order. A route that fails to decode is kept
// empty and the error returned.
func (s *Hub) SetOrder(o *order.Order) error {
	route, err := polyline.Decode(o.Route)
	if err != nil {
		route = nil
	}
	s.mu.Lock()
	s.order = o
	s.route = route
	s.mu.Unlock()
	return err
}

// InitOrder sets o unless the hub already has an order.
func (s *Hub) InitOrder(o *order.Order) {
	s.mu.Lock()
	has := s.order != nil
	s.mu.Unlock()
	if !has {
		_ = s.SetOrder(o)
	}
}

// CloseAll closes every hub, as done on shutdown.
func (s *HubMap) CloseAll() {
	s.mu.Lock()
	hubs := s.list
	s.list = map[string]*Hub{}
	s.mu.Unlock()
	for _, h := range hubs {
		h.Close()
	}
}

// Order returns the order with its decoded route. Callers must not modify
// either.
func (s *Hub) Order() (*order.Order, []polyline.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order, s.route
}

// ClaimRider makes cid the order's rider connection unless another one holds
// it.
func (s *Hub) ClaimRider(cid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.rider != "" && s.rider != cid) {
		return false
	}
	s.rider = cid
	return true
}

func (s *Hub) ReleaseRider(cid string) {
	s.mu.Lock()
	if s.rider == cid {
		s.rider = ""
	}
	s.mu.Unlock()
}

func (s *Hub) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Hub) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := make([]Subscriber, 0, len(s.list))
	for sub := range s.list {
		subs = append(subs, sub)
	}
	s.list = map[Subscriber]bool{}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

func (s *Hub) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

func (s *Hub) Status() HubStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := HubStatus{OrderID: s.key, Rider: s.rider, Watchers: len(s.list), HasFrame: s.data != nil}
	if s.order != nil {
		st.Status = s.order.Status
	}
	return st
}
