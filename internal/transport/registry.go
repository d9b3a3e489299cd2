package transport

import "sync"

// Registry hands out at most one Session per order in this process.
type Registry struct {
	mu     sync.Mutex
	config Config
	list   map[string]*Session
}

func NewRegistry(config *Config) *Registry {
	return &Registry{config: *config, list: make(map[string]*Session)}
}

// Acquire creates the session for orderID, talking to the endpoint selected
// by path. It fails with ErrSessionActive while another session for the same
// order has not been released.
func (r *Registry) Acquire(orderID, path string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.list[orderID]; ok {
		return nil, &TransportError{Op: "connect", OrderID: orderID, Err: ErrSessionActive}
	}
	conf := r.config
	conf.Path = path
	s := NewSession(&conf)
	r.list[orderID] = s
	return s, nil
}

// Release disconnects s and frees the order slot if s still holds it.
func (r *Registry) Release(orderID string, s *Session) {
	_ = s.Disconnect()
	r.mu.Lock()
	if cur, ok := r.list[orderID]; ok && cur == s {
		delete(r.list, orderID)
	}
	r.mu.Unlock()
}

func (r *Registry) Get(orderID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.list[orderID]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.list)
}
