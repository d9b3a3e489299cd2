package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"nuha.dev/ridertrack/internal/location"
	"nuha.dev/ridertrack/internal/transport"
)

type fakeSession struct {
	mu          sync.Mutex
	hs          transport.Handshake
	connects    int
	disconnects int
	connectErr  error
	sendErr     error
	sent        []string
	sendCh      chan string
	bcast       *transport.Broadcast
	state       transport.ConnectionState
}

func (f *fakeSession) Connect(ctx context.Context, hs transport.Handshake) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.hs = hs
	if f.connectErr != nil {
		return f.connectErr
	}
	f.state = transport.Connected
	f.bcast = transport.NewBroadcast(16)
	return nil
}

func (f *fakeSession) Send(payload string) error {
	f.mu.Lock()
	if f.sendErr != nil {
		f.mu.Unlock()
		return f.sendErr
	}
	f.sent = append(f.sent, payload)
	ch := f.sendCh
	f.mu.Unlock()
	if ch != nil {
		ch <- payload
	}
	return nil
}

func (f *fakeSession) Messages() FrameReader {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bcast == nil {
		b := transport.NewBroadcast(1)
		b.Close(transport.ErrNotConnected)
		return b.Subscribe()
	}
	return f.bcast.Subscribe()
}

func (f *fakeSession) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == transport.Connected {
		f.disconnects++
		f.bcast.Close(transport.ErrClosed)
	}
	f.state = transport.Disconnected
	return nil
}

func (f *fakeSession) State() transport.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) push(frame string) {
	f.mu.Lock()
	b := f.bcast
	f.mu.Unlock()
	b.Publish(frame)
}

// drop simulates the server going away.
func (f *fakeSession) drop(err error) {
	f.mu.Lock()
	f.state = transport.Disconnected
	b := f.bcast
	f.mu.Unlock()
	b.Close(err)
}

func (f *fakeSession) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

type fakeTransport struct {
	mu       sync.Mutex
	next     func() *fakeSession
	sessions []*fakeSession
	acquires int
	releases int
	active   map[string]bool
}

func newFakeTransport(next func() *fakeSession) *fakeTransport {
	if next == nil {
		next = func() *fakeSession { return &fakeSession{} }
	}
	return &fakeTransport{next: next, active: map[string]bool{}}
}

func (t *fakeTransport) Acquire(orderID string, actor Actor) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active[orderID] {
		return nil, transport.ErrSessionActive
	}
	t.acquires++
	t.active[orderID] = true
	s := t.next()
	t.sessions = append(t.sessions, s)
	return s, nil
}

func (t *fakeTransport) Release(orderID string, s Session) {
	s.Disconnect()
	t.mu.Lock()
	t.releases++
	delete(t.active, orderID)
	t.mu.Unlock()
}

func (t *fakeTransport) last() *fakeSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[len(t.sessions)-1]
}

func (t *fakeTransport) counts() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acquires, t.releases
}

// chanProvider hands out exactly the fixes the test feeds it.
type chanProvider struct {
	ch chan location.Fix
}

func (p *chanProvider) Current(ctx context.Context) (location.Fix, error) {
	select {
	case f := <-p.ch:
		return f, nil
	case <-ctx.Done():
		return location.Fix{}, ctx.Err()
	}
}

type mapResolver map[string]string

func (m mapResolver) RiderFor(ctx context.Context, orderID string) (string, error) {
	return m[orderID], nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
