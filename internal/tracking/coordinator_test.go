package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"nuha.dev/ridertrack/internal/location"
	"nuha.dev/ridertrack/internal/wire"
)

func startCoordinator(t *testing.T, tr *fakeTransport) (*Coordinator, *location.Sampler, *chanProvider) {
	t.Helper()
	p := &chanProvider{ch: make(chan location.Fix)}
	sampler := location.NewSampler(p, &location.SamplerConfig{Interval: time.Millisecond})
	c := NewCoordinator(Rider, sampler, tr)
	go func() { p.ch <- location.Fix{Latitude: -6.2, Longitude: 106.8} }()
	if err := c.Start(context.Background(), "o1", "r1"); err != nil {
		t.Fatal(err)
	}
	return c, sampler, p
}

func TestCoordinatorSendsEverySample(t *testing.T) {
	sendCh := make(chan string, 1)
	tr := newFakeTransport(func() *fakeSession { return &fakeSession{sendCh: sendCh} })
	c, sampler, p := startCoordinator(t, tr)
	if c.State() != Streaming {
		t.Fatalf("state %s", c.State())
	}
	sess := tr.last()
	if sess.hs.Latitude != -6.2 || sess.hs.RiderID != "r1" {
		t.Errorf("handshake %+v", sess.hs)
	}

	const n = 10
	for i := 1; i <= n; i++ {
		p.ch <- location.Fix{Latitude: float64(i), Longitude: float64(-i)}
		var payload string
		select {
		case payload = <-sendCh:
		case <-time.After(5 * time.Second):
			t.Fatalf("no send for sample %d", i)
		}
		m, err := wire.ParseLocation([]byte(payload))
		if err != nil {
			t.Fatal(err)
		}
		if m.Latitude != float64(i) || m.Longitude != float64(-i) || m.OrderID != "o1" || m.RiderID != "r1" {
			t.Errorf("sample %d sent as %+v", i, m)
		}
	}

	c.Stop()
	c.Stop()
	if c.Sent() != n {
		t.Errorf("sent %d want %d", c.Sent(), n)
	}
	if c.State() != Stopped || c.Err() != nil {
		t.Errorf("state %s err %v", c.State(), c.Err())
	}
	if sampler.Running() {
		t.Error("sampler still running")
	}
	connects, disconnects := sess.counts()
	if connects != 1 || disconnects != 1 {
		t.Errorf("connects %d disconnects %d", connects, disconnects)
	}
	if _, releases := tr.counts(); releases != 1 {
		t.Errorf("releases %d", releases)
	}
}

func TestCoordinatorTransportFailureStopsSampler(t *testing.T) {
	tr := newFakeTransport(nil)
	c, sampler, _ := startCoordinator(t, tr)
	boom := errors.New("connection reset")
	tr.last().drop(boom)

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop")
	}
	if !errors.Is(c.Err(), boom) {
		t.Errorf("err %v", c.Err())
	}
	if c.State() != Stopped {
		t.Errorf("state %s", c.State())
	}
	if sampler.Running() {
		t.Error("sampler survived the transport failure")
	}
	if _, releases := tr.counts(); releases != 1 {
		t.Errorf("releases %d", releases)
	}
	c.Stop()
}

func TestCoordinatorSendFailure(t *testing.T) {
	boom := errors.New("send queue full")
	tr := newFakeTransport(func() *fakeSession { return &fakeSession{sendErr: boom} })
	c, sampler, p := startCoordinator(t, tr)
	p.ch <- location.Fix{Latitude: 1, Longitude: 1}
	<-c.Done()
	if !errors.Is(c.Err(), boom) {
		t.Errorf("err %v", c.Err())
	}
	if sampler.Running() {
		t.Error("sampler still running")
	}
}

func TestCoordinatorConnectFailure(t *testing.T) {
	boom := errors.New("dial refused")
	tr := newFakeTransport(func() *fakeSession { return &fakeSession{connectErr: boom} })
	sampler := location.NewSampler(&location.StaticProvider{Latitude: 1, Longitude: 2}, &location.SamplerConfig{})
	c := NewCoordinator(Rider, sampler, tr)
	err := c.Start(context.Background(), "o1", "r1")
	if !errors.Is(err, boom) {
		t.Fatalf("err %v", err)
	}
	if c.State() != Stopped || sampler.Running() {
		t.Errorf("state %s running %v", c.State(), sampler.Running())
	}
	if _, releases := tr.counts(); releases != 1 {
		t.Errorf("releases %d", releases)
	}
	if err := c.Start(context.Background(), "o1", "r1"); !errors.Is(err, ErrStarted) {
		t.Errorf("restart: %v", err)
	}
}

func TestCoordinatorSamplerFailure(t *testing.T) {
	tr := newFakeTransport(nil)
	sampler := location.NewSampler(&location.StaticProvider{Err: location.ErrPermissionDenied}, &location.SamplerConfig{})
	c := NewCoordinator(Rider, sampler, tr)
	err := c.Start(context.Background(), "o1", "r1")
	var se *location.SamplerError
	if !errors.As(err, &se) {
		t.Fatalf("err %v", err)
	}
	if acquires, _ := tr.counts(); acquires != 0 {
		t.Errorf("session acquired without a fix")
	}
	if c.State() != Stopped {
		t.Errorf("state %s", c.State())
	}
}

func TestCoordinatorRequiresPublisher(t *testing.T) {
	c := NewCoordinator(Customer, location.NewSampler(&location.StaticProvider{}, &location.SamplerConfig{}), newFakeTransport(nil))
	if err := c.Start(context.Background(), "o1", "r1"); !errors.Is(err, ErrNotPublisher) {
		t.Errorf("err %v", err)
	}
	c.Stop()
	if c.State() != Idle {
		t.Errorf("state %s", c.State())
	}
}
