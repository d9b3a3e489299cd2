package location

import (
	"context"
	"sync"
	"time"

	"nuha.dev/ridertrack/internal/polyline"
)

// StaticProvider always reports the same position, or Err when set.
type StaticProvider struct {
	Latitude  float64
	Longitude float64
	Err       error
}

func (p *StaticProvider) Current(ctx context.Context) (Fix, error) {
	if p.Err != nil {
		return Fix{}, p.Err
	}
	return Fix{Latitude: p.Latitude, Longitude: p.Longitude, Time: time.Now()}, nil
}

// RouteProvider replays the vertices of an encoded polyline, one per call,
// and then keeps reporting the last vertex. With Loop set it starts over.
type RouteProvider struct {
	Loop bool

	mu     sync.Mutex
	points []polyline.Point
	pos    int
}

func NewRouteProvider(encoded string) (*RouteProvider, error) {
	points, err := polyline.Decode(encoded)
	if err != nil {
		return nil, err
	}
	return NewRouteProviderPoints(points), nil
}

func NewRouteProviderPoints(points []polyline.Point) *RouteProvider {
	return &RouteProvider{points: points}
}

func (p *RouteProvider) Current(ctx context.Context) (Fix, error) {
	if err := ctx.Err(); err != nil {
		return Fix{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.points) == 0 {
		return Fix{}, ErrProviderUnavailable
	}
	pt := p.points[p.pos]
	if p.pos < len(p.points)-1 {
		p.pos++
	} else if p.Loop {
		p.pos = 0
	}
	return Fix{Latitude: pt.Lat, Longitude: pt.Lng, Time: time.Now()}, nil
}

// Done reports whether a non-looping replay has reached its last vertex.
func (p *RouteProvider) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.Loop && p.pos >= len(p.points)-1
}
