package relay

import (
	"fmt"
	"math"

	"nuha.dev/ridertrack/internal/order"
	"nuha.dev/ridertrack/internal/polyline"
	"nuha.dev/ridertrack/internal/tracking"
	"nuha.dev/ridertrack/internal/wire"
)

const (
	PhaseToRestaurant string = "TO_RESTAURANT"
	PhaseToCustomer   string = "TO_CUSTOMER"
	PhaseArriving     string = "ARRIVING"
	PhaseArrived      string = "ARRIVED"
)

const earthRadius = 6371000.0

type ProgressConfig struct {
	SpeedKmh       float64
	ArrivingRadius float64
	ArrivedRadius  float64
}

// haversine returns the great-circle distance in metres.
func haversine(a, b polyline.Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dlat := (b.Lat - a.Lat) * math.Pi / 180
	dlng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlng/2)*math.Sin(dlng/2)
	return 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}

func pathLength(points []polyline.Point) float64 {
	d := 0.0
	for i := 1; i < len(points); i++ {
		d += haversine(points[i-1], points[i])
	}
	return d
}

// nearestVertex returns the index of the route vertex closest to p.
func nearestVertex(route []polyline.Point, p polyline.Point) int {
	best, bestD := -1, math.Inf(1)
	for i, v := range route {
		if d := haversine(v, p); d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

// remainingRoute trims route to what is left after the rider at p: p itself
// followed by the vertices past the nearest one. Without a route it is the
// straight line to target.
func remainingRoute(route []polyline.Point, p polyline.Point, target *wire.Waypoint) []polyline.Point {
	rest := []polyline.Point{p}
	if len(route) == 0 {
		if target != nil {
			rest = append(rest, polyline.Point{Lat: target.Lat, Lng: target.Lng})
		}
		return rest
	}
	i := nearestVertex(route, p)
	return append(rest, route[i+1:]...)
}

func formatETA(metres, speedKmh float64) string {
	if metres <= 0 {
		return "0 min"
	}
	mins := math.Ceil(metres / (speedKmh * 1000 / 60))
	return fmt.Sprintf("%d min", int(mins))
}

// ComputeFrame turns a rider fix into the frame watchers receive. Before
// pickup the rider heads to the restaurant; once the order is out for
// delivery the customer's destination is the next stop and the final leg is
// split into ARRIVING and ARRIVED by distance.
func ComputeFrame(o *order.Order, route []polyline.Point, fix polyline.Point, conf *ProgressConfig) *wire.InboundTrackingFrame {
	f := &wire.InboundTrackingFrame{CurrentLocation: &wire.LatLng{Lat: fix.Lat, Lng: fix.Lng}}
	f.FinalDestination = o.Destination
	target := o.Restaurant
	f.DeliveryPhase = PhaseToRestaurant
	if o.Status == tracking.StatusOutForDelivery || o.Restaurant == nil {
		target = o.Destination
		f.DeliveryPhase = PhaseToCustomer
	}
	f.NextStop = target

	rest := remainingRoute(route, fix, target)
	dist := pathLength(rest)
	if target != nil && f.DeliveryPhase == PhaseToCustomer {
		direct := haversine(fix, polyline.Point{Lat: target.Lat, Lng: target.Lng})
		switch {
		case direct <= conf.ArrivedRadius:
			f.DeliveryPhase = PhaseArrived
			rest = rest[:1]
			dist = 0
		case direct <= conf.ArrivingRadius:
			f.DeliveryPhase = PhaseArriving
		}
	}
	f.EstimatedTime = formatETA(dist, conf.SpeedKmh)
	f.Polyline = polyline.Encode(rest)
	return f
}
