// Command ridersim plays a rider delivering one order: it assigns the order,
// drives the configured route through the relay and marks the order
// delivered at the end.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"

	"nuha.dev/ridertrack/internal/config"
	"nuha.dev/ridertrack/internal/location"
	"nuha.dev/ridertrack/internal/order"
	"nuha.dev/ridertrack/internal/polyline"
	"nuha.dev/ridertrack/internal/tracking"
	"nuha.dev/ridertrack/internal/transport"
	"nuha.dev/ridertrack/internal/wire"
)

// a short ride through central Jakarta
var defaultRoute = []polyline.Point{
	{Lat: -6.17539, Lng: 106.82715},
	{Lat: -6.17810, Lng: 106.82680},
	{Lat: -6.18210, Lng: 106.82640},
	{Lat: -6.18560, Lng: 106.82390},
	{Lat: -6.18890, Lng: 106.82290},
	{Lat: -6.19310, Lng: 106.82300},
}

func main() {
	config_path := flag.String("config", "", "config file")
	order_id := flag.String("order", "", "order to deliver")
	rider_id := flag.String("rider", "rider-1", "rider id")
	route := flag.String("route", "", "encoded polyline the rider follows, a built-in route when empty")
	deliver := flag.Bool("deliver", true, "mark the order delivered at the end of the route")
	flag.Parse()
	if *order_id == "" {
		flag.Usage()
		os.Exit(2)
	}

	conf, err := config.Load(*config_path)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	conf.ApplyLogLevel()
	cc := conf.Client

	if *route == "" {
		*route = polyline.Encode(defaultRoute)
	}
	points, err := polyline.Decode(*route)
	if err != nil || len(points) == 0 {
		log.Fatal().Err(err).Msg("invalid route")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orders := order.NewClient(&order.ClientConfig{BaseURL: cc.APIURL, Token: cc.Token})
	first, last := points[0], points[len(points)-1]
	_, err = orders.Put(ctx, *order_id, &order.Update{
		Status: tracking.StatusAssigned, RiderID: *rider_id, Route: *route,
		Restaurant:  &wire.Waypoint{Lat: first.Lat, Lng: first.Lng, Label: "restaurant"},
		Destination: &wire.Waypoint{Lat: last.Lat, Lng: last.Lng, Label: "customer"},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("unable to assign order")
	}
	if _, err := orders.Put(ctx, *order_id, &order.Update{Status: tracking.StatusOutForDelivery}); err != nil {
		log.Fatal().Err(err).Msg("unable to start delivery")
	}

	provider := location.NewRouteProviderPoints(points)
	reg := transport.NewRegistry(&transport.Config{URL: cc.URL, Token: cc.Token, SendQueue: cc.SendQueue})
	tr := tracking.NewTransport(reg)
	backoff := tracking.NewBackoff()

	// The coordinator never reconnects on its own; a fresh one is started
	// after every drop until the route is done.
	for {
		sampler := location.NewSampler(provider, &location.SamplerConfig{Interval: cc.Interval})
		c := tracking.NewCoordinator(tracking.Rider, sampler, tr)
		if err := c.Start(ctx, *order_id, *rider_id); err != nil {
			log.Warn().Err(err).Int("attempt", backoff.Attempt()).Msg("publish start failed")
			if backoff.Wait(ctx) != nil {
				return
			}
			continue
		}
		backoff.Reset()
		if !waitRoute(ctx, c, provider) {
			c.Stop()
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(c.Err()).Msg("publishing stopped before the end of the route")
			if backoff.Wait(ctx) != nil {
				return
			}
			continue
		}
		c.Stop()
		log.Info().EmbedObject(c).Msg("route finished")
		break
	}

	if *deliver {
		if _, err := orders.Put(ctx, *order_id, &order.Update{Status: tracking.StatusDelivered}); err != nil {
			log.Fatal().Err(err).Msg("unable to mark delivered")
		}
		log.Info().Str("order_id", *order_id).Msg("delivered")
	}
}

// waitRoute returns true once the provider reached the end of its route and
// the coordinator had the chance to send the last fix.
func waitRoute(ctx context.Context, c *tracking.Coordinator, p *location.RouteProvider) bool {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	var mark uint64
	reached := false
	for {
		select {
		case <-ctx.Done():
			return false
		case <-c.Done():
			return false
		case <-t.C:
			if !reached && p.Done() {
				reached, mark = true, c.Sent()
			} else if reached && c.Sent() >= mark+2 {
				// the provider repeats its last vertex, two more sends cover it
				return true
			}
		}
	}
}
