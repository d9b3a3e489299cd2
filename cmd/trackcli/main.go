// Command trackcli follows an order as a customer or a restaurant would and
// logs every tracking update.
//
// The order status normally reaches the subscriber from the app's own status
// source. trackcli has none, so it looks the order up every -poll interval
// and feeds that status to OnStatus in its place.
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
	"nuha.dev/ridertrack/internal/order"
	"nuha.dev/ridertrack/internal/tracking"
	"nuha.dev/ridertrack/internal/transport"
)

func main() {
	config_path := flag.String("config", "", "config file")
	order_id := flag.String("order", "", "order to follow")
	actor_name := flag.String("actor", "customer", "customer or restaurant")
	poll := flag.Duration("poll", 3*time.Second, "order status poll interval")
	flag.Parse()
	actor, ok := tracking.ActorByName(*actor_name)
	if *order_id == "" || !ok || actor.Publishes {
		flag.Usage()
		os.Exit(2)
	}

	conf, err := config.Load(*config_path)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	conf.ApplyLogLevel()
	cc := conf.Client

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orders := order.NewClient(&order.ClientConfig{BaseURL: cc.APIURL, Token: cc.Token})
	reg := transport.NewRegistry(&transport.Config{URL: cc.URL, Token: cc.Token})
	sub := tracking.NewSubscriber(actor, tracking.NewTransport(reg), orders)
	defer sub.Close()

	go func() {
		for st := range sub.Watch(ctx) {
			if st == nil {
				continue
			}
			f := st.Frame
			log.Info().Uint64("seq", st.Seq).
				Float64("lat", f.CurrentLocation.Lat).Float64("lng", f.CurrentLocation.Lng).
				Str("phase", f.DeliveryPhase).Str("eta", f.EstimatedTime).
				Int("route_points", len(st.Route)).Msg("tracking")
		}
	}()
	go func() {
		for cs := range sub.WatchConnection(ctx) {
			log.Info().Str("connection", cs.String()).Msg("")
		}
	}()

	// Stand-in status source. A failed connection is retried on the next
	// in-transit status after a backoff.
	backoff := tracking.NewBackoff()
	t := time.NewTicker(*poll)
	defer t.Stop()
	for {
		o, err := orders.Get(ctx, *order_id)
		if err != nil {
			log.Warn().Err(err).Msg("order lookup failed")
		} else {
			if sub.Err() != nil && backoff.Wait(ctx) != nil {
				return
			}
			if err := sub.OnStatus(ctx, o.OrderID, o.Status); err != nil {
				log.Warn().Err(err).Int("attempt", backoff.Attempt()).Msg("tracking not opened")
			} else if sub.ConnectionState() == transport.Connected {
				backoff.Reset()
			}
			if actor.IsTerminal(o.Status) {
				log.Info().Str("status", o.Status).Msg("order finished")
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
