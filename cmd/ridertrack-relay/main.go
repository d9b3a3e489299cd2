package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/phuslu/log"

	"nuha.dev/ridertrack/internal/config"
	"nuha.dev/ridertrack/internal/relay"
	"nuha.dev/ridertrack/internal/store"
	"nuha.dev/ridertrack/internal/store/impl/logstore"
	"nuha.dev/ridertrack/internal/store/impl/memstore"
	"nuha.dev/ridertrack/internal/store/impl/pgstore"
	"nuha.dev/ridertrack/internal/util"
)

func main() {
	config_path := flag.String("config", "", "config file (json, yaml or toml)")
	init_db := flag.Bool("initdb", false, "create the tables before serving")
	hash_token := flag.String("hash_token", "", "print the bcrypt hash of a token and exit")
	gen_token := flag.Bool("gen_token", false, "print a new random token with its hash and exit")
	flag.Parse()

	if *hash_token != "" {
		fmt.Println(util.CryptPwd(*hash_token))
		return
	}
	if *gen_token {
		tok := util.GenRandomString(nil, 24)
		fmt.Printf("token: %s\nhash:  %s\n", tok, util.CryptPwd(tok))
		return
	}

	conf, err := config.Load(*config_path)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	conf.ApplyLogLevel()
	rc := conf.Relay

	var orders store.OrderStore
	var locations store.LocationStore
	if rc.DBURL != "" {
		pool, err := pgxpool.Connect(context.Background(), rc.DBURL)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to connect to database")
		}
		defer pool.Close()
		if *init_db {
			if err := pgstore.InitSchema(context.Background(), pool); err != nil {
				log.Fatal().Err(err).Msg("unable to create schema")
			}
		}
		orders = pgstore.NewOrderStore(pool)
		st := pgstore.NewStore(pool, rc.LocationTable, &pgstore.StoreConfig{
			BufSize: rc.FlushSize, TickerDur: time.Second, MaxAgeFlush: rc.FlushAge,
		})
		st.Run()
		defer st.Close()
		locations = st
	} else {
		log.Warn().Msg("no db_url, orders are kept in memory and fixes only logged")
		orders = memstore.NewOrderStore()
		locations = logstore.NewStore()
	}

	srv, err := relay.NewServer(orders, locations, &relay.ServerConfig{
		ListenAddr:       rc.ListenAddr,
		ProxyProtocol:    rc.ProxyProtocol,
		TokenHash:        rc.TokenHash,
		AllowedOrigins:   rc.AllowedOrigins,
		Keepalive:        rc.Keepalive,
		HandshakeTimeout: rc.HandshakeTimeout,
		Progress: relay.ProgressConfig{
			SpeedKmh: rc.SpeedKmh, ArrivingRadius: rc.ArrivingRadius, ArrivedRadius: rc.ArrivedRadius,
		},
		NodeID:      rc.NodeID,
		HashidsSalt: rc.HashidsSalt,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("unable to create relay")
	}

	if rc.RedisURL != "" {
		cache, err := relay.NewRedisCache(rc.RedisURL, rc.RedisTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid redis_url")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = cache.Ping(ctx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("unable to reach redis")
		}
		defer cache.Close()
		srv.SetCache(cache)
	}
	if rc.NatsURL != "" {
		nc, err := nats.Connect(rc.NatsURL, nats.Name("ridertrack-relay"))
		if err != nil {
			log.Fatal().Err(err).Msg("unable to connect to nats")
		}
		defer nc.Drain()
		srv.SetPublisher(nc, rc.NatsSubject)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Run()
	}()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	case err := <-errc:
		if err != nil {
			log.Error().Err(err).Msg("relay stopped")
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("unclean shutdown")
	}
}
