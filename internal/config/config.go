// Package config loads settings for the relay and the client commands from
// an optional config file, a .env file and RIDERTRACK_ environment variables.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/phuslu/log"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel string       `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	Relay    RelayConfig  `mapstructure:"relay"`
	Client   ClientConfig `mapstructure:"client"`
}

type RelayConfig struct {
	ListenAddr       string        `mapstructure:"listen_addr" validate:"required"`
	ProxyProtocol    bool          `mapstructure:"proxy_protocol"`
	TokenHash        string        `mapstructure:"token_hash"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	DBURL            string        `mapstructure:"db_url"`
	LocationTable    string        `mapstructure:"location_table" validate:"required"`
	FlushSize        int           `mapstructure:"flush_size" validate:"min=1"`
	FlushAge         time.Duration `mapstructure:"flush_age"`
	RedisURL         string        `mapstructure:"redis_url"`
	RedisTTL         time.Duration `mapstructure:"redis_ttl"`
	NatsURL          string        `mapstructure:"nats_url"`
	NatsSubject      string        `mapstructure:"nats_subject"`
	Keepalive        time.Duration `mapstructure:"keepalive" validate:"min=0"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" validate:"min=0"`
	SpeedKmh         float64       `mapstructure:"speed_kmh" validate:"gt=0"`
	ArrivingRadius   float64       `mapstructure:"arriving_radius_m" validate:"gt=0"`
	ArrivedRadius    float64       `mapstructure:"arrived_radius_m" validate:"gt=0"`
	NodeID           uint64        `mapstructure:"node_id"`
	HashidsSalt      string        `mapstructure:"hashids_salt"`
}

type ClientConfig struct {
	URL       string        `mapstructure:"url" validate:"required"`
	APIURL    string        `mapstructure:"api_url"`
	Token     string        `mapstructure:"token"`
	Interval  time.Duration `mapstructure:"interval" validate:"min=0"`
	SendQueue int           `mapstructure:"send_queue" validate:"min=0"`
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("relay.listen_addr", ":7000")
	v.SetDefault("relay.proxy_protocol", false)
	v.SetDefault("relay.token_hash", "")
	v.SetDefault("relay.allowed_origins", []string{"*"})
	v.SetDefault("relay.db_url", "")
	v.SetDefault("relay.location_table", "rider_location")
	v.SetDefault("relay.flush_size", 100)
	v.SetDefault("relay.flush_age", 5*time.Second)
	v.SetDefault("relay.redis_url", "")
	v.SetDefault("relay.redis_ttl", time.Hour)
	v.SetDefault("relay.nats_url", "")
	v.SetDefault("relay.nats_subject", "ridertrack.location")
	v.SetDefault("relay.keepalive", 15*time.Second)
	v.SetDefault("relay.handshake_timeout", time.Second)
	v.SetDefault("relay.speed_kmh", 25.0)
	v.SetDefault("relay.arriving_radius_m", 200.0)
	v.SetDefault("relay.arrived_radius_m", 30.0)
	v.SetDefault("relay.node_id", 1)
	v.SetDefault("relay.hashids_salt", "ridertrack")

	v.SetDefault("client.url", "http://localhost:7000")
	v.SetDefault("client.api_url", "")
	v.SetDefault("client.token", "")
	v.SetDefault("client.interval", 2*time.Second)
	v.SetDefault("client.send_queue", 64)
}

// Load reads path when it is not empty, then .env, then the environment.
// Environment variables win over the file.
func Load(path string) (*Config, error) {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ridertrack")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, err
	}
	if c.Client.APIURL == "" {
		c.Client.APIURL = c.Client.URL
	}
	if err := validate.Struct(c); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyLogLevel sets the level of the default logger.
func (c *Config) ApplyLogLevel() {
	log.DefaultLogger.Level = log.ParseLevel(c.LogLevel)
}
