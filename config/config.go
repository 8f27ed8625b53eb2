// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"

	"church-rpc/codec"
)

// Config is everything churchd and churchping read at startup.
// The scheme of BaseAddress picks the transport: tcp for sockets, nsq or etcd
// for the message bus.
type Config struct {
	BaseAddress       string        `env:"CHURCH_BASE_ADDRESS,required,notEmpty"`
	Codec             string        `env:"CHURCH_CODEC" envDefault:"json"`
	Instance          string        `env:"CHURCH_INSTANCE" envDefault:"default"`
	PoolSize          int           `env:"CHURCH_POOL_SIZE" envDefault:"4"`
	RequestTimeout    time.Duration `env:"CHURCH_REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout   time.Duration `env:"CHURCH_SHUTDOWN_TIMEOUT" envDefault:"5s"`
	RateLimit         float64       `env:"CHURCH_RATE_LIMIT" envDefault:"0"`
	RateBurst         int           `env:"CHURCH_RATE_BURST" envDefault:"100"`
	BroadcastInterval time.Duration `env:"CHURCH_BROADCAST_INTERVAL" envDefault:"15s"`
	MetricsInterval   time.Duration `env:"CHURCH_METRICS_INTERVAL" envDefault:"1m"`
	LogLevel          string        `env:"CHURCH_LOG_LEVEL" envDefault:"info"`
	LogFormat         string        `env:"CHURCH_LOG_FORMAT" envDefault:"text"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values env tags cannot express.
func (c *Config) Validate() error {
	if _, err := c.Address(); err != nil {
		return err
	}
	if _, err := codec.Lookup(c.Codec); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("config: pool size must be positive, got %d", c.PoolSize)
	}
	return nil
}

// Address parses BaseAddress.
func (c *Config) Address() (*url.URL, error) {
	u, err := url.Parse(c.BaseAddress)
	if err != nil {
		return nil, fmt.Errorf("config: base address: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("config: base address %q needs scheme://host", c.BaseAddress)
	}
	return u, nil
}

// CodecType resolves the configured codec name.
func (c *Config) CodecType() codec.Type {
	t, err := codec.ParseType(c.Codec)
	if err != nil {
		return codec.TypeJSON
	}
	return t
}

// IsSocket reports whether BaseAddress selects the socket transport.
func (c *Config) IsSocket() bool {
	u, err := c.Address()
	return err == nil && u.Scheme == "tcp"
}
