package registry

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vbus-sim/vbus/metrics"
)

// Option configures a Server or Client.
type Option func(*Config)

// Config holds tunables shared by Server and Client, following the
// Option func(*Config) shape used throughout this codebase.
type Config struct {
	log     logrus.FieldLogger
	metrics metrics.Collector

	dialTimeout time.Duration
}

func defaultConfig() *Config {
	return &Config{
		log:         logrus.StandardLogger(),
		metrics:     metrics.NewDefault(),
		dialTimeout: 10 * time.Second,
	}
}

func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Config) {
		if log != nil {
			c.log = log
		}
	}
}

func WithMetrics(m metrics.Collector) Option {
	return func(c *Config) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}
