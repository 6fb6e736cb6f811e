package meshnet

import (
	"github.com/sirupsen/logrus"

	"github.com/vbus-sim/vbus/metrics"
)

// Option configures a Manager.
type Option func(*Config)

// Config holds Manager tunables, following the Option func(*Config) shape
// used throughout this codebase.
type Config struct {
	log     logrus.FieldLogger
	metrics metrics.Collector
}

func defaultConfig() *Config {
	return &Config{
		log:     logrus.StandardLogger(),
		metrics: metrics.NewDefault(),
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
