package transport

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/vbus-sim/vbus/metrics"
)

// Option configures a Listen/Dial call.
type Option func(*Config)

// Config holds ambient settings for a connection or listener.
type Config struct {
	ctx     context.Context
	cancel  context.CancelFunc
	metrics metrics.Collector
	log     logrus.FieldLogger
}

func defaultConfig() *Config {
	ctx, cancel := context.WithCancel(context.Background())
	return &Config{
		ctx:     ctx,
		cancel:  cancel,
		metrics: metrics.NewDefault(),
		log:     logrus.StandardLogger(),
	}
}

func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithContext stores a context derived from ctx in the Config. Listen and
// Dial do not consult it: the returned connection's lifetime is not tied to ctx.
func WithContext(ctx context.Context) Option {
	return func(c *Config) {
		if ctx != nil {
			c.ctx, c.cancel = context.WithCancel(ctx)
		}
	}
}

// WithMetrics overrides the default metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(c *Config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Config) {
		if log != nil {
			c.log = log
		}
	}
}
