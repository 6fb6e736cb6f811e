package participant

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vbus-sim/vbus/lifecycle"
	"github.com/vbus-sim/vbus/metrics"
)

// Config collects the construction-time inputs named in spec §6's
// "Configuration input" list: participant name, network→service mappings
// are supplied by the caller via controller/discovery calls after
// construction; this struct covers the rest (identity, transport, sync).
type Config struct {
	ParticipantName string
	RegistryScheme  string
	RegistryAddress string
	ListenScheme    string
	ListenAddress   string

	SyncStepNs   int64 // 0 disables time-sync participation
	RequiredPeers map[string]bool

	log     logrus.FieldLogger
	metrics metrics.Collector

	dialTimeout time.Duration

	lifecycleOpts []lifecycle.Option
}

// Option configures a Config.
type Option func(*Config)

func defaultConfig(name string) Config {
	return Config{
		ParticipantName: name,
		RegistryScheme:  "tcp",
		ListenScheme:    "tcp",
		ListenAddress:   "127.0.0.1:0",
		log:             logrus.StandardLogger(),
		metrics:         metrics.NewDefault(),
		dialTimeout:     10 * time.Second,
	}
}

// WithRegistry points the participant at a registry reachable via scheme at
// address. transport.Dial accepts only "tcp"; any other scheme makes New fail.
func WithRegistry(scheme, address string) Option {
	return func(c *Config) {
		c.RegistryScheme = scheme
		c.RegistryAddress = address
	}
}

// WithListenAddress overrides the local address/scheme peers dial back on.
func WithListenAddress(scheme, address string) Option {
	return func(c *Config) {
		if scheme != "" {
			c.ListenScheme = scheme
		}
		c.ListenAddress = address
	}
}

// WithTimeSync enables barrier participation with the given step duration.
func WithTimeSync(stepNs int64) Option {
	return func(c *Config) { c.SyncStepNs = stepNs }
}

// WithRequiredPeers marks peer names whose departure, once this participant
// has reached ReadyToRun or later, forces a transition to Error (spec §7).
func WithRequiredPeers(names ...string) Option {
	return func(c *Config) {
		if c.RequiredPeers == nil {
			c.RequiredPeers = make(map[string]bool)
		}
		for _, n := range names {
			c.RequiredPeers[n] = true
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

// WithMetrics overrides the default metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(c *Config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLifecycleOptions passes options through to the underlying
// lifecycle.Service (e.g. lifecycle.WithCoordinatedStart).
func WithLifecycleOptions(opts ...lifecycle.Option) Option {
	return func(c *Config) { c.lifecycleOpts = append(c.lifecycleOpts, opts...) }
}
