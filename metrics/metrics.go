// Package metrics exports channel statistics as Prometheus collectors.
//
// A nil *Collector is valid and records nothing, so callers can leave
// metrics disabled without nil checks.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "netchannel").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// LatencyBuckets are the histogram buckets for peer latency, in seconds.
	LatencyBuckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithLatencyBuckets sets the latency histogram buckets.
func WithLatencyBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.LatencyBuckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace:      "netchannel",
		LatencyBuckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		Registry:       prometheus.DefaultRegisterer,
	}
}

// Collector holds the channel's metrics.
type Collector struct {
	sendRate         prometheus.Gauge
	recvRate         prometheus.Gauge
	connectedPeers   prometheus.Gauge
	stalled          prometheus.Gauge
	latency          prometheus.Histogram
	messagesSent     *prometheus.CounterVec
	payloadsReceived *prometheus.CounterVec
	dropped          *prometheus.CounterVec
	disconnects      *prometheus.CounterVec
	networkErrors    prometheus.Counter
}

// New creates and registers the collectors. It panics if they are already
// registered with the chosen registry, as promauto does.
func New(opts ...Option) *Collector {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Collector{
		sendRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "send_bytes_per_second",
			Help:        "Averaged outgoing bandwidth in bytes per second",
			ConstLabels: config.ConstLabels,
		}),

		recvRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "receive_bytes_per_second",
			Help:        "Averaged incoming bandwidth in bytes per second",
			ConstLabels: config.ConstLabels,
		}),

		connectedPeers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connected_peers",
			Help:        "Number of connected peers",
			ConstLabels: config.ConstLabels,
		}),

		stalled: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "simulated_stall",
			Help:        "1 while the network simulator applies large stall settings",
			ConstLabels: config.ConstLabels,
		}),

		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "peer_latency_seconds",
			Help:        "Reported one-way peer latency in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.LatencyBuckets,
		}),

		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_sent_total",
			Help:        "Messages handed to the transport by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		payloadsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "payloads_received_total",
			Help:        "Payloads received from connected peers",
			ConstLabels: config.ConstLabels,
		}, []string{"delivery"}),

		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dropped_total",
			Help:        "Inbound payloads or datagrams discarded, by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "disconnects_total",
			Help:        "Peer disconnects by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		networkErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "network_errors_total",
			Help:        "Socket errors reported by the transport",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// SetBandwidth records the averaged send and receive rates.
func (c *Collector) SetBandwidth(send, recv float64) {
	if c == nil {
		return
	}
	c.sendRate.Set(send)
	c.recvRate.Set(recv)
}

// SetConnectedPeers records the number of connected peers.
func (c *Collector) SetConnectedPeers(n int) {
	if c == nil {
		return
	}
	c.connectedPeers.Set(float64(n))
}

// SetStalled records whether stall settings are in effect.
func (c *Collector) SetStalled(stalled bool) {
	if c == nil {
		return
	}
	if stalled {
		c.stalled.Set(1)
	} else {
		c.stalled.Set(0)
	}
}

// ObserveLatency records one latency update.
func (c *Collector) ObserveLatency(d time.Duration) {
	if c == nil {
		return
	}
	c.latency.Observe(d.Seconds())
}

// MessageSent counts n messages of kind handed to the transport.
func (c *Collector) MessageSent(kind string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.messagesSent.WithLabelValues(kind).Add(float64(n))
}

// PayloadReceived counts one payload received with the given delivery method.
func (c *Collector) PayloadReceived(delivery string) {
	if c == nil {
		return
	}
	c.payloadsReceived.WithLabelValues(delivery).Inc()
}

// Dropped counts one discarded input.
func (c *Collector) Dropped(reason string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(reason).Inc()
}

// Disconnected counts one disconnect.
func (c *Collector) Disconnected(reason string) {
	if c == nil {
		return
	}
	c.disconnects.WithLabelValues(reason).Inc()
}

// NetworkError counts one socket error.
func (c *Collector) NetworkError() {
	if c == nil {
		return
	}
	c.networkErrors.Inc()
}
