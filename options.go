package netchannel

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/opd-ai/netchannel/clock"
	"github.com/opd-ai/netchannel/delivery"
	"github.com/opd-ai/netchannel/dispatch"
	"github.com/opd-ai/netchannel/messages"
	"github.com/opd-ai/netchannel/metrics"
	"github.com/opd-ai/netchannel/netsim"
	"github.com/opd-ai/netchannel/transport"
)

// ErrMissingConnectionKey is returned when Options carry no connection key.
var ErrMissingConnectionKey = errors.New("connection key is required")

// Options contains configuration options for creating a NetChannel.
type Options struct {
	// ConnectionKey is the shared secret a peer must present to be
	// accepted. Both sides must use the same key.
	ConnectionKey string
	// BindAddress is the local host to bind; empty binds all interfaces.
	BindAddress string

	// Network is the simulated network quality applied to inbound traffic.
	Network netsim.Settings

	UpdateInterval     time.Duration
	PingInterval       time.Duration
	ResendInterval     time.Duration
	DisconnectTimeout  time.Duration
	ReconnectDelay     time.Duration
	MaxConnectAttempts int

	// PendingPingTTL bounds how long a connectionless ping waits for its
	// pong before being dropped silently. Zero keeps probes until they are
	// answered, replaced or the channel stops.
	PendingPingTTL time.Duration
	// BandwidthWindow is the averaging window of SendRate and RecvRate.
	BandwidthWindow time.Duration

	// Policies maps every message kind to its delivery method.
	Policies delivery.Table[dispatch.Kind]

	// Seed seeds the network simulation; zero seeds from the clock.
	Seed int64
	// TimeProvider overrides the clock; nil uses the system clock.
	TimeProvider clock.TimeProvider
	// Metrics receives channel statistics; nil disables metrics.
	Metrics *metrics.Collector
}

// NewOptions returns Options with defaults suited to a real-time game. The
// connection key is left empty and must be provided.
func NewOptions() *Options {
	def := transport.DefaultConfig()
	return &Options{
		UpdateInterval:     def.UpdateInterval,
		PingInterval:       def.PingInterval,
		ResendInterval:     def.ResendInterval,
		DisconnectTimeout:  def.DisconnectTimeout,
		ReconnectDelay:     def.ReconnectDelay,
		MaxConnectAttempts: def.MaxConnectAttempts,
		PendingPingTTL:     10 * time.Second,
		BandwidthWindow:    time.Second,
		Policies:           messages.Policies,
	}
}

// Option adjusts Options passed to New.
type Option func(*Options)

// WithConnectionKey sets the shared connection key.
func WithConnectionKey(key string) Option {
	return func(o *Options) {
		o.ConnectionKey = key
	}
}

// WithNetworkSettings sets the simulated network quality.
func WithNetworkSettings(settings netsim.Settings) Option {
	return func(o *Options) {
		o.Network = settings
	}
}

// WithTimeProvider sets the clock.
func WithTimeProvider(tp clock.TimeProvider) Option {
	return func(o *Options) {
		o.TimeProvider = tp
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Options) {
		o.Metrics = c
	}
}

// WithBindAddress sets the local host to bind.
func WithBindAddress(host string) Option {
	return func(o *Options) {
		o.BindAddress = host
	}
}

// Validate checks that the options can build a channel.
func (o *Options) Validate() error {
	if o.ConnectionKey == "" {
		return ErrMissingConnectionKey
	}
	if err := o.Network.Validate(); err != nil {
		return err
	}
	if o.PendingPingTTL < 0 {
		return fmt.Errorf("pending ping ttl %v is negative", o.PendingPingTTL)
	}
	return nil
}

func (o *Options) transportConfig() *transport.Config {
	return &transport.Config{
		BindAddress:        o.BindAddress,
		UpdateInterval:     o.UpdateInterval,
		PingInterval:       o.PingInterval,
		ResendInterval:     o.ResendInterval,
		DisconnectTimeout:  o.DisconnectTimeout,
		ReconnectDelay:     o.ReconnectDelay,
		MaxConnectAttempts: o.MaxConnectAttempts,
		Seed:               o.Seed,
		TimeProvider:       o.TimeProvider,
	}
}

type fileNetwork struct {
	SimulatePacketLoss    bool   `toml:"simulate_packet_loss"`
	PacketLossChance      int    `toml:"packet_loss_chance"`
	SimulateLatency       bool   `toml:"simulate_latency"`
	MinLatency            string `toml:"min_latency"`
	MaxLatency            string `toml:"max_latency"`
	SimulateLargeStalls   bool   `toml:"simulate_large_stalls"`
	LargeStallsInterval   string `toml:"large_stalls_interval"`
	LargeStallsDuration   string `toml:"large_stalls_duration"`
	LargeStallsPacketLoss int    `toml:"large_stalls_packet_loss"`
	LargeStallsLatency    string `toml:"large_stalls_latency"`
}

type fileConfig struct {
	ConnectionKey      string      `toml:"connection_key"`
	BindAddress        string      `toml:"bind_address"`
	UpdateInterval     string      `toml:"update_interval"`
	PingInterval       string      `toml:"ping_interval"`
	ResendInterval     string      `toml:"resend_interval"`
	DisconnectTimeout  string      `toml:"disconnect_timeout"`
	ReconnectDelay     string      `toml:"reconnect_delay"`
	MaxConnectAttempts int         `toml:"max_connect_attempts"`
	PendingPingTTL     string      `toml:"pending_ping_ttl"`
	BandwidthWindow    string      `toml:"bandwidth_window"`
	Seed               int64       `toml:"seed"`
	Network            fileNetwork `toml:"network"`
}

// LoadOptions reads a TOML file over NewOptions defaults. Only keys present
// in the file override a default. Durations use time.ParseDuration syntax.
//
//	connection_key = "change-me"
//	ping_interval = "500ms"
//
//	[network]
//	simulate_large_stalls = true
//	large_stalls_interval = "10s"
//	large_stalls_duration = "2s"
func LoadOptions(path string) (*Options, error) {
	opts := NewOptions()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}

	if meta.IsDefined("connection_key") {
		opts.ConnectionKey = raw.ConnectionKey
	}
	if meta.IsDefined("bind_address") {
		opts.BindAddress = strings.TrimSpace(raw.BindAddress)
	}
	if meta.IsDefined("max_connect_attempts") {
		opts.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("seed") {
		opts.Seed = raw.Seed
	}

	durations := []struct {
		key   []string
		value string
		dst   *time.Duration
	}{
		{[]string{"update_interval"}, raw.UpdateInterval, &opts.UpdateInterval},
		{[]string{"ping_interval"}, raw.PingInterval, &opts.PingInterval},
		{[]string{"resend_interval"}, raw.ResendInterval, &opts.ResendInterval},
		{[]string{"disconnect_timeout"}, raw.DisconnectTimeout, &opts.DisconnectTimeout},
		{[]string{"reconnect_delay"}, raw.ReconnectDelay, &opts.ReconnectDelay},
		{[]string{"pending_ping_ttl"}, raw.PendingPingTTL, &opts.PendingPingTTL},
		{[]string{"bandwidth_window"}, raw.BandwidthWindow, &opts.BandwidthWindow},
		{[]string{"network", "min_latency"}, raw.Network.MinLatency, &opts.Network.MinLatency},
		{[]string{"network", "max_latency"}, raw.Network.MaxLatency, &opts.Network.MaxLatency},
		{[]string{"network", "large_stalls_interval"}, raw.Network.LargeStallsInterval, &opts.Network.LargeStallsInterval},
		{[]string{"network", "large_stalls_duration"}, raw.Network.LargeStallsDuration, &opts.Network.LargeStallsDuration},
		{[]string{"network", "large_stalls_latency"}, raw.Network.LargeStallsLatency, &opts.Network.LargeStallsLatency},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = parsed
	}

	if meta.IsDefined("network", "simulate_packet_loss") {
		opts.Network.SimulatePacketLoss = raw.Network.SimulatePacketLoss
	}
	if meta.IsDefined("network", "packet_loss_chance") {
		opts.Network.PacketLossChance = raw.Network.PacketLossChance
	}
	if meta.IsDefined("network", "simulate_latency") {
		opts.Network.SimulateLatency = raw.Network.SimulateLatency
	}
	if meta.IsDefined("network", "simulate_large_stalls") {
		opts.Network.SimulateLargeStalls = raw.Network.SimulateLargeStalls
	}
	if meta.IsDefined("network", "large_stalls_packet_loss") {
		opts.Network.LargeStallsPacketLoss = raw.Network.LargeStallsPacketLoss
	}

	return opts, nil
}
