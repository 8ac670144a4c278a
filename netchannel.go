package netchannel

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/opd-ai/netchannel/clock"
	"github.com/opd-ai/netchannel/codec"
	"github.com/opd-ai/netchannel/delivery"
	"github.com/opd-ai/netchannel/dispatch"
	"github.com/opd-ai/netchannel/messages"
	"github.com/opd-ai/netchannel/metrics"
	"github.com/opd-ai/netchannel/netsim"
	"github.com/opd-ai/netchannel/ping"
	"github.com/opd-ai/netchannel/stats"
	"github.com/opd-ai/netchannel/transport"
	"github.com/sirupsen/logrus"
)

// PeerID identifies a connected remote channel.
type PeerID = transport.PeerID

// NoPeer is the zero PeerID; it never names a connection.
const NoPeer = transport.NoPeer

// DisconnectInfo explains why a peer went away.
type DisconnectInfo = transport.DisconnectInfo

// NetChannel is the symmetric message channel used by both game clients
// and servers. It is not safe for concurrent use: every method, and every
// callback it invokes, runs on the goroutine that drives Poll.
type NetChannel struct {
	options  Options
	clock    clock.TimeProvider
	manager  *transport.Manager
	registry *dispatch.Registry
	pings    *ping.Helper
	sim      *netsim.Simulator
	metrics  *metrics.Collector
	writer   *codec.Writer
	events   *listener

	sendAverage   *stats.TimedAverage
	recvAverage   *stats.TimedAverage
	lastBytesSent uint64
	lastBytesRecv uint64
	lastPoll      time.Time

	accepting bool
	session   uint64
	latency   map[PeerID]time.Duration

	peerConnected    func(PeerID)
	peerDisconnected func(PeerID, DisconnectInfo)
	latencyUpdated   func(PeerID, time.Duration)
	networkError     func(net.Addr, error)
}

// New creates a stopped channel. A nil opts uses NewOptions; opts is
// copied, then each Option is applied to the copy.
func New(opts *Options, options ...Option) (*NetChannel, error) {
	if opts == nil {
		opts = NewOptions()
	}
	o := *opts
	for _, apply := range options {
		apply(&o)
	}
	if o.Policies == nil {
		o.Policies = messages.Policies
	}
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	tp := clock.Or(o.TimeProvider)
	manager := transport.NewManager(o.transportConfig())

	c := &NetChannel{
		options:     o,
		clock:       tp,
		manager:     manager,
		registry:    dispatch.NewRegistry(),
		pings:       ping.NewHelper(tp),
		metrics:     o.Metrics,
		writer:      codec.NewWriter(),
		sendAverage: stats.NewTimedAverage(o.BandwidthWindow),
		recvAverage: stats.NewTimedAverage(o.BandwidthWindow),
		lastPoll:    tp.Now(),
		latency:     make(map[PeerID]time.Duration),
	}
	c.events = &listener{c: c}
	c.sim = netsim.NewSimulator(o.Network, manager)
	c.resetHooks()
	messages.RegisterAll(c.registry)

	return c, nil
}

func (c *NetChannel) resetHooks() {
	c.peerConnected = func(PeerID) {}
	c.peerDisconnected = func(PeerID, DisconnectInfo) {}
	c.latencyUpdated = func(PeerID, time.Duration) {}
	c.networkError = func(net.Addr, error) {}
}

// OnPeerConnected sets the callback fired when a peer connects. A nil
// callback removes it.
func (c *NetChannel) OnPeerConnected(fn func(PeerID)) {
	if fn == nil {
		fn = func(PeerID) {}
	}
	c.peerConnected = fn
}

// OnPeerDisconnected sets the callback fired when a peer disconnects,
// including connection attempts that were rejected or timed out.
func (c *NetChannel) OnPeerDisconnected(fn func(PeerID, DisconnectInfo)) {
	if fn == nil {
		fn = func(PeerID, DisconnectInfo) {}
	}
	c.peerDisconnected = fn
}

// OnLatencyUpdate sets the callback fired when a peer's latency estimate
// changes.
func (c *NetChannel) OnLatencyUpdate(fn func(PeerID, time.Duration)) {
	if fn == nil {
		fn = func(PeerID, time.Duration) {}
	}
	c.latencyUpdated = fn
}

// OnNetworkError sets the callback fired for socket errors. The channel
// stays usable after an error.
func (c *NetChannel) OnNetworkError(fn func(net.Addr, error)) {
	if fn == nil {
		fn = func(net.Addr, error) {}
	}
	c.networkError = fn
}

// StartAsClient binds an ephemeral port without accepting connections.
// Calling it while running does nothing.
func (c *NetChannel) StartAsClient() error {
	if c.manager.IsRunning() {
		logrus.WithFields(logrus.Fields{
			"function": "NetChannel.StartAsClient",
		}).Warn("Network manager already running, doing nothing")
		return nil
	}
	return c.manager.Start(0)
}

// Connect starts connecting to host:port, starting as a client first if
// needed. Only address resolution fails synchronously; rejection and
// timeouts arrive through OnPeerDisconnected.
func (c *NetChannel) Connect(host string, port int) error {
	if err := c.StartAsClient(); err != nil {
		return err
	}
	address := net.JoinHostPort(host, strconv.Itoa(port))
	peer, err := c.manager.Connect(address, c.options.ConnectionKey)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NetChannel.Connect",
		"address":  address,
		"peer_id":  peer,
	}).Info("Connecting to server")
	return nil
}

// Listen stops any running session and starts accepting connections on
// port.
func (c *NetChannel) Listen(port int) error {
	c.Stop()
	if err := c.manager.Start(port); err != nil {
		return err
	}
	c.accepting = true

	logrus.WithFields(logrus.Fields{
		"function":   "NetChannel.Listen",
		"local_addr": c.manager.LocalAddr().String(),
	}).Info("Accepting connections")
	return nil
}

// Ping sends a connectionless probe to addr ("host:port") and calls cb
// with the round trip once the reply arrives. A newer ping to the same
// address replaces cb. Replies are only processed during Poll.
func (c *NetChannel) Ping(addr string, cb func(time.Duration)) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}
	if err := c.StartAsClient(); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NetChannel.Ping",
		"address":  udpAddr.String(),
	}).Debug("Sending ping")

	c.pings.AddListener(udpAddr, cb)
	return c.manager.SendUnconnected([]byte{ping.RequestHeader}, udpAddr)
}

// Send encodes msg and sends it to peer with the delivery method of its
// kind. It panics if the kind has no delivery policy.
func (c *NetChannel) Send(peer PeerID, msg dispatch.Message) error {
	method := c.options.Policies.MustLookup(msg.Kind())
	payload, err := c.encode(msg)
	if err != nil {
		return err
	}
	if err := c.manager.Send(peer, payload, method); err != nil {
		return err
	}
	c.metrics.MessageSent(messages.KindName(msg.Kind()), 1)
	return nil
}

// Broadcast encodes msg once and sends it to every connected peer except
// those in exclude. With no connected peers it does nothing. It panics if
// the kind has no delivery policy.
func (c *NetChannel) Broadcast(msg dispatch.Message, exclude ...PeerID) error {
	method := c.options.Policies.MustLookup(msg.Kind())
	if !c.manager.IsRunning() {
		return nil
	}
	payload, err := c.encode(msg)
	if err != nil {
		return err
	}
	if err := c.manager.SendToAll(payload, method, exclude...); err != nil {
		return err
	}
	c.metrics.MessageSent(messages.KindName(msg.Kind()), 1)
	return nil
}

// encode frames msg into the shared writer. The result is only valid until
// the next call.
func (c *NetChannel) encode(msg dispatch.Message) ([]byte, error) {
	c.writer.Reset()
	if err := dispatch.Write(c.writer, msg); err != nil {
		return nil, fmt.Errorf("encode %s: %w", messages.KindName(msg.Kind()), err)
	}
	return c.writer.Bytes(), nil
}

// Poll delivers every pending network event, then updates bandwidth
// averages, advances the network simulator and expires stale pings. Call
// it once per tick.
func (c *NetChannel) Poll() {
	now := c.clock.Now()
	dt := now.Sub(c.lastPoll)
	c.lastPoll = now

	c.events.session = c.session
	c.manager.PollEvents(c.events)

	c.updateBandwidth(dt)
	if dt > 0 {
		c.sim.Advance(dt)
	}
	c.metrics.SetStalled(c.sim.Stalled())
	c.pings.Expire(c.options.PendingPingTTL)
}

func (c *NetChannel) updateBandwidth(dt time.Duration) {
	st := c.manager.Statistics()
	sent := st.BytesSent - c.lastBytesSent
	recv := st.BytesReceived - c.lastBytesRecv
	c.lastBytesSent = st.BytesSent
	c.lastBytesRecv = st.BytesReceived

	c.sendAverage.Update(dt.Seconds(), sent)
	c.recvAverage.Update(dt.Seconds(), recv)
	c.metrics.SetBandwidth(c.sendAverage.Average(), c.recvAverage.Average())

	logrus.WithFields(logrus.Fields{
		"function":    "NetChannel.updateBandwidth",
		"send_rate":   c.sendAverage.Average(),
		"recv_rate":   c.recvAverage.Average(),
		"delta_sent":  sent,
		"delta_recv":  recv,
		"elapsed_sec": dt.Seconds(),
	}).Trace("Bandwidth updated")
}

// Stop ends the session. Connected peers are told, pending pings are
// abandoned and latency estimates are forgotten; no callbacks fire for
// any of it.
func (c *NetChannel) Stop() {
	c.session++
	c.manager.Stop()
	c.pings.Clear()
	clear(c.latency)
	c.accepting = false
	c.sendAverage.Reset()
	c.recvAverage.Reset()
	c.metrics.SetConnectedPeers(0)
}

// DisconnectPeer closes one connection. OnPeerDisconnected fires during a
// later Poll.
func (c *NetChannel) DisconnectPeer(peer PeerID) {
	c.manager.DisconnectPeer(peer)
}

// PeerLatency returns the last reported latency of peer.
func (c *NetChannel) PeerLatency(peer PeerID) (time.Duration, bool) {
	d, ok := c.latency[peer]
	return d, ok
}

// PeerAddr returns the remote address of peer.
func (c *NetChannel) PeerAddr(peer PeerID) (net.Addr, bool) {
	return c.manager.PeerAddr(peer)
}

// ConnectedPeers returns the connected peers in ascending order.
func (c *NetChannel) ConnectedPeers() []PeerID {
	return c.manager.Peers()
}

// SendRate returns the averaged outgoing bandwidth in bytes per second.
func (c *NetChannel) SendRate() float64 {
	return c.sendAverage.Average()
}

// RecvRate returns the averaged incoming bandwidth in bytes per second.
func (c *NetChannel) RecvRate() float64 {
	return c.recvAverage.Average()
}

// Accepting reports whether inbound connections can be accepted.
func (c *NetChannel) Accepting() bool {
	return c.accepting
}

// IsRunning reports whether the channel has a bound socket.
func (c *NetChannel) IsRunning() bool {
	return c.manager.IsRunning()
}

// LocalAddr returns the bound address, or nil when stopped.
func (c *NetChannel) LocalAddr() net.Addr {
	return c.manager.LocalAddr()
}

// Statistics returns the transport's traffic counters.
func (c *NetChannel) Statistics() transport.Statistics {
	return c.manager.Statistics()
}

// SetNetworkSettings replaces the simulated network quality and restarts
// the stall cycle. It may be called at any time.
func (c *NetChannel) SetNetworkSettings(settings netsim.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	c.options.Network = settings
	c.sim.Configure(settings)
	return nil
}

// NetworkSettings returns the simulated network quality in effect.
func (c *NetChannel) NetworkSettings() netsim.Settings {
	return c.sim.Settings()
}

// Stalled reports whether large stall settings are currently applied.
func (c *NetChannel) Stalled() bool {
	return c.sim.Stalled()
}

// Policy returns the delivery method used for kind.
func (c *NetChannel) Policy(kind dispatch.Kind) (delivery.Method, bool) {
	return c.options.Policies.Lookup(kind)
}

// listener receives transport events on behalf of a NetChannel. Events
// polled after Stop are ignored.
type listener struct {
	c       *NetChannel
	session uint64
}

func (l *listener) stale() bool {
	return l.session != l.c.session
}

func (l *listener) OnPeerConnected(peer PeerID) {
	if l.stale() {
		return
	}
	c := l.c
	addr, _ := c.manager.PeerAddr(peer)
	logrus.WithFields(logrus.Fields{
		"function": "NetChannel.OnPeerConnected",
		"peer_id":  peer,
		"address":  fmt.Sprint(addr),
	}).Info("Peer connected")

	c.metrics.SetConnectedPeers(len(c.manager.Peers()))
	c.peerConnected(peer)
}

func (l *listener) OnPeerDisconnected(peer PeerID, info DisconnectInfo) {
	if l.stale() {
		return
	}
	c := l.c
	delete(c.latency, peer)

	logrus.WithFields(logrus.Fields{
		"function": "NetChannel.OnPeerDisconnected",
		"peer_id":  peer,
		"reason":   info.String(),
	}).Info("Peer disconnected")

	c.metrics.Disconnected(info.Reason.String())
	c.metrics.SetConnectedPeers(len(c.manager.Peers()))
	c.peerDisconnected(peer, info)
}

func (l *listener) OnConnectionRequest(request *transport.ConnectionRequest) {
	if l.stale() {
		request.Reject()
		return
	}
	c := l.c
	fields := logrus.Fields{
		"function": "NetChannel.OnConnectionRequest",
		"address":  request.Addr().String(),
	}

	if !c.accepting {
		request.Reject()
		logrus.WithFields(fields).Info("Rejected connection, not accepting")
		return
	}
	if _, ok := request.AcceptIfKey(c.options.ConnectionKey); !ok {
		logrus.WithFields(fields).Warn("Rejected connection with wrong key")
	}
}

func (l *listener) OnNetworkReceive(peer PeerID, data []byte, method delivery.Method) {
	if l.stale() {
		return
	}
	c := l.c
	c.metrics.PayloadReceived(method.String())

	err := c.registry.Dispatch(data, peer)
	if err == nil {
		return
	}

	reason := "malformed"
	if errors.Is(err, dispatch.ErrUnknownKind) {
		reason = "unknown_kind"
	}
	c.metrics.Dropped(reason)
	logrus.WithFields(logrus.Fields{
		"function": "NetChannel.OnNetworkReceive",
		"peer_id":  peer,
		"delivery": method.String(),
		"error":    err.Error(),
	}).Warn("Dropping undecodable payload")
}

func (l *listener) OnNetworkReceiveUnconnected(addr net.Addr, data []byte) {
	if l.stale() {
		return
	}
	c := l.c
	fields := logrus.Fields{
		"function": "NetChannel.OnNetworkReceiveUnconnected",
		"address":  addr.String(),
	}

	var header byte
	if len(data) > 0 {
		header = data[0]
	}

	// Only the leading byte matters; trailing padding is ignored.
	switch {
	case len(data) > 0 && header == ping.RequestHeader:
		logrus.WithFields(fields).Debug("Received ping")
		if err := c.manager.SendUnconnected([]byte{ping.ResponseHeader}, addr); err != nil {
			fields["error"] = err.Error()
			logrus.WithFields(fields).Warn("Failed to answer ping")
		}
	case len(data) > 0 && header == ping.ResponseHeader:
		logrus.WithFields(fields).Debug("Received pong")
		c.pings.ReceivePong(addr)
	default:
		c.metrics.Dropped("unexpected_unconnected")
		fields["size"] = len(data)
		logrus.WithFields(fields).Warn("Got unexpected unconnected message. Spam/attack?")
	}
}

func (l *listener) OnNetworkError(addr net.Addr, err error) {
	if l.stale() {
		return
	}
	c := l.c
	logrus.WithFields(logrus.Fields{
		"function": "NetChannel.OnNetworkError",
		"address":  fmt.Sprint(addr),
		"error":    err.Error(),
	}).Warn("Network error")

	c.metrics.NetworkError()
	c.networkError(addr, err)
}

func (l *listener) OnNetworkLatencyUpdate(peer PeerID, latency time.Duration) {
	if l.stale() {
		return
	}
	c := l.c
	c.latency[peer] = latency
	c.metrics.ObserveLatency(latency)

	logrus.WithFields(logrus.Fields{
		"function": "NetChannel.OnNetworkLatencyUpdate",
		"peer_id":  peer,
		"latency":  latency,
	}).Trace("Latency updated")

	c.latencyUpdated(peer, latency)
}
