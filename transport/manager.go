package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/netchannel/clock"
	"github.com/opd-ai/netchannel/delivery"
	"github.com/opd-ai/netchannel/limits"
	"github.com/opd-ai/netchannel/netsim"
	"github.com/sirupsen/logrus"
)

type eventKind int

const (
	eventConnect eventKind = iota
	eventDisconnect
	eventReceive
	eventReceiveUnconnected
	eventLatencyUpdate
	eventError
	eventConnectionRequest
)

type event struct {
	kind       eventKind
	peer       PeerID
	addr       net.Addr
	data       []byte
	method     delivery.Method
	disconnect DisconnectInfo
	latency    time.Duration
	err        error
	request    *ConnectionRequest
}

type counters struct {
	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	packetsDropped  atomic.Uint64
	retransmissions atomic.Uint64
}

// Manager owns one UDP socket and every session multiplexed over it. Its
// methods are safe for concurrent use; events are only observed through
// PollEvents.
type Manager struct {
	config Config
	clock  clock.TimeProvider

	mu       sync.Mutex
	conn     net.PacketConn
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	peers    map[PeerID]*peer
	byAddr   map[string]*peer
	requests map[string]*ConnectionRequest
	nextID   PeerID
	events   []event
	delayed  []delayedPacket

	conditions netsim.Conditions
	rng        *rand.Rand

	counters counters
}

// NewManager creates a stopped manager. Zero fields in config take their
// DefaultConfig values; a nil config uses DefaultConfig.
func NewManager(config *Config) *Manager {
	cfg := *DefaultConfig()
	if config != nil {
		cfg = mergeConfig(*config)
	}
	tp := clock.Or(cfg.TimeProvider)
	seed := cfg.Seed
	if seed == 0 {
		seed = tp.Now().UnixNano()
	}

	return &Manager{
		config:   cfg,
		clock:    tp,
		peers:    make(map[PeerID]*peer),
		byAddr:   make(map[string]*peer),
		requests: make(map[string]*ConnectionRequest),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func mergeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = def.UpdateInterval
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ResendInterval <= 0 {
		cfg.ResendInterval = def.ResendInterval
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = def.DisconnectTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxConnectAttempts <= 0 {
		cfg.MaxConnectAttempts = def.MaxConnectAttempts
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	return cfg
}

// IsRunning reports whether a socket is bound.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// LocalAddr returns the bound address, or nil when stopped.
func (m *Manager) LocalAddr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	return m.conn.LocalAddr()
}

// Stop sends a disconnect to every connected peer, closes the socket and
// discards all sessions and queued events. No events are produced for the
// dropped sessions.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}

	for _, p := range m.peers {
		if p.state == stateConnected {
			_ = m.write(marshalDisconnect(ReasonRemoteConnectionClose), p.addr)
		}
	}
	peerCount := len(m.peers)

	m.running = false
	m.cancel()
	conn := m.conn
	m.conn = nil
	clear(m.peers)
	clear(m.byAddr)
	clear(m.requests)
	m.events = nil
	m.delayed = nil
	m.mu.Unlock()

	_ = conn.Close()
	m.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Stop",
		"peers":    peerCount,
	}).Info("Transport stopped")
}

// SetConditions replaces the simulated network conditions applied to
// inbound datagrams.
func (m *Manager) SetConditions(c netsim.Conditions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conditions = c
}

// Conditions returns the simulated network conditions in effect.
func (m *Manager) Conditions() netsim.Conditions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conditions
}

// Statistics returns a snapshot of the traffic counters.
func (m *Manager) Statistics() Statistics {
	return Statistics{
		PacketsSent:     m.counters.packetsSent.Load(),
		PacketsReceived: m.counters.packetsReceived.Load(),
		BytesSent:       m.counters.bytesSent.Load(),
		BytesReceived:   m.counters.bytesReceived.Load(),
		PacketsDropped:  m.counters.packetsDropped.Load(),
		Retransmissions: m.counters.retransmissions.Load(),
	}
}

// Connect starts a session with addr, attaching a digest of key. The
// returned peer reports OnPeerConnected once accepted, or
// OnPeerDisconnected with ReasonConnectionRejected or ReasonTimeout.
func (m *Manager) Connect(address string, key string) (PeerID, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return NoPeer, fmt.Errorf("resolve %s: %w", address, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return NoPeer, ErrNotRunning
	}
	if existing, ok := m.byAddr[addr.String()]; ok {
		return existing.id, nil
	}

	now := m.clock.Now()
	p := m.addPeer(addr, stateConnecting, m.rng.Uint64(), now)
	p.digest = connectionDigest(key, p.connectionID)
	p.connectAttempts = 1
	p.lastConnectSent = now

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Connect",
		"address":  addr.String(),
		"peer_id":  p.id,
	}).Info("Connecting")

	if err := m.write(connectRequest{ConnectionID: p.connectionID, Digest: p.digest}.marshal(), addr); err != nil {
		m.removePeer(p)
		return NoPeer, err
	}
	return p.id, nil
}

// DisconnectPeer closes one session. The remote is told, and a local
// OnPeerDisconnected with ReasonDisconnectPeerCalled follows.
func (m *Manager) DisconnectPeer(id PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[id]
	if !ok {
		return
	}
	if p.state == stateConnected {
		_ = m.write(marshalDisconnect(ReasonRemoteConnectionClose), p.addr)
	}
	m.dropPeer(p, ReasonDisconnectPeerCalled)
}

// Peers returns the connected peers in ascending ID order.
func (m *Manager) Peers() []PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]PeerID, 0, len(m.peers))
	for id, p := range m.peers {
		if p.state == stateConnected {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PeerAddr returns the remote address of a known peer.
func (m *Manager) PeerAddr(id PeerID) (net.Addr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	if !ok {
		return nil, false
	}
	return p.addr, true
}

// Send transmits payload to one connected peer using method.
func (m *Manager) Send(id PeerID, payload []byte, method delivery.Method) error {
	if err := validateSend(payload, method); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return ErrNotRunning
	}
	p, ok := m.peers[id]
	if !ok || p.state != stateConnected {
		return fmt.Errorf("%w: %d", ErrPeerNotFound, id)
	}
	return m.sendData(p, payload, method, m.clock.Now())
}

// SendToAll transmits payload to every connected peer except those listed.
// Failures for individual peers are joined; other peers are unaffected.
func (m *Manager) SendToAll(payload []byte, method delivery.Method, exclude ...PeerID) error {
	if err := validateSend(payload, method); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return ErrNotRunning
	}
	now := m.clock.Now()
	var errs []error
	for id, p := range m.peers {
		if p.state != stateConnected || excluded(id, exclude) {
			continue
		}
		if err := m.sendData(p, payload, method, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendUnconnected transmits a datagram outside any session.
func (m *Manager) SendUnconnected(payload []byte, addr net.Addr) error {
	if err := limits.ValidateMessageSize(payload, limits.MaxPacketSize-1); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return ErrNotRunning
	}
	packet := &Packet{PacketType: PacketUnconnected, Data: payload}
	data, err := packet.Serialize()
	if err != nil {
		return err
	}
	return m.write(data, addr)
}

// PollEvents drains every queued event into l on the calling goroutine and
// returns how many were delivered. Events queued by the callbacks
// themselves are delivered by the next call.
func (m *Manager) PollEvents(l EventListener) int {
	m.mu.Lock()
	events := m.events
	m.events = nil
	m.mu.Unlock()

	for _, ev := range events {
		switch ev.kind {
		case eventConnect:
			l.OnPeerConnected(ev.peer)
		case eventDisconnect:
			l.OnPeerDisconnected(ev.peer, ev.disconnect)
		case eventReceive:
			l.OnNetworkReceive(ev.peer, ev.data, ev.method)
		case eventReceiveUnconnected:
			l.OnNetworkReceiveUnconnected(ev.addr, ev.data)
		case eventLatencyUpdate:
			l.OnNetworkLatencyUpdate(ev.peer, ev.latency)
		case eventError:
			l.OnNetworkError(ev.addr, ev.err)
		case eventConnectionRequest:
			l.OnConnectionRequest(ev.request)
			if !ev.request.Resolved() {
				ev.request.Reject()
			}
		}
	}
	return len(events)
}

func validateSend(payload []byte, method delivery.Method) error {
	if !method.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownMethod, byte(method))
	}
	return limits.ValidatePayload(payload)
}

func excluded(id PeerID, exclude []PeerID) bool {
	for _, e := range exclude {
		if e == id {
			return true
		}
	}
	return false
}

// sendData frames and transmits one payload. Caller holds m.mu.
func (m *Manager) sendData(p *peer, payload []byte, method delivery.Method, now time.Time) error {
	if method.IsReliable() && p.inFlight[method] >= maxPendingReliable {
		return fmt.Errorf("%w: peer %d %s", ErrSendWindowFull, p.id, method)
	}
	seq := p.nextSeq(method)
	packet := marshalData(method, seq, payload)
	if err := m.write(packet, p.addr); err != nil {
		// Nothing went out, so the sequence number is free for the next send.
		p.sendSeq[method]--
		return err
	}
	if method.IsReliable() {
		p.trackReliable(method, seq, packet, now)
	}
	return nil
}

// enqueue appends an event for the next PollEvents. Caller holds m.mu.
func (m *Manager) enqueue(ev event) {
	m.events = append(m.events, ev)
}

// addPeer registers a new session. Caller holds m.mu.
func (m *Manager) addPeer(addr net.Addr, state peerState, connID uint64, now time.Time) *peer {
	m.nextID++
	p := newPeer(m.nextID, addr, state, connID, now)
	m.peers[p.id] = p
	m.byAddr[p.key] = p
	return p
}

// removePeer forgets a session silently. Caller holds m.mu.
func (m *Manager) removePeer(p *peer) {
	delete(m.peers, p.id)
	if m.byAddr[p.key] == p {
		delete(m.byAddr, p.key)
	}
}

// dropPeer forgets a session and queues its disconnect event. Caller holds m.mu.
func (m *Manager) dropPeer(p *peer, reason DisconnectReason) {
	m.removePeer(p)
	m.enqueue(event{
		kind:       eventDisconnect,
		peer:       p.id,
		disconnect: DisconnectInfo{Reason: reason, Addr: p.addr},
	})

	logrus.WithFields(logrus.Fields{
		"function": "Manager.dropPeer",
		"peer_id":  p.id,
		"address":  p.key,
		"reason":   reason.String(),
	}).Info("Peer disconnected")
}
