package transport

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// handlePacket parses one datagram and updates session state. Packets from
// unknown addresses are ignored unless they are connectionless or a
// connection request. Caller holds m.mu.
func (m *Manager) handlePacket(data []byte, addr net.Addr) {
	packet, err := ParsePacket(data)
	if err != nil {
		return
	}

	switch packet.PacketType {
	case PacketUnconnected:
		m.enqueue(event{kind: eventReceiveUnconnected, addr: addr, data: clone(packet.Data)})
		return
	case PacketConnectRequest:
		m.handleConnectRequest(packet.Data, addr)
		return
	}

	p, ok := m.byAddr[addr.String()]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":    "Manager.handlePacket",
			"address":     addr.String(),
			"packet_type": packet.PacketType.String(),
		}).Debug("Ignoring packet from unknown address")
		return
	}

	now := m.clock.Now()
	switch packet.PacketType {
	case PacketConnectAccept:
		m.handleConnectAccept(p, packet.Data, now)
	case PacketConnectReject:
		m.handleConnectReject(p, packet.Data)
	case PacketDisconnect:
		if p.state == stateConnected {
			m.dropPeer(p, ReasonRemoteConnectionClose)
		}
	default:
		if p.state != stateConnected {
			return
		}
		p.lastReceived = now
		m.handleSessionPacket(p, packet, now)
	}
}

func (m *Manager) handleSessionPacket(p *peer, packet *Packet, now time.Time) {
	switch packet.PacketType {
	case PacketPing:
		if seq, err := parseSequence(packet.Data); err == nil {
			_ = m.write(marshalPingPong(PacketPong, seq), p.addr)
		}
	case PacketPong:
		seq, err := parseSequence(packet.Data)
		if err != nil || !p.pingOutstanding || seq != p.pingSeq {
			return
		}
		p.pingOutstanding = false
		p.rtt = now.Sub(p.lastPingSent)
		m.enqueue(event{kind: eventLatencyUpdate, peer: p.id, latency: p.rtt / 2})
	case PacketAck:
		method, seq, _, err := parseMethodSequence(packet.Data)
		if err != nil {
			return
		}
		p.acknowledge(method, seq)
	case PacketData:
		method, seq, payload, err := parseMethodSequence(packet.Data)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Manager.handleSessionPacket",
				"peer_id":  p.id,
				"error":    err.Error(),
			}).Warn("Dropping malformed data packet")
			return
		}
		ready, ack := p.receive(method, seq, payload)
		if ack {
			_ = m.write(marshalAck(method, seq), p.addr)
		}
		for _, data := range ready {
			m.enqueue(event{kind: eventReceive, peer: p.id, data: data, method: method})
		}
	}
}

func (m *Manager) handleConnectRequest(data []byte, addr net.Addr) {
	req, err := parseConnectRequest(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.handleConnectRequest",
			"address":  addr.String(),
			"error":    err.Error(),
		}).Warn("Dropping malformed connection request")
		return
	}
	key := addr.String()

	if p, ok := m.byAddr[key]; ok {
		switch {
		case p.state == stateConnecting:
			// Both sides dialing each other; our own attempt wins.
			return
		case p.connectionID == req.ConnectionID:
			// Our accept was lost; answer again.
			_ = m.write(marshalConnectAccept(p.connectionID), addr)
			return
		default:
			m.dropPeer(p, ReasonReconnect)
		}
	}

	if pending, ok := m.requests[key]; ok && pending.request.ConnectionID == req.ConnectionID {
		return
	}

	r := &ConnectionRequest{manager: m, addr: addr, request: req}
	m.requests[key] = r
	m.enqueue(event{kind: eventConnectionRequest, addr: addr, request: r})
}

func (m *Manager) handleConnectAccept(p *peer, data []byte, now time.Time) {
	connID, err := parseConnectionID(data)
	if err != nil || p.state != stateConnecting || connID != p.connectionID {
		return
	}
	p.state = stateConnected
	p.lastReceived = now
	p.lastPingSent = now
	m.enqueue(event{kind: eventConnect, peer: p.id})

	logrus.WithFields(logrus.Fields{
		"function": "Manager.handleConnectAccept",
		"peer_id":  p.id,
		"address":  p.key,
	}).Info("Connection accepted by remote")
}

func (m *Manager) handleConnectReject(p *peer, data []byte) {
	connID, err := parseConnectionID(data)
	if err != nil || p.state != stateConnecting || connID != p.connectionID {
		return
	}
	m.dropPeer(p, ReasonConnectionRejected)
}

// acceptRequest creates the session for an accepted request.
func (m *Manager) acceptRequest(r *ConnectionRequest) PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.addr.String()
	if !m.running || m.requests[key] != r {
		return NoPeer
	}
	delete(m.requests, key)

	p := m.addPeer(r.addr, stateConnected, r.request.ConnectionID, m.clock.Now())
	_ = m.write(marshalConnectAccept(p.connectionID), r.addr)
	m.enqueue(event{kind: eventConnect, peer: p.id})

	logrus.WithFields(logrus.Fields{
		"function": "Manager.acceptRequest",
		"peer_id":  p.id,
		"address":  key,
	}).Info("Accepted connection")
	return p.id
}

// rejectRequest answers a refused request.
func (m *Manager) rejectRequest(r *ConnectionRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.addr.String()
	if m.requests[key] == r {
		delete(m.requests, key)
	}
	if !m.running {
		return
	}
	_ = m.write(marshalConnectReject(r.request.ConnectionID, ReasonConnectionRejected), r.addr)

	logrus.WithFields(logrus.Fields{
		"function": "Manager.rejectRequest",
		"address":  key,
	}).Info("Rejected connection")
}

// update runs the periodic timers. Called from runTimers.
func (m *Manager) update() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	now := m.clock.Now()
	m.flushDelayed(now)

	for _, p := range m.peers {
		switch p.state {
		case stateConnecting:
			m.updateConnecting(p, now)
		case stateConnected:
			m.updateConnected(p, now)
		}
	}
}

func (m *Manager) updateConnecting(p *peer, now time.Time) {
	if now.Sub(p.lastConnectSent) < m.config.ReconnectDelay {
		return
	}
	if p.connectAttempts >= m.config.MaxConnectAttempts {
		m.dropPeer(p, ReasonTimeout)
		return
	}
	p.connectAttempts++
	p.lastConnectSent = now
	_ = m.write(connectRequest{ConnectionID: p.connectionID, Digest: p.digest}.marshal(), p.addr)
}

func (m *Manager) updateConnected(p *peer, now time.Time) {
	if now.Sub(p.lastReceived) > m.config.DisconnectTimeout {
		m.dropPeer(p, ReasonTimeout)
		return
	}

	if now.Sub(p.lastPingSent) >= m.config.PingInterval {
		p.pingSeq++
		p.pingOutstanding = true
		p.lastPingSent = now
		_ = m.write(marshalPingPong(PacketPing, p.pingSeq), p.addr)
	}

	for _, pending := range p.pending {
		if now.Sub(pending.lastSent) < m.config.ResendInterval {
			continue
		}
		pending.lastSent = now
		m.counters.retransmissions.Add(1)
		_ = m.write(pending.packet, p.addr)
	}
}
