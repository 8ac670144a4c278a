package transport

import (
	"net"
	"time"

	"github.com/opd-ai/netchannel/delivery"
)

const (
	// maxPendingReliable bounds unacknowledged reliable packets per method.
	maxPendingReliable = 512
	// receiveWindow bounds how far ahead of the expected sequence an
	// ordered packet may be buffered, and how long unordered duplicates are
	// remembered. It must exceed maxPendingReliable.
	receiveWindow = 1024
	methodCount   = int(delivery.Unreliable) + 1
)

type peerState int

const (
	stateConnecting peerState = iota
	stateConnected
)

type pendingKey struct {
	method delivery.Method
	seq    uint16
}

type pendingPacket struct {
	packet   []byte
	lastSent time.Time
}

// peer is the manager's private record for one connection.
type peer struct {
	id           PeerID
	addr         net.Addr
	key          string
	state        peerState
	connectionID uint64
	digest       [digestSize]byte

	connectAttempts int
	lastConnectSent time.Time
	lastReceived    time.Time

	pingSeq         uint16
	pingOutstanding bool
	lastPingSent    time.Time
	rtt             time.Duration

	sendSeq  [methodCount]uint16
	pending  map[pendingKey]*pendingPacket
	inFlight [methodCount]int

	orderedExpected  uint16
	orderedBuffer    map[uint16][]byte
	unorderedSeen    map[uint16]struct{}
	unorderedHighest uint16
	unorderedAny     bool
	sequencedLast    uint16
	sequencedAny     bool
}

func newPeer(id PeerID, addr net.Addr, state peerState, connID uint64, now time.Time) *peer {
	return &peer{
		id:            id,
		addr:          addr,
		key:           addr.String(),
		state:         state,
		connectionID:  connID,
		lastReceived:  now,
		lastPingSent:  now,
		pending:       make(map[pendingKey]*pendingPacket),
		orderedBuffer: make(map[uint16][]byte),
		unorderedSeen: make(map[uint16]struct{}),
	}
}

// seqNewer reports whether a is after b, allowing for wraparound.
func seqNewer(a, b uint16) bool {
	return int16(a-b) > 0
}

// nextSeq returns the sequence number for the next outgoing packet.
func (p *peer) nextSeq(method delivery.Method) uint16 {
	seq := p.sendSeq[method]
	p.sendSeq[method]++
	return seq
}

func (p *peer) trackReliable(method delivery.Method, seq uint16, packet []byte, now time.Time) {
	p.pending[pendingKey{method: method, seq: seq}] = &pendingPacket{packet: packet, lastSent: now}
	p.inFlight[method]++
}

func (p *peer) acknowledge(method delivery.Method, seq uint16) {
	key := pendingKey{method: method, seq: seq}
	if _, ok := p.pending[key]; ok {
		delete(p.pending, key)
		p.inFlight[method]--
	}
}

// receive applies the delivery rules for method to an incoming data packet.
// It returns the payloads now ready for the application, in order, and
// whether the packet must be acknowledged.
func (p *peer) receive(method delivery.Method, seq uint16, payload []byte) (ready [][]byte, ack bool) {
	switch method {
	case delivery.ReliableOrdered:
		return p.receiveOrdered(seq, payload)
	case delivery.ReliableUnordered:
		return p.receiveUnordered(seq, payload)
	case delivery.Sequenced:
		if p.sequencedAny && !seqNewer(seq, p.sequencedLast) {
			return nil, false
		}
		p.sequencedAny = true
		p.sequencedLast = seq
		return [][]byte{clone(payload)}, false
	default:
		return [][]byte{clone(payload)}, false
	}
}

func (p *peer) receiveOrdered(seq uint16, payload []byte) ([][]byte, bool) {
	diff := int16(seq - p.orderedExpected)
	switch {
	case diff < 0:
		// Already delivered; the ack was lost.
		return nil, true
	case diff >= receiveWindow:
		// Too far ahead to buffer; let the sender retry.
		return nil, false
	case diff > 0:
		if _, ok := p.orderedBuffer[seq]; !ok {
			p.orderedBuffer[seq] = clone(payload)
		}
		return nil, true
	}

	ready := [][]byte{clone(payload)}
	p.orderedExpected++
	for {
		next, ok := p.orderedBuffer[p.orderedExpected]
		if !ok {
			break
		}
		delete(p.orderedBuffer, p.orderedExpected)
		ready = append(ready, next)
		p.orderedExpected++
	}
	return ready, true
}

func (p *peer) receiveUnordered(seq uint16, payload []byte) ([][]byte, bool) {
	if p.unorderedAny && int16(p.unorderedHighest-seq) >= receiveWindow {
		// Older than anything the sender can still have in flight.
		return nil, true
	}
	if _, seen := p.unorderedSeen[seq]; seen {
		return nil, true
	}
	p.unorderedSeen[seq] = struct{}{}
	if !p.unorderedAny || seqNewer(seq, p.unorderedHighest) {
		p.unorderedHighest = seq
		p.unorderedAny = true
	}
	if len(p.unorderedSeen) > receiveWindow {
		for s := range p.unorderedSeen {
			if int16(p.unorderedHighest-s) >= receiveWindow {
				delete(p.unorderedSeen, s)
			}
		}
	}
	return [][]byte{clone(payload)}, true
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
