package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/netchannel/delivery"
	"github.com/opd-ai/netchannel/limits"
)

// PacketType identifies the type of a transport packet.
type PacketType byte

const (
	// PacketUnconnected carries an application datagram outside any session.
	PacketUnconnected PacketType = iota + 1

	// Session handshake
	PacketConnectRequest
	PacketConnectAccept
	PacketConnectReject
	PacketDisconnect

	// Keepalive and latency measurement
	PacketPing
	PacketPong

	// Session payload
	PacketAck
	PacketData
)

// String returns a human-readable packet type name.
func (t PacketType) String() string {
	switch t {
	case PacketUnconnected:
		return "unconnected"
	case PacketConnectRequest:
		return "connect-request"
	case PacketConnectAccept:
		return "connect-accept"
	case PacketConnectReject:
		return "connect-reject"
	case PacketDisconnect:
		return "disconnect"
	case PacketPing:
		return "ping"
	case PacketPong:
		return "pong"
	case PacketAck:
		return "ack"
	case PacketData:
		return "data"
	default:
		return fmt.Sprintf("packet(%d)", byte(t))
	}
}

var (
	// ErrPacketTooShort is returned for packets missing mandatory fields.
	ErrPacketTooShort = errors.New("packet too short")
	// ErrUnknownMethod is returned for data packets with an invalid delivery method.
	ErrUnknownMethod = errors.New("unknown delivery method")
)

var le = binary.LittleEndian

// Packet represents a transport packet.
type Packet struct {
	PacketType PacketType
	Data       []byte
}

// Serialize converts a packet to a byte slice for transmission.
func (p *Packet) Serialize() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.New("packet data is nil")
	}

	// Format: [packet type (1 byte)][data (variable length)]
	result := make([]byte, 1+len(p.Data))
	result[0] = byte(p.PacketType)
	copy(result[1:], p.Data)

	return result, nil
}

// ParsePacket converts a byte slice to a Packet structure. Data aliases the
// input; callers that retain it must copy.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, ErrPacketTooShort
	}

	return &Packet{
		PacketType: PacketType(data[0]),
		Data:       data[1:],
	}, nil
}

// connectRequest is [connection id u64][secret digest 32].
type connectRequest struct {
	ConnectionID uint64
	Digest       [digestSize]byte
}

func (r connectRequest) marshal() []byte {
	buf := make([]byte, 1+8+digestSize)
	buf[0] = byte(PacketConnectRequest)
	le.PutUint64(buf[1:], r.ConnectionID)
	copy(buf[9:], r.Digest[:])
	return buf
}

func parseConnectRequest(data []byte) (connectRequest, error) {
	var r connectRequest
	if len(data) < 8+digestSize {
		return r, fmt.Errorf("%w: connect request has %d bytes", ErrPacketTooShort, len(data))
	}
	r.ConnectionID = le.Uint64(data)
	copy(r.Digest[:], data[8:])
	return r, nil
}

func marshalConnectAccept(connID uint64) []byte {
	buf := make([]byte, 1+8)
	buf[0] = byte(PacketConnectAccept)
	le.PutUint64(buf[1:], connID)
	return buf
}

func marshalConnectReject(connID uint64, reason DisconnectReason) []byte {
	buf := make([]byte, 1+8+1)
	buf[0] = byte(PacketConnectReject)
	le.PutUint64(buf[1:], connID)
	buf[9] = byte(reason)
	return buf
}

func parseConnectionID(data []byte) (uint64, error) {
	if len(data) < 8 {
		return 0, fmt.Errorf("%w: missing connection id", ErrPacketTooShort)
	}
	return le.Uint64(data), nil
}

func marshalDisconnect(reason DisconnectReason) []byte {
	return []byte{byte(PacketDisconnect), byte(reason)}
}

func marshalPingPong(t PacketType, seq uint16) []byte {
	buf := make([]byte, 3)
	buf[0] = byte(t)
	le.PutUint16(buf[1:], seq)
	return buf
}

func parseSequence(data []byte) (uint16, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: missing sequence", ErrPacketTooShort)
	}
	return le.Uint16(data), nil
}

func marshalAck(method delivery.Method, seq uint16) []byte {
	buf := make([]byte, 4)
	buf[0] = byte(PacketAck)
	buf[1] = byte(method)
	le.PutUint16(buf[2:], seq)
	return buf
}

// marshalData builds [type][method][seq u16][payload].
func marshalData(method delivery.Method, seq uint16, payload []byte) []byte {
	buf := make([]byte, limits.DataHeaderSize+len(payload))
	buf[0] = byte(PacketData)
	buf[1] = byte(method)
	le.PutUint16(buf[2:], seq)
	copy(buf[limits.DataHeaderSize:], payload)
	return buf
}

// parseMethodSequence reads the [method][seq] prefix shared by ack and data
// packets and returns the remainder.
func parseMethodSequence(data []byte) (delivery.Method, uint16, []byte, error) {
	if len(data) < 3 {
		return 0, 0, nil, fmt.Errorf("%w: missing method or sequence", ErrPacketTooShort)
	}
	method := delivery.Method(data[0])
	if !method.Valid() {
		return 0, 0, nil, fmt.Errorf("%w: %d", ErrUnknownMethod, data[0])
	}
	return method, le.Uint16(data[1:]), data[3:], nil
}
