// Package limits provides centralized size limits for the channel's wire
// format so that the codec, the transport and the channel agree on them.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxPacketSize is the largest datagram the transport will emit. It
	// stays below common path MTUs so packets are never IP-fragmented.
	MaxPacketSize = 1200

	// DataHeaderSize is the transport overhead of a data packet:
	// packet type (1) + delivery method (1) + sequence number (2).
	DataHeaderSize = 4

	// MaxPayloadSize is the largest encoded message a single send accepts.
	MaxPayloadSize = MaxPacketSize - DataHeaderSize

	// MaxStringLength bounds length-prefixed strings on the wire.
	MaxStringLength = 512

	// MaxCollectionLength bounds counted slices on the wire.
	MaxCollectionLength = 255

	// ReadBufferSize is the receive buffer used by the transport. Anything
	// larger than MaxPacketSize is discarded after being read.
	ReadBufferSize = 2048
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidatePayload validates an encoded message against MaxPayloadSize.
func ValidatePayload(payload []byte) error {
	return ValidateMessageSize(payload, MaxPayloadSize)
}

// ValidatePacket validates a raw datagram against MaxPacketSize.
func ValidatePacket(packet []byte) error {
	return ValidateMessageSize(packet, MaxPacketSize)
}
