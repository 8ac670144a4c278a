// Package limits provides centralized size constants and validation functions
// shared by the wire codec and the datagram transport.
//
// # Size Hierarchy
//
//   - MaxPacketSize (1200 bytes): the largest datagram the transport emits.
//   - MaxPayloadSize: MaxPacketSize minus the data packet header; the largest
//     encoded message accepted by Send and Broadcast.
//   - MaxStringLength and MaxCollectionLength: bounds enforced by the codec
//     on both the write and the read side, so a hostile length prefix can
//     never cause a large allocation.
//
// # Validation Functions
//
//	if err := limits.ValidatePayload(encoded); err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLarge
//	}
package limits
