// Package transport implements a session layer over a single UDP socket,
// giving the channel connection handshakes, four delivery classes and
// connectionless datagrams.
//
// # Architecture
//
// A Manager owns one net.PacketConn. A reader goroutine parses datagrams and
// a timer goroutine drives resends, keepalive pings, timeouts and simulated
// latency. Neither calls user code: both append to an internal event queue
// that the owner drains with PollEvents on its own goroutine.
//
//	m := transport.NewManager(nil)
//	if err := m.Start(0); err != nil {
//	    return err
//	}
//	defer m.Stop()
//
//	peer, err := m.Connect("127.0.0.1:7777", sharedKey)
//	...
//	m.PollEvents(listener) // once per tick
//
// # Packet Format
//
// Every datagram is [packet type (1 byte)][body]:
//
//	Unconnected     application payload
//	ConnectRequest  connection id (8) + keyed BLAKE2b-256 digest (32)
//	ConnectAccept   connection id (8)
//	ConnectReject   connection id (8) + reason (1)
//	Disconnect      reason (1)
//	Ping, Pong      sequence (2)
//	Ack             method (1) + sequence (2)
//	Data            method (1) + sequence (2) + payload
//
// # Delivery Methods
//
// Each delivery method has its own uint16 sequence space with wraparound.
//
//   - ReliableOrdered: acknowledged and resent; out-of-order packets are held
//     until the gap fills.
//   - ReliableUnordered: acknowledged and resent; delivered on arrival with
//     duplicates suppressed.
//   - Sequenced: not resent; anything not newer than the last delivered
//     packet is dropped.
//   - Unreliable: delivered as received.
//
// # Connection Keys
//
// The shared key never travels on the wire. A connection request carries a
// BLAKE2b-256 MAC of the connection id keyed with a hash of the key, and
// ConnectionRequest.AcceptIfKey compares it in constant time.
//
// # Network Simulation
//
// SetConditions applies packet loss and latency from package netsim to
// every inbound datagram, connectionless ones included.
package transport
