package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/opd-ai/netchannel/limits"
	"github.com/sirupsen/logrus"
)

// readErrorBackoff pauses the reader after an unexpected socket error so a
// persistent failure cannot spin the goroutine.
const readErrorBackoff = 10 * time.Millisecond

type delayedPacket struct {
	deliverAt time.Time
	data      []byte
	addr      net.Addr
}

// Start binds a UDP socket on port (0 picks an ephemeral port) and starts
// the reader and timer goroutines.
func (m *Manager) Start(port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyRunning
	}

	listenAddr := net.JoinHostPort(m.config.BindAddress, strconv.Itoa(port))
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.Start",
			"address":  listenAddr,
			"error":    err.Error(),
		}).Error("Failed to bind UDP socket")
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.conn = conn
	m.cancel = cancel
	m.running = true

	m.wg.Add(2)
	go m.processPackets(ctx, conn)
	go m.runTimers(ctx)

	logrus.WithFields(logrus.Fields{
		"function":   "Manager.Start",
		"local_addr": conn.LocalAddr().String(),
	}).Info("Transport started")

	return nil
}

// processPackets handles incoming packets until ctx is cancelled.
func (m *Manager) processPackets(ctx context.Context, conn net.PacketConn) {
	defer m.wg.Done()
	buffer := make([]byte, limits.ReadBufferSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data, addr, err := m.readPacketData(conn, buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if !m.handleReadError(err) {
				time.Sleep(readErrorBackoff)
			}
			continue
		}
		m.receiveDatagram(conn, data, addr)
	}
}

// readPacketData reads data from the connection with timeout handling.
func (m *Manager) readPacketData(conn net.PacketConn, buffer []byte) ([]byte, net.Addr, error) {
	// Set read deadline so cancellation is noticed promptly
	_ = conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))

	n, addr, err := conn.ReadFrom(buffer)
	if err != nil {
		return nil, nil, err
	}
	return buffer[:n], addr, nil
}

// handleReadError classifies a read error. It returns true for the
// expected deadline timeout and reports everything else as a network error.
func (m *Manager) handleReadError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	m.mu.Lock()
	m.enqueue(event{kind: eventError, err: err})
	m.mu.Unlock()
	return false
}

// receiveDatagram applies simulated conditions and hands the datagram to
// the packet handler.
func (m *Manager) receiveDatagram(conn net.PacketConn, data []byte, addr net.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != conn {
		return
	}
	m.counters.packetsReceived.Add(1)
	m.counters.bytesReceived.Add(uint64(len(data)))

	if len(data) > limits.MaxPacketSize {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.receiveDatagram",
			"address":  addr.String(),
			"size":     len(data),
		}).Debug("Discarding oversized datagram")
		return
	}

	if m.conditions.ShouldDrop(m.rng) {
		m.counters.packetsDropped.Add(1)
		return
	}
	if delay := m.conditions.Delay(m.rng); delay > 0 {
		m.delayed = append(m.delayed, delayedPacket{
			deliverAt: m.clock.Now().Add(delay),
			data:      clone(data),
			addr:      addr,
		})
		return
	}

	m.handlePacket(data, addr)
}

// runTimers drives resends, pings, timeouts and delayed delivery.
func (m *Manager) runTimers(ctx context.Context) {
	defer m.wg.Done()
	ticker := m.clock.NewTicker(m.config.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.update()
		}
	}
}

// flushDelayed hands over simulated-latency packets whose time has come.
// Caller holds m.mu.
func (m *Manager) flushDelayed(now time.Time) {
	if len(m.delayed) == 0 {
		return
	}
	kept := m.delayed[:0]
	var due []delayedPacket
	for _, d := range m.delayed {
		if now.Before(d.deliverAt) {
			kept = append(kept, d)
		} else {
			due = append(due, d)
		}
	}
	m.delayed = kept
	for _, d := range due {
		m.handlePacket(d.data, d.addr)
	}
}

// write sends a datagram. Caller holds m.mu.
func (m *Manager) write(packet []byte, addr net.Addr) error {
	if m.conn == nil {
		return ErrNotRunning
	}
	n, err := m.conn.WriteTo(packet, addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.write",
			"address":  addr.String(),
			"error":    err.Error(),
		}).Warn("Failed to send datagram")
		m.enqueue(event{kind: eventError, addr: addr, err: err})
		return fmt.Errorf("send to %s: %w", addr, err)
	}
	m.counters.packetsSent.Add(1)
	m.counters.bytesSent.Add(uint64(n))
	return nil
}
