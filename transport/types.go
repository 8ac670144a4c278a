package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/opd-ai/netchannel/clock"
	"github.com/opd-ai/netchannel/delivery"
)

var (
	// ErrNotRunning is returned when the manager has no bound socket.
	ErrNotRunning = errors.New("transport not running")
	// ErrAlreadyRunning is returned by Start on a running manager.
	ErrAlreadyRunning = errors.New("transport already running")
	// ErrPeerNotFound is returned when sending to an unknown or disconnected peer.
	ErrPeerNotFound = errors.New("peer not found")
	// ErrSendWindowFull is returned when too many reliable packets are unacknowledged.
	ErrSendWindowFull = errors.New("reliable send window full")
)

// PeerID is an opaque handle to one connection. IDs are issued by the
// manager on connect and never reused while the manager runs.
type PeerID uint32

// NoPeer is the zero PeerID; it never names a connection.
const NoPeer PeerID = 0

// DisconnectReason explains why a peer went away.
type DisconnectReason byte

const (
	// ReasonTimeout means the remote stopped answering, or never answered
	// the connection request.
	ReasonTimeout DisconnectReason = iota + 1
	// ReasonConnectionRejected means the remote refused the connection.
	ReasonConnectionRejected
	// ReasonRemoteConnectionClose means the remote closed the session.
	ReasonRemoteConnectionClose
	// ReasonDisconnectPeerCalled means the local side closed the session.
	ReasonDisconnectPeerCalled
	// ReasonReconnect means the remote opened a new session from the same address.
	ReasonReconnect
)

// String returns a human-readable disconnect reason.
func (r DisconnectReason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonConnectionRejected:
		return "rejected"
	case ReasonRemoteConnectionClose:
		return "remote connection close"
	case ReasonDisconnectPeerCalled:
		return "disconnect called"
	case ReasonReconnect:
		return "reconnect"
	default:
		return fmt.Sprintf("reason(%d)", byte(r))
	}
}

// DisconnectInfo accompanies a disconnect event.
type DisconnectInfo struct {
	Reason DisconnectReason
	Addr   net.Addr
}

// String returns the reason and remote address.
func (d DisconnectInfo) String() string {
	if d.Addr == nil {
		return d.Reason.String()
	}
	return fmt.Sprintf("%s (%s)", d.Reason, d.Addr)
}

// EventListener receives transport events from PollEvents. Every method is
// called on the goroutine that called PollEvents, in arrival order.
type EventListener interface {
	OnPeerConnected(peer PeerID)
	OnPeerDisconnected(peer PeerID, info DisconnectInfo)
	OnConnectionRequest(request *ConnectionRequest)
	OnNetworkReceive(peer PeerID, data []byte, method delivery.Method)
	OnNetworkReceiveUnconnected(addr net.Addr, data []byte)
	OnNetworkError(addr net.Addr, err error)
	OnNetworkLatencyUpdate(peer PeerID, latency time.Duration)
}

// Config holds timing parameters for the manager.
type Config struct {
	// BindAddress is the host part used by Start; empty binds all interfaces.
	BindAddress string
	// UpdateInterval is how often timers (resends, pings, timeouts) run.
	UpdateInterval time.Duration
	// PingInterval is how often connected peers are pinged for latency.
	PingInterval time.Duration
	// ResendInterval is how long an unacknowledged reliable packet waits
	// before being sent again.
	ResendInterval time.Duration
	// DisconnectTimeout is how long a peer may stay silent.
	DisconnectTimeout time.Duration
	// ReconnectDelay is the pause between connection request attempts.
	ReconnectDelay time.Duration
	// MaxConnectAttempts bounds connection request attempts.
	MaxConnectAttempts int
	// ReadTimeout bounds each socket read so the reader notices shutdown.
	ReadTimeout time.Duration
	// Seed seeds the simulation RNG; zero seeds from the clock.
	Seed int64
	// TimeProvider overrides the clock; nil uses the system clock.
	TimeProvider clock.TimeProvider
}

// DefaultConfig returns configuration suited to a real-time game.
func DefaultConfig() *Config {
	return &Config{
		UpdateInterval:     15 * time.Millisecond,
		PingInterval:       time.Second,
		ResendInterval:     100 * time.Millisecond,
		DisconnectTimeout:  5 * time.Second,
		ReconnectDelay:     500 * time.Millisecond,
		MaxConnectAttempts: 10,
		ReadTimeout:        100 * time.Millisecond,
	}
}

// Statistics is a snapshot of the manager's traffic counters.
type Statistics struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	PacketsDropped  uint64
	Retransmissions uint64
}
