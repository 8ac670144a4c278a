package transport

import (
	"net"
	"testing"
	"time"

	"github.com/opd-ai/netchannel/delivery"
	"github.com/stretchr/testify/require"
)

type receivedPacket struct {
	peer   PeerID
	data   []byte
	method delivery.Method
}

type disconnectRecord struct {
	peer PeerID
	info DisconnectInfo
}

type unconnectedRecord struct {
	addr net.Addr
	data []byte
}

// recorder is an EventListener that keeps everything it sees. It is only
// touched from the test goroutine through PollEvents.
type recorder struct {
	onRequest    func(*ConnectionRequest)
	connected    []PeerID
	disconnected []disconnectRecord
	received     []receivedPacket
	unconnected  []unconnectedRecord
	latencies    map[PeerID]time.Duration
	errors       []error
}

func newRecorder(onRequest func(*ConnectionRequest)) *recorder {
	return &recorder{onRequest: onRequest, latencies: make(map[PeerID]time.Duration)}
}

func acceptKey(key string) func(*ConnectionRequest) {
	return func(r *ConnectionRequest) { r.AcceptIfKey(key) }
}

func (r *recorder) OnPeerConnected(peer PeerID) {
	r.connected = append(r.connected, peer)
}

func (r *recorder) OnPeerDisconnected(peer PeerID, info DisconnectInfo) {
	r.disconnected = append(r.disconnected, disconnectRecord{peer: peer, info: info})
}

func (r *recorder) OnConnectionRequest(request *ConnectionRequest) {
	if r.onRequest != nil {
		r.onRequest(request)
	}
}

func (r *recorder) OnNetworkReceive(peer PeerID, data []byte, method delivery.Method) {
	r.received = append(r.received, receivedPacket{peer: peer, data: data, method: method})
}

func (r *recorder) OnNetworkReceiveUnconnected(addr net.Addr, data []byte) {
	r.unconnected = append(r.unconnected, unconnectedRecord{addr: addr, data: data})
}

func (r *recorder) OnNetworkError(_ net.Addr, err error) {
	r.errors = append(r.errors, err)
}

func (r *recorder) OnNetworkLatencyUpdate(peer PeerID, latency time.Duration) {
	r.latencies[peer] = latency
}

type endpoint struct {
	manager  *Manager
	recorder *recorder
}

func fastConfig() *Config {
	return &Config{
		BindAddress:        "127.0.0.1",
		UpdateInterval:     5 * time.Millisecond,
		PingInterval:       50 * time.Millisecond,
		ResendInterval:     20 * time.Millisecond,
		DisconnectTimeout:  2 * time.Second,
		ReconnectDelay:     50 * time.Millisecond,
		MaxConnectAttempts: 5,
		ReadTimeout:        20 * time.Millisecond,
		Seed:               7,
	}
}

func startEndpoint(t *testing.T, cfg *Config, onRequest func(*ConnectionRequest)) *endpoint {
	t.Helper()
	m := NewManager(cfg)
	require.NoError(t, m.Start(0))
	t.Cleanup(m.Stop)
	return &endpoint{manager: m, recorder: newRecorder(onRequest)}
}

func (e *endpoint) address() string {
	return e.manager.LocalAddr().String()
}

// pump polls every endpoint until cond holds or the deadline passes.
func pump(t *testing.T, timeout time.Duration, cond func() bool, endpoints ...*endpoint) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, e := range endpoints {
			e.manager.PollEvents(e.recorder)
		}
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// connectPair starts a server accepting key and a client connected to it.
func connectPair(t *testing.T, key string) (server, client *endpoint, clientSide PeerID) {
	t.Helper()
	server = startEndpoint(t, fastConfig(), acceptKey(key))
	client = startEndpoint(t, fastConfig(), nil)

	peer, err := client.manager.Connect(server.address(), key)
	require.NoError(t, err)

	pump(t, 2*time.Second, func() bool {
		return len(server.recorder.connected) == 1 && len(client.recorder.connected) == 1
	}, server, client)
	return server, client, peer
}
