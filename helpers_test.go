package netchannel

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testOptions(key string) *Options {
	o := NewOptions()
	o.ConnectionKey = key
	o.BindAddress = "127.0.0.1"
	o.UpdateInterval = 5 * time.Millisecond
	o.PingInterval = 50 * time.Millisecond
	o.ResendInterval = 20 * time.Millisecond
	o.ReconnectDelay = 20 * time.Millisecond
	o.MaxConnectAttempts = 5
	o.DisconnectTimeout = 2 * time.Second
	o.Seed = 1
	return o
}

func newChannel(t *testing.T, key string, options ...Option) *NetChannel {
	t.Helper()
	c, err := New(testOptions(key), options...)
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return c
}

func listening(t *testing.T, key string) *NetChannel {
	t.Helper()
	c := newChannel(t, key)
	require.NoError(t, c.Listen(0))
	return c
}

func portOf(t *testing.T, c *NetChannel) int {
	t.Helper()
	addr, ok := c.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)
	return addr.Port
}

// pollUntil polls every channel until cond holds or timeout passes.
func pollUntil(t *testing.T, timeout time.Duration, cond func() bool, channels ...*NetChannel) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, c := range channels {
			c.Poll()
		}
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// pollFor polls every channel for d regardless of state.
func pollFor(d time.Duration, channels ...*NetChannel) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		for _, c := range channels {
			c.Poll()
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type connectionLog struct {
	connected    []PeerID
	disconnected []DisconnectInfo
}

func watch(c *NetChannel) *connectionLog {
	log := &connectionLog{}
	c.OnPeerConnected(func(p PeerID) { log.connected = append(log.connected, p) })
	c.OnPeerDisconnected(func(_ PeerID, info DisconnectInfo) { log.disconnected = append(log.disconnected, info) })
	return log
}

// connect dials server from client and waits for both sides to see it.
func connect(t *testing.T, server, client *NetChannel) (serverSide, clientSide PeerID) {
	t.Helper()
	var s, cl PeerID
	server.OnPeerConnected(func(p PeerID) { s = p })
	client.OnPeerConnected(func(p PeerID) { cl = p })

	require.NoError(t, client.Connect("127.0.0.1", portOf(t, server)))
	pollUntil(t, 2*time.Second, func() bool { return s != 0 && cl != 0 }, server, client)
	return s, cl
}
