package netchannel

import (
	"net"
	"testing"
	"time"

	"github.com/opd-ai/netchannel/clock"
	"github.com/opd-ai/netchannel/codec"
	"github.com/opd-ai/netchannel/delivery"
	"github.com/opd-ai/netchannel/dispatch"
	"github.com/opd-ai/netchannel/messages"
	"github.com/opd-ai/netchannel/metrics"
	"github.com/opd-ai/netchannel/netsim"
	"github.com/opd-ai/netchannel/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresConnectionKey(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrMissingConnectionKey)

	c, err := New(nil, WithConnectionKey("k"))
	require.NoError(t, err)
	assert.False(t, c.IsRunning())
	assert.False(t, c.Accepting())

	_, err = New(nil, WithConnectionKey("k"), WithNetworkSettings(netsim.Settings{PacketLossChance: 101}))
	assert.ErrorIs(t, err, netsim.ErrInvalidSettings)
}

func TestConnectionAcceptance(t *testing.T) {
	tests := []struct {
		name      string
		listen    bool
		clientKey string
		accepted  bool
	}{
		{name: "accepting with matching key", listen: true, clientKey: "secret", accepted: true},
		{name: "accepting with wrong key", listen: true, clientKey: "guess", accepted: false},
		{name: "not accepting with matching key", listen: false, clientKey: "secret", accepted: false},
		{name: "not accepting with wrong key", listen: false, clientKey: "guess", accepted: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newChannel(t, "secret")
			if tt.listen {
				require.NoError(t, server.Listen(0))
			} else {
				require.NoError(t, server.StartAsClient())
			}
			client := newChannel(t, tt.clientKey)
			serverLog := watch(server)
			clientLog := watch(client)

			require.NoError(t, client.Connect("127.0.0.1", portOf(t, server)))
			pollUntil(t, 2*time.Second, func() bool {
				return len(clientLog.connected)+len(clientLog.disconnected) > 0
			}, server, client)

			if tt.accepted {
				assert.Len(t, clientLog.connected, 1)
				pollUntil(t, time.Second, func() bool { return len(serverLog.connected) == 1 }, server, client)
				assert.Equal(t, serverLog.connected, server.ConnectedPeers())
				return
			}
			require.Len(t, clientLog.disconnected, 1)
			assert.Equal(t, transport.ReasonConnectionRejected, clientLog.disconnected[0].Reason)
			assert.Equal(t, "rejected", clientLog.disconnected[0].Reason.String())
			assert.Empty(t, serverLog.connected)
			assert.Empty(t, server.ConnectedPeers())
		})
	}
}

func TestConnectTimeoutReported(t *testing.T) {
	silent, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer silent.Close()

	client := newChannel(t, "k")
	log := watch(client)

	require.NoError(t, client.Connect("127.0.0.1", silent.LocalAddr().(*net.UDPAddr).Port))
	pollUntil(t, 2*time.Second, func() bool { return len(log.disconnected) == 1 }, client)
	assert.Equal(t, transport.ReasonTimeout, log.disconnected[0].Reason)
}

func TestConnectUnresolvableAddress(t *testing.T) {
	client := newChannel(t, "k")
	assert.Error(t, client.Connect("127.0.0.1", 70000))
}

func TestStartAsClientTwiceIsNoop(t *testing.T) {
	c := newChannel(t, "k")
	require.NoError(t, c.StartAsClient())
	addr := c.LocalAddr().String()
	require.NoError(t, c.StartAsClient())
	assert.Equal(t, addr, c.LocalAddr().String())
	assert.False(t, c.Accepting())
}

func TestPingPong(t *testing.T) {
	server := listening(t, "k")
	client := newChannel(t, "k")

	calls := 0
	var rtt time.Duration = -1
	require.NoError(t, client.Ping(server.LocalAddr().String(), func(d time.Duration) {
		calls++
		rtt = d
	}))
	assert.True(t, client.IsRunning())

	pollUntil(t, 2*time.Second, func() bool { return calls > 0 }, server, client)
	pollFor(30*time.Millisecond, server, client)

	assert.Equal(t, 1, calls)
	assert.GreaterOrEqual(t, rtt, time.Duration(0))
	assert.Equal(t, 0, client.pings.Pending())
}

func TestPingReplacesPendingCallback(t *testing.T) {
	server := listening(t, "k")
	client := newChannel(t, "k")

	first, second := 0, 0
	require.NoError(t, client.Ping(server.LocalAddr().String(), func(time.Duration) { first++ }))
	require.NoError(t, client.Ping(server.LocalAddr().String(), func(time.Duration) { second++ }))

	pollUntil(t, 2*time.Second, func() bool { return second > 0 }, server, client)
	pollFor(30*time.Millisecond, server, client)
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestUnmatchedPongAndJunkIgnored(t *testing.T) {
	client := newChannel(t, "k")
	require.NoError(t, client.StartAsClient())

	raw, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer raw.Close()

	fired := false
	require.NoError(t, client.Ping(raw.LocalAddr().String(), func(time.Duration) { fired = true }))

	// A pong from an address nobody pinged, and junk, change nothing.
	other, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer other.Close()
	for _, payload := range [][]byte{{0x78}, {0x55}, {0x77, 0x77}} {
		packet := append([]byte{byte(transport.PacketUnconnected)}, payload...)
		_, err = other.WriteTo(packet, client.LocalAddr())
		require.NoError(t, err)
	}

	pollFor(50*time.Millisecond, client)
	assert.False(t, fired)
	assert.Equal(t, 1, client.pings.Pending())
}

func TestPaddedPingHeadersAreAnswered(t *testing.T) {
	server := listening(t, "k")

	raw, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer raw.Close()

	padded := []byte{byte(transport.PacketUnconnected), 0x77, 0, 0, 0}
	_, err = raw.WriteTo(padded, server.LocalAddr())
	require.NoError(t, err)
	pollFor(30*time.Millisecond, server)

	require.NoError(t, raw.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 64)
	n, _, err := raw.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(transport.PacketUnconnected), 0x78}, buf[:n])

	client := newChannel(t, "k")
	fired := 0
	require.NoError(t, client.Ping(raw.LocalAddr().String(), func(time.Duration) { fired++ }))
	_, err = raw.WriteTo([]byte{byte(transport.PacketUnconnected), 0x78, 0xff}, client.LocalAddr())
	require.NoError(t, err)

	pollUntil(t, time.Second, func() bool { return fired == 1 }, client)
	assert.Equal(t, 0, client.pings.Pending())
}

func TestStopAbandonsPings(t *testing.T) {
	server := listening(t, "k")
	client := newChannel(t, "k")

	fired := false
	require.NoError(t, client.Ping(server.LocalAddr().String(), func(time.Duration) { fired = true }))
	client.Stop()
	assert.Equal(t, 0, client.pings.Pending())

	pollFor(50*time.Millisecond, server, client)
	assert.False(t, fired)
}

func TestPendingPingsExpire(t *testing.T) {
	mock := clock.NewMockTimeProvider(time.Unix(1000, 0))
	opts := testOptions("k")
	opts.PendingPingTTL = 5 * time.Second
	c, err := New(opts, WithTimeProvider(mock))
	require.NoError(t, err)
	defer c.Stop()

	raw, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer raw.Close()

	require.NoError(t, c.Ping(raw.LocalAddr().String(), func(time.Duration) {}))
	mock.Advance(4 * time.Second)
	c.Poll()
	assert.Equal(t, 1, c.pings.Pending())

	mock.Advance(2 * time.Second)
	c.Poll()
	assert.Equal(t, 0, c.pings.Pending())
}

func TestSendAndSubscribe(t *testing.T) {
	server := listening(t, "k")
	client := newChannel(t, "k")

	var gotName string
	var gotPeer PeerID
	SubscribeWithSender(server, func(m *messages.JoinRequest, peer PeerID) {
		gotName = m.PlayerSetupData.Name
		gotPeer = peer
	})
	accepted := dispatch.NewQueue[*messages.JoinAccepted](0)
	SubscribeQueue(client, accepted)

	serverSide, clientSide := connect(t, server, client)
	require.NoError(t, client.Send(clientSide, &messages.JoinRequest{PlayerSetupData: messages.PlayerSetupData{Name: "Ada"}}))
	pollUntil(t, 2*time.Second, func() bool { return gotName != "" }, server, client)
	assert.Equal(t, "Ada", gotName)
	assert.Equal(t, serverSide, gotPeer)

	require.NoError(t, server.Send(serverSide, &messages.JoinAccepted{WorldTick: 42, YourPlayerState: messages.InitialPlayerState{PlayerID: 1}}))
	pollUntil(t, 2*time.Second, func() bool { return accepted.Len() == 1 }, server, client)
	msg, _ := accepted.Pop()
	assert.Equal(t, uint32(42), msg.WorldTick)
	assert.Equal(t, byte(1), msg.YourPlayerState.PlayerID)
}

func TestResubscribeReplacesHandler(t *testing.T) {
	server := listening(t, "k")
	client := newChannel(t, "k")

	a, b := 0, 0
	Subscribe(client, func(*messages.PlayerLeft) { a++ })
	Subscribe(client, func(*messages.PlayerLeft) { b++ })

	serverSide, _ := connect(t, server, client)
	require.NoError(t, server.Send(serverSide, &messages.PlayerLeft{PlayerID: 2}))
	pollUntil(t, 2*time.Second, func() bool { return b > 0 }, server, client)
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
}

func TestBroadcastExcludesPeer(t *testing.T) {
	server := listening(t, "k")
	alice := newChannel(t, "k")
	bob := newChannel(t, "k")

	peers := map[string]PeerID{}
	SubscribeWithSender(server, func(m *messages.JoinRequest, peer PeerID) {
		peers[m.PlayerSetupData.Name] = peer
	})
	aliceLeft := dispatch.NewQueue[*messages.PlayerLeft](0)
	bobLeft := dispatch.NewQueue[*messages.PlayerLeft](0)
	SubscribeQueue(alice, aliceLeft)
	SubscribeQueue(bob, bobLeft)

	_, aliceSide := connect(t, server, alice)
	_, bobSide := connect(t, server, bob)
	require.NoError(t, alice.Send(aliceSide, &messages.JoinRequest{PlayerSetupData: messages.PlayerSetupData{Name: "alice"}}))
	require.NoError(t, bob.Send(bobSide, &messages.JoinRequest{PlayerSetupData: messages.PlayerSetupData{Name: "bob"}}))
	pollUntil(t, 2*time.Second, func() bool { return len(peers) == 2 }, server, alice, bob)

	require.NoError(t, server.Broadcast(&messages.PlayerLeft{PlayerID: 7}, peers["alice"]))
	pollUntil(t, 2*time.Second, func() bool { return bobLeft.Len() == 1 }, server, alice, bob)
	pollFor(50*time.Millisecond, server, alice, bob)

	assert.Equal(t, 0, aliceLeft.Len())
	msg, _ := bobLeft.Pop()
	assert.Equal(t, byte(7), msg.PlayerID)

	require.NoError(t, server.Broadcast(&messages.PlayerLeft{PlayerID: 8}))
	pollUntil(t, 2*time.Second, func() bool { return aliceLeft.Len() == 1 && bobLeft.Len() == 1 }, server, alice, bob)
}

func TestBroadcastWithoutPeersIsNoop(t *testing.T) {
	idle := newChannel(t, "k")
	assert.NoError(t, idle.Broadcast(&messages.PlayerLeft{}))

	server := listening(t, "k")
	before := server.Statistics().PacketsSent
	assert.NoError(t, server.Broadcast(&messages.WorldState{WorldTick: 1}))
	assert.Equal(t, before, server.Statistics().PacketsSent)
}

type unregisteredMessage struct{}

func (*unregisteredMessage) Kind() dispatch.Kind       { return 200 }
func (*unregisteredMessage) Serialize(*codec.Writer)   {}
func (*unregisteredMessage) Deserialize(*codec.Reader) {}

func TestSendWithoutPolicyPanics(t *testing.T) {
	c := listening(t, "k")
	assert.PanicsWithValue(t, "delivery: no delivery policy registered for kind 200", func() {
		_ = c.Send(1, &unregisteredMessage{})
	})
	assert.Panics(t, func() { _ = c.Broadcast(&unregisteredMessage{}) })

	idle := newChannel(t, "k")
	assert.Panics(t, func() { _ = idle.Broadcast(&unregisteredMessage{}) })
}

func TestCustomPolicy(t *testing.T) {
	policies := delivery.Table[dispatch.Kind]{}
	for k, v := range messages.Policies {
		policies[k] = v
	}
	policies[200] = delivery.Unreliable

	opts := testOptions("k")
	opts.Policies = policies
	c, err := New(opts)
	require.NoError(t, err)
	defer c.Stop()
	RegisterMessage[unregisteredMessage](c)

	method, ok := c.Policy(200)
	assert.True(t, ok)
	assert.Equal(t, delivery.Unreliable, method)
	assert.ErrorIs(t, c.Send(1, &unregisteredMessage{}), transport.ErrNotRunning)
}

func TestUndecodablePayloadDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	server := newChannel(t, "k", WithMetrics(metrics.New(metrics.WithRegistry(reg))))
	require.NoError(t, server.Listen(0))
	client := newChannel(t, "k")

	got := 0
	Subscribe(server, func(*messages.PlayerLeft) { got++ })
	_, clientSide := connect(t, server, client)

	require.NoError(t, client.manager.Send(clientSide, []byte{250, 1, 2}, delivery.ReliableOrdered))
	require.NoError(t, client.manager.Send(clientSide, []byte{byte(messages.KindWorldState), 1}, delivery.ReliableOrdered))
	require.NoError(t, client.Send(clientSide, &messages.PlayerLeft{PlayerID: 1}))
	pollUntil(t, 2*time.Second, func() bool { return got == 1 }, server, client)

	assert.Equal(t, 1.0, counterValue(t, reg, "netchannel_dropped_total", "unknown_kind"))
	assert.Equal(t, 1.0, counterValue(t, reg, "netchannel_dropped_total", "malformed"))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestLatencyUpdates(t *testing.T) {
	server := listening(t, "k")
	client := newChannel(t, "k")

	updates := 0
	client.OnLatencyUpdate(func(PeerID, time.Duration) { updates++ })
	_, clientSide := connect(t, server, client)

	pollUntil(t, 2*time.Second, func() bool {
		_, ok := client.PeerLatency(clientSide)
		return ok
	}, server, client)
	assert.Greater(t, updates, 0)

	client.DisconnectPeer(clientSide)
	pollUntil(t, time.Second, func() bool {
		_, ok := client.PeerLatency(clientSide)
		return !ok
	}, server, client)
}

func TestBandwidthAccessors(t *testing.T) {
	server := listening(t, "k")
	client := newChannel(t, "k")
	_, clientSide := connect(t, server, client)

	for i := 0; i < 20; i++ {
		require.NoError(t, client.Send(clientSide, &messages.WorldState{WorldTick: uint32(i)}))
	}
	pollFor(50*time.Millisecond, server, client)
	assert.Greater(t, client.SendRate(), 0.0)
	assert.Greater(t, server.RecvRate(), 0.0)

	client.Stop()
	assert.Equal(t, 0.0, client.SendRate())
	assert.Equal(t, 0.0, client.RecvRate())
}

func TestStopFiresNoLocalCallbacks(t *testing.T) {
	server := listening(t, "k")
	client := newChannel(t, "k")
	serverSide, clientSide := connect(t, server, client)

	clientLog := watch(client)
	serverLog := watch(server)
	require.NoError(t, server.Send(serverSide, &messages.PlayerLeft{}))

	client.Stop()
	pollUntil(t, 2*time.Second, func() bool { return len(serverLog.disconnected) == 1 }, server, client)

	assert.Empty(t, clientLog.disconnected)
	assert.False(t, client.IsRunning())
	assert.Nil(t, client.LocalAddr())
	_, ok := client.PeerLatency(clientSide)
	assert.False(t, ok)
	assert.Equal(t, transport.ReasonRemoteConnectionClose, serverLog.disconnected[0].Reason)
}

func TestStopInsideCallbackSkipsRemainingEvents(t *testing.T) {
	server := listening(t, "k")
	client := newChannel(t, "k")
	_, clientSide := connect(t, server, client)

	seen := 0
	Subscribe(server, func(*messages.PlayerLeft) {
		seen++
		server.Stop()
	})
	for i := 0; i < 5; i++ {
		require.NoError(t, client.Send(clientSide, &messages.PlayerLeft{PlayerID: byte(i)}))
	}
	pollUntil(t, 2*time.Second, func() bool { return seen > 0 }, server, client)
	pollFor(30*time.Millisecond, server)
	assert.Equal(t, 1, seen)
}

func TestListenRestartsSession(t *testing.T) {
	c := newChannel(t, "k")
	require.NoError(t, c.StartAsClient())
	assert.False(t, c.Accepting())

	require.NoError(t, c.Listen(0))
	assert.True(t, c.Accepting())
	assert.True(t, c.IsRunning())

	c.Stop()
	assert.False(t, c.Accepting())
}

func TestStallCycleThroughPoll(t *testing.T) {
	mock := clock.NewMockTimeProvider(time.Unix(0, 0))
	c, err := New(testOptions("k"), WithTimeProvider(mock), WithNetworkSettings(netsim.Settings{
		SimulatePacketLoss:    true,
		PacketLossChance:      5,
		SimulateLargeStalls:   true,
		LargeStallsInterval:   10 * time.Second,
		LargeStallsDuration:   2 * time.Second,
		LargeStallsPacketLoss: 90,
		LargeStallsLatency:    500 * time.Millisecond,
	}))
	require.NoError(t, err)

	for cycle := 0; cycle < 3; cycle++ {
		mock.Advance(9 * time.Second)
		c.Poll()
		assert.False(t, c.Stalled(), "cycle %d before interval", cycle)
		assert.Equal(t, 5, c.manager.Conditions().PacketLossChance)

		mock.Advance(time.Second)
		c.Poll()
		assert.True(t, c.Stalled(), "cycle %d at interval", cycle)
		assert.Equal(t, 90, c.manager.Conditions().PacketLossChance)
		assert.Equal(t, 500*time.Millisecond, c.manager.Conditions().MinLatency)

		mock.Advance(2 * time.Second)
		c.Poll()
		assert.False(t, c.Stalled(), "cycle %d after duration", cycle)
		assert.Equal(t, 5, c.manager.Conditions().PacketLossChance)
	}
}

func TestSetNetworkSettings(t *testing.T) {
	c := newChannel(t, "k")
	assert.ErrorIs(t, c.SetNetworkSettings(netsim.Settings{PacketLossChance: -1}), netsim.ErrInvalidSettings)

	settings := netsim.Settings{SimulateLatency: true, MinLatency: 10 * time.Millisecond, MaxLatency: 20 * time.Millisecond}
	require.NoError(t, c.SetNetworkSettings(settings))
	assert.Equal(t, settings, c.NetworkSettings())
	assert.Equal(t, settings.Baseline(), c.manager.Conditions())
}

func TestHooksAcceptNil(t *testing.T) {
	c := newChannel(t, "k")
	c.OnPeerConnected(nil)
	c.OnPeerDisconnected(nil)
	c.OnLatencyUpdate(nil)
	c.OnNetworkError(nil)
	assert.NotPanics(t, func() {
		c.peerConnected(1)
		c.peerDisconnected(1, DisconnectInfo{})
		c.latencyUpdated(1, 0)
		c.networkError(nil, nil)
	})
}
