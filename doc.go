// Package netchannel implements the symmetric message channel shared by a
// game's client and server processes.
//
// A NetChannel owns one UDP session layer, a table of message decoders and
// handlers, a connectionless latency prober, bandwidth averagers and a
// network condition simulator. Game code subscribes to message types,
// sends or broadcasts typed messages, and calls Poll once per tick; every
// callback runs inside Poll on the caller's goroutine.
//
// # Getting Started
//
// A server listens and accepts peers presenting the shared key:
//
//	options := netchannel.NewOptions()
//	options.ConnectionKey = os.Getenv("GAME_KEY")
//
//	server, err := netchannel.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop()
//
//	netchannel.SubscribeWithSender(server, func(m *messages.JoinRequest, peer netchannel.PeerID) {
//	    server.Send(peer, &messages.JoinAccepted{WorldTick: tick})
//	})
//
//	if err := server.Listen(7777); err != nil {
//	    log.Fatal(err)
//	}
//	for {
//	    server.Poll()
//	    time.Sleep(15 * time.Millisecond)
//	}
//
// A client connects with the same key. Rejection and timeouts are reported
// through OnPeerDisconnected rather than as errors:
//
//	client.OnPeerConnected(func(peer netchannel.PeerID) {
//	    client.Send(peer, &messages.JoinRequest{PlayerSetupData: messages.PlayerSetupData{Name: "Ada"}})
//	})
//	client.OnPeerDisconnected(func(peer netchannel.PeerID, info netchannel.DisconnectInfo) {
//	    log.Printf("disconnected: %s", info)
//	})
//	err := client.Connect("game.example.com", 7777)
//
// # Connection Acceptance
//
// A channel only accepts connections after Listen. Until then every
// request is rejected before its key is looked at. While listening, a
// request is accepted exactly when it was made with the configured key.
//
// # Delivery
//
// Each message kind is sent with the delivery method from Options.Policies
// (messages.Policies by default). Sending a kind with no policy panics.
//
// # Latency Probing
//
// Ping measures the round trip to any address with a single connectionless
// byte, whether or not a session exists. A channel answers pings whenever
// it is running.
//
// # Network Simulation
//
// Options.Network (or SetNetworkSettings) injects packet loss and latency
// into inbound traffic. With large stalls enabled, the channel switches to
// the stall settings once LargeStallsInterval has passed and back to the
// baseline after a further LargeStallsDuration, repeating forever.
package netchannel
