package main

import (
	"time"

	"github.com/opd-ai/netchannel"
	"github.com/opd-ai/netchannel/codec"
	"github.com/opd-ai/netchannel/dispatch"
	"github.com/opd-ai/netchannel/messages"
	"github.com/sirupsen/logrus"
)

// moveSpeed is how far a player moves per second of held input.
const moveSpeed = 5.0

type lobbyPlayer struct {
	id          byte
	name        string
	state       messages.PlayerState
	latestInput uint32
}

func (p *lobbyPlayer) initialState() messages.InitialPlayerState {
	return messages.InitialPlayerState{
		PlayerID:           p.id,
		Metadata:           messages.PlayerMetadata{Name: p.name},
		PlayerState:        p.state,
		NetworkObjectState: messages.NetworkObjectState{NetworkID: p.state.NetworkID},
	}
}

// lobby is a minimal authoritative server: it admits players, applies
// their movement input and streams world state back.
type lobby struct {
	channel *netchannel.NetChannel
	players map[netchannel.PeerID]*lobbyPlayer
	inputs  *dispatch.Queue[dispatch.WithPeer[*messages.PlayerInputCommand]]
	nextID  byte
	tick    uint32
}

func newLobby(c *netchannel.NetChannel) *lobby {
	l := &lobby{
		channel: c,
		players: make(map[netchannel.PeerID]*lobbyPlayer),
		inputs:  dispatch.NewQueue[dispatch.WithPeer[*messages.PlayerInputCommand]](256),
	}
	netchannel.SubscribeWithSender(c, l.handleJoin)
	netchannel.SubscribeQueueWithSender(c, l.inputs)
	c.OnPeerDisconnected(l.handleDisconnect)
	return l
}

func (l *lobby) handleJoin(m *messages.JoinRequest, peer netchannel.PeerID) {
	if _, exists := l.players[peer]; exists {
		return
	}
	existing := make([]messages.InitialPlayerState, 0, len(l.players))
	for _, p := range l.players {
		existing = append(existing, p.initialState())
	}

	id, ok := l.allocateID()
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "lobby.handleJoin",
			"peer_id":  peer,
		}).Warn("Lobby full, disconnecting player")
		l.channel.DisconnectPeer(peer)
		return
	}
	p := &lobbyPlayer{
		id:   id,
		name: m.PlayerSetupData.Name,
		state: messages.PlayerState{
			NetworkID: uint16(id),
			Rotation:  codec.IdentityQuaternion,
			Grounded:  true,
		},
	}
	l.players[peer] = p

	logrus.WithFields(logrus.Fields{
		"function":  "lobby.handleJoin",
		"peer_id":   peer,
		"player_id": p.id,
		"name":      p.name,
	}).Info("Player joined")

	l.send(peer, &messages.JoinAccepted{
		YourPlayerState:      p.initialState(),
		ExistingPlayerStates: existing,
		WorldTick:            l.tick,
	})
	l.broadcast(&messages.PlayerJoined{PlayerState: p.initialState()}, peer)
}

// allocateID returns the next player ID not held by a connected player.
// Zero is never issued.
func (l *lobby) allocateID() (byte, bool) {
	used := make(map[byte]bool, len(l.players))
	for _, p := range l.players {
		used[p.id] = true
	}
	for range 255 {
		l.nextID++
		if l.nextID == 0 {
			l.nextID = 1
		}
		if !used[l.nextID] {
			return l.nextID, true
		}
	}
	return 0, false
}

func (l *lobby) handleDisconnect(peer netchannel.PeerID, info netchannel.DisconnectInfo) {
	p, ok := l.players[peer]
	if !ok {
		return
	}
	delete(l.players, peer)

	logrus.WithFields(logrus.Fields{
		"function":  "lobby.handleDisconnect",
		"player_id": p.id,
		"reason":    info.String(),
	}).Info("Player left")

	l.broadcast(&messages.PlayerLeft{PlayerID: p.id}, peer)
}

// step advances the world by dt and sends every player a snapshot.
func (l *lobby) step(dt time.Duration) {
	l.tick++
	for _, in := range l.inputs.Drain() {
		p, ok := l.players[in.Peer]
		if !ok {
			continue
		}
		l.applyInput(p, in.Message, dt)
	}

	if len(l.players) == 0 {
		return
	}
	states := make([]messages.PlayerState, 0, len(l.players))
	for _, p := range l.players {
		states = append(states, p.state)
	}
	for peer, p := range l.players {
		l.send(peer, &messages.WorldState{
			WorldTick:           l.tick,
			YourLatestInputTick: p.latestInput,
			PlayerStates:        states,
		})
	}
}

func (l *lobby) applyInput(p *lobbyPlayer, cmd *messages.PlayerInputCommand, dt time.Duration) {
	for i, input := range cmd.Inputs {
		inputTick := cmd.StartWorldTick + uint32(i)
		if inputTick <= p.latestInput {
			continue
		}
		p.latestInput = inputTick

		var velocity codec.Vector3
		step := float32(moveSpeed)
		if input.Pressed(messages.ButtonForward) {
			velocity.Z += step
		}
		if input.Pressed(messages.ButtonBackward) {
			velocity.Z -= step
		}
		if input.Pressed(messages.ButtonRight) {
			velocity.X += step
		}
		if input.Pressed(messages.ButtonLeft) {
			velocity.X -= step
		}
		seconds := float32(dt.Seconds())
		p.state.Velocity = velocity
		p.state.Position.X += velocity.X * seconds
		p.state.Position.Z += velocity.Z * seconds
	}
}

func (l *lobby) send(peer netchannel.PeerID, msg dispatch.Message) {
	if err := l.channel.Send(peer, msg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "lobby.send",
			"peer_id":  peer,
			"kind":     messages.KindName(msg.Kind()),
			"error":    err.Error(),
		}).Warn("Failed to send message")
	}
}

func (l *lobby) broadcast(msg dispatch.Message, exclude netchannel.PeerID) {
	if err := l.channel.Broadcast(msg, exclude); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "lobby.broadcast",
			"kind":     messages.KindName(msg.Kind()),
			"error":    err.Error(),
		}).Warn("Failed to broadcast message")
	}
}
