package messages

import (
	"fmt"

	"github.com/opd-ai/netchannel/delivery"
	"github.com/opd-ai/netchannel/dispatch"
)

// Wire kinds. Values are part of the protocol and must not be reordered.
const (
	KindJoinRequest dispatch.Kind = iota + 1
	KindJoinAccepted
	KindPlayerJoined
	KindPlayerLeft
	KindPlayerInputCommand
	KindWorldState
	KindSpawnObject
)

var kindNames = map[dispatch.Kind]string{
	KindJoinRequest:        "JoinRequest",
	KindJoinAccepted:       "JoinAccepted",
	KindPlayerJoined:       "PlayerJoined",
	KindPlayerLeft:         "PlayerLeft",
	KindPlayerInputCommand: "PlayerInputCommand",
	KindWorldState:         "WorldState",
	KindSpawnObject:        "SpawnObject",
}

// KindName returns the message name for kind.
func KindName(kind dispatch.Kind) string {
	if name, ok := kindNames[kind]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", byte(kind))
}

// Policies is the delivery method for every message kind.
var Policies = delivery.Table[dispatch.Kind]{
	KindJoinRequest:        delivery.ReliableOrdered,
	KindJoinAccepted:       delivery.ReliableOrdered,
	KindPlayerJoined:       delivery.ReliableOrdered,
	KindPlayerLeft:         delivery.ReliableOrdered,
	KindPlayerInputCommand: delivery.Unreliable,
	KindWorldState:         delivery.Sequenced,
	KindSpawnObject:        delivery.ReliableUnordered,
}

// RegisterAll registers every message kind with r.
func RegisterAll(r *dispatch.Registry) {
	dispatch.Register[JoinRequest](r)
	dispatch.Register[JoinAccepted](r)
	dispatch.Register[PlayerJoined](r)
	dispatch.Register[PlayerLeft](r)
	dispatch.Register[PlayerInputCommand](r)
	dispatch.Register[WorldState](r)
	dispatch.Register[SpawnObject](r)
}
