package messages

import (
	"github.com/opd-ai/netchannel/codec"
	"github.com/opd-ai/netchannel/dispatch"
)

// JoinRequest is sent by a client once connected.
type JoinRequest struct {
	PlayerSetupData PlayerSetupData
}

func (*JoinRequest) Kind() dispatch.Kind { return KindJoinRequest }

func (m *JoinRequest) Serialize(w *codec.Writer) {
	w.Put(&m.PlayerSetupData)
}

func (m *JoinRequest) Deserialize(r *codec.Reader) {
	r.Get(&m.PlayerSetupData)
}

// JoinAccepted answers a JoinRequest with the joining player's own state
// and that of everyone already present.
type JoinAccepted struct {
	YourPlayerState      InitialPlayerState
	ExistingPlayerStates []InitialPlayerState
	WorldTick            uint32
}

func (*JoinAccepted) Kind() dispatch.Kind { return KindJoinAccepted }

func (m *JoinAccepted) Serialize(w *codec.Writer) {
	w.Put(&m.YourPlayerState)
	w.PutCount(len(m.ExistingPlayerStates))
	for i := range m.ExistingPlayerStates {
		w.Put(&m.ExistingPlayerStates[i])
	}
	w.PutUint32(m.WorldTick)
}

func (m *JoinAccepted) Deserialize(r *codec.Reader) {
	r.Get(&m.YourPlayerState)
	m.ExistingPlayerStates = readSlice[InitialPlayerState](r)
	m.WorldTick = r.Uint32()
}

// PlayerJoined tells existing players about a newcomer.
type PlayerJoined struct {
	PlayerState InitialPlayerState
}

func (*PlayerJoined) Kind() dispatch.Kind { return KindPlayerJoined }

func (m *PlayerJoined) Serialize(w *codec.Writer) {
	w.Put(&m.PlayerState)
}

func (m *PlayerJoined) Deserialize(r *codec.Reader) {
	r.Get(&m.PlayerState)
}

// PlayerLeft tells remaining players that someone left.
type PlayerLeft struct {
	PlayerID byte
}

func (*PlayerLeft) Kind() dispatch.Kind { return KindPlayerLeft }

func (m *PlayerLeft) Serialize(w *codec.Writer) {
	w.PutByte(m.PlayerID)
}

func (m *PlayerLeft) Deserialize(r *codec.Reader) {
	m.PlayerID = r.Byte()
}

// PlayerInputCommand carries recent inputs, oldest first, starting at
// StartWorldTick. Inputs are resent until the server acknowledges them in
// WorldState, so losing one command costs nothing.
type PlayerInputCommand struct {
	StartWorldTick uint32
	Inputs         []PlayerInput
}

func (*PlayerInputCommand) Kind() dispatch.Kind { return KindPlayerInputCommand }

func (m *PlayerInputCommand) Serialize(w *codec.Writer) {
	w.PutUint32(m.StartWorldTick)
	w.PutCount(len(m.Inputs))
	for i := range m.Inputs {
		w.Put(&m.Inputs[i])
	}
}

func (m *PlayerInputCommand) Deserialize(r *codec.Reader) {
	m.StartWorldTick = r.Uint32()
	m.Inputs = readSlice[PlayerInput](r)
}

// WorldState is the authoritative snapshot sent to each client every tick.
type WorldState struct {
	WorldTick           uint32
	YourLatestInputTick uint32
	PlayerStates        []PlayerState
}

func (*WorldState) Kind() dispatch.Kind { return KindWorldState }

func (m *WorldState) Serialize(w *codec.Writer) {
	w.PutUint32(m.WorldTick)
	w.PutUint32(m.YourLatestInputTick)
	w.PutCount(len(m.PlayerStates))
	for i := range m.PlayerStates {
		w.Put(&m.PlayerStates[i])
	}
}

func (m *WorldState) Deserialize(r *codec.Reader) {
	m.WorldTick = r.Uint32()
	m.YourLatestInputTick = r.Uint32()
	m.PlayerStates = readSlice[PlayerState](r)
}

// SpawnObject announces a newly created network object.
type SpawnObject struct {
	NetworkObjectState NetworkObjectState
	Type               byte
	CreatorPlayerID    byte
	Position           codec.Vector3
	Orientation        codec.Quaternion
	WasAttackHit       bool
}

func (*SpawnObject) Kind() dispatch.Kind { return KindSpawnObject }

func (m *SpawnObject) Serialize(w *codec.Writer) {
	w.Put(&m.NetworkObjectState)
	w.PutByte(m.Type)
	w.PutByte(m.CreatorPlayerID)
	w.PutVector3(m.Position)
	w.PutQuaternion(m.Orientation)
	w.PutBool(m.WasAttackHit)
}

func (m *SpawnObject) Deserialize(r *codec.Reader) {
	r.Get(&m.NetworkObjectState)
	m.Type = r.Byte()
	m.CreatorPlayerID = r.Byte()
	m.Position = r.Vector3()
	m.Orientation = r.Quaternion()
	m.WasAttackHit = r.Bool()
}

// readSlice reads a counted slice of nested values. An empty count yields
// a nil slice.
func readSlice[T any, PT interface {
	*T
	codec.Serializable
}](r *codec.Reader) []T {
	n := r.Count()
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	for i := range out {
		r.Get(PT(&out[i]))
		if r.Err() != nil {
			return nil
		}
	}
	return out
}
