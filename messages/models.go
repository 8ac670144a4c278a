package messages

import "github.com/opd-ai/netchannel/codec"

// PlayerSetupData is what a player enters before joining.
type PlayerSetupData struct {
	Name string
}

func (d PlayerSetupData) Serialize(w *codec.Writer) {
	w.PutString(d.Name)
}

func (d *PlayerSetupData) Deserialize(r *codec.Reader) {
	d.Name = r.String()
}

// PlayerMetadata describes a player to everyone else.
type PlayerMetadata struct {
	Name string
}

func (m PlayerMetadata) Serialize(w *codec.Writer) {
	w.PutString(m.Name)
}

func (m *PlayerMetadata) Deserialize(r *codec.Reader) {
	m.Name = r.String()
}

// NetworkObjectState identifies a replicated object.
type NetworkObjectState struct {
	NetworkID uint16
}

func (s NetworkObjectState) Serialize(w *codec.Writer) {
	w.PutUint16(s.NetworkID)
}

func (s *NetworkObjectState) Deserialize(r *codec.Reader) {
	s.NetworkID = r.Uint16()
}

// PlayerState is the per-tick physical state of a player.
type PlayerState struct {
	NetworkID uint16
	Position  codec.Vector3
	Rotation  codec.Quaternion
	Velocity  codec.Vector3
	Grounded  bool
}

func (s PlayerState) Serialize(w *codec.Writer) {
	w.PutUint16(s.NetworkID)
	w.PutVector3(s.Position)
	w.PutQuaternion(s.Rotation)
	w.PutVector3(s.Velocity)
	w.PutBool(s.Grounded)
}

func (s *PlayerState) Deserialize(r *codec.Reader) {
	s.NetworkID = r.Uint16()
	s.Position = r.Vector3()
	s.Rotation = r.Quaternion()
	s.Velocity = r.Vector3()
	s.Grounded = r.Bool()
}

// InitialPlayerState is sent once per player to bring a client up to date.
type InitialPlayerState struct {
	PlayerID           byte
	Metadata           PlayerMetadata
	PlayerState        PlayerState
	NetworkObjectState NetworkObjectState
}

func (s InitialPlayerState) Serialize(w *codec.Writer) {
	w.PutByte(s.PlayerID)
	w.Put(&s.Metadata)
	w.Put(&s.PlayerState)
	w.Put(&s.NetworkObjectState)
}

func (s *InitialPlayerState) Deserialize(r *codec.Reader) {
	s.PlayerID = r.Byte()
	r.Get(&s.Metadata)
	r.Get(&s.PlayerState)
	r.Get(&s.NetworkObjectState)
}

// Input buttons packed into PlayerInput.Buttons.
const (
	ButtonForward byte = 1 << iota
	ButtonBackward
	ButtonLeft
	ButtonRight
	ButtonJump
	ButtonFire
)

// PlayerInput is one tick of player input.
type PlayerInput struct {
	Buttons   byte
	CameraYaw float32
}

// Pressed reports whether every button in mask is held.
func (in PlayerInput) Pressed(mask byte) bool {
	return in.Buttons&mask == mask
}

func (in PlayerInput) Serialize(w *codec.Writer) {
	w.PutByte(in.Buttons)
	w.PutFloat32(in.CameraYaw)
}

func (in *PlayerInput) Deserialize(r *codec.Reader) {
	in.Buttons = r.Byte()
	in.CameraYaw = r.Float32()
}
