package codec

// Vector3 is a three component float32 vector.
type Vector3 struct {
	X, Y, Z float32
}

// Quaternion is a rotation stored as four float32 components.
type Quaternion struct {
	X, Y, Z, W float32
}

// IdentityQuaternion is the rotation that leaves vectors unchanged.
var IdentityQuaternion = Quaternion{W: 1}

// Serialize writes the vector components.
func (v Vector3) Serialize(w *Writer) {
	w.PutFloat32(v.X)
	w.PutFloat32(v.Y)
	w.PutFloat32(v.Z)
}

// Deserialize reads the vector components.
func (v *Vector3) Deserialize(r *Reader) {
	v.X = r.Float32()
	v.Y = r.Float32()
	v.Z = r.Float32()
}

// Serialize writes the quaternion components.
func (q Quaternion) Serialize(w *Writer) {
	w.PutFloat32(q.X)
	w.PutFloat32(q.Y)
	w.PutFloat32(q.Z)
	w.PutFloat32(q.W)
}

// Deserialize reads the quaternion components.
func (q *Quaternion) Deserialize(r *Reader) {
	q.X = r.Float32()
	q.Y = r.Float32()
	q.Z = r.Float32()
	q.W = r.Float32()
}

// PutVector3 writes a Vector3.
func (w *Writer) PutVector3(v Vector3) {
	v.Serialize(w)
}

// PutQuaternion writes a Quaternion.
func (w *Writer) PutQuaternion(q Quaternion) {
	q.Serialize(w)
}

// Vector3 reads a Vector3.
func (r *Reader) Vector3() Vector3 {
	var v Vector3
	v.Deserialize(r)
	return v
}

// Quaternion reads a Quaternion.
func (r *Reader) Quaternion() Quaternion {
	var q Quaternion
	q.Deserialize(r)
	return q
}
