// Package codec implements the channel's binary wire format.
//
// Every value is written in declaration order using little-endian
// fixed-width primitives:
//
//	byte, bool            1 byte
//	uint16                2 bytes
//	uint32, int32, float  4 bytes
//	string                uint16 byte length + UTF-8 bytes
//	slice                 uint16 element count + elements
//	Vector3               3 x float32
//	Quaternion            4 x float32
//
// Composite values implement Serializable and are written by recursively
// invoking their own Serialize method.
//
// Both Writer and Reader carry a sticky error: after the first failure every
// further call is a no-op and Err reports the cause. Decoding therefore never
// panics on truncated or hostile input; callers check Err once at the end.
//
//	w := codec.NewWriter()
//	w.PutString("hello")
//	w.PutVector3(codec.Vector3{X: 1})
//
//	r := codec.NewReader(w.Bytes())
//	s := r.String()
//	v := r.Vector3()
//	if err := r.Err(); err != nil {
//	    // truncated or malformed
//	}
package codec
