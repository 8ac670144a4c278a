package transport

import (
	"crypto/subtle"
	"encoding/binary"
	"net"

	"golang.org/x/crypto/blake2b"
)

const digestSize = blake2b.Size256

// connectionDigest binds the shared connection key to one connection
// attempt so the key itself never travels on the wire.
func connectionDigest(key string, connID uint64) [digestSize]byte {
	keyHash := blake2b.Sum256([]byte(key))
	mac, err := blake2b.New256(keyHash[:])
	if err != nil {
		// A 32 byte key is always valid for blake2b.
		panic(err)
	}
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], connID)
	mac.Write(id[:])

	var out [digestSize]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// ConnectionRequest is an inbound connection attempt awaiting a decision.
// It is delivered through EventListener.OnConnectionRequest and must be
// resolved during that call; unresolved requests are rejected.
type ConnectionRequest struct {
	manager  *Manager
	addr     net.Addr
	request  connectRequest
	resolved bool
	peer     PeerID
}

// Addr returns the address the request came from.
func (r *ConnectionRequest) Addr() net.Addr {
	return r.addr
}

// KeyMatches reports whether the request was made with key.
func (r *ConnectionRequest) KeyMatches(key string) bool {
	expected := connectionDigest(key, r.request.ConnectionID)
	return subtle.ConstantTimeCompare(expected[:], r.request.Digest[:]) == 1
}

// Accept creates the peer and answers the remote. Calling it again returns
// the same peer.
func (r *ConnectionRequest) Accept() PeerID {
	if r.resolved {
		return r.peer
	}
	r.resolved = true
	r.peer = r.manager.acceptRequest(r)
	return r.peer
}

// Reject refuses the connection; the remote sees ReasonConnectionRejected.
func (r *ConnectionRequest) Reject() {
	if r.resolved {
		return
	}
	r.resolved = true
	r.manager.rejectRequest(r)
}

// AcceptIfKey accepts when the request was made with key and rejects it
// otherwise.
func (r *ConnectionRequest) AcceptIfKey(key string) (PeerID, bool) {
	if r.resolved {
		return r.peer, r.peer != NoPeer
	}
	if !r.KeyMatches(key) {
		r.Reject()
		return NoPeer, false
	}
	return r.Accept(), true
}

// Resolved reports whether Accept or Reject has been called.
func (r *ConnectionRequest) Resolved() bool {
	return r.resolved
}
