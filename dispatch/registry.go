package dispatch

import (
	"errors"
	"fmt"

	"github.com/opd-ai/netchannel/codec"
	"github.com/opd-ai/netchannel/transport"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownKind is returned when a payload names a kind that was
	// never registered.
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrMalformed is returned when a payload cannot be decoded.
	ErrMalformed = errors.New("malformed message")
)

// Kind identifies a message type on the wire.
type Kind uint8

// Message is a value that can be framed and sent over the channel.
type Message interface {
	Kind() Kind
	codec.Serializable
}

// decodeFunc decodes one message body from r and hands it on.
type decodeFunc func(r *codec.Reader, peer transport.PeerID) error

type entry struct {
	name    string
	discard decodeFunc
	handler decodeFunc
}

// Registry is the kind to decoder and handler table. It is not safe for
// concurrent use.
type Registry struct {
	entries map[Kind]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Kind]*entry)}
}

// Register makes kind T decodable. Registering an already known kind keeps
// its handler. It panics if another type already claimed T's kind.
func Register[T any, PT interface {
	*T
	Message
}](r *Registry) {
	register[T, PT](r)
}

// register returns the entry for T, creating it with a decoder that
// discards what it reads.
func register[T any, PT interface {
	*T
	Message
}](r *Registry) *entry {
	kind := PT(new(T)).Kind()
	name := fmt.Sprintf("%T", new(T))
	if e, ok := r.entries[kind]; ok {
		if e.name != name {
			panic(fmt.Sprintf("dispatch: kind %d is registered to %s, cannot register %s", kind, e.name, name))
		}
		return e
	}

	e := &entry{
		name: name,
		discard: func(rd *codec.Reader, _ transport.PeerID) error {
			PT(new(T)).Deserialize(rd)
			return rd.Err()
		},
	}
	r.entries[kind] = e
	return e
}

// Subscribe registers T if needed and sets fn as its only handler. The
// *T passed to fn is reused across messages.
func Subscribe[T any, PT interface {
	*T
	Message
}](r *Registry, fn func(*T)) {
	SubscribeWithSender[T, PT](r, func(msg *T, _ transport.PeerID) { fn(msg) })
}

// SubscribeWithSender is Subscribe with the sending peer passed along.
func SubscribeWithSender[T any, PT interface {
	*T
	Message
}](r *Registry, fn func(*T, transport.PeerID)) {
	instance := new(T)
	setHandler(register[T, PT](r), func(rd *codec.Reader, peer transport.PeerID) error {
		var zero T
		*instance = zero
		PT(instance).Deserialize(rd)
		if err := rd.Err(); err != nil {
			return err
		}
		fn(instance, peer)
		return nil
	})
}

// SubscribeQueue registers T if needed and appends every decoded message
// to q.
func SubscribeQueue[T any, PT interface {
	*T
	Message
}](r *Registry, q *Queue[*T]) {
	setHandler(register[T, PT](r), func(rd *codec.Reader, _ transport.PeerID) error {
		msg := new(T)
		PT(msg).Deserialize(rd)
		if err := rd.Err(); err != nil {
			return err
		}
		q.Push(msg)
		return nil
	})
}

// SubscribeQueueWithSender is SubscribeQueue with the sending peer stored
// next to each message.
func SubscribeQueueWithSender[T any, PT interface {
	*T
	Message
}](r *Registry, q *Queue[WithPeer[*T]]) {
	setHandler(register[T, PT](r), func(rd *codec.Reader, peer transport.PeerID) error {
		msg := new(T)
		PT(msg).Deserialize(rd)
		if err := rd.Err(); err != nil {
			return err
		}
		q.Push(WithPeer[*T]{Peer: peer, Message: msg})
		return nil
	})
}

func setHandler(e *entry, handler decodeFunc) {
	if e.handler != nil {
		logrus.WithFields(logrus.Fields{
			"function": "setHandler",
			"type":     e.name,
		}).Debug("Replacing message handler")
	}
	e.handler = handler
}

// Unsubscribe removes the handler for kind. The kind stays registered and
// its messages are decoded and discarded.
func (r *Registry) Unsubscribe(kind Kind) {
	if e, ok := r.entries[kind]; ok {
		e.handler = nil
	}
}

// Registered reports whether kind can be decoded.
func (r *Registry) Registered(kind Kind) bool {
	_, ok := r.entries[kind]
	return ok
}

// Subscribed reports whether kind has a handler.
func (r *Registry) Subscribed(kind Kind) bool {
	e, ok := r.entries[kind]
	return ok && e.handler != nil
}

// Write frames msg into w: the kind byte followed by the message fields.
func Write(w *codec.Writer, msg Message) error {
	w.PutByte(byte(msg.Kind()))
	msg.Serialize(w)
	return w.Err()
}

// Dispatch decodes every framed message in data and hands each to its
// handler. Decoding stops at the first unknown kind or malformed message;
// messages before it have already been delivered.
func (r *Registry) Dispatch(data []byte, peer transport.PeerID) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	rd := codec.NewReader(data)
	for rd.Remaining() > 0 {
		kind := Kind(rd.Byte())
		e, ok := r.entries[kind]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownKind, kind)
		}

		decode := e.handler
		if decode == nil {
			decode = e.discard
		}
		if err := decode(rd, peer); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrMalformed, e.name, err)
		}
	}
	return nil
}
