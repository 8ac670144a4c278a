package netchannel

import (
	"github.com/opd-ai/netchannel/dispatch"
)

// Subscribe sets fn as the only handler for messages of type T. The *T
// passed to fn is reused and must not be retained after fn returns.
func Subscribe[T any, PT interface {
	*T
	dispatch.Message
}](c *NetChannel, fn func(*T)) {
	dispatch.Subscribe[T, PT](c.registry, fn)
}

// SubscribeWithSender is Subscribe with the sending peer passed along.
func SubscribeWithSender[T any, PT interface {
	*T
	dispatch.Message
}](c *NetChannel, fn func(*T, PeerID)) {
	dispatch.SubscribeWithSender[T, PT](c.registry, fn)
}

// SubscribeQueue appends every received message of type T to q, to be
// drained on the game's own tick.
func SubscribeQueue[T any, PT interface {
	*T
	dispatch.Message
}](c *NetChannel, q *dispatch.Queue[*T]) {
	dispatch.SubscribeQueue[T, PT](c.registry, q)
}

// SubscribeQueueWithSender is SubscribeQueue with the sending peer stored
// next to each message.
func SubscribeQueueWithSender[T any, PT interface {
	*T
	dispatch.Message
}](c *NetChannel, q *dispatch.Queue[dispatch.WithPeer[*T]]) {
	dispatch.SubscribeQueueWithSender[T, PT](c.registry, q)
}

// Unsubscribe removes the handler for kind; its messages are then decoded
// and discarded.
func (c *NetChannel) Unsubscribe(kind dispatch.Kind) {
	c.registry.Unsubscribe(kind)
}

// RegisterMessage makes a message type outside the built-in set
// decodable. Sending it also needs an entry in Options.Policies.
func RegisterMessage[T any, PT interface {
	*T
	dispatch.Message
}](c *NetChannel) {
	dispatch.Register[T, PT](c.registry)
}
