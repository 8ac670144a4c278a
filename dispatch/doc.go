// Package dispatch maps wire message kinds to decoders and handlers.
//
// Every framed message starts with a one byte Kind followed by the fields
// the message writes in its own Serialize method. A Registry knows how to
// decode each registered kind and holds at most one handler per kind;
// subscribing again replaces the previous handler. A kind that is
// registered but has no handler is decoded and discarded.
//
//	r := dispatch.NewRegistry()
//	dispatch.Subscribe(r, func(m *messages.JoinRequest) { ... })
//	if err := r.Dispatch(payload, peer); err != nil {
//	    // unknown kind or malformed input; drop it
//	}
//
// Handlers registered with Subscribe and SubscribeWithSender receive a
// reused instance that is only valid for the duration of the call. Queue
// subscriptions receive a fresh value per message.
package dispatch
