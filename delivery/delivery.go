// Package delivery declares the delivery guarantees a message can require
// and the static table that maps message kinds to those guarantees.
package delivery

import "fmt"

// Method is the reliability and ordering guarantee applied to a message.
type Method byte

const (
	// ReliableOrdered messages arrive exactly once, in send order.
	ReliableOrdered Method = iota
	// ReliableUnordered messages arrive exactly once, in any order.
	ReliableUnordered
	// Sequenced messages may be lost; stale ones are dropped on arrival.
	Sequenced
	// Unreliable messages may be lost, duplicated or reordered.
	Unreliable
)

// String returns a human-readable method name.
func (m Method) String() string {
	switch m {
	case ReliableOrdered:
		return "reliable-ordered"
	case ReliableUnordered:
		return "reliable-unordered"
	case Sequenced:
		return "sequenced"
	case Unreliable:
		return "unreliable"
	default:
		return fmt.Sprintf("method(%d)", byte(m))
	}
}

// Valid reports whether m is one of the declared methods.
func (m Method) Valid() bool {
	return m <= Unreliable
}

// IsReliable reports whether the method retransmits until acknowledged.
func (m Method) IsReliable() bool {
	return m == ReliableOrdered || m == ReliableUnordered
}

// Table maps a message kind to its delivery method.
type Table[K comparable] map[K]Method

// Lookup returns the method registered for kind.
func (t Table[K]) Lookup(kind K) (Method, bool) {
	m, ok := t[kind]
	return m, ok
}

// MustLookup returns the method registered for kind and panics when the
// kind has no entry. A missing entry is a programming error, not a
// condition to recover from at runtime.
func (t Table[K]) MustLookup(kind K) Method {
	m, ok := t[kind]
	if !ok {
		panic(fmt.Sprintf("delivery: no delivery policy registered for kind %v", kind))
	}
	return m
}
