// Package messages defines the game's wire messages.
//
// Each message type declares its Kind and writes its fields in declaration
// order with the codec primitives. Policies maps every kind to the delivery
// method it is sent with; RegisterAll makes every kind decodable by a
// dispatch.Registry.
package messages
