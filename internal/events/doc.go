// Package events owns the packed event packet format shared by every event
// kind produced by the neuromorphic sensors.
//
// A packet is one contiguous little-endian block:
//
//	[Header 28 bytes][record 0][record 1]...[record capacity-1]
//
// Records are fixed-size and kind-specific. The first 32-bit word of every
// record carries the validity mark in bit 0; the header counters
// (eventNumber, eventValid) are kept in step with those marks by
// Packet.Validate and Packet.Invalidate only.
//
// The byte slice returned by Packet.Bytes is the wire format. Nothing is
// decoded into a richer in-memory form: record views alias the packet
// buffer and encode or decode on every accessor call.
//
// Per-kind codecs (see the spike subpackage) plug into Typed, which adds
// typed record views and the traversal entry points on top of Packet.
//
// Packets are not synchronized. One goroutine may mutate a packet at a
// time; read-only traversal of a packet nobody is mutating may be shared.
package events
