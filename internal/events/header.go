package events

import (
	"encoding/binary"
	"fmt"
)

// Header field offsets. All fields are little-endian.
const (
	headerTypeOff       = 0
	headerSourceOff     = 2
	headerSizeOff       = 4
	headerTSOffsetOff   = 8
	headerTSOverflowOff = 12
	headerCapacityOff   = 16
	headerNumberOff     = 20
	headerValidOff      = 24

	// HeaderSize is the size in bytes of the common packet header.
	HeaderSize = 28
)

// Header is a view over the first HeaderSize bytes of a packet.
// Accessors decode from and encode into the underlying bytes directly.
type Header []byte

func (h Header) i16(off int) int16 { return int16(binary.LittleEndian.Uint16(h[off : off+2])) }
func (h Header) i32(off int) int32 { return int32(binary.LittleEndian.Uint32(h[off : off+4])) }

func (h Header) setI16(off int, v int16) { binary.LittleEndian.PutUint16(h[off:off+2], uint16(v)) }
func (h Header) setI32(off int, v int32) { binary.LittleEndian.PutUint32(h[off:off+4], uint32(v)) }

func (h Header) EventType() EventType     { return EventType(h.i16(headerTypeOff)) }
func (h Header) EventSource() int16       { return h.i16(headerSourceOff) }
func (h Header) EventSize() int32         { return h.i32(headerSizeOff) }
func (h Header) EventTSOffset() int32     { return h.i32(headerTSOffsetOff) }
func (h Header) EventTSOverflow() int32   { return h.i32(headerTSOverflowOff) }
func (h Header) EventCapacity() int32     { return h.i32(headerCapacityOff) }
func (h Header) EventNumber() int32       { return h.i32(headerNumberOff) }
func (h Header) EventValid() int32        { return h.i32(headerValidOff) }
func (h Header) SetEventType(t EventType) { h.setI16(headerTypeOff, int16(t)) }
func (h Header) SetEventSource(s int16)   { h.setI16(headerSourceOff, s) }
func (h Header) SetEventSize(n int32)     { h.setI32(headerSizeOff, n) }
func (h Header) SetEventTSOffset(n int32) { h.setI32(headerTSOffsetOff, n) }
func (h Header) SetEventTSOverflow(n int32) {
	h.setI32(headerTSOverflowOff, n)
}
func (h Header) SetEventCapacity(n int32) { h.setI32(headerCapacityOff, n) }
func (h Header) SetEventNumber(n int32)   { h.setI32(headerNumberOff, n) }
func (h Header) SetEventValid(n int32)    { h.setI32(headerValidOff, n) }

// Layout returns the record layout the header declares.
func (h Header) Layout() Layout {
	return Layout{Type: h.EventType(), Size: h.EventSize(), TSOffset: h.EventTSOffset()}
}

// Check verifies the header describes a well-formed packet: a usable record
// layout and 0 <= eventValid <= eventNumber <= eventCapacity.
func (h Header) Check() error {
	if len(h) < HeaderSize {
		return fmt.Errorf("%w: %d bytes, need %d", ErrBadHeader, len(h), HeaderSize)
	}
	if err := h.Layout().check(); err != nil {
		return fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	capacity, number, valid := h.EventCapacity(), h.EventNumber(), h.EventValid()
	if capacity < 0 {
		return fmt.Errorf("%w: capacity %d", ErrBadHeader, capacity)
	}
	if number < 0 || number > capacity {
		return fmt.Errorf("%w: event number %d outside [0,%d]", ErrBadHeader, number, capacity)
	}
	if valid < 0 || valid > number {
		return fmt.Errorf("%w: valid count %d outside [0,%d]", ErrBadHeader, valid, number)
	}
	return nil
}
