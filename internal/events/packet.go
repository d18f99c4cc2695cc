package events

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/banshee-data/spikestream/internal/monitoring"
)

// TSOverflowShift is the width of the timestamp field. Bit 31 of a 32-bit
// timestamp is reserved as a sign guard, so a wrap happens every 2^31 µs.
const TSOverflowShift = 31

// maxPacketBytes bounds the size of a single packet: the header plus 2 GiB
// of records, or the largest int on 32-bit platforms.
var maxPacketBytes = int(min(int64(math.MaxInt), HeaderSize+math.MaxInt32))

// Packet is a header followed by capacity fixed-size records, held in one
// contiguous buffer that is also the packet's wire format.
type Packet struct {
	buf    []byte
	layout Layout
}

// Allocate returns a zeroed packet able to hold capacity records of the
// given layout. Its byte size is HeaderSize + capacity*layout.Size; requests
// whose size would not fit in an int fail with ErrAllocationOverflow and no
// packet is produced.
func Allocate(layout Layout, capacity int32, source int16, tsOverflow int32) (*Packet, error) {
	if err := layout.check(); err != nil {
		return nil, err
	}
	if capacity < 0 {
		monitoring.Reportf(monitoring.LevelCritical, layout.Name(),
			"Called Allocate() with negative event capacity %d.", capacity)
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	size, err := packetBytes(int64(capacity), int64(layout.Size), maxPacketBytes)
	if err != nil {
		monitoring.Reportf(monitoring.LevelCritical, layout.Name(),
			"Failed to allocate packet of %d events of %d bytes: size overflows.", capacity, layout.Size)
		return nil, err
	}

	buf := make([]byte, size)
	h := Header(buf[:HeaderSize])
	h.SetEventType(layout.Type)
	h.SetEventSource(source)
	h.SetEventSize(layout.Size)
	h.SetEventTSOffset(layout.TSOffset)
	h.SetEventTSOverflow(tsOverflow)
	h.SetEventCapacity(capacity)

	return &Packet{buf: buf, layout: layout}, nil
}

// packetBytes returns HeaderSize + capacity*size, or ErrAllocationOverflow
// when the result would exceed limit.
func packetBytes(capacity, size int64, limit int) (int, error) {
	if capacity < 0 || size < 0 {
		return 0, ErrInvalidCapacity
	}
	hi, lo := bits.Mul64(uint64(capacity), uint64(size))
	if hi != 0 || limit < HeaderSize || lo > uint64(limit-HeaderSize) {
		return 0, fmt.Errorf("%w: %d events of %d bytes", ErrAllocationOverflow, capacity, size)
	}
	return HeaderSize + int(lo), nil
}

// FromBytes wraps buf as a packet without copying. The header must pass
// Header.Check and buf must be exactly as long as the header declares.
func FromBytes(buf []byte) (*Packet, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrBadHeader, len(buf), HeaderSize)
	}
	h := Header(buf[:HeaderSize])
	if err := h.Check(); err != nil {
		return nil, err
	}
	want, err := packetBytes(int64(h.EventCapacity()), int64(h.EventSize()), maxPacketBytes)
	if err != nil {
		return nil, err
	}
	if len(buf) != want {
		return nil, fmt.Errorf("%w: have %d bytes, header declares %d", ErrSizeMismatch, len(buf), want)
	}
	return &Packet{buf: buf, layout: h.Layout()}, nil
}

// Clone returns a deep copy of p.
func (p *Packet) Clone() *Packet {
	buf := make([]byte, len(p.buf))
	copy(buf, p.buf)
	return &Packet{buf: buf, layout: p.layout}
}

// Bytes returns the packet's backing buffer, which is its wire format.
func (p *Packet) Bytes() []byte { return p.buf }

// Header returns a view over the packet header.
func (p *Packet) Header() Header { return Header(p.buf[:HeaderSize]) }

// Layout returns the record layout of this packet.
func (p *Packet) Layout() Layout { return p.layout }

func (p *Packet) EventType() EventType { return p.Header().EventType() }
func (p *Packet) EventSource() int16   { return p.Header().EventSource() }
func (p *Packet) Capacity() int32      { return p.Header().EventCapacity() }
func (p *Packet) EventNumber() int32   { return p.Header().EventNumber() }
func (p *Packet) EventValid() int32    { return p.Header().EventValid() }
func (p *Packet) TSOverflow() int32    { return p.Header().EventTSOverflow() }

// SetTSOverflow stores the timestamp overflow counter. Producers increment
// it once per detected 2^31 µs wrap.
func (p *Packet) SetTSOverflow(n int32) { p.Header().SetEventTSOverflow(n) }

// slots returns the number of records the buffer holds. It equals the
// header capacity unless the header was rewritten after construction.
func (p *Packet) slots() int32 {
	return int32((len(p.buf) - HeaderSize) / int(p.layout.Size))
}

// limit returns the number of records a traversal may visit.
func (p *Packet) limit() int32 {
	return min(p.EventNumber(), p.slots())
}

// record returns the bytes of record n without bounds reporting.
func (p *Packet) record(n int32) []byte {
	size := int(p.layout.Size)
	off := HeaderSize + int(n)*size
	return p.buf[off : off+size : off+size]
}

// Event returns a view over record n. Indexes outside [0, capacity) are
// reported as critical and yield ErrOutOfBounds with a nil view.
func (p *Packet) Event(n int32) ([]byte, error) {
	return p.event(n, "GetEvent")
}

func (p *Packet) event(n int32, caller string) ([]byte, error) {
	bound := min(p.Capacity(), p.slots())
	if n < 0 || n >= bound {
		monitoring.Reportf(monitoring.LevelCritical, p.layout.Name(),
			"Called %s() with invalid event offset %d, while maximum allowed value is %d.",
			caller, n, bound-1)
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrOutOfBounds, n, bound)
	}
	return p.record(n), nil
}

// IsValid reports whether the validity mark of rec is set. A nil or short
// view is never valid.
func IsValid(rec []byte) bool {
	if len(rec) < 4 {
		return false
	}
	return GetBits32(binary.LittleEndian.Uint32(rec[0:4]), ValidMarkShift, ValidMarkMask) == 1
}

func setValidMark(rec []byte, valid bool) {
	word := binary.LittleEndian.Uint32(rec[0:4])
	if valid {
		word = SetBits32(word, ValidMarkShift, ValidMarkMask, 1)
	} else {
		word = ClearBits32(word, ValidMarkShift, ValidMarkMask)
	}
	binary.LittleEndian.PutUint32(rec[0:4], word)
}

// Validate marks rec valid and advances both eventNumber and eventValid.
//
// Validate registers a new event: rec must be a record of p that has never
// been validated. Validating a record that was validated and later
// invalidated counts it twice in eventNumber. Calling it on a valid record,
// or once eventNumber reached capacity, is reported as critical and leaves
// the packet unchanged.
func (p *Packet) Validate(rec []byte) error {
	if err := p.checkRecord(rec, "Validate"); err != nil {
		return err
	}
	if IsValid(rec) {
		monitoring.Reportf(monitoring.LevelCritical, p.layout.Name(),
			"Called Validate() on already valid event.")
		return ErrAlreadyValid
	}
	h := p.Header()
	if h.EventNumber() >= h.EventCapacity() {
		monitoring.Reportf(monitoring.LevelCritical, p.layout.Name(),
			"Called Validate() on packet with event number already at capacity %d.", h.EventCapacity())
		return ErrPacketFull
	}

	setValidMark(rec, true)
	h.SetEventNumber(h.EventNumber() + 1)
	h.SetEventValid(h.EventValid() + 1)
	return nil
}

// Invalidate clears the validity mark of rec and decrements eventValid.
// eventNumber is left alone. Calling it on an invalid record is reported as
// critical and leaves the packet unchanged.
func (p *Packet) Invalidate(rec []byte) error {
	if err := p.checkRecord(rec, "Invalidate"); err != nil {
		return err
	}
	if !IsValid(rec) {
		monitoring.Reportf(monitoring.LevelCritical, p.layout.Name(),
			"Called Invalidate() on already invalid event.")
		return ErrAlreadyInvalid
	}

	setValidMark(rec, false)
	h := p.Header()
	h.SetEventValid(h.EventValid() - 1)
	return nil
}

// checkRecord rejects views that are not a whole record, such as the nil
// view returned by a failed Event call.
func (p *Packet) checkRecord(rec []byte, caller string) error {
	if len(rec) != int(p.layout.Size) {
		monitoring.Reportf(monitoring.LevelCritical, p.layout.Name(),
			"Called %s() on event view of %d bytes, expected %d.", caller, len(rec), p.layout.Size)
		return fmt.Errorf("%w: event view of %d bytes", ErrOutOfBounds, len(rec))
	}
	return nil
}

// Timestamp64 combines the packet's overflow counter with a 32-bit record
// timestamp into a monotonic 64-bit microsecond timestamp.
func (p *Packet) Timestamp64(ts int32) int64 {
	return Timestamp64(p.TSOverflow(), ts)
}

// Timestamp64 returns (overflow << TSOverflowShift) | ts, both operands
// taken as unsigned.
func Timestamp64(overflow, ts int32) int64 {
	return int64((uint64(uint32(overflow)) << TSOverflowShift) | uint64(uint32(ts)))
}

// CountValid recomputes the number of valid records among the first
// eventNumber records. It equals EventValid for any consistent packet.
func (p *Packet) CountValid() int32 {
	var n int32
	for i := int32(0); i < p.limit(); i++ {
		if IsValid(p.record(i)) {
			n++
		}
	}
	return n
}
