// Package spike implements the Spike event kind: spikes generated by a
// neuron-array chip, identified by source core, chip and neuron id.
//
// A Spike record is 8 bytes, little-endian:
//
//	bytes 0-3  data word
//	           bit  0      validity mark
//	           bits 1-5    source core id (0-31)
//	           bits 6-11   chip id (0-63)
//	           bits 12-31  neuron id (0-1048575)
//	bytes 4-7  timestamp, int32 microseconds, never negative
package spike

import (
	"encoding/binary"

	"github.com/banshee-data/spikestream/internal/events"
	"github.com/banshee-data/spikestream/internal/monitoring"
)

// Shift and mask values of the data word fields.
const (
	SourceCoreIDShift = 1
	SourceCoreIDMask  = 0x0000001F
	ChipIDShift       = 6
	ChipIDMask        = 0x0000003F
	NeuronIDShift     = 12
	NeuronIDMask      = 0x000FFFFF
)

const (
	// RecordSize is the size of one Spike record in bytes.
	RecordSize = 8

	dataOff      = 0
	timestampOff = 4
)

// Layout is the wire layout of Spike packets.
var Layout = events.Layout{Type: events.SpikeEvent, Size: RecordSize, TSOffset: timestampOff}

var subsystem = events.SpikeEvent.String()

// ConstEvent is a read-only view over one Spike record inside a packet.
type ConstEvent []byte

// Event is a read-write view over one Spike record inside a packet.
// Setters do not validate ranges: values wider than a field are truncated
// by its mask.
type Event []byte

func (e ConstEvent) data() uint32 {
	return binary.LittleEndian.Uint32(e[dataOff : dataOff+4])
}

// Timestamp returns the 32-bit microsecond timestamp. It wraps around every
// 2^31 µs; Timestamp64 does not.
func (e ConstEvent) Timestamp() int32 {
	return int32(binary.LittleEndian.Uint32(e[timestampOff : timestampOff+4]))
}

// Timestamp64 returns the 64-bit microsecond timestamp using the overflow
// counter of the packet holding this event.
func (e ConstEvent) Timestamp64(p *Packet) int64 {
	return p.Timestamp64(e.Timestamp())
}

// IsValid reports the validity mark.
func (e ConstEvent) IsValid() bool {
	return events.IsValid(e)
}

func (e ConstEvent) SourceCoreID() uint8 {
	return uint8(events.GetBits32(e.data(), SourceCoreIDShift, SourceCoreIDMask))
}

func (e ConstEvent) ChipID() uint8 {
	return uint8(events.GetBits32(e.data(), ChipIDShift, ChipIDMask))
}

func (e ConstEvent) NeuronID() uint32 {
	return events.GetBits32(e.data(), NeuronIDShift, NeuronIDMask)
}

func (e Event) Timestamp() int32            { return ConstEvent(e).Timestamp() }
func (e Event) Timestamp64(p *Packet) int64 { return ConstEvent(e).Timestamp64(p) }
func (e Event) IsValid() bool               { return ConstEvent(e).IsValid() }
func (e Event) SourceCoreID() uint8         { return ConstEvent(e).SourceCoreID() }
func (e Event) ChipID() uint8               { return ConstEvent(e).ChipID() }
func (e Event) NeuronID() uint32            { return ConstEvent(e).NeuronID() }

// SetTimestamp stores a microsecond timestamp. Negative values would use
// the reserved bit 31: they are reported as critical, the record is left
// unchanged and events.ErrNegativeTimestamp is returned.
func (e Event) SetTimestamp(ts int32) error {
	if ts < 0 {
		monitoring.Reportf(monitoring.LevelCritical, subsystem, "Called SetTimestamp() with negative value!")
		return events.ErrNegativeTimestamp
	}
	binary.LittleEndian.PutUint32(e[timestampOff:timestampOff+4], uint32(ts))
	return nil
}

func (e Event) setData(shift uint, mask uint32, v uint32) {
	word := events.SetBits32(ConstEvent(e).data(), shift, mask, v)
	binary.LittleEndian.PutUint32(e[dataOff:dataOff+4], word)
}

func (e Event) SetSourceCoreID(id uint8) { e.setData(SourceCoreIDShift, SourceCoreIDMask, uint32(id)) }
func (e Event) SetChipID(id uint8)       { e.setData(ChipIDShift, ChipIDMask, uint32(id)) }
func (e Event) SetNeuronID(id uint32)    { e.setData(NeuronIDShift, NeuronIDMask, id) }

// Validate marks the event valid and counts it in p. Only call it on events
// that were never validated before, see events.Packet.Validate.
func (e Event) Validate(p *Packet) error { return p.Validate(e) }

// Invalidate marks the event invalid and uncounts it from p's valid total.
func (e Event) Invalidate(p *Packet) error { return p.Invalidate(e) }
