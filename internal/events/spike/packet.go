package spike

import (
	"fmt"

	"github.com/banshee-data/spikestream/internal/events"
)

// Packet is a Spike event packet.
type Packet = events.Typed[Event, ConstEvent]

// Allocate returns a zeroed Spike packet holding up to capacity events.
func Allocate(capacity int32, source int16, tsOverflow int32) (*Packet, error) {
	return events.AllocateTyped[Event, ConstEvent](Layout, capacity, source, tsOverflow)
}

// FromPacket views a generic packet as a Spike packet. Packets of another
// type fail with events.ErrTypeMismatch.
func FromPacket(p *events.Packet) (*Packet, error) {
	return events.Convert[Event, ConstEvent](p, Layout)
}

// FromBytes wraps wire bytes as a Spike packet without copying.
func FromBytes(buf []byte) (*Packet, error) {
	p, err := events.FromBytes(buf)
	if err != nil {
		return nil, err
	}
	return FromPacket(p)
}

// Spike is a decoded copy of one Spike record, for consumers that keep
// events beyond the lifetime of their packet.
type Spike struct {
	SourceCoreID uint8
	ChipID       uint8
	NeuronID     uint32
	Timestamp    int32
	Timestamp64  int64
}

func (s Spike) String() string {
	return fmt.Sprintf("spike core=%d chip=%d neuron=%d ts=%d", s.SourceCoreID, s.ChipID, s.NeuronID, s.Timestamp64)
}

// Decode copies the fields of e out of p.
func Decode(p *Packet, e ConstEvent) Spike {
	return Spike{
		SourceCoreID: e.SourceCoreID(),
		ChipID:       e.ChipID(),
		NeuronID:     e.NeuronID(),
		Timestamp:    e.Timestamp(),
		Timestamp64:  e.Timestamp64(p),
	}
}

// ValidSpikes decodes every valid event of p in index order.
func ValidSpikes(p *Packet) []Spike {
	out := make([]Spike, 0, p.EventValid())
	for _, e := range p.ValidConst() {
		out = append(out, Decode(p, e))
	}
	return out
}

// Append writes s into the next free slot of p and validates it. The slot
// is the one at index EventNumber; a full packet yields events.ErrPacketFull.
func Append(p *Packet, s Spike) error {
	if p.EventNumber() >= p.Capacity() {
		return events.ErrPacketFull
	}
	e, err := p.GetEvent(p.EventNumber())
	if err != nil {
		return err
	}
	if err := e.SetTimestamp(s.Timestamp); err != nil {
		return err
	}
	e.SetSourceCoreID(s.SourceCoreID)
	e.SetChipID(s.ChipID)
	e.SetNeuronID(s.NeuronID)
	return e.Validate(p)
}
