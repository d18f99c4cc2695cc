package events

import (
	"fmt"
	"iter"
)

// Typed is a packet whose records are exposed through the per-kind view
// types E (read-write) and C (read-only). Both are named []byte types that
// alias the packet buffer; an event kind supplies them together with its
// Layout.
type Typed[E, C ~[]byte] struct {
	p *Packet
}

// AllocateTyped allocates a packet of the given layout and wraps it.
func AllocateTyped[E, C ~[]byte](layout Layout, capacity int32, source int16, tsOverflow int32) (*Typed[E, C], error) {
	p, err := Allocate(layout, capacity, source, tsOverflow)
	if err != nil {
		return nil, err
	}
	return &Typed[E, C]{p: p}, nil
}

// Convert views a generic packet as a packet of the given layout. It fails
// with ErrTypeMismatch when the header's type tag or record size disagree
// with layout, instead of reinterpreting foreign records.
func Convert[E, C ~[]byte](p *Packet, layout Layout) (*Typed[E, C], error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil packet", ErrTypeMismatch)
	}
	h := p.Header()
	if h.EventType() != layout.Type {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrTypeMismatch, h.EventType(), layout.Type)
	}
	if h.EventSize() != layout.Size || h.EventTSOffset() != layout.TSOffset {
		return nil, fmt.Errorf("%w: %s record is %d bytes (ts at %d), want %d (ts at %d)",
			ErrTypeMismatch, layout.Type, h.EventSize(), h.EventTSOffset(), layout.Size, layout.TSOffset)
	}
	return &Typed[E, C]{p: p}, nil
}

// Packet returns the untyped packet.
func (t *Typed[E, C]) Packet() *Packet { return t.p }

func (t *Typed[E, C]) Bytes() []byte        { return t.p.Bytes() }
func (t *Typed[E, C]) Header() Header       { return t.p.Header() }
func (t *Typed[E, C]) EventSource() int16   { return t.p.EventSource() }
func (t *Typed[E, C]) Capacity() int32      { return t.p.Capacity() }
func (t *Typed[E, C]) EventNumber() int32   { return t.p.EventNumber() }
func (t *Typed[E, C]) EventValid() int32    { return t.p.EventValid() }
func (t *Typed[E, C]) TSOverflow() int32    { return t.p.TSOverflow() }
func (t *Typed[E, C]) SetTSOverflow(n int32) { t.p.SetTSOverflow(n) }

// Timestamp64 reconstructs a 64-bit timestamp with this packet's overflow counter.
func (t *Typed[E, C]) Timestamp64(ts int32) int64 { return t.p.Timestamp64(ts) }

// GetEvent returns a read-write view over record n, or ErrOutOfBounds.
func (t *Typed[E, C]) GetEvent(n int32) (E, error) {
	rec, err := t.p.event(n, "GetEvent")
	if err != nil {
		return nil, err
	}
	return E(rec), nil
}

// GetEventConst returns a read-only view over record n, or ErrOutOfBounds.
func (t *Typed[E, C]) GetEventConst(n int32) (C, error) {
	rec, err := t.p.event(n, "GetEventConst")
	if err != nil {
		return nil, err
	}
	return C(rec), nil
}

// Validate marks e valid, see Packet.Validate.
func (t *Typed[E, C]) Validate(e E) error { return t.p.Validate([]byte(e)) }

// Invalidate marks e invalid, see Packet.Invalidate.
func (t *Typed[E, C]) Invalidate(e E) error { return t.p.Invalidate([]byte(e)) }

func (t *Typed[E, C]) All() iter.Seq2[int32, E]          { return mapSeq[E](t.p.All()) }
func (t *Typed[E, C]) Valid() iter.Seq2[int32, E]        { return mapSeq[E](t.p.Valid()) }
func (t *Typed[E, C]) ReverseAll() iter.Seq2[int32, E]   { return mapSeq[E](t.p.ReverseAll()) }
func (t *Typed[E, C]) ReverseValid() iter.Seq2[int32, E] { return mapSeq[E](t.p.ReverseValid()) }

func (t *Typed[E, C]) AllConst() iter.Seq2[int32, C]          { return mapSeq[C](t.p.All()) }
func (t *Typed[E, C]) ValidConst() iter.Seq2[int32, C]        { return mapSeq[C](t.p.Valid()) }
func (t *Typed[E, C]) ReverseAllConst() iter.Seq2[int32, C]   { return mapSeq[C](t.p.ReverseAll()) }
func (t *Typed[E, C]) ReverseValidConst() iter.Seq2[int32, C] { return mapSeq[C](t.p.ReverseValid()) }

func mapSeq[V ~[]byte](seq iter.Seq2[int32, []byte]) iter.Seq2[int32, V] {
	return func(yield func(int32, V) bool) {
		for i, rec := range seq {
			if !yield(i, V(rec)) {
				return
			}
		}
	}
}
