package events

import "iter"

// The traversal entry points yield (index, record) pairs over the first
// eventNumber records. Each call returns a fresh, restartable sequence and
// none of them change the packet counters.
//
// Forward walks re-read eventNumber on every step, so records validated by
// the loop body past the current end are visited too. Reverse walks start
// from the eventNumber seen when the walk begins.

// All yields every record in ascending index order.
func (p *Packet) All() iter.Seq2[int32, []byte] { return p.forward(false) }

// Valid yields the valid records in ascending index order.
func (p *Packet) Valid() iter.Seq2[int32, []byte] { return p.forward(true) }

// ReverseAll yields every record in descending index order.
func (p *Packet) ReverseAll() iter.Seq2[int32, []byte] { return p.reverse(false) }

// ReverseValid yields the valid records in descending index order.
func (p *Packet) ReverseValid() iter.Seq2[int32, []byte] { return p.reverse(true) }

func (p *Packet) forward(validOnly bool) iter.Seq2[int32, []byte] {
	return func(yield func(int32, []byte) bool) {
		for i := int32(0); i < p.limit(); i++ {
			rec := p.record(i)
			if validOnly && !IsValid(rec) {
				continue
			}
			if !yield(i, rec) {
				return
			}
		}
	}
}

func (p *Packet) reverse(validOnly bool) iter.Seq2[int32, []byte] {
	return func(yield func(int32, []byte) bool) {
		for i := p.limit() - 1; i >= 0; i-- {
			rec := p.record(i)
			if validOnly && !IsValid(rec) {
				continue
			}
			if !yield(i, rec) {
				return
			}
		}
	}
}
