package events

import (
	"iter"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// validInvalidValid builds a packet with slots [Valid, Invalid, Valid].
func validInvalidValid(t *testing.T) *Packet {
	t.Helper()
	p := mustAllocate(t, 5)
	for i := int32(0); i < 3; i++ {
		rec, err := p.Event(i)
		require.NoError(t, err)
		require.NoError(t, p.Validate(rec))
	}
	rec, _ := p.Event(1)
	require.NoError(t, p.Invalidate(rec))
	return p
}

func indexes(seq iter.Seq2[int32, []byte]) []int32 {
	var out []int32
	for i := range seq {
		out = append(out, i)
	}
	return out
}

func TestTraversal_Order(t *testing.T) {
	p := validInvalidValid(t)

	tests := []struct {
		name string
		seq  iter.Seq2[int32, []byte]
		want []int32
	}{
		{"All", p.All(), []int32{0, 1, 2}},
		{"Valid", p.Valid(), []int32{0, 2}},
		{"ReverseAll", p.ReverseAll(), []int32{2, 1, 0}},
		{"ReverseValid", p.ReverseValid(), []int32{2, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, indexes(tt.seq)); diff != "" {
				t.Errorf("indexes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTraversal_EmptyPacket(t *testing.T) {
	p := mustAllocate(t, 4)
	for name, seq := range map[string]iter.Seq2[int32, []byte]{
		"All": p.All(), "Valid": p.Valid(), "ReverseAll": p.ReverseAll(), "ReverseValid": p.ReverseValid(),
	} {
		if got := indexes(seq); len(got) != 0 {
			t.Errorf("%s over empty packet yielded %v", name, got)
		}
	}
}

func TestTraversal_RestartableAndSideEffectFree(t *testing.T) {
	p := validInvalidValid(t)
	before := slices.Clone(p.Bytes())

	seq := p.Valid()
	first := indexes(seq)
	second := indexes(seq)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second walk differs (-first +second):\n%s", diff)
	}
	if !slices.Equal(before, p.Bytes()) {
		t.Error("traversal modified the packet")
	}
}

func TestTraversal_EarlyBreak(t *testing.T) {
	p := validInvalidValid(t)
	var seen []int32
	for i := range p.ReverseAll() {
		seen = append(seen, i)
		if len(seen) == 2 {
			break
		}
	}
	if diff := cmp.Diff([]int32{2, 1}, seen); diff != "" {
		t.Errorf("seen mismatch (-want +got):\n%s", diff)
	}
}

func TestTraversal_YieldsAliasingViews(t *testing.T) {
	p := validInvalidValid(t)
	for i, rec := range p.Valid() {
		rec[4] = byte(i + 1)
	}
	rec, _ := p.Event(2)
	if rec[4] != 3 {
		t.Errorf("write through traversal view not visible, got %d", rec[4])
	}
	rec, _ = p.Event(1)
	if rec[4] != 0 {
		t.Errorf("invalid slot was visited, got %d", rec[4])
	}
}
