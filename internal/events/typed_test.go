package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRec []byte
type testConstRec []byte

func TestConvert_TypeMismatch(t *testing.T) {
	p := mustAllocate(t, 2)

	_, err := Convert[testRec, testConstRec](p, Layout{Type: SpikeEvent, Size: 8, TSOffset: 4})
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Convert[testRec, testConstRec](p, Layout{Type: PolarityEvent, Size: 12, TSOffset: 8})
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Convert[testRec, testConstRec](nil, testLayout)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	typed, err := Convert[testRec, testConstRec](p, testLayout)
	require.NoError(t, err)
	assert.Same(t, p, typed.Packet())
}

func TestTyped_EntryPoints(t *testing.T) {
	typed, err := AllocateTyped[testRec, testConstRec](testLayout, 4, 1, 0)
	require.NoError(t, err)

	for i := int32(0); i < 3; i++ {
		e, err := typed.GetEvent(i)
		require.NoError(t, err)
		require.NoError(t, typed.Validate(e))
	}
	e, _ := typed.GetEvent(1)
	require.NoError(t, typed.Invalidate(e))

	collect := func(next func(yield func(int32, testRec) bool)) []int32 {
		var out []int32
		next(func(i int32, _ testRec) bool { out = append(out, i); return true })
		return out
	}
	collectConst := func(next func(yield func(int32, testConstRec) bool)) []int32 {
		var out []int32
		next(func(i int32, _ testConstRec) bool { out = append(out, i); return true })
		return out
	}

	assert.Equal(t, []int32{0, 1, 2}, collect(typed.All()))
	assert.Equal(t, []int32{0, 2}, collect(typed.Valid()))
	assert.Equal(t, []int32{2, 1, 0}, collect(typed.ReverseAll()))
	assert.Equal(t, []int32{2, 0}, collect(typed.ReverseValid()))
	assert.Equal(t, []int32{0, 1, 2}, collectConst(typed.AllConst()))
	assert.Equal(t, []int32{0, 2}, collectConst(typed.ValidConst()))
	assert.Equal(t, []int32{2, 1, 0}, collectConst(typed.ReverseAllConst()))
	assert.Equal(t, []int32{2, 0}, collectConst(typed.ReverseValidConst()))

	assert.Equal(t, int32(3), typed.EventNumber())
	assert.Equal(t, int32(2), typed.EventValid())
	assert.Equal(t, int32(4), typed.Capacity())
	assert.Equal(t, int16(1), typed.EventSource())
}

func TestTyped_GetEventConstBounds(t *testing.T) {
	typed, err := AllocateTyped[testRec, testConstRec](testLayout, 2, 0, 0)
	require.NoError(t, err)

	c, err := typed.GetEventConst(2)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	c, err = typed.GetEventConst(1)
	require.NoError(t, err)
	assert.Len(t, c, 8)
}
