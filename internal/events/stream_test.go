package events

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadPacket_RoundTrip(t *testing.T) {
	var buf bytes.Buffer

	first := validInvalidValid(t)
	second := mustAllocate(t, 0)
	require.NoError(t, WritePacket(&buf, first))
	require.NoError(t, WritePacket(&buf, second))

	got, err := ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.Bytes(), got[0].Bytes())
	assert.Equal(t, second.Bytes(), got[1].Bytes())
	assert.Equal(t, testLayout, got[0].Layout())
}

func TestReadPacket_EOF(t *testing.T) {
	_, err := ReadPacket(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadPacket_Truncated(t *testing.T) {
	p := validInvalidValid(t)
	wire := p.Bytes()

	_, err := ReadPacket(bytes.NewReader(wire[:HeaderSize-3]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadPacket(bytes.NewReader(wire[:HeaderSize]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadPacket(bytes.NewReader(wire[:len(wire)-1]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadPacket_BadHeader(t *testing.T) {
	p := validInvalidValid(t)
	wire := bytes.Clone(p.Bytes())
	Header(wire).SetEventValid(4)

	_, err := ReadPacket(bytes.NewReader(wire))
	assert.ErrorIs(t, err, ErrBadHeader)
}

func hostileHeader(size, capacity int32) []byte {
	hdr := make([]byte, HeaderSize)
	h := Header(hdr)
	h.SetEventType(SpikeEvent)
	h.SetEventSize(size)
	h.SetEventTSOffset(4)
	h.SetEventCapacity(capacity)
	return hdr
}

func TestReadPacket_HugeHeader(t *testing.T) {
	tests := []struct {
		name     string
		size     int32
		capacity int32
		wantErr  error
	}{
		{"max size and capacity", math.MaxInt32, math.MaxInt32, ErrAllocationOverflow},
		{"max capacity", 8, math.MaxInt32, ErrAllocationOverflow},
		{"under limit without body", 8, 1 << 27, io.ErrUnexpectedEOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ReadPacket(bytes.NewReader(hostileHeader(tt.size, tt.capacity)))
			assert.Nil(t, p)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestReadAll_HugeHeaderAfterPacket(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, validInvalidValid(t)))
	buf.Write(hostileHeader(math.MaxInt32, math.MaxInt32))

	got, err := ReadAll(&buf)
	assert.Len(t, got, 1)
	assert.ErrorIs(t, err, ErrAllocationOverflow)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWritePacket_Error(t *testing.T) {
	err := WritePacket(failingWriter{}, mustAllocate(t, 1))
	assert.ErrorContains(t, err, "disk full")
}
