package spike

import (
	"math"
	"testing"

	"github.com/banshee-data/spikestream/internal/events"
	"github.com/banshee-data/spikestream/internal/monitoring"
	"github.com/banshee-data/spikestream/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(t *testing.T, p *Packet, n int32) Event {
	t.Helper()
	e, err := p.GetEvent(n)
	require.NoError(t, err)
	return e
}

func TestLayout(t *testing.T) {
	assert.Equal(t, events.SpikeEvent, Layout.Type)
	assert.Equal(t, int32(8), Layout.Size)
	assert.Equal(t, int32(4), Layout.TSOffset)
	assert.Equal(t, events.EventType(12), Layout.Type)
}

func TestFields_RoundTrip(t *testing.T) {
	tests := []struct {
		core   uint8
		chip   uint8
		neuron uint32
		ts     int32
	}{
		{0, 0, 0, 0},
		{31, 63, 0xFFFFF, math.MaxInt32},
		{1, 2, 3, 4},
		{17, 40, 524288, 1000000},
		{31, 0, 1, 1 << 30},
	}
	p, err := Allocate(int32(len(tests)), 0, 0)
	require.NoError(t, err)

	for i, tt := range tests {
		e := newEvent(t, p, int32(i))
		require.NoError(t, e.SetTimestamp(tt.ts))
		e.SetSourceCoreID(tt.core)
		e.SetChipID(tt.chip)
		e.SetNeuronID(tt.neuron)

		assert.Equal(t, tt.core, e.SourceCoreID(), "case %d core", i)
		assert.Equal(t, tt.chip, e.ChipID(), "case %d chip", i)
		assert.Equal(t, tt.neuron, e.NeuronID(), "case %d neuron", i)
		assert.Equal(t, tt.ts, e.Timestamp(), "case %d ts", i)
		assert.False(t, e.IsValid(), "setters must not touch the valid mark")
	}
}

func TestSetters_DoNotPerturbOtherFields(t *testing.T) {
	p, err := Allocate(1, 0, 0)
	require.NoError(t, err)
	e := newEvent(t, p, 0)

	require.NoError(t, e.SetTimestamp(99))
	e.SetSourceCoreID(21)
	e.SetChipID(42)
	e.SetNeuronID(0xABCDE)
	require.NoError(t, e.Validate(p))

	e.SetChipID(5)
	assert.Equal(t, uint8(21), e.SourceCoreID())
	assert.Equal(t, uint8(5), e.ChipID())
	assert.Equal(t, uint32(0xABCDE), e.NeuronID())
	assert.Equal(t, int32(99), e.Timestamp())
	assert.True(t, e.IsValid())

	e.SetSourceCoreID(0)
	e.SetNeuronID(1)
	assert.Equal(t, uint8(5), e.ChipID())
	assert.True(t, e.IsValid())
}

func TestSetters_TruncateByMask(t *testing.T) {
	p, err := Allocate(1, 0, 0)
	require.NoError(t, err)
	e := newEvent(t, p, 0)

	e.SetSourceCoreID(0xFF)
	e.SetChipID(0xFF)
	e.SetNeuronID(0xFFFFFFFF)
	assert.Equal(t, uint8(0x1F), e.SourceCoreID())
	assert.Equal(t, uint8(0x3F), e.ChipID())
	assert.Equal(t, uint32(0xFFFFF), e.NeuronID())
	assert.False(t, e.IsValid(), "overwide core id must not spill into bit 0")

	e.SetSourceCoreID(32)
	assert.Equal(t, uint8(0), e.SourceCoreID())
	assert.Equal(t, uint8(0x3F), e.ChipID())
}

func TestDataWord_BitPositions(t *testing.T) {
	p, err := Allocate(1, 0, 0)
	require.NoError(t, err)
	e := newEvent(t, p, 0)

	e.SetSourceCoreID(1)
	assert.Equal(t, []byte{0x02, 0, 0, 0}, []byte(e[0:4]))
	e.SetSourceCoreID(0)
	e.SetChipID(1)
	assert.Equal(t, []byte{0x40, 0, 0, 0}, []byte(e[0:4]))
	e.SetChipID(0)
	e.SetNeuronID(1)
	assert.Equal(t, []byte{0x00, 0x10, 0, 0}, []byte(e[0:4]))
}

func TestSetTimestamp_NegativeRejected(t *testing.T) {
	reports := testutil.CaptureReports(t)
	p, err := Allocate(1, 0, 0)
	require.NoError(t, err)
	e := newEvent(t, p, 0)
	require.NoError(t, e.SetTimestamp(1234))

	err = e.SetTimestamp(-1)
	assert.ErrorIs(t, err, events.ErrNegativeTimestamp)
	assert.Equal(t, int32(1234), e.Timestamp())
	assert.Equal(t, 1, reports.Count(monitoring.LevelCritical))
	assert.Contains(t, reports.Lines()[0], "Spike Event")
}

func TestTimestamp64_UsesPacketOverflow(t *testing.T) {
	p, err := Allocate(1, 0, 3)
	require.NoError(t, err)
	e := newEvent(t, p, 0)
	require.NoError(t, e.SetTimestamp(5))

	assert.Equal(t, int64(3)<<31|5, e.Timestamp64(p))
	assert.Equal(t, int64(3)<<31|5, ConstEvent(e).Timestamp64(p))

	p.SetTSOverflow(0)
	assert.Equal(t, int64(5), e.Timestamp64(p))
}

func TestValidateInvalidate_Counters(t *testing.T) {
	p, err := Allocate(3, 0, 0)
	require.NoError(t, err)

	for i := int32(0); i < 3; i++ {
		require.NoError(t, newEvent(t, p, i).Validate(p))
	}
	e := newEvent(t, p, 1)
	require.NoError(t, e.Invalidate(p))

	assert.Equal(t, int32(3), p.EventNumber())
	assert.Equal(t, int32(2), p.EventValid())
	assert.Equal(t, int32(2), p.Packet().CountValid())
}
