package analysis

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spikestream/internal/events/spike"
)

func TestRasterRows(t *testing.T) {
	p := packetOf(t, 0,
		spike.Spike{ChipID: 1, NeuronID: 2, Timestamp: 3000},
		spike.Spike{ChipID: 0, NeuronID: 9, Timestamp: 1000},
		spike.Spike{ChipID: 1, NeuronID: 2, Timestamp: 5000},
	)
	pts, rows := rasterRows([]*spike.Packet{p})
	require.Equal(t, 2, rows)
	assert.Equal(t, []rasterPoint{
		{x: 2, y: 1, chip: 1},
		{x: 0, y: 0, chip: 0},
		{x: 4, y: 1, chip: 1},
	}, pts)
}

func TestRasterPNG(t *testing.T) {
	p := packetOf(t, 0,
		spike.Spike{NeuronID: 1, Timestamp: 10},
		spike.Spike{NeuronID: 2, Timestamp: 20},
	)
	var buf bytes.Buffer
	require.NoError(t, RasterPNG(&buf, "test raster", p))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")), "not a PNG image")
}

func TestRasterPNG_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RasterPNG(&buf, "empty"))
	assert.NotZero(t, buf.Len())
}

func TestRasterHTML(t *testing.T) {
	p := packetOf(t, 0,
		spike.Spike{ChipID: 3, NeuronID: 1, Timestamp: 10},
		spike.Spike{ChipID: 4, NeuronID: 2, Timestamp: 20},
	)
	var buf bytes.Buffer
	require.NoError(t, RasterHTML(&buf, "bench raster", p))

	html := buf.String()
	assert.True(t, strings.Contains(html, "bench raster"))
	assert.True(t, strings.Contains(html, "chip 3"))
	assert.True(t, strings.Contains(html, "chip 4"))
	assert.True(t, strings.Contains(html, "echarts"))
}
