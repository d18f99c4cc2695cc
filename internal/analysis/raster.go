package analysis

import (
	"fmt"
	"io"
	"slices"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/spikestream/internal/events/spike"
)

// echartsAssetsPrefix is where rendered HTML loads the echarts runtime.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// rasterPoint is one spike placed on a raster: X in milliseconds since the
// first spike, Y the neuron row.
type rasterPoint struct {
	x, y float64
	chip uint8
}

// rasterRows assigns each neuron a row ordered by key and returns one point
// per valid spike.
func rasterRows(pkts []*spike.Packet) ([]rasterPoint, int) {
	var spikes []spike.Spike
	for _, p := range pkts {
		spikes = append(spikes, spike.ValidSpikes(p)...)
	}
	if len(spikes) == 0 {
		return nil, 0
	}

	keys := make([]NeuronKey, 0)
	seen := make(map[NeuronKey]bool)
	t0 := spikes[0].Timestamp64
	for _, s := range spikes {
		if k := keyOf(s); !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
		t0 = min(t0, s.Timestamp64)
	}
	slices.SortFunc(keys, func(a, b NeuronKey) int {
		if a.ChipID != b.ChipID {
			return int(a.ChipID) - int(b.ChipID)
		}
		if a.SourceCoreID != b.SourceCoreID {
			return int(a.SourceCoreID) - int(b.SourceCoreID)
		}
		switch {
		case a.NeuronID < b.NeuronID:
			return -1
		case a.NeuronID > b.NeuronID:
			return 1
		}
		return 0
	})
	row := make(map[NeuronKey]int, len(keys))
	for i, k := range keys {
		row[k] = i
	}

	pts := make([]rasterPoint, 0, len(spikes))
	for _, s := range spikes {
		pts = append(pts, rasterPoint{
			x:    float64(s.Timestamp64-t0) / 1000,
			y:    float64(row[keyOf(s)]),
			chip: s.ChipID,
		})
	}
	return pts, len(keys)
}

// RasterPNG renders a spike raster of pkts as a PNG image to w.
func RasterPNG(w io.Writer, title string, pkts ...*spike.Packet) error {
	pts, rows := rasterRows(pkts)

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (ms)"
	p.Y.Label.Text = fmt.Sprintf("neuron row (%d neurons)", rows)

	xys := make(plotter.XYs, 0, len(pts))
	for _, pt := range pts {
		xys = append(xys, plotter.XY{X: pt.x, Y: pt.y})
	}
	if len(xys) > 0 {
		sc, err := plotter.NewScatter(xys)
		if err != nil {
			return fmt.Errorf("failed to build raster: %w", err)
		}
		sc.GlyphStyle.Shape = draw.BoxGlyph{}
		sc.GlyphStyle.Radius = vg.Points(1)
		p.Add(sc)
	}

	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to draw raster: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write raster: %w", err)
	}
	return nil
}

// RasterHTML writes an interactive spike raster of pkts to w, one series
// per chip.
func RasterHTML(w io.Writer, title string, pkts ...*spike.Packet) error {
	pts, rows := rasterRows(pkts)

	byChip := make(map[uint8][]opts.ScatterData)
	var chips []uint8
	for _, pt := range pts {
		if _, ok := byChip[pt.chip]; !ok {
			chips = append(chips, pt.chip)
		}
		byChip[pt.chip] = append(byChip[pt.chip], opts.ScatterData{Value: []interface{}{pt.x, pt.y}})
	}
	slices.Sort(chips)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("spikes=%d neurons=%d", len(pts), rows)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (ms)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "neuron row", NameLocation: "middle", NameGap: 30}),
	)
	for _, chip := range chips {
		scatter.AddSeries(fmt.Sprintf("chip %d", chip), byChip[chip], charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("failed to render raster: %w", err)
	}
	return nil
}
