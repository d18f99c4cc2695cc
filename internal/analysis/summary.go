// Package analysis computes firing statistics and raster plots from Spike
// packets.
package analysis

import (
	"cmp"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/spikestream/internal/events/spike"
)

// NeuronKey identifies a neuron across cores and chips.
type NeuronKey struct {
	ChipID       uint8
	SourceCoreID uint8
	NeuronID     uint32
}

func (k NeuronKey) String() string {
	return fmt.Sprintf("chip%d/core%d/n%d", k.ChipID, k.SourceCoreID, k.NeuronID)
}

func keyOf(s spike.Spike) NeuronKey {
	return NeuronKey{ChipID: s.ChipID, SourceCoreID: s.SourceCoreID, NeuronID: s.NeuronID}
}

// NeuronCount is the spike count of one neuron.
type NeuronCount struct {
	Key   NeuronKey
	Count int
}

// Summary describes a set of packets. Timestamps are 64-bit microseconds.
type Summary struct {
	Packets int
	Events  int // records in use, valid or not
	Valid   int

	FirstUS    int64
	LastUS     int64
	DurationUS int64
	// RateHz is the mean population firing rate, zero for spans under 1 µs.
	RateHz float64

	Neurons   map[NeuronKey]int
	ISICount  int
	ISIMeanUS float64
	ISIStdUS  float64
	ISIMedUS  float64
}

// Summarize computes a Summary over the valid spikes of pkts.
func Summarize(pkts ...*spike.Packet) Summary {
	s := Summary{Packets: len(pkts), Neurons: make(map[NeuronKey]int)}
	times := make(map[NeuronKey][]int64)

	first := true
	for _, p := range pkts {
		s.Events += int(p.EventNumber())
		for _, sp := range spike.ValidSpikes(p) {
			s.Valid++
			k := keyOf(sp)
			s.Neurons[k]++
			times[k] = append(times[k], sp.Timestamp64)
			if first || sp.Timestamp64 < s.FirstUS {
				s.FirstUS = sp.Timestamp64
			}
			if first || sp.Timestamp64 > s.LastUS {
				s.LastUS = sp.Timestamp64
			}
			first = false
		}
	}
	s.DurationUS = s.LastUS - s.FirstUS
	if s.DurationUS > 0 {
		s.RateHz = float64(s.Valid) / (float64(s.DurationUS) / 1e6)
	}

	var isis []float64
	for _, ts := range times {
		slices.Sort(ts)
		for i := 1; i < len(ts); i++ {
			isis = append(isis, float64(ts[i]-ts[i-1]))
		}
	}
	s.ISICount = len(isis)
	switch len(isis) {
	case 0:
	case 1:
		s.ISIMeanUS, s.ISIMedUS = isis[0], isis[0]
	default:
		s.ISIMeanUS, s.ISIStdUS = stat.MeanStdDev(isis, nil)
		slices.Sort(isis)
		s.ISIMedUS = stat.Quantile(0.5, stat.Empirical, isis, nil)
	}
	return s
}

// TopNeurons returns up to n neurons ordered by descending spike count,
// ties broken by key.
func (s Summary) TopNeurons(n int) []NeuronCount {
	out := make([]NeuronCount, 0, len(s.Neurons))
	for k, c := range s.Neurons {
		out = append(out, NeuronCount{Key: k, Count: c})
	}
	slices.SortFunc(out, func(a, b NeuronCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Key.ChipID, b.Key.ChipID); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Key.SourceCoreID, b.Key.SourceCoreID); c != 0 {
			return c
		}
		return cmp.Compare(a.Key.NeuronID, b.Key.NeuronID)
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
