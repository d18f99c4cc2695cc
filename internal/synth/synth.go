// Package synth generates synthetic Spike packets from independent Poisson
// neurons, for load testing and demos without chip hardware.
package synth

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/banshee-data/spikestream/internal/events"
	"github.com/banshee-data/spikestream/internal/events/spike"
	"github.com/banshee-data/spikestream/internal/monitoring"
	"github.com/banshee-data/spikestream/internal/timeutil"
)

// maxNeurons bounds Chips*CoresPerChip*NeuronsPerCore.
const maxNeurons = 1 << 20

const tsMask = 1<<events.TSOverflowShift - 1

// Config describes the simulated population and packetization.
type Config struct {
	Source         int16
	Chips          int
	CoresPerChip   int
	NeuronsPerCore int
	// RateHz is the mean firing rate of every neuron.
	RateHz float64
	// PacketCapacity is the number of events per packet.
	PacketCapacity int32
	// PacketSpan closes a packet once its spikes cover this much time.
	PacketSpan time.Duration
	// StartUS is the 64-bit timestamp of the simulation start.
	StartUS int64
	Seed    uint64
}

// DefaultConfig is a small two-chip population.
func DefaultConfig() Config {
	return Config{
		Chips:          2,
		CoresPerChip:   4,
		NeuronsPerCore: 256,
		RateHz:         20,
		PacketCapacity: 512,
		PacketSpan:     10 * time.Millisecond,
		Seed:           1,
	}
}

// Validate checks that cfg describes a population the Spike layout can
// address.
func (c Config) Validate() error {
	switch {
	case c.Chips < 1 || c.Chips > spike.ChipIDMask+1:
		return fmt.Errorf("chips must be in [1,%d], got %d", spike.ChipIDMask+1, c.Chips)
	case c.CoresPerChip < 1 || c.CoresPerChip > spike.SourceCoreIDMask+1:
		return fmt.Errorf("cores per chip must be in [1,%d], got %d", spike.SourceCoreIDMask+1, c.CoresPerChip)
	case c.NeuronsPerCore < 1 || c.NeuronsPerCore > spike.NeuronIDMask+1:
		return fmt.Errorf("neurons per core must be in [1,%d], got %d", spike.NeuronIDMask+1, c.NeuronsPerCore)
	case c.Chips*c.CoresPerChip*c.NeuronsPerCore > maxNeurons:
		return fmt.Errorf("population of %d neurons exceeds %d", c.Chips*c.CoresPerChip*c.NeuronsPerCore, maxNeurons)
	case !(c.RateHz > 0):
		return fmt.Errorf("rate must be positive, got %g", c.RateHz)
	case c.PacketCapacity < 1:
		return fmt.Errorf("packet capacity must be positive, got %d", c.PacketCapacity)
	case c.PacketSpan < time.Microsecond:
		return fmt.Errorf("packet span must be at least 1µs, got %s", c.PacketSpan)
	case c.StartUS < 0:
		return fmt.Errorf("start must be non-negative, got %d", c.StartUS)
	}
	return nil
}

type neuron struct {
	chip, core uint8
	id         uint32
	nextUS     int64
}

// schedule is a min-heap of neurons by next firing time.
type schedule []*neuron

func (s schedule) Len() int { return len(s) }
func (s schedule) Less(i, j int) bool {
	if s[i].nextUS != s[j].nextUS {
		return s[i].nextUS < s[j].nextUS
	}
	a, b := s[i], s[j]
	if a.chip != b.chip {
		return a.chip < b.chip
	}
	if a.core != b.core {
		return a.core < b.core
	}
	return a.id < b.id
}
func (s schedule) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s *schedule) Push(x any)   { *s = append(*s, x.(*neuron)) }
func (s *schedule) Pop() any {
	old := *s
	n := old[len(old)-1]
	*s = old[:len(old)-1]
	return n
}

// Generator emits packets whose spikes are in non-decreasing 64-bit time.
// All spikes of a packet share its overflow counter: a spike past a 2^31 µs
// wrap starts a new packet with the counter incremented.
type Generator struct {
	cfg    Config
	rng    *rand.Rand
	sched  schedule
	lastUS int64
}

// New returns a Generator for cfg.
func New(cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Generator{
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9E3779B97F4A7C15)),
		lastUS: cfg.StartUS,
	}
	g.sched = make(schedule, 0, cfg.Chips*cfg.CoresPerChip*cfg.NeuronsPerCore)
	for chip := 0; chip < cfg.Chips; chip++ {
		for core := 0; core < cfg.CoresPerChip; core++ {
			for id := 0; id < cfg.NeuronsPerCore; id++ {
				n := &neuron{chip: uint8(chip), core: uint8(core), id: uint32(id)}
				n.nextUS = cfg.StartUS + g.interval()
				g.sched = append(g.sched, n)
			}
		}
	}
	heap.Init(&g.sched)
	return g, nil
}

// interval draws an exponential inter-spike interval of at least 1 µs.
func (g *Generator) interval() int64 {
	us := int64(g.rng.ExpFloat64() / g.cfg.RateHz * 1e6)
	return max(us, 1)
}

// LastUS returns the 64-bit timestamp of the most recent spike emitted.
func (g *Generator) LastUS() int64 { return g.lastUS }

// Next returns the next packet. It holds at least one spike.
func (g *Generator) Next() (*spike.Packet, error) {
	first := g.sched[0].nextUS
	overflow := first >> events.TSOverflowShift
	if overflow > 1<<31-1 {
		return nil, errors.New("timestamp overflow counter exhausted")
	}
	deadline := first + g.cfg.PacketSpan.Microseconds()

	p, err := spike.Allocate(g.cfg.PacketCapacity, g.cfg.Source, int32(overflow))
	if err != nil {
		return nil, err
	}
	for p.EventNumber() < p.Capacity() {
		n := g.sched[0]
		t := n.nextUS
		if t>>events.TSOverflowShift != overflow || t >= deadline {
			break
		}
		err := spike.Append(p, spike.Spike{
			SourceCoreID: n.core,
			ChipID:       n.chip,
			NeuronID:     n.id,
			Timestamp:    int32(t & tsMask),
		})
		if err != nil {
			return nil, err
		}
		g.lastUS = t
		n.nextUS = t + g.interval()
		heap.Fix(&g.sched, 0)
	}
	return p, nil
}

// Run emits count packets, or packets until ctx is done when count is 0.
// With realtime set it paces emission on clock so that packets leave no
// earlier than their spikes' simulated time since the start.
func (g *Generator) Run(ctx context.Context, clock timeutil.Clock, count int, realtime bool, emit func(*spike.Packet) error) error {
	start := clock.Now()
	overflow := int32(-1)
	for i := 0; count == 0 || i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := g.Next()
		if err != nil {
			return err
		}
		if realtime {
			due := time.Duration(g.lastUS-g.cfg.StartUS) * time.Microsecond
			if wait := due - clock.Since(start); wait > 0 {
				clock.Sleep(wait)
			}
		}
		if err := emit(p); err != nil {
			return err
		}
		if overflow >= 0 && p.TSOverflow() != overflow {
			monitoring.Reportf(monitoring.LevelInfo, "synth", "timestamp wrap at packet %d, overflow now %d", i, p.TSOverflow())
		}
		overflow = p.TSOverflow()
	}
	return nil
}
