package network

import (
	"sync/atomic"

	"github.com/banshee-data/spikestream/internal/monitoring"
)

// PacketStats collects per-listener packet counters.
type PacketStats interface {
	AddPacket(bytes int)
	AddSpikes(count int)
	AddDecodeError()
	AddFiltered()
	AddDropped()
	LogStats()
}

// Counters is a PacketStats backed by atomic counters. LogStats reports and
// resets the per-interval counts; the totals keep growing.
type Counters struct {
	packets      atomic.Int64
	bytes        atomic.Int64
	spikes       atomic.Int64
	decodeErrors atomic.Int64
	filtered     atomic.Int64
	dropped      atomic.Int64

	intervalPackets atomic.Int64
	intervalSpikes  atomic.Int64
}

// CountersSnapshot is a point-in-time copy of Counters.
type CountersSnapshot struct {
	Packets      int64
	Bytes        int64
	Spikes       int64
	DecodeErrors int64
	Filtered     int64
	Dropped      int64
}

func (c *Counters) AddPacket(bytes int) {
	c.packets.Add(1)
	c.intervalPackets.Add(1)
	c.bytes.Add(int64(bytes))
}

func (c *Counters) AddSpikes(count int) {
	c.spikes.Add(int64(count))
	c.intervalSpikes.Add(int64(count))
}

func (c *Counters) AddDecodeError() { c.decodeErrors.Add(1) }
func (c *Counters) AddFiltered()    { c.filtered.Add(1) }
func (c *Counters) AddDropped()     { c.dropped.Add(1) }

// Snapshot returns the running totals.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		Packets:      c.packets.Load(),
		Bytes:        c.bytes.Load(),
		Spikes:       c.spikes.Load(),
		DecodeErrors: c.decodeErrors.Load(),
		Filtered:     c.filtered.Load(),
		Dropped:      c.dropped.Load(),
	}
}

func (c *Counters) LogStats() {
	packets := c.intervalPackets.Swap(0)
	spikes := c.intervalSpikes.Swap(0)
	s := c.Snapshot()
	monitoring.Reportf(monitoring.LevelInfo, "network",
		"%d packets, %d spikes this interval; totals %d packets, %d bytes, %d decode errors, %d filtered, %d dropped",
		packets, spikes, s.Packets, s.Bytes, s.DecodeErrors, s.Filtered, s.Dropped)
}

// noopStats is the PacketStats used when none is configured.
type noopStats struct{}

func (noopStats) AddPacket(int)   {}
func (noopStats) AddSpikes(int)   {}
func (noopStats) AddDecodeError() {}
func (noopStats) AddFiltered()    {}
func (noopStats) AddDropped()     {}
func (noopStats) LogStats()       {}
