package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/spikestream/internal/monitoring"
	"github.com/banshee-data/spikestream/internal/timeutil"
)

// forwardQueueSize is the number of datagrams buffered for forwarding.
const forwardQueueSize = 1000

// PacketForwarder relays datagrams to another UDP address without blocking
// the receive path. Datagrams that do not fit in the queue are dropped and
// counted.
type PacketForwarder struct {
	conn        *net.UDPConn
	channel     chan []byte
	stats       PacketStats
	logInterval time.Duration
	clock       timeutil.Clock
	address     string
	startOnce   sync.Once

	queued  atomic.Int64
	handled atomic.Int64
}

// NewPacketForwarder dials address. stats and clock may be nil, in which
// case a no-op collector and the real clock are used.
func NewPacketForwarder(address string, stats PacketStats, logInterval time.Duration, clock timeutil.Clock) (*PacketForwarder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	if stats == nil {
		stats = noopStats{}
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &PacketForwarder{
		conn:        conn,
		channel:     make(chan []byte, forwardQueueSize),
		stats:       stats,
		logInterval: logInterval,
		clock:       clock,
		address:     address,
	}, nil
}

// Start launches the sending goroutine, which runs until ctx is done.
// Calling Start more than once has no further effect.
func (f *PacketForwarder) Start(ctx context.Context) {
	f.startOnce.Do(func() {
		go f.run(ctx)
		monitoring.Logf("Forwarding packets to %s", f.address)
	})
}

func (f *PacketForwarder) run(ctx context.Context) {
	failed := 0
	var lastErr error
	ticker := f.clock.NewTicker(f.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case packet := <-f.channel:
			if _, err := f.conn.Write(packet); err != nil {
				failed++
				lastErr = err
			}
			f.handled.Add(1)
		case <-ticker.C():
			if failed > 0 {
				monitoring.Reportf(monitoring.LevelWarning, "network",
					"Failed to forward %d packets to %s (latest: %v)", failed, f.address, lastErr)
				failed, lastErr = 0, nil
			}
		}
	}
}

// ForwardAsync queues a copy of packet, or drops it when the queue is full.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	f.queued.Add(1)
	select {
	case f.channel <- append([]byte(nil), packet...):
	default:
		f.queued.Add(-1)
		f.stats.AddDropped()
	}
}

// Pending returns the number of queued datagrams whose send has not
// finished yet.
func (f *PacketForwarder) Pending() int64 { return f.queued.Load() - f.handled.Load() }

// Close closes the outbound socket. Stop the sending goroutine first by
// cancelling the context passed to Start.
func (f *PacketForwarder) Close() error {
	return f.conn.Close()
}
