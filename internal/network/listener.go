// Package network moves Spike packets over UDP: a listener that decodes
// incoming datagrams and a forwarder that relays them elsewhere.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/spikestream/internal/events"
	"github.com/banshee-data/spikestream/internal/events/spike"
	"github.com/banshee-data/spikestream/internal/monitoring"
	"github.com/banshee-data/spikestream/internal/timeutil"
)

// MaxDatagramSize is the largest UDP payload a listener accepts.
const MaxDatagramSize = 65507

// PacketHandler receives every decoded packet. The packet is owned by the
// handler; the listener does not reuse its buffer.
type PacketHandler interface {
	HandlePacket(p *spike.Packet)
}

// HandlerFunc adapts a function to PacketHandler.
type HandlerFunc func(p *spike.Packet)

func (f HandlerFunc) HandlePacket(p *spike.Packet) { f(p) }

// UDPListenerConfig configures a UDPListener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Stats       PacketStats
	Forwarder   *PacketForwarder
	Handler     PacketHandler
	// SourceFilter drops packets whose eventSource differs. -1 accepts all.
	SourceFilter int
	Clock        timeutil.Clock
}

// UDPListener receives Spike packets, one per datagram.
type UDPListener struct {
	address      string
	rcvBuf       int
	logInterval  time.Duration
	stats        PacketStats
	forwarder    *PacketForwarder
	handler      PacketHandler
	sourceFilter int
	clock        timeutil.Clock

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewUDPListener returns a listener for config. Missing stats, clock and
// log interval fall back to a no-op collector, the real clock and one
// minute.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	l := &UDPListener{
		address:      config.Address,
		rcvBuf:       config.RcvBuf,
		logInterval:  config.LogInterval,
		stats:        config.Stats,
		forwarder:    config.Forwarder,
		handler:      config.Handler,
		sourceFilter: config.SourceFilter,
		clock:        config.Clock,
	}
	if l.stats == nil {
		l.stats = noopStats{}
	}
	if l.logInterval <= 0 {
		l.logInterval = time.Minute
	}
	if l.clock == nil {
		l.clock = timeutil.RealClock{}
	}
	return l
}

// Listen binds the UDP socket. Start calls it when it was not called
// before; calling it first lets callers learn LocalAddr of a ":0" bind.
func (l *UDPListener) Listen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}
	l.conn = conn
	return nil
}

// LocalAddr returns the bound address, or nil before Listen.
func (l *UDPListener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Start receives packets until ctx is cancelled and returns ctx.Err().
func (l *UDPListener) Start(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		return err
	}
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	defer l.Close()

	monitoring.Logf("UDP listener started on %s with receive buffer %d bytes", conn.LocalAddr(), l.rcvBuf)

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}
	go l.logStats(ctx)

	buffer := make([]byte, MaxDatagramSize)
	for {
		if ctx.Err() != nil {
			monitoring.Logf("UDP listener stopping due to context cancellation")
			return ctx.Err()
		}
		// The deadline lets the loop observe cancellation.
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			monitoring.Logf("UDP read error: %v", err)
			continue
		}

		if err := l.handleDatagram(buffer[:n]); err != nil {
			monitoring.Reportf(monitoring.LevelWarning, "network", "dropping datagram from %v: %v", addr, err)
		}
	}
}

func (l *UDPListener) logStats(ctx context.Context) {
	ticker := l.clock.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			l.stats.LogStats()
		}
	}
}

// handleDatagram decodes one datagram and passes it on. The datagram is
// copied, so buf may be reused by the caller.
func (l *UDPListener) handleDatagram(buf []byte) error {
	l.stats.AddPacket(len(buf))

	if l.forwarder != nil {
		l.forwarder.ForwardAsync(buf)
	}

	generic, err := events.FromBytes(append([]byte(nil), buf...))
	if err != nil {
		l.stats.AddDecodeError()
		return err
	}
	p, err := spike.FromPacket(generic)
	if err != nil {
		l.stats.AddDecodeError()
		return err
	}
	if l.sourceFilter >= 0 && int(p.EventSource()) != l.sourceFilter {
		l.stats.AddFiltered()
		return nil
	}

	l.stats.AddSpikes(int(p.EventValid()))
	if l.handler != nil {
		l.handler.HandlePacket(p)
	}
	return nil
}

// Close releases the socket.
func (l *UDPListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}
