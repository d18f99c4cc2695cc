// Command spike-gen writes synthetic Spike packets to a packet stream file
// or a pcap capture, and can send them over UDP as they are produced.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/spikestream/internal/events"
	"github.com/banshee-data/spikestream/internal/events/spike"
	"github.com/banshee-data/spikestream/internal/fsutil"
	"github.com/banshee-data/spikestream/internal/monitoring"
	"github.com/banshee-data/spikestream/internal/network"
	"github.com/banshee-data/spikestream/internal/pcapio"
	"github.com/banshee-data/spikestream/internal/synth"
	"github.com/banshee-data/spikestream/internal/timeutil"
	"github.com/banshee-data/spikestream/internal/version"
)

// drainTimeout bounds how long the UDP queue may take to empty on exit.
const drainTimeout = 2 * time.Second

// Config holds the command line settings of spike-gen.
type Config struct {
	Synth    synth.Config
	Count    int
	Output   string
	Format   string
	UDPAddr  string
	Realtime bool
	LogLevel monitoring.Level
	Version  bool
}

func parseFlags(args []string, stderr io.Writer) (Config, error) {
	def := synth.DefaultConfig()
	cfg := Config{Synth: def}

	fs := flag.NewFlagSet("spike-gen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&cfg.Count, "n", 100, "Number of packets to generate (0 runs until interrupted)")
	fs.StringVar(&cfg.Output, "out", "", "Output file; .pcap writes a capture, anything else a packet stream")
	fs.StringVar(&cfg.Format, "format", "", "Force output format: stream or pcap")
	fs.StringVar(&cfg.UDPAddr, "udp", "", "Also send every packet as a UDP datagram to this host:port")
	fs.BoolVar(&cfg.Realtime, "realtime", false, "Pace packets at the simulated spike rate")
	source := fs.Int("source", int(def.Source), "Event source id written into packet headers")
	fs.IntVar(&cfg.Synth.Chips, "chips", def.Chips, "Number of chips")
	fs.IntVar(&cfg.Synth.CoresPerChip, "cores", def.CoresPerChip, "Source cores per chip")
	fs.IntVar(&cfg.Synth.NeuronsPerCore, "neurons", def.NeuronsPerCore, "Neurons per core")
	fs.Float64Var(&cfg.Synth.RateHz, "rate", def.RateHz, "Mean firing rate per neuron in Hz")
	capacity := fs.Int("capacity", int(def.PacketCapacity), "Events per packet")
	fs.DurationVar(&cfg.Synth.PacketSpan, "span", def.PacketSpan, "Maximum time covered by one packet")
	fs.Int64Var(&cfg.Synth.StartUS, "start-us", def.StartUS, "Timestamp of the first spike in microseconds")
	fs.Uint64Var(&cfg.Synth.Seed, "seed", def.Seed, "Random seed")
	level := fs.String("log-level", monitoring.LevelNotice.String(), "Least severe report level to print")
	fs.BoolVar(&cfg.Version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.Version {
		return cfg, nil
	}

	if *source < -1<<15 || *source > 1<<15-1 {
		return Config{}, fmt.Errorf("source %d out of range", *source)
	}
	cfg.Synth.Source = int16(*source)
	if *capacity < 1 || *capacity > 1<<31-1 {
		return Config{}, fmt.Errorf("capacity %d out of range", *capacity)
	}
	cfg.Synth.PacketCapacity = int32(*capacity)

	l, err := monitoring.ParseLevel(strings.ToUpper(*level))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = l

	if cfg.Count < 0 {
		return Config{}, fmt.Errorf("packet count must not be negative, got %d", cfg.Count)
	}
	if cfg.Format == "" {
		cfg.Format = formatFor(cfg.Output)
	}
	if cfg.Format != "stream" && cfg.Format != "pcap" {
		return Config{}, fmt.Errorf("unknown format %q", cfg.Format)
	}
	if cfg.Output == "" && cfg.UDPAddr == "" {
		return Config{}, errors.New("nothing to do: set -out and/or -udp")
	}
	return cfg, cfg.Synth.Validate()
}

func formatFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcap", ".pcapng":
		return "pcap"
	}
	return "stream"
}

// packetWriter appends packets to an open output file.
type packetWriter func(*spike.Packet) error

func newPacketWriter(w io.Writer, format string, clock timeutil.Clock) (packetWriter, error) {
	if format == "pcap" {
		pw, err := pcapio.NewWriter(w, pcapio.DefaultFrameConfig())
		if err != nil {
			return nil, err
		}
		return func(p *spike.Packet) error {
			return pw.WritePacket(clock.Now(), p.Packet())
		}, nil
	}
	return func(p *spike.Packet) error {
		return events.WritePacket(w, p.Packet())
	}, nil
}

// result summarises a run.
type result struct {
	Packets int
	Spikes  int64
	LastUS  int64
	Dropped int64
}

func run(ctx context.Context, cfg Config, fsys fsutil.FileSystem, clock timeutil.Clock) (result, error) {
	var res result
	gen, err := synth.New(cfg.Synth)
	if err != nil {
		return res, err
	}

	var fwd *network.PacketForwarder
	counters := &network.Counters{}
	if cfg.UDPAddr != "" {
		fwd, err = network.NewPacketForwarder(cfg.UDPAddr, counters, time.Minute, clock)
		if err != nil {
			return res, err
		}
		defer fwd.Close()
		fwdCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		fwd.Start(fwdCtx)
	}

	generate := func(write packetWriter) error {
		return gen.Run(ctx, clock, cfg.Count, cfg.Realtime, func(p *spike.Packet) error {
			if write != nil {
				if err := write(p); err != nil {
					return err
				}
			}
			if fwd != nil {
				fwd.ForwardAsync(p.Bytes())
			}
			res.Packets++
			res.Spikes += int64(p.EventValid())
			return nil
		})
	}

	if cfg.Output != "" {
		err = fsutil.WriteFile(fsys, cfg.Output, func(w io.Writer) error {
			write, err := newPacketWriter(w, cfg.Format, clock)
			if err != nil {
				return err
			}
			return generate(write)
		})
	} else {
		err = generate(nil)
	}
	res.LastUS = gen.LastUS()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	if fwd != nil {
		deadline := time.Now().Add(drainTimeout)
		for fwd.Pending() > 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		res.Dropped = counters.Snapshot().Dropped
	}
	return res, err
}

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("spike-gen: %v", err)
	}
	if cfg.Version {
		fmt.Println(version.String("spike-gen"))
		return
	}
	monitoring.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := run(ctx, cfg, fsutil.OSFileSystem{}, timeutil.RealClock{})
	if err != nil {
		log.Fatalf("spike-gen: %v", err)
	}
	log.Printf("generated %d packets, %d spikes, last timestamp %dus", res.Packets, res.Spikes, res.LastUS)
	if res.Dropped > 0 {
		log.Printf("dropped %d UDP datagrams", res.Dropped)
	}
}
