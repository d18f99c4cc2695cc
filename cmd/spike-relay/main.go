// Command spike-relay receives Spike packets over UDP and makes them
// available to gRPC subscribers, optionally forwarding them to another UDP
// address and recording them into SQLite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/spikestream/internal/config"
	"github.com/banshee-data/spikestream/internal/events/spike"
	"github.com/banshee-data/spikestream/internal/monitoring"
	"github.com/banshee-data/spikestream/internal/network"
	"github.com/banshee-data/spikestream/internal/spikedb"
	"github.com/banshee-data/spikestream/internal/stream"
	"github.com/banshee-data/spikestream/internal/timeutil"
	"github.com/banshee-data/spikestream/internal/version"
)

// options are the settings that only exist on the command line.
type options struct {
	Label   string
	NoDebug bool
	Version bool
}

func parseFlags(args []string, stderr io.Writer) (*config.RelayConfig, options, error) {
	var opts options
	fs := flag.NewFlagSet("spike-relay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to a JSON config file; flags override its values")
	listen := fs.String("listen", "", "UDP listen address (default :7777)")
	forward := fs.String("forward", "", "Forward every received datagram to this UDP host:port")
	grpcAddr := fs.String("grpc", "", "gRPC listen address (default :50051)")
	debugAddr := fs.String("debug", "", "Debug HTTP listen address (default localhost:8080)")
	dbPath := fs.String("db", "", "Record received spikes into this SQLite database")
	rcvBuf := fs.Int("rcvbuf", 0, "UDP receive buffer size in bytes")
	source := fs.Int("source", 0, "Only accept packets from this event source (-1 for any)")
	hubBuffer := fs.Int("hub-buffer", 0, "Packets queued per subscriber before dropping")
	statsInterval := fs.Duration("stats-interval", 0, "Interval between traffic reports")
	level := fs.String("log-level", "", "Least severe report level to print (default NOTICE)")
	fs.StringVar(&opts.Label, "label", "", "Label of the recording created with -db")
	fs.BoolVar(&opts.NoDebug, "no-debug", false, "Do not serve the debug HTTP endpoints")
	fs.BoolVar(&opts.Version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, opts, err
	}
	if opts.Version {
		return nil, opts, nil
	}
	if fs.NArg() > 0 {
		return nil, opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg := &config.RelayConfig{}
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadRelayConfig(*configPath); err != nil {
			return nil, opts, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.ListenAddr = listen
		case "forward":
			cfg.ForwardAddr = forward
		case "grpc":
			cfg.GRPCAddr = grpcAddr
		case "debug":
			cfg.DebugAddr = debugAddr
		case "db":
			cfg.DBPath = dbPath
		case "rcvbuf":
			cfg.RcvBuf = rcvBuf
		case "source":
			cfg.SourceFilter = source
		case "hub-buffer":
			cfg.HubBuffer = hubBuffer
		case "stats-interval":
			s := statsInterval.String()
			cfg.StatsInterval = &s
		case "log-level":
			l := strings.ToUpper(*level)
			cfg.LogLevel = &l
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, opts, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, opts, nil
}

// relay owns the sockets and stores of a running spike-relay.
type relay struct {
	cfg      *config.RelayConfig
	hub      *stream.Hub
	counters *network.Counters
	listener *network.UDPListener
	fwd      *network.PacketForwarder

	grpcServer *grpc.Server
	grpcLis    net.Listener

	httpServer *http.Server
	httpLis    net.Listener

	db        *spikedb.DB
	recording spikedb.Recording
}

// newRelay binds every listener and opens the database, so that address
// errors surface before anything runs.
func newRelay(ctx context.Context, cfg *config.RelayConfig, opts options, clock timeutil.Clock) (_ *relay, err error) {
	r := &relay{
		cfg:      cfg,
		hub:      stream.NewHub(cfg.GetHubBuffer()),
		counters: &network.Counters{},
	}
	defer func() {
		if err == nil {
			return
		}
		if r.grpcLis != nil {
			r.grpcLis.Close()
		}
		if r.httpLis != nil {
			r.httpLis.Close()
		}
		r.close()
	}()

	if addr := cfg.GetForwardAddr(); addr != "" {
		if r.fwd, err = network.NewPacketForwarder(addr, r.counters, cfg.GetStatsInterval(), clock); err != nil {
			return nil, err
		}
	}

	r.listener = network.NewUDPListener(network.UDPListenerConfig{
		Address:      cfg.GetListenAddr(),
		RcvBuf:       cfg.GetRcvBuf(),
		LogInterval:  cfg.GetStatsInterval(),
		Stats:        r.counters,
		Forwarder:    r.fwd,
		Handler:      r.hub,
		SourceFilter: cfg.GetSourceFilter(),
		Clock:        clock,
	})
	if err = r.listener.Listen(); err != nil {
		return nil, err
	}

	if r.grpcLis, err = net.Listen("tcp", cfg.GetGRPCAddr()); err != nil {
		return nil, fmt.Errorf("failed to listen for gRPC: %w", err)
	}
	r.grpcServer = grpc.NewServer()
	stream.NewServer(r.hub).Register(r.grpcServer)

	if path := cfg.GetDBPath(); path != "" {
		if r.db, err = spikedb.Open(path); err != nil {
			return nil, err
		}
		if r.recording, err = r.db.CreateRecording(ctx, int16(max(cfg.GetSourceFilter(), 0)), opts.Label); err != nil {
			return nil, err
		}
	}

	if !opts.NoDebug {
		mux := http.NewServeMux()
		r.hub.AttachAdminRoutes(mux)
		if r.db != nil {
			if err = r.db.AttachAdminRoutes(mux); err != nil {
				return nil, err
			}
		}
		if r.httpLis, err = net.Listen("tcp", cfg.GetDebugAddr()); err != nil {
			return nil, fmt.Errorf("failed to listen for debug HTTP: %w", err)
		}
		r.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}
	return r, nil
}

// record stores every packet published on the hub until the hub closes.
func (r *relay) record(ctx context.Context, packets <-chan []byte) {
	for wire := range packets {
		p, err := spike.FromBytes(wire)
		if err != nil {
			monitoring.Reportf(monitoring.LevelError, "relay", "failed to decode packet for recording: %v", err)
			continue
		}
		if _, err := r.db.InsertPacket(ctx, r.recording.ID, p); err != nil {
			monitoring.Reportf(monitoring.LevelError, "relay", "failed to record packet: %v", err)
		}
	}
}

// run serves until ctx is cancelled, then shuts everything down.
func (r *relay) run(ctx context.Context) error {
	var wg sync.WaitGroup

	if r.db != nil {
		packets, cancel := r.hub.Subscribe()
		defer cancel()
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Use a context that outlives ctx so that queued packets are
			// still written during shutdown.
			r.record(context.WithoutCancel(ctx), packets)
			monitoring.Logf("recorder stopped")
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := r.listener.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("UDP listener failed: %v", err)
		}
		monitoring.Logf("UDP listener routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitoring.Logf("gRPC server listening on %s", r.grpcLis.Addr())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			monitoring.Logf("gRPC server stopped: %v", err)
		}
	}()

	if r.httpServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitoring.Logf("debug HTTP server listening on %s", r.httpLis.Addr())
			if err := r.httpServer.Serve(r.httpLis); err != nil && err != http.ErrServerClosed {
				monitoring.Logf("debug HTTP server failed: %v", err)
			}
		}()
	}

	<-ctx.Done()
	monitoring.Logf("shutting down relay...")

	// Closing the hub ends every gRPC stream and the recorder.
	r.hub.Close()
	r.grpcServer.GracefulStop()
	if r.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("debug HTTP server shutdown error: %v", err)
		}
	}

	wg.Wait()
	r.counters.LogStats()
	return r.close()
}

// close releases the UDP sockets and the database. The TCP listeners are
// closed by their servers.
func (r *relay) close() error {
	var errs []error
	if r.listener != nil {
		errs = append(errs, r.listener.Close())
	}
	if r.fwd != nil {
		errs = append(errs, r.fwd.Close())
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
	}
	return errors.Join(errs...)
}

func main() {
	cfg, opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("spike-relay: %v", err)
	}
	if opts.Version {
		fmt.Println(version.String("spike-relay"))
		return
	}
	monitoring.SetLevel(cfg.GetLogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := newRelay(ctx, cfg, opts, timeutil.RealClock{})
	if err != nil {
		log.Fatalf("spike-relay: %v", err)
	}
	if err := r.run(ctx); err != nil {
		log.Printf("spike-relay: shutdown: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
