// Command spike-inspect reads Spike packets from packet stream files or pcap
// captures, prints what they hold and optionally renders rasters or imports
// the spikes into a SQLite database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/spikestream/internal/analysis"
	"github.com/banshee-data/spikestream/internal/events"
	"github.com/banshee-data/spikestream/internal/events/spike"
	"github.com/banshee-data/spikestream/internal/fsutil"
	"github.com/banshee-data/spikestream/internal/monitoring"
	"github.com/banshee-data/spikestream/internal/pcapio"
	"github.com/banshee-data/spikestream/internal/spikedb"
	"github.com/banshee-data/spikestream/internal/version"
)

// Config holds the command line settings of spike-inspect.
type Config struct {
	Inputs    []string
	Format    string
	Port      uint
	PerPacket bool
	Top       int
	PNGPath   string
	HTMLPath  string
	DBPath    string
	Label     string
	LogLevel  monitoring.Level
	Version   bool
}

func parseFlags(args []string, stderr io.Writer) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet("spike-inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Format, "format", "", "Force input format: stream or pcap (default from file extension)")
	fs.UintVar(&cfg.Port, "port", pcapio.DefaultPort, "UDP destination port of packets in pcap input (0 for any)")
	fs.BoolVar(&cfg.PerPacket, "packets", false, "Print one line per packet")
	fs.IntVar(&cfg.Top, "top", 10, "Number of most active neurons to list")
	fs.StringVar(&cfg.PNGPath, "png", "", "Write a spike raster PNG to this path")
	fs.StringVar(&cfg.HTMLPath, "html", "", "Write an interactive spike raster HTML page to this path")
	fs.StringVar(&cfg.DBPath, "db", "", "Import the spikes into this SQLite database")
	fs.StringVar(&cfg.Label, "label", "", "Label of the recording created by -db")
	level := fs.String("log-level", monitoring.LevelNotice.String(), "Least severe report level to print")
	fs.BoolVar(&cfg.Version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.Version {
		return cfg, nil
	}

	l, err := monitoring.ParseLevel(strings.ToUpper(*level))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = l

	cfg.Inputs = fs.Args()
	if len(cfg.Inputs) == 0 {
		return Config{}, errors.New("no input files")
	}
	if cfg.Format != "" && cfg.Format != "stream" && cfg.Format != "pcap" {
		return Config{}, fmt.Errorf("unknown format %q", cfg.Format)
	}
	if cfg.Port > 65535 {
		return Config{}, fmt.Errorf("port %d out of range", cfg.Port)
	}
	if cfg.Top < 0 {
		return Config{}, fmt.Errorf("top must not be negative, got %d", cfg.Top)
	}
	return cfg, nil
}

func formatFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcap", ".pcapng":
		return "pcap"
	}
	return "stream"
}

// readInput returns the Spike packets of one input file. Packets of other
// event types are reported and skipped.
func readInput(fsys fsutil.FileSystem, path, format string, port uint16) ([]*spike.Packet, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if format == "" {
		format = formatFor(path)
	}
	var pkts []*events.Packet
	if format == "pcap" {
		r, err := pcapio.NewReader(f, port)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		pkts, err = r.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if r.Skipped() > 0 {
			monitoring.Reportf(monitoring.LevelNotice, "inspect", "%s: skipped %d frames", path, r.Skipped())
		}
	} else {
		pkts, err = events.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	out := make([]*spike.Packet, 0, len(pkts))
	for i, p := range pkts {
		sp, err := spike.FromPacket(p)
		if err != nil {
			monitoring.Reportf(monitoring.LevelWarning, "inspect", "%s: packet %d: %v", path, i, err)
			continue
		}
		out = append(out, sp)
	}
	return out, nil
}

func printPacket(w io.Writer, i int, p *spike.Packet) {
	fmt.Fprintf(w, "#%d source=%d capacity=%d number=%d valid=%d overflow=%d",
		i, p.EventSource(), p.Capacity(), p.EventNumber(), p.EventValid(), p.TSOverflow())
	var first, last int64
	n := 0
	for _, e := range p.ValidConst() {
		ts := e.Timestamp64(p)
		if n == 0 {
			first = ts
		}
		last = ts
		n++
	}
	if n > 0 {
		fmt.Fprintf(w, " first=%dus last=%dus", first, last)
	}
	fmt.Fprintln(w)
}

func printSummary(w io.Writer, s analysis.Summary, top int) {
	fmt.Fprintf(w, "packets:  %d\n", s.Packets)
	fmt.Fprintf(w, "events:   %d (%d valid)\n", s.Events, s.Valid)
	fmt.Fprintf(w, "neurons:  %d\n", len(s.Neurons))
	if s.Valid == 0 {
		return
	}
	fmt.Fprintf(w, "span:     %dus .. %dus (%dus)\n", s.FirstUS, s.LastUS, s.DurationUS)
	fmt.Fprintf(w, "rate:     %.2f Hz\n", s.RateHz)
	if s.ISICount > 0 {
		fmt.Fprintf(w, "isi:      n=%d mean=%.1fus std=%.1fus median=%.1fus\n", s.ISICount, s.ISIMeanUS, s.ISIStdUS, s.ISIMedUS)
	}
	if top > 0 {
		fmt.Fprintln(w, "top neurons:")
		for _, nc := range s.TopNeurons(top) {
			fmt.Fprintf(w, "  %-24s %d\n", nc.Key, nc.Count)
		}
	}
}

func importPackets(ctx context.Context, path, label string, pkts []*spike.Packet) (spikedb.Recording, int, error) {
	db, err := spikedb.Open(path)
	if err != nil {
		return spikedb.Recording{}, 0, err
	}
	defer db.Close()

	var source int16
	if len(pkts) > 0 {
		source = pkts[0].EventSource()
	}
	rec, err := db.CreateRecording(ctx, source, label)
	if err != nil {
		return spikedb.Recording{}, 0, err
	}
	total := 0
	for _, p := range pkts {
		n, err := db.InsertPacket(ctx, rec.ID, p)
		if err != nil {
			return rec, total, err
		}
		total += n
	}
	return rec, total, nil
}

func run(ctx context.Context, cfg Config, fsys fsutil.FileSystem, stdout io.Writer) error {
	var pkts []*spike.Packet
	for _, in := range cfg.Inputs {
		got, err := readInput(fsys, in, cfg.Format, uint16(cfg.Port))
		if err != nil {
			return err
		}
		pkts = append(pkts, got...)
	}

	if cfg.PerPacket {
		for i, p := range pkts {
			printPacket(stdout, i, p)
		}
	}
	printSummary(stdout, analysis.Summarize(pkts...), cfg.Top)

	title := filepath.Base(cfg.Inputs[0])
	if cfg.PNGPath != "" {
		err := fsutil.WriteFile(fsys, cfg.PNGPath, func(w io.Writer) error {
			return analysis.RasterPNG(w, title, pkts...)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s\n", cfg.PNGPath)
	}
	if cfg.HTMLPath != "" {
		err := fsutil.WriteFile(fsys, cfg.HTMLPath, func(w io.Writer) error {
			return analysis.RasterHTML(w, title, pkts...)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s\n", cfg.HTMLPath)
	}
	if cfg.DBPath != "" {
		rec, n, err := importPackets(ctx, cfg.DBPath, cfg.Label, pkts)
		if err != nil {
			return fmt.Errorf("failed to import into %s: %w", cfg.DBPath, err)
		}
		fmt.Fprintf(stdout, "imported %d spikes into recording %s\n", n, rec.ID)
	}
	return nil
}

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("spike-inspect: %v", err)
	}
	if cfg.Version {
		fmt.Println(version.String("spike-inspect"))
		return
	}
	monitoring.SetLevel(cfg.LogLevel)

	if err := run(context.Background(), cfg, fsutil.OSFileSystem{}, os.Stdout); err != nil {
		log.Fatalf("spike-inspect: %v", err)
	}
}
