package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spikestream/internal/events"
	"github.com/banshee-data/spikestream/internal/events/spike"
	"github.com/banshee-data/spikestream/internal/fsutil"
	"github.com/banshee-data/spikestream/internal/monitoring"
	"github.com/banshee-data/spikestream/internal/pcapio"
	"github.com/banshee-data/spikestream/internal/timeutil"
)

func TestParseFlags_Defaults(t *testing.T) {
	cfg, err := parseFlags([]string{"-out", "spikes.bin"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Count)
	assert.Equal(t, "stream", cfg.Format)
	assert.Equal(t, monitoring.LevelNotice, cfg.LogLevel)
	assert.False(t, cfg.Realtime)
	assert.Equal(t, int32(512), cfg.Synth.PacketCapacity)
}

func TestParseFlags_Overrides(t *testing.T) {
	cfg, err := parseFlags([]string{
		"-out", "cap.PCAP", "-n", "7", "-source", "12", "-chips", "3",
		"-capacity", "64", "-span", "2ms", "-rate", "5.5", "-log-level", "debug",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "pcap", cfg.Format)
	assert.Equal(t, 7, cfg.Count)
	assert.Equal(t, int16(12), cfg.Synth.Source)
	assert.Equal(t, 3, cfg.Synth.Chips)
	assert.Equal(t, int32(64), cfg.Synth.PacketCapacity)
	assert.Equal(t, 2*time.Millisecond, cfg.Synth.PacketSpan)
	assert.Equal(t, 5.5, cfg.Synth.RateHz)
	assert.Equal(t, monitoring.LevelDebug, cfg.LogLevel)
}

func TestParseFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no output", nil},
		{"bad format", []string{"-out", "x", "-format", "csv"}},
		{"negative count", []string{"-out", "x", "-n", "-1"}},
		{"source out of range", []string{"-out", "x", "-source", "40000"}},
		{"zero capacity", []string{"-out", "x", "-capacity", "0"}},
		{"bad level", []string{"-out", "x", "-log-level", "loud"}},
		{"too many chips", []string{"-out", "x", "-chips", "100"}},
		{"unknown flag", []string{"-bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestParseFlags_Version(t *testing.T) {
	cfg, err := parseFlags([]string{"-version"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, cfg.Version)
}

func testConfig(t *testing.T, args ...string) Config {
	t.Helper()
	base := []string{"-chips", "1", "-cores", "2", "-neurons", "16", "-rate", "200", "-capacity", "32"}
	cfg, err := parseFlags(append(base, args...), io.Discard)
	require.NoError(t, err)
	return cfg
}

func TestRun_StreamOutput(t *testing.T) {
	cfg := testConfig(t, "-out", "out/spikes.bin", "-n", "5")
	fsys := fsutil.NewMemoryFileSystem()

	res, err := run(context.Background(), cfg, fsys, timeutil.NewMockClock(time.Unix(0, 0)))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Packets)

	data, err := fsys.ReadFile("out/spikes.bin")
	require.NoError(t, err)
	pkts, err := events.ReadAll(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, pkts, 5)

	var spikes int64
	for _, p := range pkts {
		sp, err := spike.FromPacket(p)
		require.NoError(t, err)
		spikes += int64(sp.EventValid())
	}
	assert.Equal(t, res.Spikes, spikes)
}

func TestRun_PcapOutput(t *testing.T) {
	cfg := testConfig(t, "-out", "spikes.pcap", "-n", "3")
	fsys := fsutil.NewMemoryFileSystem()

	_, err := run(context.Background(), cfg, fsys, timeutil.NewMockClock(time.Unix(0, 0)))
	require.NoError(t, err)

	data, err := fsys.ReadFile("spikes.pcap")
	require.NoError(t, err)
	r, err := pcapio.NewReader(bytes.NewReader(data), pcapio.DefaultPort)
	require.NoError(t, err)
	pkts, err := r.ReadAll()
	require.NoError(t, err)
	assert.Len(t, pkts, 3)
	assert.Zero(t, r.Skipped())
}

func TestRun_RealtimeSleepsOnClock(t *testing.T) {
	cfg := testConfig(t, "-out", "spikes.bin", "-n", "4", "-realtime")
	clock := timeutil.NewMockClock(time.Unix(0, 0))

	res, err := run(context.Background(), cfg, fsutil.NewMemoryFileSystem(), clock)
	require.NoError(t, err)

	var slept time.Duration
	for _, d := range clock.Sleeps() {
		slept += d
	}
	assert.Equal(t, time.Duration(res.LastUS)*time.Microsecond, slept)
}

func TestRun_UDP(t *testing.T) {
	sink, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer sink.Close()

	cfg := testConfig(t, "-udp", sink.LocalAddr().String(), "-n", "3")
	res, err := run(context.Background(), cfg, fsutil.NewMemoryFileSystem(), timeutil.NewMockClock(time.Unix(0, 0)))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Packets)
	assert.Zero(t, res.Dropped)

	buf := make([]byte, 65536)
	for i := 0; i < 3; i++ {
		require.NoError(t, sink.SetReadDeadline(time.Now().Add(5*time.Second)))
		n, _, err := sink.ReadFromUDP(buf)
		require.NoError(t, err)
		_, err = spike.FromBytes(buf[:n])
		require.NoError(t, err)
	}
}

func TestRun_CancelledContextIsNotAnError(t *testing.T) {
	cfg := testConfig(t, "-out", "spikes.bin", "-n", "0")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := run(ctx, cfg, fsutil.NewMemoryFileSystem(), timeutil.NewMockClock(time.Unix(0, 0)))
	require.NoError(t, err)
	assert.Zero(t, res.Packets)
}
