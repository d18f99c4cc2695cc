package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/banshee-data/spikestream/internal/config"
	"github.com/banshee-data/spikestream/internal/events/spike"
	"github.com/banshee-data/spikestream/internal/monitoring"
	"github.com/banshee-data/spikestream/internal/spikedb"
	"github.com/banshee-data/spikestream/internal/stream"
	"github.com/banshee-data/spikestream/internal/timeutil"
)

func strPtr(s string) *string { return &s }

func TestParseFlags_Defaults(t *testing.T) {
	cfg, opts, err := parseFlags(nil, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.GetListenAddr())
	assert.Equal(t, ":50051", cfg.GetGRPCAddr())
	assert.Equal(t, -1, cfg.GetSourceFilter())
	assert.Equal(t, "", cfg.GetDBPath())
	assert.False(t, opts.NoDebug)
}

func TestParseFlags_FlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"listen_addr": ":9000",
		"grpc_addr": ":9001",
		"source_filter": 3,
		"log_level": "INFO"
	}`), 0o644))

	cfg, opts, err := parseFlags([]string{
		"-config", path, "-grpc", "127.0.0.1:9100", "-stats-interval", "5s",
		"-log-level", "debug", "-label", "bench", "-no-debug",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.GetListenAddr())
	assert.Equal(t, "127.0.0.1:9100", cfg.GetGRPCAddr())
	assert.Equal(t, 3, cfg.GetSourceFilter())
	assert.Equal(t, 5*time.Second, cfg.GetStatsInterval())
	assert.Equal(t, monitoring.LevelDebug, cfg.GetLogLevel())
	assert.Equal(t, "bench", opts.Label)
	assert.True(t, opts.NoDebug)
}

func TestParseFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad listen", []string{"-listen", "nohostport"}},
		{"bad source", []string{"-source", "-2"}},
		{"bad hub buffer", []string{"-hub-buffer", "0"}},
		{"bad level", []string{"-log-level", "chatty"}},
		{"missing config", []string{"-config", "/nonexistent/relay.json"}},
		{"stray argument", []string{"extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parseFlags(tt.args, io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestParseFlags_Version(t *testing.T) {
	_, opts, err := parseFlags([]string{"-version"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, opts.Version)
}

func TestNewRelay_BadAddressReleasesResources(t *testing.T) {
	cfg := &config.RelayConfig{
		ListenAddr: strPtr("127.0.0.1:0"),
		GRPCAddr:   strPtr("127.0.0.1:0"),
		DebugAddr:  strPtr("127.0.0.1:99999"),
	}
	_, err := newRelay(context.Background(), cfg, options{}, timeutil.RealClock{})
	assert.Error(t, err)
}

func TestRelayEndToEnd(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "relay.db")
	cfg := &config.RelayConfig{
		ListenAddr: strPtr("127.0.0.1:0"),
		GRPCAddr:   strPtr("127.0.0.1:0"),
		DebugAddr:  strPtr("127.0.0.1:0"),
		DBPath:     &dbPath,
	}
	r, err := newRelay(context.Background(), cfg, options{Label: "e2e"}, timeutil.RealClock{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.run(ctx) }()

	// gRPC subscriber
	conn, err := grpc.NewClient(r.grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	received := make(chan spike.Spike, 8)
	subCtx, subCancel := context.WithCancel(context.Background())
	defer subCancel()
	go stream.NewClient(conn).Subscribe(subCtx, func(p *spike.Packet) error {
		for _, s := range spike.ValidSpikes(p) {
			received <- s
		}
		return nil
	})
	// Recorder plus gRPC subscriber.
	require.Eventually(t, func() bool { return r.hub.Stats().Subscribers == 2 }, 5*time.Second, 10*time.Millisecond)

	// Send one packet to the UDP listener.
	p, err := spike.Allocate(2, 5, 0)
	require.NoError(t, err)
	require.NoError(t, spike.Append(p, spike.Spike{ChipID: 1, NeuronID: 77, Timestamp: 1000}))
	sender, err := net.Dial("udp", r.listener.LocalAddr().String())
	require.NoError(t, err)
	defer sender.Close()
	_, err = sender.Write(p.Bytes())
	require.NoError(t, err)

	select {
	case s := <-received:
		assert.Equal(t, uint32(77), s.NeuronID)
		assert.Equal(t, int64(1000), s.Timestamp64)
	case <-time.After(5 * time.Second):
		t.Fatal("no packet received over gRPC")
	}

	require.Eventually(t, func() bool {
		n, err := r.db.CountSpikes(context.Background(), r.recording.ID)
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Debug endpoints are served on loopback.
	resp, err := http.Get("http://" + r.httpLis.Addr().String() + "/debug/hub")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	subCancel()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("relay did not shut down")
	}

	db, err := spikedb.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	rec, err := db.Recording(context.Background(), r.recording.ID)
	require.NoError(t, err)
	assert.Equal(t, "e2e", rec.Label)
	assert.Equal(t, int64(1), rec.PacketCount)
}
