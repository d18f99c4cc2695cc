// Package config loads the JSON configuration of the spike relay.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/spikestream/internal/monitoring"
)

// RelayConfig is the configuration of spike-relay. Every field is optional;
// the Get* methods return the default for fields left out of the file, so
// partial configs are safe. Command line flags override file values.
type RelayConfig struct {
	// Inbound UDP
	ListenAddr    *string `json:"listen_addr,omitempty"`
	RcvBuf        *int    `json:"rcv_buf,omitempty"`
	SourceFilter  *int    `json:"source_filter,omitempty"` // -1 accepts every source
	StatsInterval *string `json:"stats_interval,omitempty"` // duration string like "30s"

	// Outbound
	ForwardAddr *string `json:"forward_addr,omitempty"`
	GRPCAddr    *string `json:"grpc_addr,omitempty"`
	HubBuffer   *int    `json:"hub_buffer,omitempty"`

	// Storage and debugging
	DBPath    *string `json:"db_path,omitempty"`
	DebugAddr *string `json:"debug_addr,omitempty"`
	LogLevel  *string `json:"log_level,omitempty"`
}

const maxConfigFileSize = 1 * 1024 * 1024

// LoadRelayConfig reads and validates a RelayConfig from a .json file.
func LoadRelayConfig(path string) (*RelayConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &RelayConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *RelayConfig) Validate() error {
	for name, addr := range map[string]*string{
		"listen_addr":  c.ListenAddr,
		"forward_addr": c.ForwardAddr,
		"grpc_addr":    c.GRPCAddr,
		"debug_addr":   c.DebugAddr,
	} {
		if addr == nil || *addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(*addr); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, *addr, err)
		}
	}

	if c.RcvBuf != nil && *c.RcvBuf < 0 {
		return fmt.Errorf("rcv_buf must be non-negative, got %d", *c.RcvBuf)
	}
	if c.HubBuffer != nil && *c.HubBuffer < 1 {
		return fmt.Errorf("hub_buffer must be at least 1, got %d", *c.HubBuffer)
	}
	if c.SourceFilter != nil && (*c.SourceFilter < -1 || *c.SourceFilter > 32767) {
		return fmt.Errorf("source_filter must be -1 or a 16-bit source id, got %d", *c.SourceFilter)
	}
	if c.StatsInterval != nil && *c.StatsInterval != "" {
		d, err := time.ParseDuration(*c.StatsInterval)
		if err != nil {
			return fmt.Errorf("invalid stats_interval '%s': %w", *c.StatsInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("stats_interval must be positive, got %s", d)
		}
	}
	if c.LogLevel != nil && *c.LogLevel != "" {
		if _, err := monitoring.ParseLevel(*c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func (c *RelayConfig) GetListenAddr() string  { return stringOr(c.ListenAddr, ":7777") }
func (c *RelayConfig) GetForwardAddr() string { return stringOr(c.ForwardAddr, "") }
func (c *RelayConfig) GetGRPCAddr() string    { return stringOr(c.GRPCAddr, ":50051") }
func (c *RelayConfig) GetDBPath() string      { return stringOr(c.DBPath, "") }
func (c *RelayConfig) GetDebugAddr() string   { return stringOr(c.DebugAddr, "localhost:8080") }
func (c *RelayConfig) GetRcvBuf() int         { return intOr(c.RcvBuf, 4<<20) }
func (c *RelayConfig) GetHubBuffer() int      { return intOr(c.HubBuffer, 64) }
func (c *RelayConfig) GetSourceFilter() int   { return intOr(c.SourceFilter, -1) }

// GetStatsInterval returns the stats logging period, one minute by default.
func (c *RelayConfig) GetStatsInterval() time.Duration {
	if c.StatsInterval == nil || *c.StatsInterval == "" {
		return time.Minute
	}
	d, err := time.ParseDuration(*c.StatsInterval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// GetLogLevel returns the report threshold, NOTICE by default.
func (c *RelayConfig) GetLogLevel() monitoring.Level {
	if c.LogLevel == nil || *c.LogLevel == "" {
		return monitoring.LevelNotice
	}
	l, err := monitoring.ParseLevel(*c.LogLevel)
	if err != nil {
		return monitoring.LevelNotice
	}
	return l
}
