// Package config loads zhtd's configuration by merging a YAML file
// (top-level "zht" section) with command-line flags, flags taking
// precedence.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the default config file name, read from -data-dir.
const ConfigFileName = "zhtd.yaml"

// Config holds everything a Node needs to start: identity, listen and
// connect addresses, optional bootstrap peers, and pool size.
type Config struct {
	Zht ZhtConfig `yaml:"zht"`
}

// ZhtConfig is the "zht" section of the YAML file.
type ZhtConfig struct {
	// Identity names this node's control socket path. If empty, the
	// libp2p peer ID (from the key generated on first run) is used
	// instead. The wire-protocol identity is always the peer ID.
	Identity string `yaml:"identity"`

	// ListenAddrs are the libp2p multiaddrs the reply/publish endpoints
	// (a single host) listen on.
	ListenAddrs []string `yaml:"listen_addrs"`

	// ConnectAddrs are peer reply-endpoint multiaddrs to dial at startup.
	ConnectAddrs []string `yaml:"connect_addrs"`

	// BootstrapPeers seeds the optional client-mode Kademlia DHT; empty
	// disables it entirely.
	BootstrapPeers []string `yaml:"bootstrap_peers"`

	// PoolSize bounds the inbound handler task pool (default 200).
	PoolSize int `yaml:"pool_size"`

	// DataDir holds the identity key file and control socket.
	DataDir string `yaml:"data_dir"`

	// LogLevel is one of debug/info/warn/error.
	LogLevel string `yaml:"log_level"`

	// EventsAddr, if set, serves the websocket event tap (mirrored
	// UPDATE/PEER/HEARTBEAT traffic) on this host:port. Empty disables it.
	EventsAddr string `yaml:"events_addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Zht: ZhtConfig{
			ListenAddrs:    []string{"/ip4/0.0.0.0/tcp/0"},
			ConnectAddrs:   []string{},
			BootstrapPeers: []string{},
			PoolSize:       200,
			DataDir:        "~/.zhtd",
			LogLevel:       "info",
			EventsAddr:     "",
		},
	}
}

// Load reads dataDir/zhtd.yaml, creating it with defaults if absent, then
// applies flag overrides from fs (already parsed). fs may be nil to skip
// the flag-merge step.
func Load(dataDir string, fs *flag.FlagSet) (*Config, error) {
	expanded := expandPath(dataDir)
	path := filepath.Join(expanded, ConfigFileName)

	cfg := DefaultConfig()
	cfg.Zht.DataDir = dataDir

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("config: write default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if fs != nil {
		applyFlagOverrides(cfg, fs)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	header := []byte("# zhtd configuration\n# generated automatically on first run\n\n")
	if err := os.WriteFile(path, append(header, data...), 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyFlagOverrides copies any flags the caller explicitly set on fs
// into cfg, letting command-line values win over the file.
func applyFlagOverrides(cfg *Config, fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "identity":
			cfg.Zht.Identity = f.Value.String()
		case "connect":
			cfg.Zht.ConnectAddrs = splitNonEmpty(f.Value.String(), ",")
		case "data-dir":
			cfg.Zht.DataDir = f.Value.String()
		case "log-level":
			cfg.Zht.LogLevel = f.Value.String()
		case "pool-size":
			fmt.Sscanf(f.Value.String(), "%d", &cfg.Zht.PoolSize)
		case "events-addr":
			cfg.Zht.EventsAddr = f.Value.String()
		}
	})
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
