package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Zht.PoolSize != 200 {
		t.Errorf("expected pool size 200, got %d", cfg.Zht.PoolSize)
	}
	if len(cfg.Zht.ListenAddrs) != 1 {
		t.Errorf("expected 1 default listen addr, got %d", len(cfg.Zht.ListenAddrs))
	}
	if cfg.Zht.LogLevel != "info" {
		t.Errorf("expected log level info, got %s", cfg.Zht.LogLevel)
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	configPath := filepath.Join(tmpDir, ConfigFileName)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}
	if cfg.Zht.DataDir != tmpDir {
		t.Errorf("DataDir = %q, want %q", cfg.Zht.DataDir, tmpDir)
	}
}

func TestLoadReadsExisting(t *testing.T) {
	tmpDir := t.TempDir()
	custom := `zht:
  identity: node-a
  listen_addrs:
    - /ip4/0.0.0.0/tcp/5001
  pool_size: 50
  log_level: debug
`
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(custom), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(tmpDir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Zht.Identity != "node-a" {
		t.Errorf("Identity = %q, want node-a", cfg.Zht.Identity)
	}
	if cfg.Zht.PoolSize != 50 {
		t.Errorf("PoolSize = %d, want 50", cfg.Zht.PoolSize)
	}
	if cfg.Zht.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Zht.LogLevel)
	}
	if len(cfg.Zht.ListenAddrs) != 1 || cfg.Zht.ListenAddrs[0] != "/ip4/0.0.0.0/tcp/5001" {
		t.Errorf("unexpected listen addrs: %v", cfg.Zht.ListenAddrs)
	}
}

func TestConfigSaveWritesHeader(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Zht.Identity = "node-b"

	path := filepath.Join(tmpDir, "custom.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "# zhtd configuration") {
		t.Error("config file missing header comment")
	}
	if !strings.Contains(content, "identity: node-b") {
		t.Error("config file missing identity field")
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/.zhtd", filepath.Join(home, ".zhtd")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := expandPath(tt.input); got != tt.expected {
			t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLoadAppliesFlagOverrides(t *testing.T) {
	tmpDir := t.TempDir()

	fs := flag.NewFlagSet("zhtd", flag.ContinueOnError)
	fs.String("identity", "", "")
	fs.String("connect", "", "")
	fs.String("data-dir", "", "")
	fs.String("log-level", "", "")
	fs.Int("pool-size", 200, "")
	fs.String("events-addr", "", "")
	if err := fs.Parse([]string{
		"-identity=node-c",
		"-connect=/ip4/1.2.3.4/tcp/5000,/ip4/5.6.7.8/tcp/5000",
		"-pool-size=75",
		"-events-addr=127.0.0.1:9090",
	}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(tmpDir, fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Zht.Identity != "node-c" {
		t.Errorf("Identity = %q, want node-c", cfg.Zht.Identity)
	}
	if len(cfg.Zht.ConnectAddrs) != 2 {
		t.Errorf("ConnectAddrs = %v, want 2 entries", cfg.Zht.ConnectAddrs)
	}
	if cfg.Zht.PoolSize != 75 {
		t.Errorf("PoolSize = %d, want 75", cfg.Zht.PoolSize)
	}
	if cfg.Zht.EventsAddr != "127.0.0.1:9090" {
		t.Errorf("EventsAddr = %q, want 127.0.0.1:9090", cfg.Zht.EventsAddr)
	}
}

func TestSplitNonEmpty(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a,b,c", []string{"a", "b", "c"}},
		{"a,,b", []string{"a", "b"}},
	}

	for _, tt := range tests {
		got := splitNonEmpty(tt.input, ",")
		if len(got) != len(tt.expected) {
			t.Fatalf("splitNonEmpty(%q) = %v, want %v", tt.input, got, tt.expected)
		}
		for i := range got {
			if got[i] != tt.expected[i] {
				t.Fatalf("splitNonEmpty(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.expected[i])
			}
		}
	}
}
