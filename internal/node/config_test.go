package node

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.NetworkType != NetworkMainnet {
		t.Errorf("NetworkType = %s, want %s", cfg.NetworkType, NetworkMainnet)
	}
	if cfg.API.ListenAddr == "" {
		t.Error("API listen address not set")
	}
	if cfg.Coordination.PollInterval <= 0 {
		t.Error("poll interval must be positive")
	}
	if cfg.IsTestnet() {
		t.Error("default config should be mainnet")
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Storage.DataDir != dir {
		t.Errorf("DataDir = %s, want %s", cfg.Storage.DataDir, dir)
	}

	if _, err := os.Stat(filepath.Join(dir, ConfigFileName)); err != nil {
		t.Errorf("config file not created: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(dir, ConfigFileName))
	if !strings.HasPrefix(string(data), "#") {
		t.Error("generated config missing header comment")
	}
}

func TestLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.NetworkType = NetworkTestnet
	cfg.API.ListenAddr = "127.0.0.1:9999"
	cfg.Coordination.PollInterval = 2 * time.Second
	cfg.Storage.DataDir = dir
	if err := cfg.Save(filepath.Join(dir, ConfigFileName)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.NetworkType != NetworkTestnet {
		t.Errorf("NetworkType = %s, want %s", loaded.NetworkType, NetworkTestnet)
	}
	if loaded.API.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("ListenAddr = %s, want 127.0.0.1:9999", loaded.API.ListenAddr)
	}
	if loaded.Coordination.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", loaded.Coordination.PollInterval)
	}
}

func TestGetBackendURL(t *testing.T) {
	cfg := DefaultConfig()

	if url := cfg.GetBackendURL("ETH"); url == "" {
		t.Error("no default mainnet URL for ETH")
	}

	cfg.NetworkType = NetworkTestnet
	mainnet := DefaultConfig().GetBackendURL("ETH")
	if url := cfg.GetBackendURL("ETH"); url == mainnet {
		t.Error("testnet URL should differ from mainnet URL")
	}

	if url := cfg.GetBackendURL("UNKNOWN"); url != "" {
		t.Errorf("GetBackendURL(UNKNOWN) = %s, want empty", url)
	}
}
