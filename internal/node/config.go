// Package node assembles the escrow engine: configuration, storage,
// chain backends, the state machine, the coordinator and the RPC API.
package node

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crosslock-exchange/crosslock/internal/backend"
)

// NetworkType represents the network (mainnet or testnet).
type NetworkType string

const (
	NetworkMainnet NetworkType = "mainnet"
	NetworkTestnet NetworkType = "testnet"
)

// Config holds all configuration for the engine daemon.
type Config struct {
	// NetworkType is the network type (mainnet or testnet).
	NetworkType NetworkType `yaml:"network_type"`

	// API settings
	API APIConfig `yaml:"api"`

	// Coordination settings
	Coordination CoordinationConfig `yaml:"coordination"`

	// Storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Backends holds chain API configurations per chain symbol. If
	// not specified, defaults to public endpoints.
	Backends map[string]*backend.Config `yaml:"backends,omitempty"`
}

// IsTestnet returns true if running on testnet.
func (c *Config) IsTestnet() bool {
	return c.NetworkType == NetworkTestnet
}

// GetBackendConfig returns the backend config for a chain symbol.
// Returns default config if not explicitly configured.
func (c *Config) GetBackendConfig(symbol string) *backend.Config {
	if c.Backends != nil {
		if cfg, ok := c.Backends[symbol]; ok {
			return cfg
		}
	}
	defaults := backend.DefaultConfigs()
	if cfg, ok := defaults[symbol]; ok {
		return cfg
	}
	return nil
}

// GetBackendURL returns the appropriate backend URL for the chain and
// network.
func (c *Config) GetBackendURL(symbol string) string {
	cfg := c.GetBackendConfig(symbol)
	if cfg == nil {
		return ""
	}
	if c.IsTestnet() {
		return cfg.TestnetURL
	}
	return cfg.MainnetURL
}

// APIConfig holds RPC API settings.
type APIConfig struct {
	// ListenAddr is the address the JSON-RPC server binds to.
	ListenAddr string `yaml:"listen_addr"`
}

// CoordinationConfig holds the coordinator's polling and health
// parameters. Zero values fall back to the engine defaults.
type CoordinationConfig struct {
	// PollInterval is how often the coordinator observes the chains.
	PollInterval time.Duration `yaml:"poll_interval"`

	// HealthConfirmation is how long a previously partitioned chain
	// must report healthy before it is trusted again.
	HealthConfirmation time.Duration `yaml:"health_confirmation"`

	// PartitionThreshold is how long a chain may be partitioned
	// before schedules are extended.
	PartitionThreshold time.Duration `yaml:"partition_threshold"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for all data files.
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NetworkType: NetworkMainnet,
		API: APIConfig{
			ListenAddr: "127.0.0.1:8519",
		},
		Coordination: CoordinationConfig{
			PollInterval:       5 * time.Second,
			HealthConfirmation: 30 * time.Second,
			PartitionThreshold: 45 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: "~/.crosslock",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Crosslock Escrow Engine Configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given
// data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
