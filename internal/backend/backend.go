// Package backend provides chain adapters for observing and settling
// escrows. Adapters are read-only with respect to keys - the engine
// never signs anything, it observes balances and events and, on
// ledgers it operates directly (sim, gateway), instructs payouts.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/crosslock-exchange/crosslock/internal/chain"
	"github.com/crosslock-exchange/crosslock/internal/config"
)

// Common errors
var (
	ErrNotConnected         = errors.New("backend not connected")
	ErrAddressNotFound      = errors.New("address not found")
	ErrInsufficientFunds    = errors.New("insufficient funds at escrow address")
	ErrUnsupportedOperation = errors.New("operation not supported by this backend")
	ErrUnsupportedBackend   = errors.New("unsupported backend type")
)

// Type represents the backend type.
type Type string

const (
	TypeSim     Type = "sim"     // in-process simulated ledger
	TypeEVM     Type = "evm"     // EVM node over JSON-RPC
	TypeGateway Type = "gateway" // canister ledger behind an HTTP gateway
)

// HealthStatus summarizes a chain's reachability.
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "healthy"
	HealthPartitioned HealthStatus = "partitioned"
)

// Health is a point-in-time snapshot of a chain's condition.
type Health struct {
	Status HealthStatus `json:"status"`

	// PartitionFor is how long the chain has been unreachable or
	// stalled. Zero when healthy.
	PartitionFor time.Duration `json:"partition_for"`

	// FinalityLag is the currently observed finality lag. Falls back
	// to the registered chain parameter when the backend cannot
	// measure it.
	FinalityLag time.Duration `json:"finality_lag"`

	// BlockHeight is the latest observed height, zero for ledgers
	// without a height notion.
	BlockHeight int64 `json:"block_height"`

	CheckedAt time.Time `json:"checked_at"`
}

// SecretReveal is a secret observed on chain, extracted from a
// withdrawal the counterparty executed.
type SecretReveal struct {
	EscrowAddress string    `json:"escrow_address"`
	Secret        []byte    `json:"secret"`
	ObservedAt    time.Time `json:"observed_at"`
}

// Backend is the capability interface one chain exposes to the engine.
type Backend interface {
	// Type returns the backend type.
	Type() Type

	// Chain returns the chain symbol this backend serves.
	Chain() string

	// Connect establishes connection to the backend.
	Connect(ctx context.Context) error

	// Close closes the connection.
	Close() error

	// IsConnected returns true if connected.
	IsConnected() bool

	// Balance returns the confirmed balance held at an escrow address.
	Balance(ctx context.Context, address string) (uint64, error)

	// Payout moves funds out of an escrow address. Backends for
	// chains where the escrow contract settles itself return
	// ErrUnsupportedOperation; the engine then only records the
	// intended payout and verifies it by observation.
	Payout(ctx context.Context, from, to string, amount uint64) error

	// Health reports a snapshot of the chain's condition.
	Health(ctx context.Context) (*Health, error)
}

// SecretWatcher is implemented by backends that can surface secrets
// revealed by on-chain withdrawals.
type SecretWatcher interface {
	// SecretReveals returns reveals observed since the given instant.
	SecretReveals(ctx context.Context, since time.Time) ([]SecretReveal, error)
}

// Funder is implemented by backends the engine can credit directly.
// Real chains are funded by wallets outside the engine; the sim
// ledger implements this for tests and local development.
type Funder interface {
	Fund(ctx context.Context, address string, amount uint64) error
}

// Config contains backend configuration.
type Config struct {
	Type       Type   `yaml:"type"`
	MainnetURL string `yaml:"mainnet"`
	TestnetURL string `yaml:"testnet"`

	// Optional settings
	Timeout int `yaml:"timeout,omitempty"` // seconds, default 30
}

// DefaultConfigs returns default backend configurations for all
// supported chains.
func DefaultConfigs() map[string]*Config {
	return map[string]*Config{
		"ETH": {
			Type:       TypeEVM,
			MainnetURL: "https://eth.llamarpc.com",
			TestnetURL: "https://ethereum-sepolia-rpc.publicnode.com",
		},
		"BASE": {
			Type:       TypeEVM,
			MainnetURL: "https://mainnet.base.org",
			TestnetURL: "https://sepolia.base.org",
		},
		"ARBITRUM": {
			Type:       TypeEVM,
			MainnetURL: "https://arb1.arbitrum.io/rpc",
			TestnetURL: "https://sepolia-rollup.arbitrum.io/rpc",
		},
		"ICP": {
			Type:       TypeGateway,
			MainnetURL: "https://icp-api.io",
			TestnetURL: "https://icp-api.io",
		},
		"SIMA": {Type: TypeSim},
		"SIMB": {Type: TypeSim},
	}
}

// Registry holds backend instances by chain symbol.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry creates a new backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// NewDefaultRegistry creates a registry with default backends for the
// given network.
func NewDefaultRegistry(network chain.Network) *Registry {
	r := NewRegistry()

	for symbol, cfg := range DefaultConfigs() {
		params, ok := chain.Get(symbol, network)
		if !ok {
			continue
		}

		url := cfg.MainnetURL
		if network == chain.Testnet {
			url = cfg.TestnetURL
		}

		switch cfg.Type {
		case TypeSim:
			r.Register(symbol, NewSimBackend(symbol, params.FinalityLag))
		case TypeEVM:
			factory := config.GetEscrowFactory(params.ChainID)
			r.Register(symbol, NewEVMBackend(symbol, url, factory, params.FinalityLag))
		case TypeGateway:
			r.Register(symbol, NewGatewayBackend(symbol, url, params.FinalityLag))
		}
	}

	return r
}

// Register adds a backend to the registry.
func (r *Registry) Register(symbol string, backend Backend) {
	r.backends[symbol] = backend
}

// Get returns a backend by symbol.
func (r *Registry) Get(symbol string) (Backend, bool) {
	b, ok := r.backends[symbol]
	return b, ok
}

// List returns all registered symbols.
func (r *Registry) List() []string {
	symbols := make([]string, 0, len(r.backends))
	for s := range r.backends {
		symbols = append(symbols, s)
	}
	return symbols
}

// ConnectAll connects all registered backends.
func (r *Registry) ConnectAll(ctx context.Context) error {
	for _, b := range r.backends {
		if err := b.Connect(ctx); err != nil {
			return err
		}
	}
	return nil
}

// CloseAll closes all registered backends.
func (r *Registry) CloseAll() {
	for _, b := range r.backends {
		b.Close()
	}
}

// All returns all backends as a map.
func (r *Registry) All() map[string]Backend {
	return r.backends
}
