// Package config provides centralized configuration for the crosslock engine.
// ALL protocol parameters (assets, deposits, timelock policy, endpoints) MUST
// be defined here. No hardcoded values should exist elsewhere in the codebase.
package config

import (
	"math"
	"math/big"
	"time"
)

// =============================================================================
// Network Types
// =============================================================================

// NetworkType represents mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Asset Definitions
// =============================================================================

// Asset represents an asset that can be locked in an escrow.
type Asset struct {
	Symbol    string // e.g. "ETH", "ICP"
	Chain     string // chain symbol the asset lives on
	Decimals  uint8
	MinAmount uint64 // minimum escrow amount in smallest unit
	MaxAmount uint64 // maximum escrow amount in smallest unit (0 = no limit)
}

// SupportedAssets defines all assets escrows may hold.
var SupportedAssets = map[string]Asset{
	"ETH": {
		Symbol:    "ETH",
		Chain:     "ETH",
		Decimals:  18,
		MinAmount: 1000000000000000, // 0.001 ETH
		MaxAmount: 0,
	},
	"BASE-ETH": {
		Symbol:    "BASE-ETH",
		Chain:     "BASE",
		Decimals:  18,
		MinAmount: 1000000000000000,
		MaxAmount: 0,
	},
	"ARB-ETH": {
		Symbol:    "ARB-ETH",
		Chain:     "ARBITRUM",
		Decimals:  18,
		MinAmount: 1000000000000000,
		MaxAmount: 0,
	},
	"ICP": {
		Symbol:    "ICP",
		Chain:     "ICP",
		Decimals:  8,
		MinAmount: 100000, // 0.001 ICP
		MaxAmount: 0,
	},
	"SIMA": {
		Symbol:    "SIMA",
		Chain:     "SIMA",
		Decimals:  8,
		MinAmount: 1,
		MaxAmount: 0,
	},
	"SIMB": {
		Symbol:    "SIMB",
		Chain:     "SIMB",
		Decimals:  8,
		MinAmount: 1,
		MaxAmount: 0,
	},
}

// GetAsset returns the asset configuration for a given symbol.
func GetAsset(symbol string) (Asset, bool) {
	asset, ok := SupportedAssets[symbol]
	return asset, ok
}

// IsAssetSupported returns true if the asset is supported.
func IsAssetSupported(symbol string) bool {
	_, ok := SupportedAssets[symbol]
	return ok
}

// NativeAssetFor returns the asset native to a chain, if one is
// defined. Used to default the asset of an escrow that names only its
// chain.
func NativeAssetFor(chainSymbol string) (Asset, bool) {
	for _, asset := range SupportedAssets {
		if asset.Chain == chainSymbol {
			return asset, true
		}
	}
	return Asset{}, false
}

// ListSupportedAssets returns a list of all supported asset symbols.
func ListSupportedAssets() []string {
	assets := make([]string, 0, len(SupportedAssets))
	for symbol := range SupportedAssets {
		assets = append(assets, symbol)
	}
	return assets
}

// =============================================================================
// Timelock Policy
// =============================================================================

// TimelockPolicy holds the parameters that govern how escrow deadline
// schedules are derived and extended.
//
// SECURITY: these values decide whether the two legs of a swap can be
// finalized without a window in which both withdraw and cancel are
// simultaneously valid across chains.
type TimelockPolicy struct {
	// CoordinationMargin is added on top of the slower chain's
	// finality lag when sizing the cross-chain buffer.
	CoordinationMargin time.Duration

	// MinTotalDuration is the smallest total escrow duration a
	// schedule may be planned with.
	MinTotalDuration time.Duration

	// MaxBufferFraction rejects plans whose buffer eats too much of
	// the total duration: buffer must be <= fraction * duration.
	// Expressed in basis points (2500 = 25%).
	MaxBufferFractionBPS uint16

	// ExtensionNumerator/Denominator scale an observed partition
	// duration into a deadline extension (3/2 = 1.5x).
	ExtensionNumerator   uint32
	ExtensionDenominator uint32

	// SecretSize is the size of the escrow secret in bytes.
	SecretSize int
}

// DefaultTimelockPolicy returns the default timelock policy.
func DefaultTimelockPolicy() TimelockPolicy {
	return TimelockPolicy{
		CoordinationMargin:   60 * time.Second,
		MinTotalDuration:     10 * time.Minute,
		MaxBufferFractionBPS: 2500, // 25%
		ExtensionNumerator:   3,
		ExtensionDenominator: 2,
		SecretSize:           32,
	}
}

// MaxBuffer returns the largest buffer allowed for a given total duration.
func (p TimelockPolicy) MaxBuffer(total time.Duration) time.Duration {
	return total * time.Duration(p.MaxBufferFractionBPS) / 10000
}

// ExtensionFor scales a partition duration into a deadline extension.
func (p TimelockPolicy) ExtensionFor(partition time.Duration) time.Duration {
	if p.ExtensionDenominator == 0 {
		return partition
	}
	return partition * time.Duration(p.ExtensionNumerator) / time.Duration(p.ExtensionDenominator)
}

// =============================================================================
// Safety Deposit Configuration
// =============================================================================

// DepositConfig governs the safety deposit each escrow must carry.
type DepositConfig struct {
	// MinDepositBPS is the minimum deposit relative to the escrow
	// amount, in basis points (100 = 1%).
	MinDepositBPS uint16

	// FloorAmount is the absolute minimum deposit in the escrow
	// asset's smallest unit, applied when the relative minimum
	// rounds to dust.
	FloorAmount uint64
}

// DefaultDepositConfig returns the default safety deposit configuration.
func DefaultDepositConfig() DepositConfig {
	return DepositConfig{
		MinDepositBPS: 100, // 1%
		FloorAmount:   1,
	}
}

// MinDeposit returns the smallest acceptable deposit for an escrow
// amount. The basis-point product can exceed 64 bits for 18-decimal
// amounts, so it is computed in big.Int.
func (d DepositConfig) MinDeposit(amount uint64) uint64 {
	v := new(big.Int).SetUint64(amount)
	v.Mul(v, big.NewInt(int64(d.MinDepositBPS)))
	v.Quo(v, big.NewInt(10000))

	min := uint64(math.MaxUint64)
	if v.IsUint64() {
		min = v.Uint64()
	}
	if min < d.FloorAmount {
		return d.FloorAmount
	}
	return min
}

// =============================================================================
// Coordination Configuration
// =============================================================================

// CoordinationConfig holds the controller's polling and health gating
// parameters.
type CoordinationConfig struct {
	// PollInterval is how often the controller observes both chains.
	PollInterval time.Duration

	// HealthConfirmation is how long both chains must report healthy
	// before escrows are activated.
	HealthConfirmation time.Duration

	// PartitionThreshold is how long a chain may be unreachable
	// before the controller declares a partition.
	PartitionThreshold time.Duration
}

// DefaultCoordinationConfig returns the default coordination configuration.
func DefaultCoordinationConfig() CoordinationConfig {
	return CoordinationConfig{
		PollInterval:       5 * time.Second,
		HealthConfirmation: 30 * time.Second,
		PartitionThreshold: 45 * time.Second,
	}
}

// =============================================================================
// Chain Endpoint Parameters
// =============================================================================

// ChainEndpoint holds network-specific connection parameters for a chain.
type ChainEndpoint struct {
	ChainID     uint64 // EVM chain ID (0 for non-EVM)
	RPCEndpoint string // default RPC / gateway endpoint
	ExplorerURL string
}

// MainnetEndpoints contains mainnet endpoints for each chain.
var MainnetEndpoints = map[string]ChainEndpoint{
	"ETH": {
		ChainID:     1,
		RPCEndpoint: "https://eth.llamarpc.com",
		ExplorerURL: "https://etherscan.io",
	},
	"BASE": {
		ChainID:     8453,
		RPCEndpoint: "https://mainnet.base.org",
		ExplorerURL: "https://basescan.org",
	},
	"ARBITRUM": {
		ChainID:     42161,
		RPCEndpoint: "https://arb1.arbitrum.io/rpc",
		ExplorerURL: "https://arbiscan.io",
	},
	"ICP": {
		ChainID:     0,
		RPCEndpoint: "https://icp-api.io",
		ExplorerURL: "https://dashboard.internetcomputer.org",
	},
}

// TestnetEndpoints contains testnet endpoints for each chain.
var TestnetEndpoints = map[string]ChainEndpoint{
	"ETH": {
		ChainID:     11155111, // Sepolia
		RPCEndpoint: "https://rpc.sepolia.org",
		ExplorerURL: "https://sepolia.etherscan.io",
	},
	"BASE": {
		ChainID:     84532,
		RPCEndpoint: "https://sepolia.base.org",
		ExplorerURL: "https://sepolia.basescan.org",
	},
	"ARBITRUM": {
		ChainID:     421614,
		RPCEndpoint: "https://sepolia-rollup.arbitrum.io/rpc",
		ExplorerURL: "https://sepolia.arbiscan.io",
	},
	"ICP": {
		ChainID:     0,
		RPCEndpoint: "https://icp-api.io",
		ExplorerURL: "https://dashboard.internetcomputer.org",
	},
}

// =============================================================================
// Engine Configuration
// =============================================================================

// EngineConfig holds all engine configuration for a network.
type EngineConfig struct {
	Network      NetworkType
	Timelock     TimelockPolicy
	Deposit      DepositConfig
	Coordination CoordinationConfig
	Endpoints    map[string]ChainEndpoint
}

// NewEngineConfig creates a new engine configuration for the given network.
func NewEngineConfig(network NetworkType) *EngineConfig {
	cfg := &EngineConfig{
		Network:      network,
		Timelock:     DefaultTimelockPolicy(),
		Deposit:      DefaultDepositConfig(),
		Coordination: DefaultCoordinationConfig(),
	}

	if network == Testnet {
		cfg.Endpoints = TestnetEndpoints
	} else {
		cfg.Endpoints = MainnetEndpoints
	}

	return cfg
}

// GetEndpoint returns the endpoint parameters for a given chain symbol.
func (c *EngineConfig) GetEndpoint(symbol string) (ChainEndpoint, bool) {
	ep, ok := c.Endpoints[symbol]
	return ep, ok
}
