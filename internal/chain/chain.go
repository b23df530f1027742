// Package chain defines parameters for the chains escrows can live on.
// All chain-specific values are hardcoded here - no external configuration needed.
package chain

import "time"

// Network represents mainnet or testnet.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// Kind represents the chain family an escrow contract runs on.
type Kind string

const (
	KindEVM      Kind = "evm"      // Ethereum and EVM chains
	KindCanister Kind = "canister" // canister-hosted ledgers behind an HTTP gateway
	KindSim      Kind = "sim"      // in-process simulated ledger
)

// Params contains all parameters for a chain.
type Params struct {
	// Identity
	Symbol   string // ETH, BASE, ICP, etc.
	Name     string // Ethereum, Base, Internet Computer
	Kind     Kind
	Decimals uint8

	// EVM params
	ChainID uint64 // EVM chain ID, zero for non-EVM chains

	// FinalityLag is the worst-case time until a confirmed escrow
	// action on this chain can be treated as irreversible. Timelock
	// planning derives withdrawal windows and the coordination buffer
	// from the finality lags of the two legs.
	FinalityLag time.Duration

	// AvgBlockTime is informational, used for health probes on
	// chains that expose block heights.
	AvgBlockTime time.Duration
}

// Registry holds all chain parameters indexed by symbol.
var registry = make(map[string]map[Network]*Params)

// Register adds chain params to the registry.
func Register(symbol string, network Network, params *Params) {
	if registry[symbol] == nil {
		registry[symbol] = make(map[Network]*Params)
	}
	registry[symbol][network] = params
}

// Get returns chain params for a symbol and network.
func Get(symbol string, network Network) (*Params, bool) {
	nets, ok := registry[symbol]
	if !ok {
		return nil, false
	}
	params, ok := nets[network]
	return params, ok
}

// List returns all registered chain symbols.
func List() []string {
	symbols := make([]string, 0, len(registry))
	for symbol := range registry {
		symbols = append(symbols, symbol)
	}
	return symbols
}

// ListByKind returns all chains of a specific kind.
func ListByKind(kind Kind) []string {
	var symbols []string
	for symbol, nets := range registry {
		for _, params := range nets {
			if params.Kind == kind {
				symbols = append(symbols, symbol)
				break
			}
		}
	}
	return symbols
}

// IsSupported returns true if the chain is registered.
func IsSupported(symbol string) bool {
	_, ok := registry[symbol]
	return ok
}

// GetByChainID returns chain params for an EVM chain ID.
func GetByChainID(chainID uint64, network Network) (*Params, bool) {
	for _, nets := range registry {
		if params, ok := nets[network]; ok {
			if params.Kind == KindEVM && params.ChainID == chainID {
				return params, true
			}
		}
	}
	return nil, false
}
