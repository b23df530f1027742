// Package config provides EVM contract addresses for the crosslock engine.
//
// ALL EVM contract addresses MUST be defined here. Do not scatter contract
// addresses throughout the codebase.
package config

import "github.com/ethereum/go-ethereum/common"

// EVMContractAddresses holds contract addresses for a specific EVM chain.
type EVMContractAddresses struct {
	// EscrowFactory is the escrow factory contract the engine observes
	// for Withdrawn/Cancelled events.
	EscrowFactory common.Address
}

// evmContractRegistry maps chainID -> contract addresses
var evmContractRegistry = map[uint64]*EVMContractAddresses{
	// Testnets
	11155111: {
		EscrowFactory: common.HexToAddress("0x4f1af59cac64efae51bd340cb4ba6ea4a66cf414"),
	},
	84532: {
		EscrowFactory: common.HexToAddress("0x8a2c9d5e7f1b3a6c4e0d9f8b7a6c5d4e3f2a1b0c"),
	},
	421614: {
		EscrowFactory: common.Address{},
	},

	// Mainnets, unset until the factory audit lands
	1:     {EscrowFactory: common.Address{}},
	8453:  {EscrowFactory: common.Address{}},
	42161: {EscrowFactory: common.Address{}},
}

// GetEVMContracts returns contract addresses for a given chain ID.
// Returns nil if the chain is not registered.
func GetEVMContracts(chainID uint64) *EVMContractAddresses {
	return evmContractRegistry[chainID]
}

// GetEscrowFactory returns the escrow factory address for a given chain ID.
// Returns zero address if the chain is not registered or not deployed.
func GetEscrowFactory(chainID uint64) common.Address {
	if contracts := evmContractRegistry[chainID]; contracts != nil {
		return contracts.EscrowFactory
	}
	return common.Address{}
}

// IsFactoryDeployed returns true if the escrow factory is deployed on the chain.
func IsFactoryDeployed(chainID uint64) bool {
	return GetEscrowFactory(chainID) != (common.Address{})
}

// SetEscrowFactory sets the escrow factory address for a specific chain.
// Used at runtime to override from the daemon config file.
func SetEscrowFactory(chainID uint64, address common.Address) {
	if evmContractRegistry[chainID] == nil {
		evmContractRegistry[chainID] = &EVMContractAddresses{}
	}
	evmContractRegistry[chainID].EscrowFactory = address
}
