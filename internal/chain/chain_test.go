package chain

import (
	"testing"
	"time"
)

func TestAllChainsRegistered(t *testing.T) {
	expectedChains := []string{"ETH", "BASE", "ARBITRUM", "ICP", "SIMA", "SIMB"}

	for _, symbol := range expectedChains {
		if !IsSupported(symbol) {
			t.Errorf("expected %s to be registered", symbol)
		}
	}
}

func TestEthereumMainnet(t *testing.T) {
	params, ok := Get("ETH", Mainnet)
	if !ok {
		t.Fatal("ETH mainnet should be registered")
	}

	if params.Kind != KindEVM {
		t.Errorf("Kind = %s, want evm", params.Kind)
	}
	if params.ChainID != 1 {
		t.Errorf("ChainID = %d, want 1", params.ChainID)
	}
	if params.Decimals != 18 {
		t.Errorf("Decimals = %d, want 18", params.Decimals)
	}
	if params.FinalityLag <= 0 {
		t.Error("FinalityLag must be positive")
	}
}

func TestEthereumTestnet(t *testing.T) {
	params, ok := Get("ETH", Testnet)
	if !ok {
		t.Fatal("ETH testnet should be registered")
	}

	if params.ChainID != 11155111 {
		t.Errorf("ChainID = %d, want 11155111 (Sepolia)", params.ChainID)
	}
}

func TestCanisterChain(t *testing.T) {
	params, ok := Get("ICP", Mainnet)
	if !ok {
		t.Fatal("ICP mainnet should be registered")
	}

	if params.Kind != KindCanister {
		t.Errorf("Kind = %s, want canister", params.Kind)
	}
	if params.ChainID != 0 {
		t.Errorf("ChainID = %d, want 0 for non-EVM chain", params.ChainID)
	}
	if params.Decimals != 8 {
		t.Errorf("Decimals = %d, want 8", params.Decimals)
	}
}

func TestFinalityLagsOrdered(t *testing.T) {
	// L1 finality must dominate L2 soft confirmation, the planner
	// relies on the relative magnitudes when sizing buffers.
	eth, _ := Get("ETH", Mainnet)
	base, _ := Get("BASE", Mainnet)
	if eth.FinalityLag <= base.FinalityLag {
		t.Errorf("ETH lag %v should exceed BASE lag %v", eth.FinalityLag, base.FinalityLag)
	}

	for _, symbol := range List() {
		params, _ := Get(symbol, Mainnet)
		if params != nil && params.FinalityLag < time.Second {
			t.Errorf("%s FinalityLag %v is below 1s", symbol, params.FinalityLag)
		}
	}
}

func TestListByKind(t *testing.T) {
	evm := ListByKind(KindEVM)
	if len(evm) != 3 {
		t.Errorf("expected 3 evm chains, got %d: %v", len(evm), evm)
	}

	canister := ListByKind(KindCanister)
	if len(canister) != 1 {
		t.Errorf("expected 1 canister chain, got %d", len(canister))
	}

	sim := ListByKind(KindSim)
	if len(sim) != 2 {
		t.Errorf("expected 2 sim chains, got %d: %v", len(sim), sim)
	}
}

func TestUnsupportedChain(t *testing.T) {
	if IsSupported("INVALID") {
		t.Error("INVALID should not be supported")
	}

	_, ok := Get("INVALID", Mainnet)
	if ok {
		t.Error("Get(INVALID) should return false")
	}
}

func TestAllTestnetsRegistered(t *testing.T) {
	for _, symbol := range []string{"ETH", "BASE", "ARBITRUM", "ICP", "SIMA", "SIMB"} {
		if _, ok := Get(symbol, Testnet); !ok {
			t.Errorf("%s testnet should be registered", symbol)
		}
	}
}

func TestGetByChainID(t *testing.T) {
	tests := []struct {
		chainID uint64
		network Network
		symbol  string
	}{
		{1, Mainnet, "ETH"},
		{8453, Mainnet, "BASE"},
		{42161, Mainnet, "ARBITRUM"},
		{11155111, Testnet, "ETH"},
	}

	for _, tc := range tests {
		params, ok := GetByChainID(tc.chainID, tc.network)
		if !ok {
			t.Errorf("chainID %d should be registered", tc.chainID)
			continue
		}
		if params.Symbol != tc.symbol {
			t.Errorf("chainID %d symbol = %s, want %s", tc.chainID, params.Symbol, tc.symbol)
		}
	}

	if _, ok := GetByChainID(99999, Mainnet); ok {
		t.Error("chainID 99999 should not exist")
	}
}
