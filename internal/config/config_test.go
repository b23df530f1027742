package config

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestSupportedAssets(t *testing.T) {
	expectedAssets := []string{"ETH", "BASE-ETH", "ARB-ETH", "ICP", "SIMA", "SIMB"}

	for _, symbol := range expectedAssets {
		if !IsAssetSupported(symbol) {
			t.Errorf("expected %s to be supported", symbol)
		}
	}

	if IsAssetSupported("INVALID") {
		t.Error("INVALID should not be supported")
	}
}

func TestGetAsset(t *testing.T) {
	eth, ok := GetAsset("ETH")
	if !ok {
		t.Fatal("ETH should exist")
	}
	if eth.Decimals != 18 {
		t.Errorf("expected 18 decimals, got %d", eth.Decimals)
	}
	if eth.Chain != "ETH" {
		t.Errorf("expected chain ETH, got %s", eth.Chain)
	}

	icp, ok := GetAsset("ICP")
	if !ok {
		t.Fatal("ICP should exist")
	}
	if icp.Decimals != 8 {
		t.Errorf("expected 8 decimals, got %d", icp.Decimals)
	}

	if _, ok := GetAsset("INVALID"); ok {
		t.Error("INVALID should not exist")
	}
}

func TestDefaultTimelockPolicy(t *testing.T) {
	policy := DefaultTimelockPolicy()

	if policy.CoordinationMargin != 60*time.Second {
		t.Errorf("CoordinationMargin = %v, want 60s", policy.CoordinationMargin)
	}
	if policy.MinTotalDuration != 10*time.Minute {
		t.Errorf("MinTotalDuration = %v, want 10m", policy.MinTotalDuration)
	}
	if policy.SecretSize != 32 {
		t.Errorf("SecretSize = %d, want 32", policy.SecretSize)
	}
}

func TestMaxBuffer(t *testing.T) {
	policy := DefaultTimelockPolicy()

	// 25% of 1 hour.
	got := policy.MaxBuffer(time.Hour)
	if got != 15*time.Minute {
		t.Errorf("MaxBuffer(1h) = %v, want 15m", got)
	}
}

func TestExtensionFor(t *testing.T) {
	policy := DefaultTimelockPolicy()

	// 1.5x scaling of the partition duration.
	got := policy.ExtensionFor(10 * time.Minute)
	if got != 15*time.Minute {
		t.Errorf("ExtensionFor(10m) = %v, want 15m", got)
	}

	zeroDenom := policy
	zeroDenom.ExtensionDenominator = 0
	if got := zeroDenom.ExtensionFor(time.Minute); got != time.Minute {
		t.Errorf("zero denominator should fall back to identity, got %v", got)
	}
}

func TestMinDeposit(t *testing.T) {
	deposit := DefaultDepositConfig()

	// 1% of 1_000_000.
	if got := deposit.MinDeposit(1000000); got != 10000 {
		t.Errorf("MinDeposit(1000000) = %d, want 10000", got)
	}

	// Dust amounts hit the floor.
	if got := deposit.MinDeposit(10); got != deposit.FloorAmount {
		t.Errorf("MinDeposit(10) = %d, want floor %d", got, deposit.FloorAmount)
	}

	// 1% of 1 ETH in wei. The intermediate product exceeds uint64.
	if got := deposit.MinDeposit(1000000000000000000); got != 10000000000000000 {
		t.Errorf("MinDeposit(1e18) = %d, want 1e16", got)
	}
}

func TestNativeAssetFor(t *testing.T) {
	asset, ok := NativeAssetFor("BASE")
	if !ok || asset.Symbol != "BASE-ETH" {
		t.Errorf("NativeAssetFor(BASE) = %v, %v, want BASE-ETH", asset.Symbol, ok)
	}
	if _, ok := NativeAssetFor("DOGE"); ok {
		t.Error("NativeAssetFor(DOGE) should not resolve")
	}
}

func TestEngineConfigMainnet(t *testing.T) {
	cfg := NewEngineConfig(Mainnet)

	if cfg.Network != Mainnet {
		t.Errorf("expected mainnet, got %s", cfg.Network)
	}

	ep, ok := cfg.GetEndpoint("ETH")
	if !ok {
		t.Fatal("ETH endpoint should exist")
	}
	if ep.ChainID != 1 {
		t.Errorf("ETH mainnet chain ID should be 1, got %d", ep.ChainID)
	}
}

func TestEngineConfigTestnet(t *testing.T) {
	cfg := NewEngineConfig(Testnet)

	ep, ok := cfg.GetEndpoint("ETH")
	if !ok {
		t.Fatal("ETH endpoint should exist")
	}
	if ep.ChainID != 11155111 {
		t.Errorf("ETH testnet chain ID should be 11155111 (Sepolia), got %d", ep.ChainID)
	}
}

func TestCoordinationConfig(t *testing.T) {
	coord := DefaultCoordinationConfig()

	// The partition threshold must exceed the poll interval or
	// every missed poll declares a partition.
	if coord.PartitionThreshold <= coord.PollInterval {
		t.Error("partition threshold should exceed poll interval")
	}
	if coord.HealthConfirmation <= 0 {
		t.Error("health confirmation must be positive")
	}
}

func TestListSupportedAssets(t *testing.T) {
	assets := ListSupportedAssets()

	if len(assets) != len(SupportedAssets) {
		t.Errorf("expected %d assets, got %d", len(SupportedAssets), len(assets))
	}

	for _, symbol := range assets {
		if !IsAssetSupported(symbol) {
			t.Errorf("asset %s should be supported", symbol)
		}
	}
}

func TestGetEscrowFactory(t *testing.T) {
	sepolia := GetEscrowFactory(11155111)
	expectedAddr := common.HexToAddress("0x4f1af59cac64efae51bd340cb4ba6ea4a66cf414")
	if sepolia != expectedAddr {
		t.Errorf("Sepolia factory = %s, want %s", sepolia.Hex(), expectedAddr.Hex())
	}

	// Mainnet pending audit.
	if IsFactoryDeployed(1) {
		t.Error("factory should NOT be deployed on mainnet yet")
	}

	if got := GetEscrowFactory(999999); got != (common.Address{}) {
		t.Errorf("unknown chain factory should be zero address, got %s", got.Hex())
	}
}

func TestSetEscrowFactory(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000deadbeef")
	SetEscrowFactory(424242, addr)
	if GetEscrowFactory(424242) != addr {
		t.Error("SetEscrowFactory should register the address")
	}
	if !IsFactoryDeployed(424242) {
		t.Error("factory should report deployed after set")
	}
}
