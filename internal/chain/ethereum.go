package chain

import "time"

func init() {
	// Ethereum Mainnet (chainID 1)
	Register("ETH", Mainnet, &Params{
		Symbol:   "ETH",
		Name:     "Ethereum",
		Kind:     KindEVM,
		Decimals: 18,
		ChainID:  1,
		// Two epochs to finalization under normal conditions.
		FinalityLag:  15 * time.Minute,
		AvgBlockTime: 12 * time.Second,
	})

	// Ethereum Sepolia Testnet (chainID 11155111)
	Register("ETH", Testnet, &Params{
		Symbol:       "ETH",
		Name:         "Ethereum Sepolia",
		Kind:         KindEVM,
		Decimals:     18,
		ChainID:      11155111,
		FinalityLag:  15 * time.Minute,
		AvgBlockTime: 12 * time.Second,
	})

	// Base Mainnet (chainID 8453)
	Register("BASE", Mainnet, &Params{
		Symbol:   "BASE",
		Name:     "Base",
		Kind:     KindEVM,
		Decimals: 18,
		ChainID:  8453,
		// L2 soft confirmation; settlement finality tracks L1.
		FinalityLag:  2 * time.Minute,
		AvgBlockTime: 2 * time.Second,
	})

	// Base Sepolia Testnet (chainID 84532)
	Register("BASE", Testnet, &Params{
		Symbol:       "BASE",
		Name:         "Base Sepolia",
		Kind:         KindEVM,
		Decimals:     18,
		ChainID:      84532,
		FinalityLag:  2 * time.Minute,
		AvgBlockTime: 2 * time.Second,
	})

	// Arbitrum One Mainnet (chainID 42161)
	Register("ARBITRUM", Mainnet, &Params{
		Symbol:       "ARBITRUM",
		Name:         "Arbitrum One",
		Kind:         KindEVM,
		Decimals:     18,
		ChainID:      42161,
		FinalityLag:  2 * time.Minute,
		AvgBlockTime: 250 * time.Millisecond,
	})

	// Arbitrum Sepolia Testnet (chainID 421614)
	Register("ARBITRUM", Testnet, &Params{
		Symbol:       "ARBITRUM",
		Name:         "Arbitrum Sepolia",
		Kind:         KindEVM,
		Decimals:     18,
		ChainID:      421614,
		FinalityLag:  2 * time.Minute,
		AvgBlockTime: 250 * time.Millisecond,
	})
}
