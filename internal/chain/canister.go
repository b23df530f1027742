package chain

import "time"

func init() {
	// Internet Computer ledger, reached through an HTTP gateway.
	// Canister updates finalize within a couple of seconds, but the
	// gateway mirror can lag, so the planning lag is conservative.
	Register("ICP", Mainnet, &Params{
		Symbol:       "ICP",
		Name:         "Internet Computer",
		Kind:         KindCanister,
		Decimals:     8,
		FinalityLag:  30 * time.Second,
		AvgBlockTime: time.Second,
	})

	Register("ICP", Testnet, &Params{
		Symbol:       "ICP",
		Name:         "Internet Computer Testnet",
		Kind:         KindCanister,
		Decimals:     8,
		FinalityLag:  30 * time.Second,
		AvgBlockTime: time.Second,
	})

	// In-process simulated ledgers for development and tests. Two are
	// registered so a swap can run end to end without external nodes.
	for _, sym := range []string{"SIMA", "SIMB"} {
		for _, net := range []Network{Mainnet, Testnet} {
			Register(sym, net, &Params{
				Symbol:       sym,
				Name:         "Simulated " + sym,
				Kind:         KindSim,
				Decimals:     8,
				FinalityLag:  time.Second,
				AvgBlockTime: time.Second,
			})
		}
	}
}
