package config

import (
	"fmt"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
)

var (
	nearMainnetRPC = []string{
		"https://rpc.mainnet.near.org",
		"https://near.lava.build",
		"https://free.rpc.fastnear.com",
	}
	nearTestnetRPC = []string{
		"https://rpc.testnet.near.org",
		"https://near-testnet.lava.build",
		"https://test.rpc.fastnear.com",
	}
)

// environments is the immutable lookup table behind Resolve
var environments = map[types.Environment]types.EnvConfig{
	types.EnvironmentMainnet: {
		Environment:       types.EnvironmentMainnet,
		BaseURL:           "https://api.mainnet.satoshibridge.top",
		BTCToken:          "nbtc.bridge.near",
		BTCTokenDecimals:  8,
		NearToken:         "wrap.near",
		NearTokenDecimals: 24,
		AccountContractID: "acc.ref-labs.near",
		BridgeContractID:  "btc-connector.bridge.near",
		WalletURL:         "https://wallet.satoshibridge.top",
		BridgeURL:         "https://www.satoshibridge.top/",
		Network:           types.BTCNetworkMainnet,
		NearNetworkID:     "mainnet",
		NearRPCEndpoints:  nearMainnetRPC,
		BTCExplorerURL:    "https://mempool.space/api",
	},
	types.EnvironmentPrivateMainnet: {
		Environment:       types.EnvironmentPrivateMainnet,
		BaseURL:           "https://api.stg.satoshibridge.top",
		BTCToken:          "nbtc.toalice.near",
		BTCTokenDecimals:  8,
		NearToken:         "wrap.near",
		NearTokenDecimals: 24,
		AccountContractID: "acc.toalice.near",
		BridgeContractID:  "brg.toalice.near",
		WalletURL:         "https://wallet-stg.satoshibridge.top",
		BridgeURL:         "https://stg.satoshibridge.top/",
		Network:           types.BTCNetworkMainnet,
		NearNetworkID:     "mainnet",
		NearRPCEndpoints:  nearMainnetRPC,
		BTCExplorerURL:    "https://mempool.space/api",
	},
	types.EnvironmentTestnet: {
		Environment:       types.EnvironmentTestnet,
		BaseURL:           "https://api.testnet.satoshibridge.top",
		BTCToken:          "nbtc2-nsp.testnet",
		BTCTokenDecimals:  8,
		NearToken:         "wrap.testnet",
		NearTokenDecimals: 24,
		AccountContractID: "acc2-nsp.testnet",
		BridgeContractID:  "brg2-nsp.testnet",
		WalletURL:         "https://wallet-test.satoshibridge.top",
		BridgeURL:         "https://testnet.satoshibridge.top/",
		Network:           types.BTCNetworkTestnet,
		NearNetworkID:     "testnet",
		NearRPCEndpoints:  nearTestnetRPC,
		BTCExplorerURL:    "https://mempool.space/testnet/api",
	},
	types.EnvironmentDev: {
		Environment:       types.EnvironmentDev,
		BaseURL:           "https://api.dev.satoshibridge.top",
		BTCToken:          "nbtc-dev.testnet",
		BTCTokenDecimals:  8,
		NearToken:         "wrap.testnet",
		NearTokenDecimals: 24,
		AccountContractID: "acc-dev.testnet",
		BridgeContractID:  "brg-dev.testnet",
		WalletURL:         "https://wallet-dev.satoshibridge.top",
		BridgeURL:         "https://dev.satoshibridge.top/",
		Network:           types.BTCNetworkTestnet,
		NearNetworkID:     "testnet",
		NearRPCEndpoints:  nearTestnetRPC,
		BTCExplorerURL:    "https://mempool.space/testnet/api",
	},
}

// Resolve returns the environment record for the given tag. The returned value is a
// copy; the endpoint slice is cloned so callers cannot mutate the table.
func Resolve(env types.Environment) (types.EnvConfig, error) {
	cfg, ok := environments[env]
	if !ok {
		return types.EnvConfig{}, fmt.Errorf("unknown environment: %q", env)
	}
	cfg.NearRPCEndpoints = append([]string(nil), cfg.NearRPCEndpoints...)
	return cfg, nil
}

// Environments lists the supported environment tags
func Environments() []types.Environment {
	return []types.Environment{
		types.EnvironmentMainnet,
		types.EnvironmentTestnet,
		types.EnvironmentPrivateMainnet,
		types.EnvironmentDev,
	}
}
