package types

// Environment is the deployment tag selecting contracts and relay endpoints
type Environment string

const (
	EnvironmentMainnet        Environment = "mainnet"
	EnvironmentTestnet        Environment = "testnet"
	EnvironmentPrivateMainnet Environment = "private_mainnet"
	EnvironmentDev            Environment = "dev"
)

// BTCNetwork identifies the Bitcoin network a wallet operates on
type BTCNetwork string

const (
	BTCNetworkMainnet BTCNetwork = "mainnet"
	BTCNetworkTestnet BTCNetwork = "testnet"
)

// BridgeChainID is the chain discriminator used by the relay's bridge endpoints
type BridgeChainID int

const (
	BridgeChainAll  BridgeChainID = 0
	BridgeChainBTC  BridgeChainID = 1
	BridgeChainNEAR BridgeChainID = 2
)

// NearChainID is the SLIP-44 coin type the relay expects in every intention
const NearChainID = "397"

// EnvConfig is the immutable per-environment record selected once per session
type EnvConfig struct {
	Environment       Environment `json:"environment"`
	BaseURL           string      `json:"base_url"`
	BTCToken          string      `json:"btc_token"`
	BTCTokenDecimals  int         `json:"btc_token_decimals"`
	NearToken         string      `json:"near_token"`
	NearTokenDecimals int         `json:"near_token_decimals"`
	AccountContractID string      `json:"account_contract_id"`
	BridgeContractID  string      `json:"bridge_contract_id"`
	WalletURL         string      `json:"wallet_url"`
	BridgeURL         string      `json:"bridge_url"`
	Network           BTCNetwork  `json:"network"`

	// NEAR side
	NearNetworkID    string   `json:"near_network_id"`
	NearRPCEndpoints []string `json:"near_rpc_endpoints"`

	// BTC explorer (esplora-compatible)
	BTCExplorerURL string `json:"btc_explorer_url"`
}

// IsMainnet reports whether the environment settles on Bitcoin mainnet
func (c *EnvConfig) IsMainnet() bool {
	return c.Network == BTCNetworkMainnet
}
