package model

import "math/big"

type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkSepolia Network = "sepolia"
)

func (n Network) String() string {
	return string(n)
}

// ChainID returns the EIP-155 chain id of the network, or nil if unknown.
func (n Network) ChainID() *big.Int {
	switch n {
	case NetworkMainnet:
		return big.NewInt(1)
	case NetworkSepolia:
		return big.NewInt(11155111)
	default:
		return nil
	}
}

// DefaultProviders returns the public JSON-RPC endpoints used when no
// provider list is configured for the network.
func (n Network) DefaultProviders() []ProviderEndpoint {
	switch n {
	case NetworkMainnet:
		return []ProviderEndpoint{
			{ID: "publicnode", URL: "https://ethereum-rpc.publicnode.com"},
			{ID: "llamarpc", URL: "https://eth.llamarpc.com"},
			{ID: "ankr", URL: "https://rpc.ankr.com/eth"},
			{ID: "cloudflare", URL: "https://cloudflare-eth.com"},
		}
	case NetworkSepolia:
		return []ProviderEndpoint{
			{ID: "publicnode", URL: "https://ethereum-sepolia-rpc.publicnode.com"},
			{ID: "sepolia-org", URL: "https://rpc.sepolia.org"},
			{ID: "ankr", URL: "https://rpc.ankr.com/eth_sepolia"},
		}
	default:
		return nil
	}
}
