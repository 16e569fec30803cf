package model

// Provider identifies one JSON-RPC endpoint. It is immutable once configured.
type Provider string

func (p Provider) String() string {
	return string(p)
}

// ProviderEndpoint binds a provider identifier to its URL.
type ProviderEndpoint struct {
	ID  Provider
	URL string
}

// ProviderIDs returns the identifiers of the endpoints in configuration order.
func ProviderIDs(endpoints []ProviderEndpoint) []Provider {
	ids := make([]Provider, 0, len(endpoints))
	for _, ep := range endpoints {
		ids = append(ids, ep.ID)
	}
	return ids
}
