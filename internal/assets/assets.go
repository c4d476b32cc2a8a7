// Package assets holds the closed registry of supported test-network
// assets. NYXT is the fee asset for every state mutation.
package assets

const (
	NYXT = "NYXT"
	ECHO = "ECHO"
	USDX = "USDX"

	// FeeAsset is the only asset fees are denominated in.
	FeeAsset = NYXT
)

// Asset describes one registry entry as exposed by the API.
type Asset struct {
	AssetID  string `json:"asset_id"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
	FeeAsset bool   `json:"fee_asset"`
}

var registry = []Asset{
	{AssetID: NYXT, Name: "Nyx Testnet Token", Decimals: 0, FeeAsset: true},
	{AssetID: ECHO, Name: "Echo", Decimals: 0},
	{AssetID: USDX, Name: "USD Test Stable", Decimals: 0},
}

// Supported reports whether assetID is in the registry.
func Supported(assetID string) bool {
	for _, a := range registry {
		if a.AssetID == assetID {
			return true
		}
	}
	return false
}

// List returns the registry in declaration order.
func List() []Asset {
	out := make([]Asset, len(registry))
	copy(out, registry)
	return out
}
