// market/instruments.go
package market

import "fmt"

const FakeSymbol = "FAKE"

// Asset describes a tradable symbol. Live assets carry the CoinGecko id
// used to poll them, the synthetic asset has none.
type Asset struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	CoinID string `json:"coin_id,omitempty"`
}

var LiveAssets = []Asset{
	{Symbol: "BTC", Name: "Bitcoin", CoinID: "bitcoin"},
	{Symbol: "ETH", Name: "Ethereum", CoinID: "ethereum"},
	{Symbol: "SOL", Name: "Solana", CoinID: "solana"},
}

// Assets lists every selectable symbol, live first.
var Assets = append(append([]Asset(nil), LiveAssets...), Asset{Symbol: FakeSymbol, Name: "Fake Market"})

// ChartDays are the live candle ranges the chart offers.
var ChartDays = []int{1, 7, 14, 30, 90}

func LookupAsset(symbol string) (Asset, error) {
	for _, a := range Assets {
		if a.Symbol == symbol {
			return a, nil
		}
	}
	return Asset{}, fmt.Errorf("unknown symbol %q: %w", symbol, ErrMarketUnavailable)
}

func IsLive(symbol string) bool {
	a, err := LookupAsset(symbol)
	return err == nil && a.CoinID != ""
}

func ValidDays(days int) bool {
	for _, d := range ChartDays {
		if d == days {
			return true
		}
	}
	return false
}
