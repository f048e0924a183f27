package portfolio

import (
	"math"

	"github.com/rustyeddy/papertrader/market"
)

// PositionValue is one marked-to-market position.
type PositionValue struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"qty"`
	AvgPrice      float64 `json:"avg_price"`
	Price         float64 `json:"price"`
	Priced        bool    `json:"priced"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
}

// Valuation is the whole portfolio marked to the current prices.
type Valuation struct {
	StartingCash  float64         `json:"starting_cash"`
	Cash          float64         `json:"cash"`
	Equity        float64         `json:"equity"`
	Exposure      float64         `json:"exposure"`
	Leverage      float64         `json:"leverage"`
	UnrealizedPnL float64         `json:"unrealized_pnl"`
	RealizedPnL   float64         `json:"realized_pnl"`
	TotalPnL      float64         `json:"total_pnl"`
	TotalPnLPct   float64         `json:"total_pnl_pct"`
	Positions     []PositionValue `json:"positions"`
}

// Value marks every position to prices. A symbol without a price is
// reported unpriced and contributes nothing to equity or exposure.
func (l *Ledger) Value(prices market.PriceSource) Valuation {
	l.mu.Lock()
	defer l.mu.Unlock()

	v := Valuation{
		StartingCash: l.startingCash,
		Cash:         l.cash,
		Equity:       l.cash,
	}
	for _, sym := range l.symbolsLocked() {
		p := l.positions[sym]
		pv := PositionValue{
			Symbol:      sym,
			Quantity:    p.Quantity,
			AvgPrice:    p.AvgPrice,
			RealizedPnL: p.RealizedPnL,
		}
		v.RealizedPnL += p.RealizedPnL

		if px, ok := prices.Price(sym); ok && finite(px) && px > 0 {
			pv.Price = px
			pv.Priced = true
			pv.MarketValue = p.Quantity * px
			pv.UnrealizedPnL = p.UnrealizedPnL(px)

			v.Equity += pv.MarketValue
			v.Exposure += math.Abs(p.Quantity) * px
			v.UnrealizedPnL += pv.UnrealizedPnL
		}
		v.Positions = append(v.Positions, pv)
	}

	v.TotalPnL = v.Equity - v.StartingCash
	if v.StartingCash > 0 {
		v.TotalPnLPct = v.TotalPnL / v.StartingCash * 100
	}
	if v.Equity > 0 {
		v.Leverage = v.Exposure / v.Equity
	}
	return v
}
