package market

// Candle represents OHLC (Open, High, Low, Close) candlestick data.
// Time is the unix second the candle opened at, which is what the
// browser chart consumes directly.
type Candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

func newCandle(t int64, price float64) Candle {
	return Candle{Time: t, Open: price, High: price, Low: price, Close: price}
}

// Apply folds a new price into the candle. Open never changes.
func (c *Candle) Apply(price float64) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
}

// Age returns how many seconds have elapsed between the candle open and t.
func (c Candle) Age(t int64) int64 {
	return t - c.Time
}
