// Package indicators computes chart overlays from candles.
package indicators

import (
	"fmt"

	"github.com/rustyeddy/papertrader/market"
)

// Indicator computes a single streaming value from closed candles.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	Reset()

	// Update consumes the next closed candle.
	Update(c market.Candle)

	Ready() bool

	// Value is meaningful only once Ready.
	Value() float64
}

// Overlay is the set of indicators the chart draws for one period.
type Overlay struct {
	Period int     `json:"period"`
	SMA    float64 `json:"sma"`
	EMA    float64 `json:"ema"`
	ATR    float64 `json:"atr"`
	Ready  bool    `json:"ready"`
}

// Compute runs SMA, EMA and ATR over candles, oldest first. Ready is
// false until every indicator has warmed up.
func Compute(candles []market.Candle, period int) (Overlay, error) {
	if period <= 0 {
		return Overlay{}, fmt.Errorf("indicators: period must be positive, got %d", period)
	}
	sma, ema, atr := NewSMA(period), NewEMA(period), NewATR(period)
	for _, ind := range []Indicator{sma, ema, atr} {
		Feed(ind, candles)
	}
	return Overlay{
		Period: period,
		SMA:    sma.Value(),
		EMA:    ema.Value(),
		ATR:    atr.Value(),
		Ready:  sma.Ready() && ema.Ready() && atr.Ready(),
	}, nil
}

// Feed updates ind with every candle and returns its last value.
func Feed(ind Indicator, candles []market.Candle) float64 {
	for _, c := range candles {
		ind.Update(c)
	}
	return ind.Value()
}
