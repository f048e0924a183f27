package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/rustyeddy/papertrader/market"
)

var (
	ErrEquityNonPositive = errors.New("equity would be <= 0")
	ErrLeverageExceeded  = errors.New("exposure exceeds leverage limit")
)

type Violation struct {
	Code string
	Msg  string
}

// Decision is the outcome of a pre-trade margin check.
type Decision struct {
	Allowed    bool
	Violations []Violation

	Equity   float64
	Exposure float64
	Limit    float64
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Err maps the first violation to its sentinel error, nil when allowed.
func (d Decision) Err() error {
	if d.Allowed || len(d.Violations) == 0 {
		return nil
	}
	v := d.Violations[0]
	switch v.Code {
	case "EQUITY_NON_POSITIVE":
		return fmt.Errorf("%w: %s", ErrEquityNonPositive, v.Msg)
	default:
		return fmt.Errorf("%w: %s", ErrLeverageExceeded, v.Msg)
	}
}

// Book summarizes a hypothetical portfolio: signed quantity per symbol.
type Book map[string]float64

// Measure returns equity (cash + Σ q·px) and gross exposure (Σ |q|·px).
// Symbols without a price contribute nothing.
func Measure(cash float64, book Book, prices market.PriceSource) (equity, exposure float64) {
	equity = cash
	for sym, qty := range book {
		px, ok := prices.Price(sym)
		if !ok {
			continue
		}
		equity += qty * px
		exposure += math.Abs(qty) * px
	}
	return equity, exposure
}

// CheckMargin runs the leverage check against the whole book, never just
// the symbol being traded.
func CheckMargin(cash float64, book Book, prices market.PriceSource, maxLeverage float64) Decision {
	d := Decision{Allowed: true}
	d.Equity, d.Exposure = Measure(cash, book, prices)
	d.Limit = d.Equity * maxLeverage

	if !(d.Equity > 0) {
		d.add("EQUITY_NON_POSITIVE", fmt.Sprintf("equity %.2f <= 0", d.Equity))
		return d
	}
	if d.Exposure > d.Limit {
		d.add("LEVERAGE_EXCEEDED",
			fmt.Sprintf("exposure %.2f exceeds %.2f (equity %.2f x%.2f)",
				d.Exposure, d.Limit, d.Equity, maxLeverage))
	}
	return d
}
