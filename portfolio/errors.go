package portfolio

import (
	"errors"

	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/risk"
)

var (
	ErrInvalidQuantity      = errors.New("quantity must be a positive number")
	ErrPriceUnavailable     = errors.New("no price available")
	ErrInsufficientCash     = errors.New("not enough cash")
	ErrInsufficientHoldings = errors.New("not enough holdings (shorting is off)")
	ErrShortWithoutMargin   = errors.New("short position open while shorting is off")
	ErrInvalidState         = errors.New("invalid portfolio state")
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrInvalidQuantity, "InvalidQuantity"},
	{ErrPriceUnavailable, "PriceUnavailable"},
	{ErrInsufficientCash, "InsufficientCash"},
	{ErrInsufficientHoldings, "InsufficientHoldings"},
	{risk.ErrEquityNonPositive, "EquityNonPositive"},
	{risk.ErrLeverageExceeded, "LeverageExceeded"},
	{market.ErrMarketUnavailable, "MarketUnavailable"},
	{risk.ErrInvalidParameters, "InvalidParameters"},
	{ErrShortWithoutMargin, "ShortWithoutMargin"},
	{ErrInvalidState, "InvalidState"},
}

// Reason maps a rejection to the stable name the UI layer displays.
// Unknown errors map to "Internal".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "Internal"
}
