package portfolio

import (
	"fmt"
	"strings"
	"time"
)

// MaxTradeHistory is how many trades the ledger keeps, newest first.
const MaxTradeHistory = 200

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", fmt.Errorf("unknown side %q (want BUY|SELL)", s)
}

// Trade is an executed order. Price already includes slippage.
type Trade struct {
	ID          string    `json:"id"`
	Time        time.Time `json:"ts"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Quantity    float64   `json:"qty"`
	Price       float64   `json:"price"`
	Notional    float64   `json:"notional"`
	Fee         float64   `json:"fee"`
	RealizedPnL float64   `json:"realized_pnl"`
}

// CashDelta is the signed effect the trade had on cash.
func (t Trade) CashDelta() float64 {
	if t.Side == Buy {
		return -(t.Notional + t.Fee)
	}
	return t.Notional - t.Fee
}

// prependTrade puts t in front and drops anything past the cap.
func prependTrade(history []Trade, t Trade) []Trade {
	n := len(history) + 1
	if n > MaxTradeHistory {
		n = MaxTradeHistory
	}
	out := make([]Trade, n)
	out[0] = t
	copy(out[1:], history)
	return out
}
