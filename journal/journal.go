// journal/journal.go
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/papertrader/portfolio"
)

var ErrTradeNotFound = errors.New("trade not found")

// EquitySnapshot is the portfolio valuation at one point in time.
type EquitySnapshot struct {
	Time          time.Time
	Cash          float64
	Equity        float64
	Exposure      float64
	UnrealizedPnL float64
	RealizedPnL   float64
}

// SnapshotOf builds an EquitySnapshot from a valuation.
func SnapshotOf(t time.Time, v portfolio.Valuation) EquitySnapshot {
	return EquitySnapshot{
		Time:          t,
		Cash:          v.Cash,
		Equity:        v.Equity,
		Exposure:      v.Exposure,
		UnrealizedPnL: v.UnrealizedPnL,
		RealizedPnL:   v.RealizedPnL,
	}
}

// Journal is the append-only record of executed trades and equity.
type Journal interface {
	RecordTrade(portfolio.Trade) error
	RecordEquity(EquitySnapshot) error
	Close() error
}

// Store persists the portfolio state between runs. Load returns nil, nil
// when nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (*portfolio.State, error)
	Save(ctx context.Context, s portfolio.State) error
	Clear(ctx context.Context) error
}
