package portfolio

import (
	"fmt"
	"math"

	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/risk"
)

// StateVersion is bumped when the persisted layout changes.
const StateVersion = 3

const DefaultChartDays = 7

// OrderMode says how the order size a user typed is read.
type OrderMode string

const (
	OrderByQuantity OrderMode = "qty"
	OrderByAmount   OrderMode = "amount"
)

// Size converts raw into a quantity at price.
func (m OrderMode) Size(raw, price float64) (float64, error) {
	if m == OrderByAmount {
		return QuantityFromAmount(raw, price)
	}
	if !finite(raw) || raw <= 0 {
		return 0, ErrInvalidQuantity
	}
	return raw, nil
}

// Preferences are the user selections persisted next to the portfolio.
type Preferences struct {
	Symbol    string       `json:"selected_symbol"`
	Days      int          `json:"days"`
	Speed     market.Speed `json:"fake_speed"`
	OrderMode OrderMode    `json:"order_mode"`
}

// State is everything that survives a restart.
type State struct {
	Version      int                 `json:"version"`
	StartingCash float64             `json:"start_cash"`
	Cash         float64             `json:"cash"`
	Positions    map[string]Position `json:"positions"`
	Trades       []Trade             `json:"trades"`
	Settings     risk.Settings       `json:"settings"`
	Preferences  Preferences         `json:"preferences"`
}

// NewState is a fresh account holding only cash.
func NewState(startingCash float64) State {
	s := State{StartingCash: startingCash, Cash: startingCash}
	s.Migrate()
	return s
}

// Migrate fills anything an older or partial state left out.
func (s *State) Migrate() {
	s.Version = StateVersion
	if s.Positions == nil {
		s.Positions = make(map[string]Position)
	}
	if s.Settings.MaxLeverage == 0 {
		s.Settings.MaxLeverage = risk.DefaultMaxLeverage
	}
	if s.Settings.LastLeverage == 0 {
		s.Settings.LastLeverage = s.Settings.MaxLeverage
	}
	p := &s.Preferences
	if p.Symbol == "" {
		p.Symbol = market.LiveAssets[0].Symbol
	}
	if !market.ValidDays(p.Days) {
		p.Days = DefaultChartDays
	}
	if _, err := market.ParseSpeed(string(p.Speed)); err != nil || p.Speed == "" {
		p.Speed = market.SpeedMedium
	}
	if p.OrderMode != OrderByAmount {
		p.OrderMode = OrderByQuantity
	}
	if len(s.Trades) > MaxTradeHistory {
		s.Trades = s.Trades[:MaxTradeHistory]
	}
}

// Validate rejects states that could not have been produced by trading.
func (s State) Validate() error {
	if !finite(s.Cash) || !finite(s.StartingCash) || s.StartingCash < 0 {
		return fmt.Errorf("%w: cash %v start %v", ErrInvalidState, s.Cash, s.StartingCash)
	}
	for sym, p := range s.Positions {
		if sym == "" {
			return fmt.Errorf("%w: position without symbol", ErrInvalidState)
		}
		if !finite(p.Quantity) || !finite(p.AvgPrice) || !finite(p.RealizedPnL) || p.AvgPrice < 0 {
			return fmt.Errorf("%w: position %s", ErrInvalidState, sym)
		}
	}
	return nil
}

// Snapshot copies the ledger part of the state. Settings and
// preferences are owned by the caller and left at their zero values.
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := State{
		Version:      StateVersion,
		StartingCash: l.startingCash,
		Cash:         l.cash,
		Positions:    make(map[string]Position, len(l.positions)),
		Trades:       append([]Trade(nil), l.trades...),
	}
	for sym, p := range l.positions {
		s.Positions[sym] = *p
	}
	return s
}

// Restore replaces the ledger contents with s. An invalid state is
// rejected and the ledger is left as it was.
func (l *Ledger) Restore(s State) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	positions := make(map[string]*Position, len(s.Positions))
	for sym, p := range s.Positions {
		p := p
		if math.Abs(p.Quantity) < qtyEpsilon {
			p.flatten()
		}
		positions[sym] = &p
	}
	trades := s.Trades
	if len(trades) > MaxTradeHistory {
		trades = trades[:MaxTradeHistory]
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.startingCash = s.StartingCash
	l.cash = s.Cash
	l.positions = positions
	l.trades = append([]Trade(nil), trades...)
	return nil
}

