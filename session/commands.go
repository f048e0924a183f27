package session

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/feed/coingecko"
	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/portfolio"
	"github.com/rustyeddy/papertrader/risk"
)

// Order is a buy or sell as a user submits it. Size is read according
// to Mode; a non-zero Fraction overrides Size with a quick fill of the
// available cash (buy) or open quantity (sell).
type Order struct {
	Side     portfolio.Side      `json:"side"`
	Symbol   string              `json:"symbol,omitempty"`
	Size     float64             `json:"size,omitempty"`
	Mode     portfolio.OrderMode `json:"mode,omitempty"`
	Fraction float64             `json:"fraction,omitempty"`
}

// Buy buys qty of the selected symbol.
func (s *Session) Buy(ctx context.Context, qty float64) (portfolio.Trade, error) {
	return s.Execute(ctx, Order{Side: portfolio.Buy, Size: qty, Mode: portfolio.OrderByQuantity})
}

// Sell sells qty of the selected symbol.
func (s *Session) Sell(ctx context.Context, qty float64) (portfolio.Trade, error) {
	return s.Execute(ctx, Order{Side: portfolio.Sell, Size: qty, Mode: portfolio.OrderByQuantity})
}

// Execute runs o against the ledger at the current price. A rejected
// order leaves the account untouched and is not saved.
func (s *Session) Execute(ctx context.Context, o Order) (portfolio.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbol := o.Symbol
	if symbol == "" {
		symbol = s.prefs.Symbol
	}
	if _, err := market.LookupAsset(symbol); err != nil {
		return portfolio.Trade{}, fmt.Errorf("session: %s: %w", o.Side, err)
	}

	qty, err := s.sizeLocked(o, symbol)
	if err != nil {
		s.reject(o.Side, symbol, err)
		return portfolio.Trade{}, fmt.Errorf("session: %s %s: %w", o.Side, symbol, err)
	}

	t, err := s.ledger.Execute(o.Side, symbol, qty, s.settings, s.prices)
	if err != nil {
		s.reject(o.Side, symbol, err)
		return portfolio.Trade{}, fmt.Errorf("session: %w", err)
	}

	s.recordEquityLocked()
	s.saveLocked(ctx)
	return t, nil
}

func (s *Session) sizeLocked(o Order, symbol string) (float64, error) {
	price, _ := s.prices.Price(symbol)
	if o.Fraction != 0 {
		return s.ledger.QuickQuantity(o.Side, symbol, o.Fraction, price)
	}
	mode := o.Mode
	if mode == "" {
		mode = s.prefs.OrderMode
	}
	return mode.Size(o.Size, price)
}

func (s *Session) reject(side portfolio.Side, symbol string, err error) {
	s.log.Info("order rejected",
		zap.String("side", string(side)),
		zap.String("symbol", symbol),
		zap.String("reason", portfolio.Reason(err)),
		zap.Error(err),
	)
}

func (s *Session) recordEquityLocked() {
	if s.recorder == nil {
		return
	}
	snap := journal.SnapshotOf(s.now(), s.ledger.Value(s.prices))
	if err := s.recorder.RecordEquity(snap); err != nil {
		s.log.Warn("journal equity failed", zap.Error(err))
	}
}

// SetAdvanced toggles advanced mode. Turning it off while a short is
// open is refused, the position has to be covered first.
func (s *Session) SetAdvanced(ctx context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings
	next.SetAdvanced(on)
	if err := s.applySettingsLocked(ctx, next); err != nil {
		return fmt.Errorf("session: advanced %v: %w", on, err)
	}
	return nil
}

// SetRiskParameters stores the advanced panel. The values only take
// effect while advanced mode is on.
func (s *Session) SetRiskParameters(ctx context.Context, p risk.Parameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings
	if err := next.SetParameters(p); err != nil {
		return fmt.Errorf("session: risk parameters: %w", err)
	}
	if err := s.applySettingsLocked(ctx, next); err != nil {
		return fmt.Errorf("session: risk parameters: %w", err)
	}
	return nil
}

func (s *Session) applySettingsLocked(ctx context.Context, next risk.Settings) error {
	if err := s.ledger.CheckInvariants(next); err != nil {
		return err
	}
	s.settings = next
	s.saveLocked(ctx)
	s.log.Info("settings changed",
		zap.Bool("advanced", next.Advanced),
		zap.Bool("short", next.ShortAllowed()),
		zap.Float64("leverage", next.Leverage()),
		zap.Float64("fee_bps", next.FeeBps),
		zap.Float64("slippage_bps", next.SlippageBps),
	)
	s.publish(Event{Type: EventSettings})
	return nil
}

// Reset wipes the account, the saved state and the journal, and returns
// to the configured defaults.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	if err := s.ledger.Reset(s.cfg.StartingCash); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("session: %w", err)
	}
	if s.store != nil {
		if err := s.store.Clear(ctx); err != nil {
			s.log.Warn("clear saved portfolio failed", zap.Error(err))
		}
	}
	s.settings = s.cfg.Settings
	s.prefs = s.cfg.Preferences
	s.candles = nil
	s.saveLocked(ctx)
	s.mu.Unlock()

	s.log.Info("portfolio reset", zap.Float64("cash", s.cfg.StartingCash))
	s.publish(Event{Type: EventReset})

	if err := s.restartFeeds(true, true); err != nil {
		return err
	}
	s.loadFakeCandles()
	return nil
}

// SelectSymbol switches the chart and the default order symbol. The
// live poller is restarted so candles follow the new symbol.
func (s *Session) SelectSymbol(ctx context.Context, symbol string) error {
	asset, err := market.LookupAsset(symbol)
	if err != nil {
		return fmt.Errorf("session: select: %w", err)
	}

	s.mu.Lock()
	changed := s.prefs.Symbol != asset.Symbol
	s.prefs.Symbol = asset.Symbol
	if changed {
		s.candles = nil
	}
	s.saveLocked(ctx)
	s.mu.Unlock()

	if !changed {
		return nil
	}
	if err := s.restartFeeds(false, true); err != nil {
		return err
	}
	s.loadFakeCandles()
	s.publish(Event{Type: EventCandles, Symbol: asset.Symbol, Candles: s.Candles()})
	return nil
}

// loadFakeCandles seeds the chart from the running synthetic market
// when FAKE is selected.
func (s *Session) loadFakeCandles() {
	candles := s.fakeCandles()
	if candles == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefs.Symbol != market.FakeSymbol {
		return
	}
	// ticks that landed after the copy was taken are already in s.candles
	merged := candles
	for _, c := range s.candles {
		merged = applyEvent(merged, market.Event{Kind: market.EventUpdate, Candle: &c}, s.cfg.Market.HistoryCap)
	}
	s.candles = merged
}

// SetDays changes the live chart range.
func (s *Session) SetDays(ctx context.Context, days int) error {
	if !market.ValidDays(days) {
		return fmt.Errorf("session: days %d: %w", days, portfolio.ErrInvalidState)
	}
	s.mu.Lock()
	s.prefs.Days = days
	s.saveLocked(ctx)
	s.mu.Unlock()
	return s.restartFeeds(false, true)
}

// SetSpeed restarts the synthetic market at a new tick rate.
func (s *Session) SetSpeed(ctx context.Context, speed string) error {
	sp, err := market.ParseSpeed(speed)
	if err != nil {
		return fmt.Errorf("session: speed: %w", err)
	}
	s.mu.Lock()
	s.prefs.Speed = sp
	s.saveLocked(ctx)
	s.mu.Unlock()
	return s.restartFeeds(true, false)
}

func (s *Session) SetOrderMode(ctx context.Context, mode portfolio.OrderMode) error {
	if mode != portfolio.OrderByQuantity && mode != portfolio.OrderByAmount {
		return fmt.Errorf("session: order mode %q: %w", mode, portfolio.ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.OrderMode = mode
	s.saveLocked(ctx)
	return nil
}

// Status is the order panel: prices, account value and what the user
// can do next.
type Status struct {
	Symbol      string                `json:"symbol"`
	Live        bool                  `json:"live"`
	Price       float64               `json:"price"`
	Priced      bool                  `json:"priced"`
	Regime      market.Regime         `json:"regime,omitempty"`
	Settings    risk.Settings         `json:"settings"`
	Preferences portfolio.Preferences `json:"preferences"`
	Valuation   portfolio.Valuation   `json:"valuation"`
	Held        float64               `json:"held"`

	// MaxBuy is in units in quantity mode and in cash in amount mode.
	MaxBuy  float64 `json:"max_buy"`
	CanBuy  bool    `json:"can_buy"`
	CanSell bool    `json:"can_sell"`

	// MarketRunning is false before Start and after Close.
	MarketRunning bool `json:"market_running"`

	Feed      *coingecko.Health `json:"feed,omitempty"`
	Degraded  bool              `json:"degraded"`
	FeedError string            `json:"feed_error,omitempty"`
}

func (s *Session) Status() Status {
	health := s.feedHealth()
	running := s.fakeRunning()

	s.mu.Lock()
	defer s.mu.Unlock()

	sym := s.prefs.Symbol
	price, priced := s.prices.Price(sym)
	held := s.ledger.Position(sym).Quantity

	st := Status{
		Symbol:        sym,
		Live:          market.IsLive(sym),
		Price:         price,
		Priced:        priced,
		Settings:      s.settings,
		Preferences:   s.prefs,
		Valuation:     s.ledger.Value(s.prices),
		Held:          held,
		CanBuy:        priced,
		CanSell:       priced && (s.settings.ShortAllowed() || held > 0),
		Feed:          health,
		MarketRunning: running,
		FeedError:     s.feedErr,
	}
	if sym == market.FakeSymbol {
		st.Regime = s.regime
	}
	if priced {
		cash := math.Max(s.ledger.Cash(), 0)
		st.MaxBuy = cash / price
		if s.prefs.OrderMode == portfolio.OrderByAmount {
			st.MaxBuy = cash
		}
	}
	st.Degraded = s.feedErr != "" || (health != nil && health.Failures > 0 && !health.OK)
	return st
}
