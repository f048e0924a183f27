package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/feed/coingecko"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/portfolio"
)

// The synthetic market always runs, whatever symbol is selected, so the
// FAKE price stays current in the price store.
func (s *Session) startFakeLocked() error {
	cfg := s.cfg.Market
	cfg.Symbol = market.FakeSymbol
	cfg.Speed = s.Preferences().Speed

	fake := market.NewSynthetic(cfg, s.rng)
	if err := fake.Start(s.runCtx, s.onMarket); err != nil {
		return fmt.Errorf("session: start market: %w", err)
	}
	s.fake = fake
	s.log.Debug("synthetic market started", zap.String("speed", string(cfg.Speed)))
	return nil
}

func (s *Session) stopFakeLocked() {
	if s.fake == nil {
		return
	}
	s.fake.Stop()
	s.fake = nil
}

func (s *Session) startPollerLocked() {
	if s.client == nil {
		return
	}
	prefs := s.Preferences()
	cfg := s.cfg.Poller
	cfg.Symbol = ""
	if market.IsLive(prefs.Symbol) {
		cfg.Symbol = prefs.Symbol
	}
	cfg.Days = prefs.Days

	p := coingecko.NewPoller(s.client, s.prices, s, cfg, s.log.Named("coingecko"))
	ctx, cancel := context.WithCancel(s.runCtx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	s.poller, s.pollCancel, s.pollDone = p, cancel, done
}

func (s *Session) stopPollerLocked() {
	if s.pollCancel == nil {
		return
	}
	s.pollCancel()
	<-s.pollDone
	s.poller, s.pollCancel, s.pollDone = nil, nil, nil
}

// restartFeeds swaps in feeds matching the current preferences. It is a
// no-op before Start.
func (s *Session) restartFeeds(fake, live bool) error {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.runCtx == nil {
		return nil
	}
	if live {
		s.stopPollerLocked()
		s.startPollerLocked()
	}
	if fake {
		s.stopFakeLocked()
		return s.startFakeLocked()
	}
	return nil
}

// fakeCandles reads the synthetic history, nil when the market is down.
func (s *Session) fakeCandles() []market.Candle {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.fake == nil {
		return nil
	}
	return s.fake.Candles()
}

func (s *Session) fakeRunning() bool {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	return s.fake != nil && s.fake.Running()
}

func (s *Session) feedHealth() *coingecko.Health {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.poller == nil {
		return nil
	}
	h := s.poller.Health()
	return &h
}

// onMarket is the synthetic market sink. It runs on the tick goroutine.
func (s *Session) onMarket(ev market.Event) {
	q := market.Quote{Symbol: ev.Symbol, Price: ev.Price, Time: s.now()}
	s.prices.Set(q)

	s.mu.Lock()
	s.regime = ev.Regime
	if s.prefs.Symbol == ev.Symbol {
		s.candles = applyEvent(s.candles, ev, s.cfg.Market.HistoryCap)
	}
	s.mu.Unlock()

	s.mirrorQuote(q)
	s.publish(Event{Type: EventMarket, Symbol: ev.Symbol, Market: &ev})
}

// applyEvent folds a market event into a chart history. Replaying an
// event that is already reflected leaves the history unchanged.
func applyEvent(candles []market.Candle, ev market.Event, limit int) []market.Candle {
	if ev.Kind == market.EventInit {
		return append([]market.Candle(nil), ev.Candles...)
	}
	if ev.Candle == nil {
		return candles
	}
	c := *ev.Candle
	n := len(candles)
	switch {
	case n == 0:
		return append(candles, c)
	case candles[n-1].Time == c.Time:
		candles[n-1] = c
	case candles[n-1].Time < c.Time:
		// the closing tick of the previous candle is the opening tick of this one
		candles[n-1].Apply(c.Open)
		candles = append(candles, c)
		if limit > 0 && len(candles) > limit {
			candles = append([]market.Candle(nil), candles[len(candles)-limit:]...)
		}
	}
	return candles
}

func (s *Session) mirrorQuote(q market.Quote) {
	if s.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := s.mirror.SetQuote(ctx, q); err != nil {
		s.log.Debug("mirror quote failed", zap.String("symbol", q.Symbol), zap.Error(err))
	}
}

// OnQuotes implements coingecko.Handler.
func (s *Session) OnQuotes(quotes []market.Quote) {
	s.mu.Lock()
	s.feedErr = ""
	s.mu.Unlock()

	for _, q := range quotes {
		s.mirrorQuote(q)
	}
	s.publish(Event{Type: EventQuotes, Quotes: quotes})
}

// OnCandles implements coingecko.Handler. Candles for a symbol that is
// no longer selected are dropped.
func (s *Session) OnCandles(symbol string, candles []market.Candle) {
	s.mu.Lock()
	if s.prefs.Symbol != symbol {
		s.mu.Unlock()
		return
	}
	s.candles = append([]market.Candle(nil), candles...)
	s.mu.Unlock()

	s.publish(Event{Type: EventCandles, Symbol: symbol, Candles: candles})
}

// OnFeedError implements coingecko.Handler. The session keeps running
// on the last known prices.
func (s *Session) OnFeedError(err error) {
	s.mu.Lock()
	s.feedErr = err.Error()
	s.mu.Unlock()

	s.publish(Event{Type: EventFeedError, Error: err.Error()})
}

// OnTrade implements portfolio.TradeListener.
func (s *Session) OnTrade(t portfolio.Trade) {
	if s.recorder != nil {
		if err := s.recorder.RecordTrade(t); err != nil {
			s.log.Warn("journal trade failed", zap.String("trade", t.ID), zap.Error(err))
		}
	}
	s.log.Info("trade",
		zap.String("id", t.ID),
		zap.String("symbol", t.Symbol),
		zap.String("side", string(t.Side)),
		zap.Float64("qty", t.Quantity),
		zap.Float64("price", t.Price),
		zap.Float64("fee", t.Fee),
	)
	s.publish(Event{Type: EventTrade, Symbol: t.Symbol, Trade: &t})
}
