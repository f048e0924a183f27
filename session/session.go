// Package session runs one paper trading account: it owns the ledger,
// the risk settings, the synthetic market, the live poller and the
// store, and serializes every command behind a single lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/feed/coingecko"
	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/pkg/id"
	"github.com/rustyeddy/papertrader/portfolio"
	"github.com/rustyeddy/papertrader/risk"
)

var ErrAlreadyStarted = errors.New("session already started")

const mirrorTimeout = 500 * time.Millisecond

// PriceMirror receives every quote the session sees, e.g. a redis cache.
type PriceMirror interface {
	SetQuote(ctx context.Context, q market.Quote) error
}

// Config is the account a fresh session starts from. A saved state in
// the store takes precedence over Settings and Preferences.
type Config struct {
	StartingCash float64
	Settings     risk.Settings
	Preferences  portfolio.Preferences
	Market       market.SyntheticConfig

	// Seed drives the synthetic market; 0 seeds from the clock.
	Seed int64

	Poller coingecko.PollerConfig
}

type Option func(*Session)

func WithStore(st journal.Store) Option {
	return func(s *Session) { s.store = st }
}

func WithJournal(j journal.Journal) Option {
	return func(s *Session) { s.recorder = j }
}

func WithMirror(m PriceMirror) Option {
	return func(s *Session) { s.mirror = m }
}

// WithLive enables the CoinGecko poller.
func WithLive(c *coingecko.Client) Option {
	return func(s *Session) { s.client = c }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Session) { s.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

type Session struct {
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
	store    journal.Store
	recorder journal.Journal
	mirror   PriceMirror
	client   *coingecko.Client

	prices *market.PriceStore
	ledger *portfolio.Ledger
	rng    *market.Rand

	// mu guards the account. It must never be held while taking feedMu.
	mu       sync.Mutex
	settings risk.Settings
	prefs    portfolio.Preferences
	candles  []market.Candle
	regime   market.Regime
	feedErr  string

	feedMu     sync.Mutex
	runCtx     context.Context
	fake       *market.Synthetic
	poller     *coingecko.Poller
	pollCancel context.CancelFunc
	pollDone   chan struct{}

	subsMu sync.Mutex
	subs   map[chan Event]struct{}
}

// New builds a session and restores the saved state, if any. Feeds do
// not run until Start.
func New(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	if cfg.StartingCash <= 0 {
		cfg.StartingCash = portfolio.DefaultStartingCash
	}
	defaults := portfolio.NewState(cfg.StartingCash)
	defaults.Settings = cfg.Settings
	defaults.Preferences = cfg.Preferences
	defaults.Migrate()
	cfg.Settings = defaults.Settings
	cfg.Preferences = defaults.Preferences
	if cfg.Market.HistoryCap <= 0 {
		cfg.Market.HistoryCap = market.DefaultHistoryCap
	}

	s := &Session{
		cfg:      cfg,
		log:      zap.NewNop(),
		now:      time.Now,
		prices:   market.NewPriceStore(),
		settings: cfg.Settings,
		prefs:    cfg.Preferences,
		subs:     make(map[chan Event]struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = s.now().UnixNano()
	}
	s.rng = market.NewRand(seed)
	s.ledger = portfolio.NewLedger(cfg.StartingCash,
		portfolio.WithClock(s.now),
		portfolio.WithIDs(id.NewSource(0)),
	)
	s.ledger.SetTradeListener(s)

	if err := s.restore(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	st, err := s.store.Load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("session: load: %w", err)
		}
		s.log.Warn("load saved portfolio failed, starting fresh", zap.Error(err))
		return nil
	}
	if st == nil {
		return nil
	}
	st.Migrate()
	if err := s.ledger.Restore(*st); err != nil {
		s.log.Warn("saved portfolio rejected, starting fresh", zap.Error(err))
		return nil
	}
	s.settings = st.Settings
	s.prefs = st.Preferences
	if err := s.ledger.CheckInvariants(s.settings); err != nil {
		s.log.Warn("restored portfolio is inconsistent with its settings", zap.Error(err))
	}
	s.log.Info("portfolio restored",
		zap.Float64("cash", st.Cash),
		zap.Int("positions", len(st.Positions)),
		zap.Int("trades", len(st.Trades)),
		zap.String("symbol", s.prefs.Symbol),
	)
	return nil
}

// Start launches the synthetic market and, when live prices are
// enabled, the poller. Both stop when ctx is done or on Close.
func (s *Session) Start(ctx context.Context) error {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	if s.runCtx != nil {
		return ErrAlreadyStarted
	}
	s.runCtx = ctx
	if err := s.startFakeLocked(); err != nil {
		s.runCtx = nil
		return err
	}
	s.startPollerLocked()
	return nil
}

// Run starts the session and blocks until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Close()
	return nil
}

// Close stops the feeds and saves the state. It is safe to call twice.
func (s *Session) Close() {
	s.feedMu.Lock()
	s.stopFakeLocked()
	s.stopPollerLocked()
	s.runCtx = nil
	s.feedMu.Unlock()

	s.mu.Lock()
	s.saveLocked(context.Background())
	s.mu.Unlock()
}

func (s *Session) Prices() market.PriceSource { return s.prices }

// Quotes returns the latest quote of every symbol seen so far.
func (s *Session) Quotes() map[string]market.Quote { return s.prices.Quotes() }

func (s *Session) Settings() risk.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Session) Preferences() portfolio.Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// Trades returns the trade history, newest first.
func (s *Session) Trades() []portfolio.Trade {
	return s.ledger.Trades()
}

// Candles returns the chart candles of the selected symbol.
func (s *Session) Candles() []market.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]market.Candle(nil), s.candles...)
}

func (s *Session) Value() portfolio.Valuation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Value(s.prices)
}

// State is what would be saved right now.
func (s *Session) State() portfolio.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() portfolio.State {
	st := s.ledger.Snapshot()
	st.Settings = s.settings
	st.Preferences = s.prefs
	return st
}

// saveLocked persists the state. Failures are logged, never returned.
func (s *Session) saveLocked(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, s.stateLocked()); err != nil {
		s.log.Warn("save portfolio failed", zap.Error(err))
	}
}

// WaitForPrice blocks until symbol has a price or ctx is done.
func (s *Session) WaitForPrice(ctx context.Context, symbol string) (float64, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if px, ok := s.prices.Price(symbol); ok {
			return px, nil
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("session: wait for %s: %w: %v", symbol, portfolio.ErrPriceUnavailable, ctx.Err())
		case <-ticker.C:
		}
	}
}
