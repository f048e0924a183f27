package coingecko

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/market"
)

const (
	DefaultPollInterval   = 10 * time.Second
	DefaultCandleInterval = 120 * time.Second
)

// Health is the feed status shown to the user. A failing feed is
// degraded, never fatal.
type Health struct {
	OK        bool      `json:"ok"`
	LastError string    `json:"last_error,omitempty"`
	LastPoll  time.Time `json:"last_poll"`
	Failures  int       `json:"failures"`
}

// Handler receives poll results on the poller goroutine.
type Handler interface {
	OnQuotes([]market.Quote)
	OnCandles(symbol string, candles []market.Candle)
	OnFeedError(error)
}

type PollerConfig struct {
	Assets         []market.Asset
	PollInterval   time.Duration
	CandleInterval time.Duration

	// Symbol and Days select which candles are refreshed.
	Symbol string
	Days   int
}

// Poller refreshes spot prices on one ticker and candles for the
// selected symbol on another, writing prices into a PriceStore.
type Poller struct {
	client  *Client
	store   *market.PriceStore
	handler Handler
	log     *zap.Logger
	cfg     PollerConfig

	mu     sync.Mutex
	health Health
}

func NewPoller(client *Client, store *market.PriceStore, handler Handler, cfg PollerConfig, log *zap.Logger) *Poller {
	if cfg.Assets == nil {
		cfg.Assets = market.LiveAssets
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.CandleInterval <= 0 {
		cfg.CandleInterval = DefaultCandleInterval
	}
	if !market.ValidDays(cfg.Days) {
		cfg.Days = 7
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{client: client, store: store, handler: handler, log: log, cfg: cfg}
}

func (p *Poller) Health() Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}

// Run polls until ctx is done. Both refreshes fire once immediately.
// Errors are reported through the handler and Health; Run only returns
// ctx.Err().
func (p *Poller) Run(ctx context.Context) error {
	p.PollPrices(ctx)
	if p.cfg.Symbol != "" {
		p.PollCandles(ctx)
	}

	prices := time.NewTicker(p.cfg.PollInterval)
	defer prices.Stop()
	candles := time.NewTicker(p.cfg.CandleInterval)
	defer candles.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-prices.C:
			p.PollPrices(ctx)
		case <-candles.C:
			if p.cfg.Symbol != "" {
				p.PollCandles(ctx)
			}
		}
	}
}

// PollPrices runs one spot price refresh.
func (p *Poller) PollPrices(ctx context.Context) {
	quotes, err := p.client.SimplePrices(ctx, p.cfg.Assets)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.fail(err)
		return
	}
	for _, q := range quotes {
		p.store.Set(q)
	}
	p.ok()
	if p.handler != nil {
		p.handler.OnQuotes(quotes)
	}
}

// PollCandles reloads the candle history of the selected symbol.
func (p *Poller) PollCandles(ctx context.Context) {
	asset, err := market.LookupAsset(p.cfg.Symbol)
	if err != nil || asset.CoinID == "" {
		return
	}
	candles, err := p.client.OHLC(ctx, asset.CoinID, p.cfg.Days)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.fail(err)
		return
	}
	p.ok()
	if p.handler != nil {
		p.handler.OnCandles(asset.Symbol, candles)
	}
}

func (p *Poller) ok() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health = Health{OK: true, LastPoll: time.Now()}
}

func (p *Poller) fail(err error) {
	p.mu.Lock()
	p.health.OK = false
	p.health.LastError = err.Error()
	p.health.LastPoll = time.Now()
	p.health.Failures++
	failures := p.health.Failures
	p.mu.Unlock()

	p.log.Warn("live feed poll failed", zap.Error(err), zap.Int("failures", failures))
	if p.handler != nil {
		p.handler.OnFeedError(err)
	}
}
