package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	pricecache "github.com/rustyeddy/papertrader/cache/redis"
	"github.com/rustyeddy/papertrader/config"
	"github.com/rustyeddy/papertrader/feed/coingecko"
	"github.com/rustyeddy/papertrader/internal/logging"
	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/portfolio"
	"github.com/rustyeddy/papertrader/session"
)

// app is a session plus everything that has to be closed after it.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	sess    *session.Session
	sqlite  *journal.SQLite
	closers []func() error
}

// Close stops the session (saving its state) and releases the store.
func (a *app) Close() {
	a.sess.Close()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

// sessionConfig maps the file config onto a session.Config.
func sessionConfig(cfg *config.Config) (session.Config, error) {
	settings, err := cfg.Risk.Settings()
	if err != nil {
		return session.Config{}, fmt.Errorf("risk: %w", err)
	}
	return session.Config{
		StartingCash: cfg.Account.StartingCash,
		Settings:     settings,
		Preferences: portfolio.Preferences{
			Symbol: cfg.Market.Symbol,
			Days:   cfg.Live.Days,
			Speed:  market.Speed(cfg.Market.Speed),
		},
		Market: cfg.Market.SyntheticConfig(),
		Seed:   cfg.Market.Seed,
		Poller: coingecko.PollerConfig{
			Assets:         market.LiveAssets,
			PollInterval:   cfg.Live.PollInterval.Duration,
			CandleInterval: cfg.Live.CandleRefresh.Duration,
			Days:           cfg.Live.Days,
		},
	}, nil
}

// openApp builds a session from cfg. live=false keeps the CoinGecko
// poller off even when the config enables it, for one-shot commands
// that only need the saved portfolio.
func openApp(ctx context.Context, cfg *config.Config, live bool) (*app, error) {
	a := &app{cfg: cfg, log: logging.New(cfg.Log.Level)}

	scfg, err := sessionConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts := []session.Option{session.WithLogger(a.log)}

	switch cfg.Store.Type {
	case "sqlite":
		j, err := journal.NewSQLite(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.sqlite = j
		a.closers = append(a.closers, j.Close)
		opts = append(opts, session.WithStore(j), session.WithJournal(j))
	case "file":
		opts = append(opts, session.WithStore(journal.NewFileStore(cfg.Store.Path)))
	default:
		mem := journal.NewMemory()
		opts = append(opts, session.WithStore(mem), session.WithJournal(mem))
	}

	if cfg.Redis.Enabled {
		rc, err := pricecache.New(ctx, pricecache.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			// the mirror is optional; trading works without it
			a.log.Warn("redis unavailable, prices will not be mirrored", zap.Error(err))
		} else {
			a.closers = append(a.closers, rc.Close)
			opts = append(opts, session.WithMirror(pricecache.NewPriceCache(rc, cfg.Redis.TTL.Duration)))
		}
	}

	if live && cfg.Live.Enabled {
		client := coingecko.NewClient(cfg.Live.BaseURL, cfg.Live.VsCurrency,
			coingecko.WithTimeout(cfg.Live.Timeout.Duration))
		opts = append(opts, session.WithLive(client))
	}

	sess, err := session.New(ctx, scfg, opts...)
	if err != nil {
		a.closeStores()
		return nil, err
	}
	a.sess = sess
	return a, nil
}

func (a *app) closeStores() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// startAndPrice starts the feeds and waits up to timeout for a price of
// the selected symbol.
func (a *app) startAndPrice(ctx context.Context, timeout time.Duration) error {
	if err := a.sess.Start(ctx); err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := a.sess.WaitForPrice(wctx, a.sess.Preferences().Symbol)
	return err
}
