package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/papertrader/feed/coingecko"
	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/portfolio"
	"github.com/rustyeddy/papertrader/risk"
)

// testConfig trades FAKE on a market that never ticks after its init
// event, so the price is fixed for the whole test.
func testConfig() Config {
	return Config{
		StartingCash: 10000,
		Preferences:  portfolio.Preferences{Symbol: market.FakeSymbol},
		Market: market.SyntheticConfig{
			SeedPrice: 100,
			Prerun:    5,
			StartTime: 1_000_000,
			Interval:  time.Hour,
		},
		Seed: 42,
	}
}

func newStarted(t *testing.T, cfg Config, opts ...Option) (*Session, *journal.Memory) {
	t.Helper()
	mem := journal.NewMemory()
	opts = append([]Option{WithStore(mem), WithJournal(mem)}, opts...)
	s, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Close)
	return s, mem
}

func fakePrice(t *testing.T, s *Session) float64 {
	t.Helper()
	px, ok := s.Prices().Price(market.FakeSymbol)
	require.True(t, ok)
	return px
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	s, err := New(context.Background(), Config{})
	require.NoError(t, err)

	assert.Equal(t, risk.DefaultSettings(), s.Settings())
	p := s.Preferences()
	assert.Equal(t, "BTC", p.Symbol)
	assert.Equal(t, portfolio.DefaultChartDays, p.Days)
	assert.Equal(t, market.SpeedMedium, p.Speed)
	assert.Equal(t, portfolio.OrderByQuantity, p.OrderMode)
	assert.False(t, s.Status().MarketRunning)
	assert.Equal(t, portfolio.DefaultStartingCash, s.Value().Cash)
	assert.Empty(t, s.Trades())
}

func TestStartTwice(t *testing.T) {
	t.Parallel()

	s, _ := newStarted(t, testConfig())
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestBuySellRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mem := newStarted(t, testConfig())
	px := fakePrice(t, s)

	tr, err := s.Buy(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, portfolio.Buy, tr.Side)
	assert.Equal(t, market.FakeSymbol, tr.Symbol)
	assert.InDelta(t, px, tr.Price, 1e-9)

	st := s.Status()
	assert.InDelta(t, 2.0, st.Held, 1e-12)
	assert.InDelta(t, 10000-2*px, st.Valuation.Cash, 1e-9)
	assert.True(t, st.CanSell)

	saved, err := mem.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.InDelta(t, 10000-2*px, saved.Cash, 1e-9)
	assert.Len(t, mem.Trades(), 1)
	assert.Len(t, mem.Equity(), 1)

	_, err = s.Sell(ctx, 2)
	require.NoError(t, err)
	v := s.Value()
	assert.InDelta(t, 10000.0, v.Cash, 1e-9)
	assert.InDelta(t, 0.0, v.TotalPnL, 1e-9)
	assert.Len(t, s.Trades(), 2)
	assert.Equal(t, portfolio.Sell, s.Trades()[0].Side)
}

func TestRejectedOrdersLeaveStateUntouched(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		order  Order
		want   error
		reason string
	}{
		{"sell flat", Order{Side: portfolio.Sell, Size: 1}, portfolio.ErrInsufficientHoldings, "InsufficientHoldings"},
		{"buy too much", Order{Side: portfolio.Buy, Size: 1e9}, portfolio.ErrInsufficientCash, "InsufficientCash"},
		{"negative qty", Order{Side: portfolio.Buy, Size: -1}, portfolio.ErrInvalidQuantity, "InvalidQuantity"},
		{"unknown symbol", Order{Side: portfolio.Buy, Symbol: "DOGE", Size: 1}, market.ErrMarketUnavailable, "MarketUnavailable"},
		{"no live price", Order{Side: portfolio.Buy, Symbol: "BTC", Size: 1}, portfolio.ErrPriceUnavailable, "PriceUnavailable"},
		{"amount without price", Order{Side: portfolio.Buy, Symbol: "ETH", Size: 10, Mode: portfolio.OrderByAmount}, portfolio.ErrPriceUnavailable, "PriceUnavailable"},
		{"bad fraction", Order{Side: portfolio.Buy, Fraction: 1.5}, portfolio.ErrInvalidQuantity, "InvalidQuantity"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, mem := newStarted(t, testConfig())
			before := s.State()

			_, err := s.Execute(context.Background(), tt.order)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.reason, portfolio.Reason(err))

			assert.Equal(t, before, s.State())
			assert.Zero(t, mem.Saves())
			assert.Empty(t, mem.Trades())
		})
	}
}

func TestOrderSizing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newStarted(t, testConfig())
	px := fakePrice(t, s)

	tr, err := s.Execute(ctx, Order{Side: portfolio.Buy, Size: 500, Mode: portfolio.OrderByAmount})
	require.NoError(t, err)
	assert.InDelta(t, 500/px, tr.Quantity, 1e-12)

	cash := s.Value().Cash
	tr, err = s.Execute(ctx, Order{Side: portfolio.Buy, Fraction: 0.5})
	require.NoError(t, err)
	assert.InDelta(t, cash*0.5/px, tr.Quantity, 1e-12)

	held := s.Status().Held
	tr, err = s.Execute(ctx, Order{Side: portfolio.Sell, Fraction: 1})
	require.NoError(t, err)
	assert.InDelta(t, held, tr.Quantity, 1e-12)
	assert.InDelta(t, 0.0, s.Status().Held, 1e-9)

	require.NoError(t, s.SetOrderMode(ctx, portfolio.OrderByAmount))
	tr, err = s.Execute(ctx, Order{Side: portfolio.Buy, Size: 100})
	require.NoError(t, err)
	assert.InDelta(t, 100/px, tr.Quantity, 1e-12)
	assert.InDelta(t, s.Value().Cash, s.Status().MaxBuy, 1e-9)

	assert.ErrorIs(t, s.SetOrderMode(ctx, "lots"), portfolio.ErrInvalidState)
}

func TestAdvancedModeWithOpenShort(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newStarted(t, testConfig())

	require.NoError(t, s.SetRiskParameters(ctx, risk.Parameters{AllowShort: true, MaxLeverage: 2}))
	assert.False(t, s.Settings().ShortAllowed(), "parameters are inert until advanced")

	require.NoError(t, s.SetAdvanced(ctx, true))
	require.True(t, s.Settings().ShortAllowed())

	_, err := s.Sell(ctx, 1)
	require.NoError(t, err)
	assert.True(t, s.Status().CanSell)

	err = s.SetAdvanced(ctx, false)
	assert.ErrorIs(t, err, portfolio.ErrShortWithoutMargin)
	assert.True(t, s.Settings().Advanced)

	err = s.SetRiskParameters(ctx, risk.Parameters{AllowShort: false, MaxLeverage: 2})
	assert.ErrorIs(t, err, portfolio.ErrShortWithoutMargin)

	_, err = s.Buy(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, s.SetAdvanced(ctx, false))

	got := s.Settings()
	assert.False(t, got.Advanced)
	assert.False(t, got.AllowShort)
	assert.Equal(t, 1.0, got.MaxLeverage)
	assert.False(t, s.Status().CanSell)
}

func TestSetRiskParametersInvalid(t *testing.T) {
	t.Parallel()

	s, _ := newStarted(t, testConfig())
	before := s.Settings()

	err := s.SetRiskParameters(context.Background(), risk.Parameters{MaxLeverage: 0.5})
	assert.ErrorIs(t, err, risk.ErrInvalidParameters)
	assert.Equal(t, "InvalidParameters", portfolio.Reason(err))
	assert.Equal(t, before, s.Settings())
}

func TestRestoreFromStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := journal.NewMemory()
	st := portfolio.NewState(8000)
	st.Cash = 5000
	st.Positions["ETH"] = portfolio.Position{Quantity: 3, AvgPrice: 1000}
	st.Preferences = portfolio.Preferences{Symbol: "ETH", Days: 30, Speed: market.SpeedSlow}
	require.NoError(t, mem.Save(ctx, st))

	s, err := New(ctx, testConfig(), WithStore(mem))
	require.NoError(t, err)

	p := s.Preferences()
	assert.Equal(t, "ETH", p.Symbol)
	assert.Equal(t, 30, p.Days)
	assert.Equal(t, market.SpeedSlow, p.Speed)

	v := s.Value()
	assert.Equal(t, 5000.0, v.Cash)
	assert.Equal(t, 8000.0, v.StartingCash)
	require.Len(t, v.Positions, 1)
	assert.False(t, v.Positions[0].Priced)
}

type failingStore struct{ journal.Memory }

func (f *failingStore) Save(context.Context, portfolio.State) error {
	return errors.New("disk full")
}

func (f *failingStore) Load(context.Context) (*portfolio.State, error) {
	return nil, errors.New("corrupt")
}

func TestStoreErrorsAreSwallowed(t *testing.T) {
	t.Parallel()

	s, err := New(context.Background(), testConfig(), WithStore(&failingStore{}))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	_, err = s.Buy(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, s.Trades(), 1)
}

func TestReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mem := newStarted(t, testConfig())

	_, err := s.Buy(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, s.SetAdvanced(ctx, true))
	require.NoError(t, s.SelectSymbol(ctx, "SOL"))

	require.NoError(t, s.Reset(ctx))

	v := s.Value()
	assert.Equal(t, 10000.0, v.Cash)
	assert.Empty(t, v.Positions)
	assert.Empty(t, s.Trades())
	assert.Empty(t, mem.Trades())
	assert.False(t, s.Settings().Advanced)
	assert.Equal(t, market.FakeSymbol, s.Preferences().Symbol)
	assert.NotEmpty(t, s.Candles())

	saved, err := mem.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, 10000.0, saved.Cash)
	assert.Empty(t, saved.Trades)
}

func TestSelectSymbol(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newStarted(t, testConfig())
	assert.NotEmpty(t, s.Candles())
	assert.NotEmpty(t, s.Status().Regime)
	assert.True(t, s.Status().MarketRunning)

	err := s.SelectSymbol(ctx, "DOGE")
	assert.ErrorIs(t, err, market.ErrMarketUnavailable)

	require.NoError(t, s.SelectSymbol(ctx, "BTC"))
	st := s.Status()
	assert.Equal(t, "BTC", st.Symbol)
	assert.True(t, st.Live)
	assert.False(t, st.Priced)
	assert.True(t, st.MarketRunning)
	assert.False(t, st.CanBuy)
	assert.False(t, st.CanSell)
	assert.Empty(t, st.Regime)
	assert.Empty(t, s.Candles())

	require.NoError(t, s.SelectSymbol(ctx, market.FakeSymbol))
	assert.NotEmpty(t, s.Candles())
	assert.True(t, s.Status().CanBuy)
}

func TestSetSpeedRestartsMarket(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newStarted(t, testConfig())

	require.NoError(t, s.SetSpeed(ctx, "fast"))
	assert.Equal(t, market.SpeedFast, s.Preferences().Speed)
	assert.NotEmpty(t, s.Candles())
	_, ok := s.Prices().Price(market.FakeSymbol)
	assert.True(t, ok)

	assert.Error(t, s.SetSpeed(ctx, "warp"))
	assert.Equal(t, market.SpeedFast, s.Preferences().Speed)

	require.NoError(t, s.SetDays(ctx, 30))
	assert.Equal(t, 30, s.Preferences().Days)
	assert.Error(t, s.SetDays(ctx, 3))
}

func TestSubscribeReceivesTrades(t *testing.T) {
	t.Parallel()

	s, _ := newStarted(t, testConfig())
	events, cancel := s.Subscribe(8)
	defer cancel()

	_, err := s.Buy(context.Background(), 1)
	require.NoError(t, err)

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != EventTrade {
				continue
			}
			require.NotNil(t, ev.Trade)
			assert.Equal(t, market.FakeSymbol, ev.Symbol)
			return
		case <-timeout:
			t.Fatal("no trade event")
		}
	}
}

func TestUnsubscribeTwice(t *testing.T) {
	t.Parallel()

	s, _ := newStarted(t, testConfig())
	events, cancel := s.Subscribe(0)
	cancel()
	cancel()

	_, ok := <-events
	assert.False(t, ok)
}

func TestMarketTicksUpdateChart(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Market.Interval = 5 * time.Millisecond
	cfg.Market.CandleSeconds = 2
	s, _ := newStarted(t, cfg)

	require.Eventually(t, func() bool { return len(s.Candles()) > 5 }, 2*time.Second, 10*time.Millisecond)
	for _, c := range s.Candles() {
		assert.Greater(t, c.Low, 0.0)
		assert.GreaterOrEqual(t, c.High, c.Low)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	mem := journal.NewMemory()
	s, err := New(context.Background(), testConfig(), WithStore(mem))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := s.Prices().Price(market.FakeSymbol)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 1, mem.Saves(), "Close saves the final state")
}

func coingeckoStub(t *testing.T, fail bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		switch r.URL.Path {
		case "/simple/price":
			_, _ = w.Write([]byte(`{"bitcoin": {"eur": 50000}, "ethereum": {"eur": 2500}}`))
		case "/coins/bitcoin/ohlc":
			_, _ = w.Write([]byte(`[[1700000000000, 1, 3, 0.5, 2], [1700014400000, 2, 4, 1.5, 3.5]]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func liveConfig() Config {
	cfg := testConfig()
	cfg.Preferences.Symbol = "BTC"
	cfg.Poller = coingecko.PollerConfig{PollInterval: time.Hour, CandleInterval: time.Hour}
	return cfg
}

func TestLiveFeed(t *testing.T) {
	t.Parallel()

	srv := coingeckoStub(t, false)
	s, _ := newStarted(t, liveConfig(), WithLive(coingecko.NewClient(srv.URL, "eur")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	px, err := s.WaitForPrice(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, px)

	require.Eventually(t, func() bool { return len(s.Candles()) == 2 }, 2*time.Second, 10*time.Millisecond)

	tr, err := s.Buy(context.Background(), 0.1)
	require.NoError(t, err)
	assert.Equal(t, 50000.0, tr.Price)

	st := s.Status()
	require.NotNil(t, st.Feed)
	assert.True(t, st.Feed.OK)
	assert.False(t, st.Degraded)
}

func TestLiveFeedDegraded(t *testing.T) {
	t.Parallel()

	srv := coingeckoStub(t, true)
	s, _ := newStarted(t, liveConfig(), WithLive(coingecko.NewClient(srv.URL, "eur")))

	require.Eventually(t, func() bool { return s.Status().Degraded }, 2*time.Second, 10*time.Millisecond)
	st := s.Status()
	assert.NotEmpty(t, st.FeedError)
	assert.False(t, st.Priced)

	// the synthetic market is unaffected
	_, err := s.Execute(context.Background(), Order{Side: portfolio.Buy, Symbol: market.FakeSymbol, Size: 1})
	assert.NoError(t, err)
}

func TestWaitForPriceTimeout(t *testing.T) {
	t.Parallel()

	s, err := New(context.Background(), testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.WaitForPrice(ctx, "BTC")
	assert.ErrorIs(t, err, portfolio.ErrPriceUnavailable)
}

func TestApplyEvent(t *testing.T) {
	t.Parallel()

	c1 := market.Candle{Time: 60, Open: 10, High: 12, Low: 9, Close: 11}
	c1b := market.Candle{Time: 60, Open: 10, High: 13, Low: 9, Close: 13}
	c2 := market.Candle{Time: 120, Open: 14, High: 14, Low: 14, Close: 14}

	tests := []struct {
		name    string
		history []market.Candle
		ev      market.Event
		limit   int
		want    []market.Candle
	}{
		{
			name:    "init replaces",
			history: []market.Candle{c2},
			ev:      market.Event{Kind: market.EventInit, Candles: []market.Candle{c1}},
			want:    []market.Candle{c1},
		},
		{
			name: "first candle",
			ev:   market.Event{Kind: market.EventCandle, Candle: &c1},
			want: []market.Candle{c1},
		},
		{
			name:    "update replaces last",
			history: []market.Candle{c1},
			ev:      market.Event{Kind: market.EventUpdate, Candle: &c1b},
			want:    []market.Candle{c1b},
		},
		{
			name:    "new candle closes previous",
			history: []market.Candle{c1},
			ev:      market.Event{Kind: market.EventNewCandle, Candle: &c2},
			want:    []market.Candle{{Time: 60, Open: 10, High: 14, Low: 9, Close: 14}, c2},
		},
		{
			name:    "replayed new candle is idempotent",
			history: []market.Candle{c1, c2},
			ev:      market.Event{Kind: market.EventNewCandle, Candle: &c2},
			want:    []market.Candle{c1, c2},
		},
		{
			name:    "stale candle ignored",
			history: []market.Candle{c2},
			ev:      market.Event{Kind: market.EventUpdate, Candle: &c1},
			want:    []market.Candle{c2},
		},
		{
			name:    "cap evicts oldest",
			history: []market.Candle{c1},
			ev:      market.Event{Kind: market.EventNewCandle, Candle: &c2},
			limit:   1,
			want:    []market.Candle{c2},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			history := append([]market.Candle(nil), tt.history...)
			assert.Equal(t, tt.want, applyEvent(history, tt.ev, tt.limit))
		})
	}
}
