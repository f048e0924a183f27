package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/papertrader/config"
	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/portfolio"
	"github.com/rustyeddy/papertrader/replay"
	"github.com/rustyeddy/papertrader/session"
)

func TestParseOrder(t *testing.T) {
	defer func() { tradeSymbol, tradeMode, tradeFraction = "", "", 0 }()

	tests := []struct {
		name     string
		args     []string
		symbol   string
		mode     string
		fraction float64
		want     session.Order
		wantErr  bool
	}{
		{name: "buy qty", args: []string{"buy", "2"}, symbol: "btc",
			want: session.Order{Side: portfolio.Buy, Symbol: "BTC", Size: 2}},
		{name: "sell fraction", args: []string{"SELL"}, fraction: 0.5,
			want: session.Order{Side: portfolio.Sell, Fraction: 0.5}},
		{name: "amount", args: []string{"buy", "250"}, mode: "amount",
			want: session.Order{Side: portfolio.Buy, Size: 250, Mode: portfolio.OrderByAmount}},
		{name: "bad side", args: []string{"hold", "1"}, wantErr: true},
		{name: "bad size", args: []string{"buy", "lots"}, wantErr: true},
		{name: "no size", args: []string{"buy"}, wantErr: true},
		{name: "bad mode", args: []string{"buy", "1"}, mode: "shares", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tradeSymbol, tradeMode, tradeFraction = tt.symbol, tt.mode, tt.fraction
			got, err := parseOrder(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Risk.Advanced = true
	cfg.Risk.AllowShort = true
	cfg.Risk.MaxLeverage = 3

	scfg, err := sessionConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, scfg.StartingCash)
	assert.Equal(t, "BTC", scfg.Preferences.Symbol)
	assert.Equal(t, 7, scfg.Preferences.Days)
	assert.True(t, scfg.Settings.ShortAllowed())
	assert.Equal(t, 3.0, scfg.Settings.Leverage())
	assert.Equal(t, market.LiveAssets, scfg.Poller.Assets)
	assert.Equal(t, market.FakeSymbol, scfg.Market.Symbol)

	cfg.Risk.MaxLeverage = 0
	_, err = sessionConfig(cfg)
	assert.Error(t, err)
}

func TestLoadConfigFromFile(t *testing.T) {
	defer func() { cfgFile = "" }()

	path := filepath.Join(t.TempDir(), "papertrader.toml")
	cfg := config.Default()
	cfg.Store.Type = "memory"
	cfg.Account.StartingCash = 500
	require.NoError(t, cfg.SaveToFile(path))

	cfgFile = path
	got, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 500.0, got.Account.StartingCash)
	assert.Equal(t, "memory", got.Store.Type)

	cfgFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = loadConfig()
	assert.Error(t, err)
}

func TestOpenAppPersistsToSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Live.Enabled = false
	cfg.Market.Symbol = market.FakeSymbol
	cfg.Market.Seed = 3
	cfg.Market.Prerun = 5
	cfg.Store.Path = filepath.Join(t.TempDir(), "papertrader.db")

	a, err := openApp(ctx, cfg, true)
	require.NoError(t, err)
	require.NotNil(t, a.sqlite)
	require.NoError(t, a.startAndPrice(ctx, 5*time.Second))
	_, err = a.sess.Buy(ctx, 1)
	require.NoError(t, err)
	a.Close()

	b, err := openApp(ctx, cfg, false)
	require.NoError(t, err)
	defer b.Close()
	require.Len(t, b.sess.Trades(), 1)

	trades, err := b.sqlite.ListTrades(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	var buf bytes.Buffer
	require.NoError(t, journal.ExportTrades(&buf, trades))
	assert.Contains(t, buf.String(), "FAKE")
}

func TestConfigInitWritesValidFile(t *testing.T) {
	defer func() { configInitOutput = "papertrader.yaml" }()

	configInitOutput = filepath.Join(t.TempDir(), "papertrader.yaml")
	require.NoError(t, runConfigInit(configInitCmd, nil))
	_, err := os.Stat(configInitOutput)
	require.NoError(t, err)

	configValidatePath = configInitOutput
	assert.NoError(t, runConfigValidate(configValidateCmd, nil))
}

func TestJournalCommands(t *testing.T) {
	defer func() {
		journalDBPath, journalSince, journalUntil = "", "", ""
		journalCmd.SetOut(nil)
	}()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.NewSQLite(dbPath)
	require.NoError(t, err)

	script := `2026-01-24T09:30:00Z,BTC,100,BUY,2
2026-01-24T09:30:10Z,BTC,120,SELL_ALL,
`
	res, err := replay.Run(ctx, strings.NewReader(script), replay.Options{StartingCash: 1000, TickThenEvent: true, Journal: j})
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	require.NoError(t, j.Close())

	journalDBPath = dbPath
	var out bytes.Buffer
	journalCmd.SetOut(&out)

	require.NoError(t, runJournalTrade(journalTradeCmd, []string{res.Trades[0].ID}))
	assert.Contains(t, out.String(), "✓ Trade "+res.Trades[0].ID)
	assert.Contains(t, out.String(), "BTC")
	assert.Contains(t, out.String(), "BUY")

	out.Reset()
	require.NoError(t, runJournalStats(journalStatsCmd, nil))
	assert.Contains(t, out.String(), "✓ 2 trades")
	assert.Contains(t, out.String(), "Wins:          1")
	assert.Contains(t, out.String(), "Profit factor: n/a")

	out.Reset()
	require.NoError(t, runJournalEquity(journalEquityCmd, nil))
	assert.Contains(t, out.String(), "✓ 2 equity snapshots")

	out.Reset()
	journalUntil = "2026-01-23"
	require.NoError(t, runJournalEquity(journalEquityCmd, nil))
	assert.Contains(t, out.String(), "✓ 0 equity snapshots")

	journalUntil = "tomorrow"
	assert.Error(t, runJournalEquity(journalEquityCmd, nil))

	assert.Error(t, runJournalTrade(journalTradeCmd, []string{"missing"}))
}
