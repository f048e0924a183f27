package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/papertrader/portfolio"
	"github.com/rustyeddy/papertrader/risk"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	j, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return j, path
}

func testTrade(id string, ts time.Time, pnl float64) portfolio.Trade {
	return portfolio.Trade{
		ID:          id,
		Time:        ts,
		Symbol:      "BTC",
		Side:        portfolio.Sell,
		Quantity:    0.5,
		Price:       42000.125,
		Notional:    21000.0625,
		Fee:         10.5,
		RealizedPnL: pnl,
	}
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	assert.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('trades','equity','state')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		assert.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	assert.NoError(t, rows.Err())

	assert.True(t, found["trades"])
	assert.True(t, found["equity"])
	assert.True(t, found["state"])
}

func TestSQLiteRecordTrade(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := testTrade("T1", ts, -12.5)

	require.NoError(t, j.RecordTrade(rec))
	// replays of the same trade are ignored
	require.NoError(t, j.RecordTrade(rec))

	got, err := j.GetTrade(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Symbol, got.Symbol)
	assert.Equal(t, portfolio.Sell, got.Side)
	assert.InDelta(t, rec.Quantity, got.Quantity, 1e-12)
	assert.InDelta(t, rec.Price, got.Price, 1e-9)
	assert.InDelta(t, rec.Fee, got.Fee, 1e-9)
	assert.InDelta(t, rec.RealizedPnL, got.RealizedPnL, 1e-9)
	assert.True(t, got.Time.Equal(ts))

	all, err := j.ListTrades(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteGetTradeNotFound(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	_, err := j.GetTrade(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTradeNotFound)
}

func TestSQLiteListTradesWindow(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	// inserted out of order on purpose
	for _, tc := range []struct {
		id  string
		off time.Duration
	}{{"C", 2 * time.Hour}, {"A", 0}, {"D", 3 * time.Hour}, {"B", time.Hour}} {
		require.NoError(t, j.RecordTrade(testTrade(tc.id, base.Add(tc.off), 1)))
	}

	tests := []struct {
		name       string
		start, end time.Time
		want       []string
	}{
		{"all", time.Time{}, time.Time{}, []string{"A", "B", "C", "D"}},
		{"start inclusive", base.Add(time.Hour), time.Time{}, []string{"B", "C", "D"}},
		{"end exclusive", base, base.Add(2 * time.Hour), []string{"A", "B"}},
		{"empty", base.Add(10 * time.Hour), base.Add(11 * time.Hour), nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := j.ListTrades(ctx, tt.start, tt.end)
			require.NoError(t, err)
			var ids []string
			for _, tr := range got {
				ids = append(ids, tr.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestSQLiteRecordEquity(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	ctx := context.Background()

	ts := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	rec := EquitySnapshot{
		Time:          ts,
		Cash:          1000.1,
		Equity:        999.9,
		Exposure:      10.5,
		UnrealizedPnL: -0.2,
		RealizedPnL:   3.25,
	}
	require.NoError(t, j.RecordEquity(rec))

	got, err := j.ListEquity(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Time.Equal(ts))
	assert.InDelta(t, rec.Cash, got[0].Cash, 1e-9)
	assert.InDelta(t, rec.Equity, got[0].Equity, 1e-9)
	assert.InDelta(t, rec.Exposure, got[0].Exposure, 1e-9)
	assert.InDelta(t, rec.UnrealizedPnL, got[0].UnrealizedPnL, 1e-9)
	assert.InDelta(t, rec.RealizedPnL, got[0].RealizedPnL, 1e-9)
}

func TestSQLiteStats(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	empty, err := j.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, empty)

	for i, pnl := range []float64{30, -10, 0, 20, -5} {
		require.NoError(t, j.RecordTrade(testTrade(string(rune('a'+i)), ts.Add(time.Duration(i)*time.Minute), pnl)))
	}

	s, err := j.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, s.Trades)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 2, s.Losses)
	assert.InDelta(t, 50, s.GrossProfit, 1e-9)
	assert.InDelta(t, 15, s.GrossLoss, 1e-9)
	assert.InDelta(t, 50.0/15.0, s.ProfitFactor, 1e-9)
	assert.InDelta(t, 52.5, s.Fees, 1e-9)
}

func TestSQLiteStateRoundTrip(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	ctx := context.Background()

	got, err := j.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	st := portfolio.NewState(10000)
	st.Cash = 8500
	st.Positions["ETH"] = portfolio.Position{Quantity: -2, AvgPrice: 750}
	st.Settings = risk.DefaultSettings()
	st.Settings.SetAdvanced(true)
	require.NoError(t, st.Settings.SetParameters(risk.Parameters{AllowShort: true, MaxLeverage: 3, FeeBps: 10}))
	st.Preferences.Symbol = "FAKE"

	require.NoError(t, j.Save(ctx, st))
	st.Cash = 8400
	require.NoError(t, j.Save(ctx, st))
	require.NoError(t, j.Close())

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err = reopened.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 8400.0, got.Cash)
	assert.Equal(t, portfolio.Position{Quantity: -2, AvgPrice: 750}, got.Positions["ETH"])
	assert.True(t, got.Settings.ShortAllowed())
	assert.Equal(t, 3.0, got.Settings.Leverage())
	assert.Equal(t, "FAKE", got.Preferences.Symbol)
}

func TestSQLiteClear(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, j.Save(ctx, portfolio.NewState(100)))
	require.NoError(t, j.RecordTrade(testTrade("T1", time.Now(), 0)))
	require.NoError(t, j.Clear(ctx))

	got, err := j.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	trades, err := j.ListTrades(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, trades)
}
