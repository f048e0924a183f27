package market

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceStoreSetGet(t *testing.T) {
	t.Parallel()

	ps := NewPriceStore()
	_, ok := ps.Price("BTC")
	assert.False(t, ok)

	_, err := ps.Get("BTC")
	assert.ErrorIs(t, err, ErrPriceNotFound)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, ps.Set(Quote{Symbol: "BTC", Price: 42000, Time: now}))

	q, err := ps.Get("BTC")
	require.NoError(t, err)
	assert.Equal(t, 42000.0, q.Price)
	assert.Equal(t, now, q.Time)

	p, ok := ps.Price("BTC")
	assert.True(t, ok)
	assert.Equal(t, 42000.0, p)
}

func TestPriceStoreRejectsUnusablePrices(t *testing.T) {
	t.Parallel()

	ps := NewPriceStore()
	require.True(t, ps.Set(Quote{Symbol: "ETH", Price: 2000}))

	for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		assert.False(t, ps.Set(Quote{Symbol: "ETH", Price: bad}))
	}
	p, ok := ps.Price("ETH")
	assert.True(t, ok)
	assert.Equal(t, 2000.0, p)

	q, _ := ps.Get("ETH")
	assert.False(t, q.Time.IsZero(), "zero time is stamped on set")
}

func TestStaticPrices(t *testing.T) {
	t.Parallel()

	sp := StaticPrices{"A": 10, "B": 0}
	p, ok := sp.Price("A")
	assert.True(t, ok)
	assert.Equal(t, 10.0, p)

	_, ok = sp.Price("B")
	assert.False(t, ok)
	_, ok = sp.Price("C")
	assert.False(t, ok)
}

func TestLookupAsset(t *testing.T) {
	t.Parallel()

	a, err := LookupAsset("ETH")
	require.NoError(t, err)
	assert.Equal(t, "ethereum", a.CoinID)

	_, err = LookupAsset("DOGE")
	assert.ErrorIs(t, err, ErrMarketUnavailable)

	assert.True(t, IsLive("BTC"))
	assert.False(t, IsLive(FakeSymbol))
	assert.False(t, IsLive("DOGE"))

	assert.True(t, ValidDays(7))
	assert.False(t, ValidDays(3))
}

func TestCandleApply(t *testing.T) {
	t.Parallel()

	c := newCandle(100, 10)
	c.Apply(12)
	c.Apply(9)
	c.Apply(11)

	assert.Equal(t, Candle{Time: 100, Open: 10, High: 12, Low: 9, Close: 11}, c)
	assert.Equal(t, int64(5), c.Age(105))
}

func TestRandNormMoments(t *testing.T) {
	t.Parallel()

	r := NewRand(1)
	const n = 200000
	var sum, sq float64
	for i := 0; i < n; i++ {
		x := r.Norm()
		sum += x
		sq += x * x
	}
	mean := sum / n
	variance := sq/n - mean*mean
	assert.InDelta(t, 0, mean, 0.02)
	assert.InDelta(t, 1, variance, 0.02)
}
