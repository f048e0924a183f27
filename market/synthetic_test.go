package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStart = int64(1_700_000_000)

func newTestMarket(seed int64, candleSeconds int64) *Synthetic {
	return NewSynthetic(SyntheticConfig{
		SeedPrice:     1000,
		CandleSeconds: candleSeconds,
		StartTime:     testStart,
		Interval:      time.Millisecond,
	}, NewRand(seed))
}

func TestSyntheticFirstStepIsCandle(t *testing.T) {
	t.Parallel()

	m := newTestMarket(1, 60)
	ev := m.Step()

	assert.Equal(t, EventCandle, ev.Kind)
	assert.Equal(t, testStart+1, ev.Time)
	require.NotNil(t, ev.Candle)
	assert.Equal(t, ev.Price, ev.Candle.Open)
	assert.Equal(t, ev.Price, ev.Candle.Close)
	assert.Equal(t, FakeSymbol, ev.Symbol)
}

func TestSyntheticNewCandleBoundary(t *testing.T) {
	t.Parallel()

	m := newTestMarket(7, 60)
	first := m.Step()
	require.Equal(t, EventCandle, first.Kind)

	open := first.Candle.Time
	for i := 0; i < 59; i++ {
		ev := m.Step()
		assert.Equal(t, EventUpdate, ev.Kind, "tick %d", i)
		assert.Less(t, ev.Time-open, int64(60))
		assert.Equal(t, open, ev.Candle.Time)
	}

	ev := m.Step()
	assert.Equal(t, EventNewCandle, ev.Kind)
	assert.Equal(t, open+60, ev.Time)
	assert.Equal(t, ev.Time, ev.Candle.Time)
	assert.Equal(t, ev.Price, ev.Candle.Open)

	candles := m.Candles()
	require.Len(t, candles, 2)
	// the finalized candle closed on the price that opened the next one
	assert.Equal(t, ev.Price, candles[0].Close)
}

func TestSyntheticCandleTracksExtremes(t *testing.T) {
	t.Parallel()

	m := newTestMarket(3, 1000)
	var hi, lo float64
	var open float64
	for i := 0; i < 300; i++ {
		ev := m.Step()
		if i == 0 {
			open, hi, lo = ev.Price, ev.Price, ev.Price
			continue
		}
		if ev.Price > hi {
			hi = ev.Price
		}
		if ev.Price < lo {
			lo = ev.Price
		}
		assert.Equal(t, open, ev.Candle.Open)
		assert.Equal(t, hi, ev.Candle.High)
		assert.Equal(t, lo, ev.Candle.Low)
		assert.Equal(t, ev.Price, ev.Candle.Close)
	}
}

func TestSyntheticDeterministicWithSeed(t *testing.T) {
	t.Parallel()

	a := newTestMarket(42, 60)
	b := newTestMarket(42, 60)
	for i := 0; i < 500; i++ {
		ea, eb := a.Step(), b.Step()
		require.Equal(t, ea, eb, "tick %d", i)
	}

	c := newTestMarket(43, 60)
	diverged := false
	a = newTestMarket(42, 60)
	for i := 0; i < 50; i++ {
		if a.Step().Price != c.Step().Price {
			diverged = true
			break
		}
	}
	assert.True(t, diverged)
}

func TestSyntheticHistoryCap(t *testing.T) {
	t.Parallel()

	m := NewSynthetic(SyntheticConfig{
		CandleSeconds: 1,
		HistoryCap:    10,
		StartTime:     testStart,
	}, NewRand(5))

	var last Event
	for i := 0; i < 100; i++ {
		last = m.Step()
	}
	candles := m.Candles()
	assert.Len(t, candles, 10)
	assert.Equal(t, last.Time, candles[len(candles)-1].Time)
	for i := 1; i < len(candles); i++ {
		assert.Greater(t, candles[i].Time, candles[i-1].Time)
	}
	assert.Equal(t, last.Price, m.Price())
}

func TestSyntheticRegimeSwitches(t *testing.T) {
	t.Parallel()

	m := newTestMarket(11, 60)
	seen := map[Regime]bool{}
	for i := 0; i < 20000; i++ {
		seen[m.Step().Regime] = true
	}
	for _, r := range []Regime{RegimeNeutral, RegimeTrendUp, RegimeTrendDown, RegimeHighVol} {
		assert.True(t, seen[r], "regime %s never drawn", r)
	}
}

func TestDrawRegimeDurations(t *testing.T) {
	t.Parallel()

	r := NewRand(99)
	for i := 0; i < 5000; i++ {
		g, ttl := drawRegime(r)
		switch g {
		case RegimeTrendUp, RegimeTrendDown:
			assert.GreaterOrEqual(t, ttl, 40)
			assert.Less(t, ttl, 130)
		case RegimeHighVol:
			assert.GreaterOrEqual(t, ttl, 30)
			assert.Less(t, ttl, 100)
		case RegimeNeutral:
			assert.GreaterOrEqual(t, ttl, 30)
			assert.Less(t, ttl, 110)
		default:
			t.Fatalf("unexpected regime %q", g)
		}
	}
}

func TestRegimeBiasAndVol(t *testing.T) {
	t.Parallel()

	assert.Equal(t, trendBias, RegimeTrendUp.Bias())
	assert.Equal(t, -trendBias, RegimeTrendDown.Bias())
	assert.Equal(t, 0.0, RegimeHighVol.Bias())
	assert.Equal(t, 1.8, RegimeHighVol.VolMultiplier())
	assert.Equal(t, 1.0, RegimeNeutral.VolMultiplier())
}

func TestParseSpeed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		want     Speed
		interval time.Duration
		wantErr  bool
	}{
		{"fast", SpeedFast, 250 * time.Millisecond, false},
		{"medium", SpeedMedium, time.Second, false},
		{"slow", SpeedSlow, 2 * time.Second, false},
		{"", SpeedMedium, time.Second, false},
		{"ludicrous", "", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSpeed(tt.in)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.interval, got.Interval())
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) sink(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestSyntheticStartStop(t *testing.T) {
	t.Parallel()

	m := newTestMarket(1, 60)
	rec := &eventRecorder{}

	require.NoError(t, m.Start(context.Background(), rec.sink))
	assert.True(t, m.Running())
	assert.ErrorIs(t, m.Start(context.Background(), rec.sink), ErrMarketRunning)

	require.Eventually(t, func() bool { return rec.len() >= 5 }, 2*time.Second, time.Millisecond)
	m.Stop()
	assert.False(t, m.Running())

	events := rec.snapshot()
	init := events[0]
	assert.Equal(t, EventInit, init.Kind)
	// 140 prerun ticks with 60s candles: 3 candles (0-59, 60-119, 120-139)
	assert.Len(t, init.Candles, 3)
	assert.Equal(t, testStart+DefaultPrerun, init.Time)

	for i, ev := range events[1:] {
		assert.Equal(t, init.Time+int64(i)+1, ev.Time)
		assert.NotEqual(t, EventInit, ev.Kind)
	}

	after := rec.len()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, rec.len(), "no events after Stop")

	// stopping twice is harmless, restarting works
	m.Stop()
	require.NoError(t, m.Start(context.Background(), rec.sink))
	m.Stop()
}

func TestSyntheticStartNilSink(t *testing.T) {
	t.Parallel()

	m := newTestMarket(1, 60)
	assert.ErrorIs(t, m.Start(context.Background(), nil), ErrMarketUnavailable)
}

func TestSyntheticContextCancelStopsTicks(t *testing.T) {
	t.Parallel()

	m := newTestMarket(1, 60)
	rec := &eventRecorder{}
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, m.Start(ctx, rec.sink))
	require.Eventually(t, func() bool { return rec.len() >= 2 }, 2*time.Second, time.Millisecond)
	cancel()
	m.Stop()

	n := rec.len()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, rec.len())
}

func TestSyntheticProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("price stays positive after every tick", prop.ForAll(
		func(seed int64, seedPrice float64) bool {
			m := NewSynthetic(SyntheticConfig{SeedPrice: seedPrice, StartTime: testStart}, NewRand(seed))
			for i := 0; i < 2000; i++ {
				if ev := m.Step(); !(ev.Price > 0) {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.Float64Range(0.05, 1e6),
	))

	properties.Property("new_candle exactly when age reaches candle duration", prop.ForAll(
		func(seed int64, candleSeconds int64) bool {
			m := NewSynthetic(SyntheticConfig{CandleSeconds: candleSeconds, StartTime: testStart}, NewRand(seed))
			var open int64
			for i := 0; i < 1000; i++ {
				ev := m.Step()
				switch ev.Kind {
				case EventCandle:
					if i != 0 {
						return false
					}
					open = ev.Time
				case EventUpdate:
					if ev.Time-open >= candleSeconds {
						return false
					}
				case EventNewCandle:
					if ev.Time-open < candleSeconds {
						return false
					}
					open = ev.Time
				default:
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.Int64Range(1, 120),
	))

	properties.TestingRun(t)
}
