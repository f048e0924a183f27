package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

var (
	ErrMarketRunning     = errors.New("market already running")
	ErrMarketUnavailable = errors.New("market unavailable")
)

const (
	DefaultSeedPrice     = 1000.0
	DefaultCandleSeconds = 60
	DefaultPrerun        = 140
	DefaultHistoryCap    = 400

	// MinPrice is the floor the synthetic price is clamped to.
	MinPrice = 0.01

	initialVol = 0.012

	trendStep = 0.00035
	trendMax  = 0.003
	volStep   = 0.00015
	volMin    = 0.004
	volMax    = 0.03
	pullRate  = 0.00035
)

// Speed controls how much wall-clock time one simulated second takes.
type Speed string

const (
	SpeedFast   Speed = "fast"
	SpeedMedium Speed = "medium"
	SpeedSlow   Speed = "slow"
)

// ParseSpeed validates s. An empty string means medium.
func ParseSpeed(s string) (Speed, error) {
	switch Speed(s) {
	case SpeedFast, SpeedMedium, SpeedSlow:
		return Speed(s), nil
	case "":
		return SpeedMedium, nil
	}
	return "", fmt.Errorf("unknown speed %q (want fast|medium|slow)", s)
}

// Interval returns the tick period for the speed.
func (s Speed) Interval() time.Duration {
	switch s {
	case SpeedFast:
		return 250 * time.Millisecond
	case SpeedSlow:
		return 2 * time.Second
	}
	return time.Second
}

type EventKind string

const (
	EventInit      EventKind = "init"
	EventCandle    EventKind = "candle"
	EventUpdate    EventKind = "update"
	EventNewCandle EventKind = "new_candle"
)

// Event is emitted by the synthetic market on start and on every tick.
// Init events carry the full history in Candles, tick events carry the
// active candle in Candle.
type Event struct {
	Kind    EventKind `json:"kind"`
	Symbol  string    `json:"symbol"`
	Time    int64     `json:"time"`
	Price   float64   `json:"price"`
	Regime  Regime    `json:"regime"`
	Candle  *Candle   `json:"candle,omitempty"`
	Candles []Candle  `json:"candles,omitempty"`
}

// Sink receives market events. It is called from the tick goroutine and
// must not call Stop on the market that is delivering to it.
type Sink func(Event)

// SyntheticConfig configures a synthetic market. Zero values take defaults.
type SyntheticConfig struct {
	Symbol        string
	SeedPrice     float64
	CandleSeconds int64
	Speed         Speed
	Prerun        int
	HistoryCap    int

	// StartTime is the simulated unix second before the first tick.
	// Defaults to the current wall clock.
	StartTime int64

	// Interval overrides the speed derived tick period.
	Interval time.Duration
}

func (c SyntheticConfig) withDefaults() SyntheticConfig {
	if c.Symbol == "" {
		c.Symbol = FakeSymbol
	}
	if c.SeedPrice <= 0 {
		c.SeedPrice = DefaultSeedPrice
	}
	if c.CandleSeconds <= 0 {
		c.CandleSeconds = DefaultCandleSeconds
	}
	if c.Speed == "" {
		c.Speed = SpeedMedium
	}
	if c.Prerun <= 0 {
		c.Prerun = DefaultPrerun
	}
	if c.HistoryCap <= 0 {
		c.HistoryCap = DefaultHistoryCap
	}
	if c.StartTime == 0 {
		c.StartTime = time.Now().Unix()
	}
	if c.Interval <= 0 {
		c.Interval = c.Speed.Interval()
	}
	return c
}

// Synthetic generates a never-real, continuously evolving price series
// and the matching OHLC candles.
type Synthetic struct {
	mu  sync.Mutex
	cfg SyntheticConfig
	rng *Rand

	t         int64
	price     float64
	trend     float64
	vol       float64
	regime    Regime
	regimeTTL int

	// candles holds the completed candles followed by the active one.
	candles []Candle

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSynthetic creates a synthetic market driven by rng.
func NewSynthetic(cfg SyntheticConfig, rng *Rand) *Synthetic {
	cfg = cfg.withDefaults()
	return &Synthetic{
		cfg:    cfg,
		rng:    rng,
		t:      cfg.StartTime,
		price:  cfg.SeedPrice,
		vol:    initialVol,
		regime: RegimeNeutral,
	}
}

func (s *Synthetic) Symbol() string { return s.cfg.Symbol }

func (s *Synthetic) Price() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price
}

func (s *Synthetic) Regime() Regime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regime
}

// Candles returns a copy of the candle history, oldest first.
func (s *Synthetic) Candles() []Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Candle(nil), s.candles...)
}

// Step advances simulated time by one second.
func (s *Synthetic) Step() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepLocked()
}

func (s *Synthetic) maybeSwitchRegimeLocked() {
	if s.regimeTTL > 0 {
		s.regimeTTL--
		return
	}
	s.regime, s.regimeTTL = drawRegime(s.rng)
}

func (s *Synthetic) stepLocked() Event {
	s.t++
	s.maybeSwitchRegimeLocked()

	s.trend = clamp(s.trend+trendStep*s.rng.Norm(), -trendMax, trendMax)
	s.vol = clamp(s.vol+volStep*s.rng.Norm(), volMin, volMax)

	drift := s.trend + s.regime.Bias()
	vol := s.vol * s.regime.VolMultiplier()

	pull := (s.cfg.SeedPrice - s.price) / s.cfg.SeedPrice
	drift += pullRate * pull

	next := s.price * math.Exp(drift+vol*s.rng.Norm())
	if math.IsInf(next, 1) {
		next = math.MaxFloat64
	}
	s.price = math.Max(next, MinPrice)

	if len(s.candles) == 0 {
		s.candles = append(s.candles, newCandle(s.t, s.price))
		return s.eventLocked(EventCandle)
	}

	cur := &s.candles[len(s.candles)-1]
	cur.Apply(s.price)

	if cur.Age(s.t) >= s.cfg.CandleSeconds {
		s.candles = append(s.candles, newCandle(s.t, s.price))
		if n := len(s.candles); n > s.cfg.HistoryCap {
			s.candles = append([]Candle(nil), s.candles[n-s.cfg.HistoryCap:]...)
		}
		return s.eventLocked(EventNewCandle)
	}
	return s.eventLocked(EventUpdate)
}

func (s *Synthetic) eventLocked(kind EventKind) Event {
	ev := Event{
		Kind:   kind,
		Symbol: s.cfg.Symbol,
		Time:   s.t,
		Price:  s.price,
		Regime: s.regime,
	}
	if kind == EventInit {
		ev.Candles = append([]Candle(nil), s.candles...)
		return ev
	}
	c := s.candles[len(s.candles)-1]
	ev.Candle = &c
	return ev
}

// Start resets the candle history, pre-runs the configured number of
// ticks, emits an init event and then one event per tick until Stop is
// called or ctx is done.
func (s *Synthetic) Start(ctx context.Context, sink Sink) error {
	if sink == nil {
		return fmt.Errorf("start %s: %w: nil sink", s.cfg.Symbol, ErrMarketUnavailable)
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrMarketRunning
	}
	s.candles = nil
	for i := 0; i < s.cfg.Prerun; i++ {
		s.stepLocked()
	}
	init := s.eventLocked(EventInit)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	sink(init)

	go s.loop(ctx, sink, done)
	return nil
}

func (s *Synthetic) loop(ctx context.Context, sink Sink, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// a cancelled market must not emit, even if the tick raced it
			if ctx.Err() != nil {
				return
			}
			sink(s.Step())
		}
	}
}

// Stop cancels future ticks and waits for the tick goroutine to exit.
// An in-flight tick is allowed to finish.
func (s *Synthetic) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the tick goroutine is active.
func (s *Synthetic) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func clamp(n, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, n))
}
