package risk

import (
	"errors"
	"fmt"
	"math"
)

const (
	DefaultMaxLeverage = 2.0

	// bps values are capped below 100% of notional
	maxBps = 10000
)

var ErrInvalidParameters = errors.New("invalid risk parameters")

// Settings holds the advanced trading switches. Everything but Advanced
// is inert until advanced mode is on; the effective accessors gate them.
type Settings struct {
	Advanced    bool    `json:"advanced" yaml:"advanced"`
	AllowShort  bool    `json:"allow_short" yaml:"allow_short"`
	MaxLeverage float64 `json:"max_leverage" yaml:"max_leverage"`
	FeeBps      float64 `json:"fee_bps" yaml:"fee_bps"`
	SlippageBps float64 `json:"slippage_bps" yaml:"slippage_bps"`

	// LastLeverage remembers the leverage configured through
	// SetParameters so re-enabling advanced mode can restore it.
	LastLeverage float64 `json:"last_leverage,omitempty" yaml:"last_leverage,omitempty"`
}

// Parameters is the advanced panel as submitted by a user.
type Parameters struct {
	AllowShort  bool    `json:"allow_short"`
	MaxLeverage float64 `json:"max_leverage"`
	FeeBps      float64 `json:"fee_bps"`
	SlippageBps float64 `json:"slippage_bps"`
}

// DefaultSettings is advanced mode off with the default leverage remembered.
func DefaultSettings() Settings {
	return Settings{MaxLeverage: DefaultMaxLeverage, LastLeverage: DefaultMaxLeverage}
}

// SetAdvanced toggles advanced mode. Turning it off zeroes fees and
// slippage, disables shorting and pins leverage to 1 so nothing risky
// survives the toggle. Turning it on restores the configured leverage,
// or the default when none is usable.
func (s *Settings) SetAdvanced(on bool) {
	s.Advanced = on
	if !on {
		s.AllowShort = false
		s.FeeBps = 0
		s.SlippageBps = 0
		s.MaxLeverage = 1
		return
	}
	switch {
	case validLeverage(s.LastLeverage):
		s.MaxLeverage = s.LastLeverage
	case !validLeverage(s.MaxLeverage):
		s.MaxLeverage = DefaultMaxLeverage
	}
}

// SetParameters validates and stores p.
func (s *Settings) SetParameters(p Parameters) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.AllowShort = p.AllowShort
	s.MaxLeverage = p.MaxLeverage
	s.LastLeverage = p.MaxLeverage
	s.FeeBps = p.FeeBps
	s.SlippageBps = p.SlippageBps
	return nil
}

func (p Parameters) Validate() error {
	if !validLeverage(p.MaxLeverage) {
		return fmt.Errorf("%w: max leverage %v must be >= 1", ErrInvalidParameters, p.MaxLeverage)
	}
	if err := checkBps("fee", p.FeeBps); err != nil {
		return err
	}
	return checkBps("slippage", p.SlippageBps)
}

func checkBps(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v >= maxBps {
		return fmt.Errorf("%w: %s bps %v must be in [0, %d)", ErrInvalidParameters, name, v, maxBps)
	}
	return nil
}

// ShortAllowed reports whether shorting is effective.
func (s Settings) ShortAllowed() bool {
	return s.Advanced && s.AllowShort
}

// FeeRate is FeeBps/10000 in advanced mode, 0 otherwise.
func (s Settings) FeeRate() float64 {
	if !s.Advanced {
		return 0
	}
	return rate(s.FeeBps)
}

// SlippageRate is SlippageBps/10000 in advanced mode, 0 otherwise.
func (s Settings) SlippageRate() float64 {
	if !s.Advanced {
		return 0
	}
	return rate(s.SlippageBps)
}

// Leverage is the effective leverage cap: MaxLeverage when advanced and
// sane, 1 otherwise.
func (s Settings) Leverage() float64 {
	if s.Advanced && validLeverage(s.MaxLeverage) {
		return s.MaxLeverage
	}
	return 1
}

func rate(bps float64) float64 {
	if math.IsNaN(bps) || bps < 0 {
		return 0
	}
	return bps / 10000
}

func validLeverage(v float64) bool {
	return v >= 1 && !math.IsInf(v, 0)
}
