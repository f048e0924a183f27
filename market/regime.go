package market

// Regime is a temporary bias applied to drift and volatility.
type Regime string

const (
	RegimeNeutral   Regime = "neutral"
	RegimeTrendUp   Regime = "trend_up"
	RegimeTrendDown Regime = "trend_down"
	RegimeHighVol   Regime = "high_vol"
)

const (
	trendBias         = 0.0012
	highVolMultiplier = 1.8
)

// drawRegime picks the next regime and how many ticks it lasts.
//
//	trend_up   25%  40..129 ticks
//	trend_down 25%  40..129 ticks
//	high_vol   20%  30..99 ticks
//	neutral    30%  30..109 ticks
func drawRegime(r *Rand) (Regime, int) {
	u := r.Float64()
	switch {
	case u < 0.25:
		return RegimeTrendUp, 40 + r.Intn(90)
	case u < 0.50:
		return RegimeTrendDown, 40 + r.Intn(90)
	case u < 0.70:
		return RegimeHighVol, 30 + r.Intn(70)
	default:
		return RegimeNeutral, 30 + r.Intn(80)
	}
}

// Bias returns the additive drift term for the regime.
func (g Regime) Bias() float64 {
	switch g {
	case RegimeTrendUp:
		return trendBias
	case RegimeTrendDown:
		return -trendBias
	}
	return 0
}

// VolMultiplier returns the factor applied to the rolling volatility.
func (g Regime) VolMultiplier() float64 {
	if g == RegimeHighVol {
		return highVolMultiplier
	}
	return 1
}
