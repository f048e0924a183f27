package portfolio

import "math"

// qtyEpsilon absorbs float noise when a position is closed exactly.
const qtyEpsilon = 1e-12

// Position is the open quantity for one symbol. Quantity is signed:
// positive long, negative short, zero flat. AvgPrice is the cost basis of
// the open quantity and is zero whenever the position is flat.
type Position struct {
	Quantity    float64 `json:"qty"`
	AvgPrice    float64 `json:"avg_price"`
	RealizedPnL float64 `json:"realized_pnl"`
}

func (p Position) IsFlat() bool  { return p.Quantity == 0 }
func (p Position) IsLong() bool  { return p.Quantity > 0 }
func (p Position) IsShort() bool { return p.Quantity < 0 }

// UnrealizedPnL marks the open quantity to price.
func (p Position) UnrealizedPnL(price float64) float64 {
	switch {
	case p.IsLong():
		return (price - p.AvgPrice) * p.Quantity
	case p.IsShort():
		return (p.AvgPrice - price) * -p.Quantity
	}
	return 0
}

// buy applies a filled buy of qty at exec and returns the P&L it realized.
// A short is covered first; any remainder opens a long at exec.
func (p *Position) buy(qty, exec float64) float64 {
	var realized float64
	if p.Quantity < 0 {
		cover := math.Min(qty, -p.Quantity)
		realized = (p.AvgPrice - exec) * cover
		p.Quantity += cover

		if rem := qty - cover; rem > qtyEpsilon {
			p.Quantity = rem
			p.AvgPrice = exec
		} else if math.Abs(p.Quantity) < qtyEpsilon {
			p.flatten()
		}
	} else {
		next := p.Quantity + qty
		p.AvgPrice = (p.Quantity*p.AvgPrice + qty*exec) / next
		p.Quantity = next
	}
	p.RealizedPnL += realized
	return realized
}

// sell mirrors buy: a long is reduced first, the remainder opens or
// extends a short averaged on the absolute quantity.
func (p *Position) sell(qty, exec float64) float64 {
	var realized float64
	switch {
	case p.Quantity > 0:
		sold := math.Min(qty, p.Quantity)
		realized = (exec - p.AvgPrice) * sold
		p.Quantity -= sold

		if rem := qty - sold; rem > qtyEpsilon {
			p.Quantity = -rem
			p.AvgPrice = exec
		} else if p.Quantity <= qtyEpsilon {
			p.flatten()
		}
	case p.Quantity < 0:
		held := -p.Quantity
		next := held + qty
		p.AvgPrice = (held*p.AvgPrice + qty*exec) / next
		p.Quantity = -next
	default:
		p.Quantity = -qty
		p.AvgPrice = exec
	}
	p.RealizedPnL += realized
	return realized
}

func (p *Position) flatten() {
	p.Quantity = 0
	p.AvgPrice = 0
}
