package portfolio

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/pkg/id"
	"github.com/rustyeddy/papertrader/risk"
)

// cashEpsilon absorbs float noise when a buy spends exactly all cash.
const cashEpsilon = 1e-9

const DefaultStartingCash = 10000.0

// TradeListener is notified after a trade is committed and the ledger
// lock has been released.
type TradeListener interface {
	OnTrade(Trade)
}

// Fill is the priced result of an order before it touches the ledger.
type Fill struct {
	Side     Side
	Market   float64
	Price    float64
	Notional float64
	Fee      float64
}

// Cost is what a buy debits from cash.
func (f Fill) Cost() float64 { return f.Notional + f.Fee }

// Proceeds is what a sell credits to cash.
func (f Fill) Proceeds() float64 { return f.Notional - f.Fee }

// Quote prices qty at the market price under the given settings:
// slippage moves the execution price against the trader, the fee is
// charged on the executed notional.
func Quote(side Side, qty, marketPrice float64, s risk.Settings) Fill {
	exec := marketPrice * (1 + s.SlippageRate())
	if side == Sell {
		exec = marketPrice * (1 - s.SlippageRate())
	}
	notional := exec * qty
	return Fill{
		Side:     side,
		Market:   marketPrice,
		Price:    exec,
		Notional: notional,
		Fee:      notional * s.FeeRate(),
	}
}

type Option func(*Ledger)

// WithClock overrides the time source used to stamp trades.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDs overrides the trade id source.
func WithIDs(src *id.Source) Option {
	return func(l *Ledger) { l.ids = src }
}

// Ledger holds cash, positions and the trade history. Every mutation
// validates fully before it writes; a rejected order changes nothing.
type Ledger struct {
	mu           sync.Mutex
	startingCash float64
	cash         float64
	positions    map[string]*Position
	trades       []Trade

	now      func() time.Time
	ids      *id.Source
	listener TradeListener
}

func NewLedger(startingCash float64, opts ...Option) *Ledger {
	if !finite(startingCash) || startingCash < 0 {
		startingCash = DefaultStartingCash
	}
	l := &Ledger{
		startingCash: startingCash,
		cash:         startingCash,
		positions:    make(map[string]*Position),
		now:          time.Now,
		ids:          id.NewSource(0),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) SetTradeListener(listener TradeListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listener = listener
}

func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

func (l *Ledger) StartingCash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startingCash
}

// Position returns a copy of the position for symbol; flat if unknown.
func (l *Ledger) Position(symbol string) Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.positions[symbol]; ok {
		return *p
	}
	return Position{}
}

// Symbols returns every symbol that has a position entry, sorted.
func (l *Ledger) Symbols() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.symbolsLocked()
}

func (l *Ledger) symbolsLocked() []string {
	out := make([]string, 0, len(l.positions))
	for s := range l.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Trades returns the history, newest first.
func (l *Ledger) Trades() []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Trade(nil), l.trades...)
}

func (l *Ledger) Buy(symbol string, qty float64, s risk.Settings, prices market.PriceSource) (Trade, error) {
	return l.execute(Buy, symbol, qty, s, prices)
}

func (l *Ledger) Sell(symbol string, qty float64, s risk.Settings, prices market.PriceSource) (Trade, error) {
	return l.execute(Sell, symbol, qty, s, prices)
}

// Execute dispatches on side.
func (l *Ledger) Execute(side Side, symbol string, qty float64, s risk.Settings, prices market.PriceSource) (Trade, error) {
	switch side {
	case Buy, Sell:
		return l.execute(side, symbol, qty, s, prices)
	}
	return Trade{}, fmt.Errorf("execute: unknown side %q", side)
}

func (l *Ledger) execute(side Side, symbol string, qty float64, s risk.Settings, prices market.PriceSource) (Trade, error) {
	op := "buy"
	if side == Sell {
		op = "sell"
	}

	if !finite(qty) || qty <= 0 {
		return Trade{}, fmt.Errorf("%s %s: %w: %v", op, symbol, ErrInvalidQuantity, qty)
	}
	mkt, ok := prices.Price(symbol)
	if !ok || !finite(mkt) || mkt <= 0 {
		return Trade{}, fmt.Errorf("%s %s: %w", op, symbol, ErrPriceUnavailable)
	}

	fill := Quote(side, qty, mkt, s)

	l.mu.Lock()

	held := 0.0
	if p, ok := l.positions[symbol]; ok {
		held = p.Quantity
	}

	cashAfter := l.cash + fill.Proceeds()
	if side == Buy {
		cashAfter = l.cash - fill.Cost()
	}

	if !s.ShortAllowed() {
		switch {
		case side == Buy && fill.Cost() > l.cash+cashEpsilon:
			l.mu.Unlock()
			return Trade{}, fmt.Errorf("%s %s: %w: cost %.2f > cash %.2f", op, symbol, ErrInsufficientCash, fill.Cost(), l.cash)
		case side == Sell && (held <= 0 || qty > held+qtyEpsilon):
			l.mu.Unlock()
			return Trade{}, fmt.Errorf("%s %s: %w: qty %v > held %v", op, symbol, ErrInsufficientHoldings, qty, held)
		}
	} else {
		book := l.bookLocked()
		if side == Buy {
			book[symbol] += qty
		} else {
			book[symbol] -= qty
		}
		if err := risk.CheckMargin(cashAfter, book, prices, s.Leverage()).Err(); err != nil {
			l.mu.Unlock()
			return Trade{}, fmt.Errorf("%s %s: %w", op, symbol, err)
		}
	}

	// validation done, commit
	pos := l.ensureLocked(symbol)
	var realized float64
	if side == Buy {
		realized = pos.buy(qty, fill.Price)
	} else {
		realized = pos.sell(qty, fill.Price)
	}
	l.cash = cashAfter

	now := l.now()
	t := Trade{
		ID:          l.ids.At(now),
		Time:        now,
		Symbol:      symbol,
		Side:        side,
		Quantity:    qty,
		Price:       fill.Price,
		Notional:    fill.Notional,
		Fee:         fill.Fee,
		RealizedPnL: realized,
	}
	l.trades = prependTrade(l.trades, t)

	listener := l.listener
	l.mu.Unlock()

	if listener != nil {
		listener.OnTrade(t)
	}
	return t, nil
}

func (l *Ledger) ensureLocked(symbol string) *Position {
	p, ok := l.positions[symbol]
	if !ok {
		p = &Position{}
		l.positions[symbol] = p
	}
	return p
}

// bookLocked copies the signed quantities into a scratch book.
func (l *Ledger) bookLocked() risk.Book {
	book := make(risk.Book, len(l.positions)+1)
	for s, p := range l.positions {
		book[s] = p.Quantity
	}
	return book
}

// Reset wipes positions and trades and restarts from startingCash.
func (l *Ledger) Reset(startingCash float64) error {
	if !finite(startingCash) || startingCash < 0 {
		return fmt.Errorf("reset: %w: starting cash %v", ErrInvalidState, startingCash)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startingCash = startingCash
	l.cash = startingCash
	l.positions = make(map[string]*Position)
	l.trades = nil
	return nil
}

// CheckInvariants asserts the ledger is consistent with the settings:
// cash is finite, and a short position only exists while shorting is on.
func (l *Ledger) CheckInvariants(s risk.Settings) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !finite(l.cash) {
		return fmt.Errorf("%w: cash is %v", ErrInvalidState, l.cash)
	}
	for _, sym := range l.symbolsLocked() {
		p := l.positions[sym]
		if !finite(p.Quantity) || !finite(p.AvgPrice) {
			return fmt.Errorf("%w: position %s is not finite", ErrInvalidState, sym)
		}
		if p.Quantity == 0 && p.AvgPrice != 0 {
			return fmt.Errorf("%w: flat position %s has avg price %v", ErrInvalidState, sym, p.AvgPrice)
		}
		if p.IsShort() && !s.ShortAllowed() {
			return fmt.Errorf("%s: %w", sym, ErrShortWithoutMargin)
		}
	}
	if !s.ShortAllowed() && l.cash < -cashEpsilon {
		return fmt.Errorf("%w: negative cash %v without shorting", ErrInvalidState, l.cash)
	}
	return nil
}

// QuickQuantity sizes a quick order as a fraction of what is available:
// buys spend a fraction of cash at price, sells a fraction of the open
// quantity for symbol.
func (l *Ledger) QuickQuantity(side Side, symbol string, fraction, price float64) (float64, error) {
	if !finite(fraction) || fraction <= 0 || fraction > 1 {
		return 0, fmt.Errorf("quick %s: %w: fraction %v", side, ErrInvalidQuantity, fraction)
	}
	if side == Sell {
		return math.Abs(l.Position(symbol).Quantity) * fraction, nil
	}
	if !finite(price) || price <= 0 {
		return 0, fmt.Errorf("quick %s: %w", side, ErrPriceUnavailable)
	}
	return l.Cash() * fraction / price, nil
}

// QuantityFromAmount converts a cash amount to a quantity at price.
func QuantityFromAmount(amount, price float64) (float64, error) {
	if !finite(price) || price <= 0 {
		return 0, ErrPriceUnavailable
	}
	if !finite(amount) || amount <= 0 {
		return 0, ErrInvalidQuantity
	}
	return amount / price, nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
