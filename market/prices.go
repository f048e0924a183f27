package market

import (
	"errors"
	"math"
	"sync"
	"time"
)

var ErrPriceNotFound = errors.New("price not found")

// PriceSource is the oracle boundary: the current price for a symbol, or
// false when nothing usable has arrived yet.
type PriceSource interface {
	Price(symbol string) (float64, bool)
}

// Quote is the last known price for a symbol.
type Quote struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"time"`
}

// PriceStore caches the latest quote per symbol. It is fed by the
// synthetic market and the live poller and read by the ledger.
type PriceStore struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewPriceStore() *PriceStore {
	return &PriceStore{quotes: make(map[string]Quote)}
}

// Set stores a quote. Non-finite or non-positive prices are ignored so
// a bad feed value never replaces a good one.
func (ps *PriceStore) Set(q Quote) bool {
	if !usable(q.Price) {
		return false
	}
	if q.Time.IsZero() {
		q.Time = time.Now()
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.quotes[q.Symbol] = q
	return true
}

func (ps *PriceStore) Get(symbol string) (Quote, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	q, ok := ps.quotes[symbol]
	if !ok {
		return Quote{}, ErrPriceNotFound
	}
	return q, nil
}

func (ps *PriceStore) Price(symbol string) (float64, bool) {
	q, err := ps.Get(symbol)
	if err != nil {
		return 0, false
	}
	return q.Price, true
}

// Quotes returns a copy of every cached quote.
func (ps *PriceStore) Quotes() map[string]Quote {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make(map[string]Quote, len(ps.quotes))
	for k, v := range ps.quotes {
		out[k] = v
	}
	return out
}

// StaticPrices is a fixed PriceSource, handy for what-if valuations.
type StaticPrices map[string]float64

func (sp StaticPrices) Price(symbol string) (float64, bool) {
	p, ok := sp[symbol]
	if !ok || !usable(p) {
		return 0, false
	}
	return p, true
}

func usable(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}
