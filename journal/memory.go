package journal

import (
	"context"
	"sync"

	"github.com/rustyeddy/papertrader/portfolio"
)

// Memory is a Store and Journal that lives only as long as the process.
type Memory struct {
	mu     sync.Mutex
	state  *portfolio.State
	trades []portfolio.Trade
	equity []EquitySnapshot
	saves  int
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(ctx context.Context) (*portfolio.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, nil
	}
	st := cloneState(*m.state)
	return &st, nil
}

func (m *Memory) Save(ctx context.Context, s portfolio.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st := cloneState(s)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &st
	m.saves++
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = nil
	m.trades = nil
	m.equity = nil
	return nil
}

func (m *Memory) RecordTrade(t portfolio.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, have := range m.trades {
		if have.ID == t.ID {
			return nil
		}
	}
	m.trades = append(m.trades, t)
	return nil
}

func (m *Memory) RecordEquity(e EquitySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = append(m.equity, e)
	return nil
}

func (m *Memory) Close() error { return nil }

// Trades returns the recorded trades, oldest first.
func (m *Memory) Trades() []portfolio.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]portfolio.Trade(nil), m.trades...)
}

func (m *Memory) Equity() []EquitySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EquitySnapshot(nil), m.equity...)
}

// Saves counts successful Save calls.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func cloneState(s portfolio.State) portfolio.State {
	out := s
	out.Positions = make(map[string]portfolio.Position, len(s.Positions))
	for k, v := range s.Positions {
		out.Positions[k] = v
	}
	out.Trades = append([]portfolio.Trade(nil), s.Trades...)
	return out
}
