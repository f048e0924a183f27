package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/papertrader/portfolio"
)

const tradeColumns = `trade_id, symbol, side, qty, price, notional, fee, realized_pnl, time`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (portfolio.Trade, error) {
	var (
		t    portfolio.Trade
		side string
	)
	err := s.Scan(&t.ID, &t.Symbol, &side, &t.Quantity, &t.Price, &t.Notional, &t.Fee, &t.RealizedPnL, &t.Time)
	t.Side = portfolio.Side(side)
	return t, err
}

// GetTrade returns a single trade by ID.
func (j *SQLite) GetTrade(ctx context.Context, tradeID string) (portfolio.Trade, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE trade_id = ?`, tradeID)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return portfolio.Trade{}, fmt.Errorf("%w: %q", ErrTradeNotFound, tradeID)
		}
		return portfolio.Trade{}, err
	}
	return t, nil
}

// ListTrades returns trades executed within [start, end), oldest first.
// A zero end means no upper bound.
func (j *SQLite) ListTrades(ctx context.Context, start, end time.Time) ([]portfolio.Trade, error) {
	if end.IsZero() {
		end = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE time >= ? AND time < ?
		ORDER BY time ASC, trade_id ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []portfolio.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEquity returns equity snapshots within [start, end), oldest first.
func (j *SQLite) ListEquity(ctx context.Context, start, end time.Time) ([]EquitySnapshot, error) {
	if end.IsZero() {
		end = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT time, cash, equity, exposure, unrealized_pnl, realized_pnl
		FROM equity
		WHERE time >= ? AND time < ?
		ORDER BY time ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(&e.Time, &e.Cash, &e.Equity, &e.Exposure, &e.UnrealizedPnL, &e.RealizedPnL); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats summarizes the realized side of the journal.
type Stats struct {
	Trades       int
	Wins         int
	Losses       int
	GrossProfit  float64
	GrossLoss    float64
	ProfitFactor float64
	Fees         float64
}

func (j *SQLite) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := j.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN realized_pnl < 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN realized_pnl ELSE 0 END), 0),
			COALESCE(-SUM(CASE WHEN realized_pnl < 0 THEN realized_pnl ELSE 0 END), 0),
			COALESCE(SUM(fee), 0)
		FROM trades`).Scan(&s.Trades, &s.Wins, &s.Losses, &s.GrossProfit, &s.GrossLoss, &s.Fees)
	if err != nil {
		return Stats{}, fmt.Errorf("journal: stats: %w", err)
	}
	if s.GrossLoss > 0 {
		s.ProfitFactor = s.GrossProfit / s.GrossLoss
	}
	return s, nil
}
