package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/papertrader/portfolio"
)

// SQLite keeps the trade journal, equity curve and the saved portfolio
// state in one database file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	// sqlite serializes writers anyway; one connection keeps :memory: dbs shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// RecordTrade stores t. Recording the same trade id twice is a no-op.
func (j *SQLite) RecordTrade(t portfolio.Trade) error {
	_, err := j.db.Exec(`
		INSERT OR IGNORE INTO trades
		(trade_id, symbol, side, qty, price, notional, fee, realized_pnl, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Symbol, string(t.Side), t.Quantity, t.Price,
		t.Notional, t.Fee, t.RealizedPnL, t.Time.UTC(),
	)
	if err != nil {
		return fmt.Errorf("journal: record trade %s: %w", t.ID, err)
	}
	return nil
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(time, cash, equity, exposure, unrealized_pnl, realized_pnl)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Time.UTC(), e.Cash, e.Equity, e.Exposure, e.UnrealizedPnL, e.RealizedPnL,
	)
	if err != nil {
		return fmt.Errorf("journal: record equity: %w", err)
	}
	return nil
}

func (j *SQLite) Load(ctx context.Context) (*portfolio.State, error) {
	var body string
	err := j.db.QueryRowContext(ctx, `SELECT body FROM state WHERE id = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: load state: %w", err)
	}

	var s portfolio.State
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return nil, fmt.Errorf("journal: decode state: %w", err)
	}
	s.Migrate()
	return &s, nil
}

func (j *SQLite) Save(ctx context.Context, s portfolio.State) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("journal: encode state: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO state (id, version, body, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			body = excluded.body,
			updated_at = excluded.updated_at`,
		s.Version, string(body), j.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("journal: save state: %w", err)
	}
	return nil
}

// Clear forgets the saved state together with the journal, as a reset
// starts a new account.
func (j *SQLite) Clear(ctx context.Context) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: clear: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"state", "trades", "equity"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("journal: clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal: clear: %w", err)
	}
	return nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
