// journal/csv.go
package journal

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rustyeddy/papertrader/portfolio"
)

var (
	tradeHeader  = []string{"trade_id", "time", "symbol", "side", "qty", "price", "notional", "fee", "realized_pnl"}
	equityHeader = []string{"time", "cash", "equity", "exposure", "unrealized_pnl", "realized_pnl"}
)

// CSVJournal appends trades and equity snapshots to two CSV files.
type CSVJournal struct {
	trades *csv.Writer
	equity *csv.Writer
	tf, ef *os.File
}

func NewCSV(tradesPath, equityPath string) (*CSVJournal, error) {
	tf, err := os.Create(tradesPath)
	if err != nil {
		return nil, err
	}
	ef, err := os.Create(equityPath)
	if err != nil {
		_ = tf.Close()
		return nil, err
	}

	tw := csv.NewWriter(tf)
	ew := csv.NewWriter(ef)

	if err := writeFlush(tw, tradeHeader); err != nil {
		return nil, err
	}
	if err := writeFlush(ew, equityHeader); err != nil {
		return nil, err
	}

	return &CSVJournal{tw, ew, tf, ef}, nil
}

func (j *CSVJournal) RecordTrade(t portfolio.Trade) error {
	return writeFlush(j.trades, tradeRow(t))
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	return writeFlush(j.equity, []string{
		e.Time.UTC().Format(time.RFC3339),
		f(e.Cash),
		f(e.Equity),
		f(e.Exposure),
		f(e.UnrealizedPnL),
		f(e.RealizedPnL),
	})
}

func (j *CSVJournal) Close() error {
	j.trades.Flush()
	if err := j.trades.Error(); err != nil {
		return err
	}
	j.equity.Flush()
	if err := j.equity.Error(); err != nil {
		return err
	}

	if err := j.tf.Close(); err != nil {
		return err
	}
	return j.ef.Close()
}

// ExportTrades writes trades as CSV with a header row, in the order given.
func ExportTrades(w io.Writer, trades []portfolio.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	for _, t := range trades {
		if err := cw.Write(tradeRow(t)); err != nil {
			return fmt.Errorf("export %s: %w", t.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func tradeRow(t portfolio.Trade) []string {
	return []string{
		t.ID,
		t.Time.UTC().Format(time.RFC3339),
		t.Symbol,
		string(t.Side),
		f(t.Quantity),
		f(t.Price),
		f(t.Notional),
		f(t.Fee),
		f(t.RealizedPnL),
	}
}

func writeFlush(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
