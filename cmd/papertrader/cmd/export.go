package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/portfolio"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export trades as CSV",
	Long: `Write the trade history as CSV, oldest first.

With the sqlite store the full journal is exported and --since/--until
select a window; other stores export the trades kept with the portfolio.

Examples:
  papertrader export -o trades.csv
  papertrader export --since 2026-01-01 --until 2026-02-01`,
	RunE: runExport,
}

var (
	exportOutput string
	exportSince  string
	exportUntil  string
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")
	exportCmd.Flags().StringVar(&exportSince, "since", "", "first day to include (YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportUntil, "until", "", "first day to exclude (YYYY-MM-DD)")
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation("2006-01-02", s, time.Local)
}

func runExport(cmd *cobra.Command, args []string) error {
	since, err := parseDay(exportSince)
	if err != nil {
		return fmt.Errorf("since: %w", err)
	}
	until, err := parseDay(exportUntil)
	if err != nil {
		return fmt.Errorf("until: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	var trades []portfolio.Trade
	if a.sqlite != nil {
		if trades, err = a.sqlite.ListTrades(ctx, since, until); err != nil {
			return fmt.Errorf("query trades: %w", err)
		}
	} else {
		for _, t := range a.sess.Trades() {
			if t.Time.Before(since) || (!until.IsZero() && !t.Time.Before(until)) {
				continue
			}
			trades = append([]portfolio.Trade{t}, trades...)
		}
	}

	var w io.Writer = os.Stdout
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := journal.ExportTrades(w, trades); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if exportOutput != "" {
		fmt.Printf("✓ Exported %d trades to %s\n", len(trades), exportOutput)
	}
	return nil
}
