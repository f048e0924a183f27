package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/portfolio"
	"github.com/rustyeddy/papertrader/report"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the trade journal",
	Long: `Query trade and equity records from the SQLite journal.

Subcommands:
  trade   - Show a single trade by ID
  equity  - List equity snapshots, optionally within a date window
  stats   - Summarize wins, losses and fees

Examples:
  papertrader journal trade 01HQ3ZC7W8S9K2M4N6P8R0T2V4
  papertrader journal equity --since 2026-01-01
  papertrader journal stats --db ./papertrader.db`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Show a single trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var journalEquityCmd = &cobra.Command{
	Use:   "equity",
	Short: "List equity snapshots",
	Args:  cobra.NoArgs,
	RunE:  runJournalEquity,
}

var journalStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the journal",
	Args:  cobra.NoArgs,
	RunE:  runJournalStats,
}

var (
	journalDBPath string
	journalSince  string
	journalUntil  string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd)
	journalCmd.AddCommand(journalEquityCmd)
	journalCmd.AddCommand(journalStatsCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite journal DB (default: the configured store path)")
	journalEquityCmd.Flags().StringVar(&journalSince, "since", "", "first day to include (YYYY-MM-DD)")
	journalEquityCmd.Flags().StringVar(&journalUntil, "until", "", "first day to exclude (YYYY-MM-DD)")
}

func openJournal() (*journal.SQLite, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	path := journalDBPath
	if path == "" {
		path = cfg.Store.Path
	}
	j, err := journal.NewSQLite(path)
	if err != nil {
		return nil, "", fmt.Errorf("open db: %w", err)
	}
	return j, cfg.Account.Currency, nil
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, cur, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	t, err := j.GetTrade(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	printTrade(cmd.OutOrStdout(), t, cur)
	return nil
}

func printTrade(w io.Writer, t portfolio.Trade, cur string) {
	fmt.Fprintf(w, "✓ Trade %s\n", t.ID)
	fmt.Fprintf(w, "  Time:     %s\n", t.Time.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  Side:     %s\n", t.Side)
	fmt.Fprintf(w, "  Symbol:   %s\n", t.Symbol)
	fmt.Fprintf(w, "  Qty:      %s\n", report.Quantity(t.Quantity))
	fmt.Fprintf(w, "  Price:    %s\n", report.Money(t.Price, cur))
	fmt.Fprintf(w, "  Notional: %s\n", report.Money(t.Notional, cur))
	fmt.Fprintf(w, "  Fee:      %s\n", report.Money(t.Fee, cur))
	fmt.Fprintf(w, "  Realized: %s\n", report.Money(t.RealizedPnL, cur))
}

func runJournalEquity(cmd *cobra.Command, args []string) error {
	since, err := parseDay(journalSince)
	if err != nil {
		return fmt.Errorf("since: %w", err)
	}
	until, err := parseDay(journalUntil)
	if err != nil {
		return fmt.Errorf("until: %w", err)
	}
	j, cur, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	snaps, err := j.ListEquity(context.Background(), since, until)
	if err != nil {
		return fmt.Errorf("query equity: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ %d equity snapshots\n", len(snaps))
	for _, e := range snaps {
		fmt.Fprintf(w, "  %s  cash %s  equity %s  exposure %s  realized %s\n",
			e.Time.UTC().Format("2006-01-02 15:04:05"),
			report.Money(e.Cash, cur), report.Money(e.Equity, cur),
			report.Money(e.Exposure, cur), report.Money(e.RealizedPnL, cur))
	}
	return nil
}

func runJournalStats(cmd *cobra.Command, args []string) error {
	j, cur, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	s, err := j.Stats(context.Background())
	if err != nil {
		return err
	}

	pf := "n/a"
	if s.GrossLoss > 0 {
		pf = strconv.FormatFloat(s.ProfitFactor, 'f', 2, 64)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ %d trades\n", s.Trades)
	fmt.Fprintf(w, "  Wins:          %d\n", s.Wins)
	fmt.Fprintf(w, "  Losses:        %d\n", s.Losses)
	fmt.Fprintf(w, "  Gross profit:  %s\n", report.Money(s.GrossProfit, cur))
	fmt.Fprintf(w, "  Gross loss:    %s\n", report.Money(s.GrossLoss, cur))
	fmt.Fprintf(w, "  Profit factor: %s\n", pf)
	fmt.Fprintf(w, "  Fees:          %s\n", report.Money(s.Fees, cur))
	return nil
}
