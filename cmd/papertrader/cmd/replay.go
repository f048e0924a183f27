package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/portfolio"
	"github.com/rustyeddy/papertrader/replay"
	"github.com/rustyeddy/papertrader/report"
)

var replayCmd = &cobra.Command{
	Use:   "replay <script.csv>",
	Short: "Replay a CSV script of prices and orders",
	Long: `Run a scripted scenario against a fresh portfolio. Rows are
time,symbol,price[,event,arg1..arg4]; events are BUY, SELL, BUY_AMOUNT,
SELL_ALL, ADVANCED, RISK and RESET.

Examples:
  papertrader replay scenario.csv
  papertrader replay scenario.csv --db replay.sqlite --strict`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var (
	replayDBPath     string
	replayStrict     bool
	replayEventFirst bool
	replayRaw        bool
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVarP(&replayDBPath, "db", "d", "", "SQLite journal for the replayed trades (optional)")
	replayCmd.Flags().BoolVar(&replayStrict, "strict", false, "stop at the first rejected order")
	replayCmd.Flags().BoolVar(&replayEventFirst, "event-first", false, "apply each row's event before its price")
	replayCmd.Flags().BoolVar(&replayRaw, "raw", false, "print the report as plain markdown")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	settings, err := cfg.Risk.Settings()
	if err != nil {
		return err
	}

	opts := replay.Options{
		StartingCash:  cfg.Account.StartingCash,
		Settings:      settings,
		TickThenEvent: !replayEventFirst,
		StopOnReject:  replayStrict,
	}
	if replayDBPath != "" {
		j, err := journal.NewSQLite(replayDBPath)
		if err != nil {
			return fmt.Errorf("create journal: %w", err)
		}
		defer j.Close()
		opts.Journal = j
	}

	fmt.Printf("Replaying: %s\n", args[0])
	res, err := replay.CSV(context.Background(), args[0], opts)
	if err != nil {
		return fmt.Errorf("replay error: %w", err)
	}

	fmt.Printf("✓ Replayed %d rows, %d trades, %d rejected\n", res.Rows, len(res.Trades), len(res.Rejections))
	for _, r := range res.Rejections {
		fmt.Printf("  line %d %s: %s (%s)\n", r.Line, r.Event, r.Reason, r.Err)
	}
	fmt.Println()

	trades := make([]portfolio.Trade, len(res.Trades))
	for i, t := range res.Trades {
		trades[len(trades)-1-i] = t
	}
	rep := report.Report{
		Title:     "Replay " + args[0],
		Time:      time.Now(),
		Currency:  cfg.Account.Currency,
		Settings:  res.Settings,
		Valuation: res.Valuation,
		Trades:    trades,
	}
	if err := rep.Write(os.Stdout, replayRaw, "", 100); err != nil {
		return err
	}
	if replayDBPath != "" {
		fmt.Printf("\nResults saved to: %s\n", replayDBPath)
	}
	return nil
}
