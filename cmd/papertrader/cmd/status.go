package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrader/report"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved portfolio marked to current prices",
	Long: `Load the saved portfolio, fetch current prices and print a report.

Examples:
  papertrader status
  papertrader status --raw > portfolio.md
  papertrader status --json`,
	RunE: runStatus,
}

var (
	statusRaw    bool
	statusJSON   bool
	statusStyle  string
	statusTrades int
	statusWait   time.Duration
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusRaw, "raw", false, "print markdown without terminal styling")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the status as JSON")
	statusCmd.Flags().StringVar(&statusStyle, "style", "", "glamour style (dark, light, notty); auto when empty")
	statusCmd.Flags().IntVarP(&statusTrades, "trades", "n", 20, "number of recent trades to show (0 = all)")
	statusCmd.Flags().DurationVar(&statusWait, "wait", 10*time.Second, "how long to wait for live prices")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.startAndPrice(ctx, statusWait); err != nil {
		// positions are still reported, just unpriced
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	st := a.sess.Status()
	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	r := report.Report{
		Title:     "Papertrader portfolio",
		Time:      time.Now(),
		Currency:  cfg.Account.Currency,
		Settings:  st.Settings,
		Valuation: st.Valuation,
		Trades:    a.sess.Trades(),
		MaxTrades: statusTrades,
	}
	return r.Write(os.Stdout, statusRaw, statusStyle, 100)
}
