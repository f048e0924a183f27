package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrader/portfolio"
	"github.com/rustyeddy/papertrader/session"
)

var tradeCmd = &cobra.Command{
	Use:   "trade <buy|sell> [size]",
	Short: "Place a single market order against the saved portfolio",
	Long: `Execute one market order at the current price and save the result.

The size is a quantity by default, or a cash amount with --mode amount.
--fraction sizes the order from what is available instead (0.25, 0.5, 1).

Examples:
  papertrader trade buy 0.5 --symbol BTC
  papertrader trade buy 250 --mode amount --symbol FAKE
  papertrader trade sell --fraction 1`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runTrade,
}

var (
	tradeSymbol   string
	tradeMode     string
	tradeFraction float64
	tradeWait     time.Duration
)

func init() {
	rootCmd.AddCommand(tradeCmd)

	tradeCmd.Flags().StringVarP(&tradeSymbol, "symbol", "s", "", "symbol to trade (defaults to the selected one)")
	tradeCmd.Flags().StringVarP(&tradeMode, "mode", "m", "", "size mode: qty or amount (defaults to the saved preference)")
	tradeCmd.Flags().Float64VarP(&tradeFraction, "fraction", "f", 0, "size as a fraction of cash (buy) or holdings (sell)")
	tradeCmd.Flags().DurationVar(&tradeWait, "wait", 15*time.Second, "how long to wait for a price")
}

func parseOrder(args []string) (session.Order, error) {
	side, err := portfolio.ParseSide(args[0])
	if err != nil {
		return session.Order{}, err
	}
	o := session.Order{
		Side:     side,
		Symbol:   strings.ToUpper(tradeSymbol),
		Mode:     portfolio.OrderMode(tradeMode),
		Fraction: tradeFraction,
	}
	switch tradeMode {
	case "", string(portfolio.OrderByQuantity), string(portfolio.OrderByAmount):
	default:
		return session.Order{}, fmt.Errorf("unknown mode %q (want qty|amount)", tradeMode)
	}
	if len(args) == 2 {
		if o.Size, err = strconv.ParseFloat(args[1], 64); err != nil {
			return session.Order{}, fmt.Errorf("bad size %q: %w", args[1], err)
		}
	} else if o.Fraction == 0 {
		return session.Order{}, fmt.Errorf("either a size or --fraction is required")
	}
	return o, nil
}

func runTrade(cmd *cobra.Command, args []string) error {
	o, err := parseOrder(args)
	if err != nil {
		return err
	}
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

	symbol := o.Symbol
	if symbol == "" {
		symbol = a.sess.Preferences().Symbol
	}
	if err := a.sess.Start(ctx); err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, tradeWait)
	defer cancel()
	if _, err := a.sess.WaitForPrice(wctx, symbol); err != nil {
		return fmt.Errorf("trade: %w", err)
	}

	t, err := a.sess.Execute(ctx, o)
	if err != nil {
		return fmt.Errorf("order rejected (%s): %w", portfolio.Reason(err), err)
	}

	v := a.sess.Value()
	fmt.Printf("✓ %s %s %s @ %.4f (fee %.2f)\n", t.Side, strconv.FormatFloat(t.Quantity, 'f', -1, 64), t.Symbol, t.Price, t.Fee)
	if t.RealizedPnL != 0 {
		fmt.Printf("  Realized P&L: %+.2f\n", t.RealizedPnL)
	}
	fmt.Printf("  Cash: %.2f  Equity: %.2f\n", v.Cash, v.Equity)
	return nil
}
