package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrader/indicators"
	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/session"
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Watch the synthetic FAKE market in the terminal",
	Long: `Run the synthetic market on a throwaway in-memory portfolio and print
every closed candle with the active regime. The saved portfolio is not
touched.

Examples:
  papertrader sim --speed fast --duration 1m
  papertrader sim --seed 42 --candle 10`,
	RunE: runSim,
}

var (
	simSpeed    string
	simSeed     int64
	simCandle   int64
	simDuration time.Duration
	simEMA      int
)

func init() {
	rootCmd.AddCommand(simCmd)

	simCmd.Flags().StringVar(&simSpeed, "speed", "", "tick speed: fast, medium or slow (overrides market.speed)")
	simCmd.Flags().Int64Var(&simSeed, "seed", 0, "random seed (0 = random)")
	simCmd.Flags().Int64Var(&simCandle, "candle", 0, "candle length in seconds (overrides market.candle_seconds)")
	simCmd.Flags().IntVar(&simEMA, "ema", 20, "EMA period printed next to each candle")
	simCmd.Flags().DurationVarP(&simDuration, "duration", "d", 0, "stop after this long (0 = until interrupted)")
}

func runSim(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if simSpeed != "" {
		if _, err := market.ParseSpeed(simSpeed); err != nil {
			return err
		}
		cfg.Market.Speed = simSpeed
	}
	if simSeed != 0 {
		cfg.Market.Seed = simSeed
	}
	if simEMA <= 0 {
		return fmt.Errorf("--ema must be positive")
	}
	if simCandle > 0 {
		cfg.Market.CandleSeconds = simCandle
	}

	scfg, err := sessionConfig(cfg)
	if err != nil {
		return err
	}
	scfg.Preferences.Symbol = market.FakeSymbol

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if simDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, simDuration)
		defer cancel()
	}

	sess, err := session.New(ctx, scfg, session.WithStore(journal.NewMemory()))
	if err != nil {
		return err
	}
	events, unsubscribe := sess.Subscribe(session.DefaultSubscriberBuffer)
	defer unsubscribe()

	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.Close()

	st := sess.Status()
	fmt.Printf("✓ FAKE market running (speed %s, seed price %.2f)\n", st.Preferences.Speed, cfg.Market.SeedPrice)
	fmt.Printf("  Price: %.4f  Regime: %s\n\n", st.Price, st.Regime)

	// the last prerun candle is still open, so it is not fed
	ema := indicators.NewEMA(simEMA)
	if hist := sess.Candles(); len(hist) > 1 {
		indicators.Feed(ema, hist[:len(hist)-1])
	}

	var last *market.Candle
	candles := 0
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\nSimulation stopped after %d candles at %.4f\n", candles, sess.Status().Price)
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type != session.EventMarket || ev.Market == nil || ev.Market.Candle == nil {
				continue
			}
			// a new candle closes the one tracked so far
			if ev.Market.Kind == market.EventNewCandle && last != nil {
				candles++
				ema.Update(*last)
				trend := "-"
				if ema.Ready() {
					trend = fmt.Sprintf("%.4f", ema.Value())
				}
				fmt.Printf("%s  O %10.4f  H %10.4f  L %10.4f  C %10.4f  %s %s  %s\n",
					time.Unix(last.Time, 0).UTC().Format("15:04:05"),
					last.Open, last.High, last.Low, last.Close, ema.Name(), trend, ev.Market.Regime)
			}
			last = ev.Market.Candle
		}
	}
}
