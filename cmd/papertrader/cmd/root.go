package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrader/config"
)

var rootCmd = &cobra.Command{
	Use:   "papertrader",
	Short: "A paper-trading simulator with live and synthetic markets",
	Long: `Papertrader is a single-user paper-trading simulator written in Go.

It provides:
  - A portfolio ledger with weighted-average cost basis and realized P&L
  - A synthetic FAKE market driven by a regime-switching random walk
  - Live BTC/ETH/SOL prices and candles from CoinGecko
  - Advanced mode: shorting, leverage, fees and slippage
  - An HTTP + WebSocket API for a browser UI
  - Scripted CSV replays and markdown reports

Complete documentation is available at https://github.com/rustyeddy/papertrader`,
	SilenceUsage: true,
}

var cfgFile string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml, json or toml; defaults apply when empty)")
}

// loadConfig reads the config file when one is given, applies the
// PAPERTRADER_* environment and validates the result.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(cfgFile); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
