package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe the saved portfolio and start over",
	Long: `Reset the portfolio to the configured starting cash. Positions, trades,
risk settings and preferences return to their defaults and the journal is
cleared.

Example:
  papertrader reset --yes`,
	RunE: runReset,
}

var resetYes bool

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "confirm the reset")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		return fmt.Errorf("reset deletes every position and trade; rerun with --yes to confirm")
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

	if err := a.sess.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	fmt.Printf("✓ Portfolio reset to %.2f %s\n", cfg.Account.StartingCash, cfg.Account.Currency)
	return nil
}
