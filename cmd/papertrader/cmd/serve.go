package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/papertrader/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulator with its HTTP and WebSocket API",
	Long: `Start the synthetic market, the live price feed (when enabled) and the
HTTP/WebSocket API. The portfolio is saved after every change and on exit.

Examples:
  papertrader serve
  papertrader serve --addr 0.0.0.0:8080 --config papertrader.yaml`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.closeStores()

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration,
	}, a.sess, a.log)

	fmt.Printf("✓ Papertrader listening on http://%s\n", cfg.Server.Addr)
	a.log.Info("serving",
		zap.String("addr", cfg.Server.Addr),
		zap.String("store", cfg.Store.Type),
		zap.Bool("live", cfg.Live.Enabled),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.sess.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	err = g.Wait()
	_ = a.log.Sync()
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	fmt.Println("✓ Portfolio saved, bye")
	return nil
}
