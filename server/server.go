// Package server exposes a session over HTTP JSON and a WebSocket event
// stream for the browser UI.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/portfolio"
	"github.com/rustyeddy/papertrader/session"
)

const DefaultShutdownTimeout = 5 * time.Second

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type Server struct {
	cfg  Config
	sess *session.Session
	log  *zap.Logger
	hub  *Hub
	http *http.Server
}

func New(cfg Config, sess *session.Session, log *zap.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		cfg:  cfg,
		sess: sess,
		log:  log,
		hub:  NewHub(sess, log.Named("ws")),
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.health)
	mux.HandleFunc("GET /api/status", s.status)
	mux.HandleFunc("GET /api/trades", s.trades)
	mux.HandleFunc("GET /api/candles", s.candles)
	mux.HandleFunc("GET /api/indicators", s.indicators)
	mux.HandleFunc("GET /api/assets", s.assets)
	mux.HandleFunc("GET /api/quotes", s.quotes)

	mux.HandleFunc("POST /api/buy", s.order(portfolio.Buy))
	mux.HandleFunc("POST /api/sell", s.order(portfolio.Sell))
	mux.HandleFunc("POST /api/reset", s.reset)
	mux.HandleFunc("POST /api/symbol", s.selectSymbol)
	mux.HandleFunc("POST /api/settings/advanced", s.setAdvanced)
	mux.HandleFunc("POST /api/settings/risk", s.setRisk)
	mux.HandleFunc("POST /api/settings/speed", s.setSpeed)
	mux.HandleFunc("POST /api/settings/days", s.setDays)
	mux.HandleFunc("POST /api/settings/order-mode", s.setOrderMode)

	mux.HandleFunc("GET /ws", s.hub.HandleWS)

	return logging(s.log)(mux)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("server: listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("server: shutting down")
	s.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
