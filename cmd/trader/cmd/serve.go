package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rustyeddy/polytrader/portfolio"
	"github.com/rustyeddy/polytrader/query"
	"github.com/rustyeddy/polytrader/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the portfolio over HTTP",
	Long: `Start the reporting endpoint:

  GET /health        liveness and mode
  GET /portfolio     balance, totals and open positions
  GET /mtm?price=P   mark-to-market at P (entry prices when omitted)
  GET /metrics       Prometheus metrics
  GET /ws/closed     websocket stream of closed positions

With --monitor the server also ticks open positions against simulated
prices and streams every close.

Example:
  trader serve --addr :8080 --monitor 30s`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveAddr    string
	serveMonitor time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().DurationVar(&serveMonitor, "monitor", 0, "tick open positions at this interval (0 = off)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(query.New(a.ledger), cfg.Mode, logger)
	a.engine.AddListener(srv)

	if serveMonitor > 0 {
		go monitor(ctx, a.engine, serveMonitor)
	}
	return srv.Run(ctx, addr)
}

// monitor ticks every interval until ctx ends. Failures are logged and the
// next tick tries again.
func monitor(ctx context.Context, e *portfolio.Engine, interval time.Duration) {
	walk := walkSource(cfg.Execution.Seed)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			closed, err := e.Tick(ctx, walk)
			if err != nil {
				logger.Error().Err(err).Msg("monitor tick failed")
				continue
			}
			if len(closed) > 0 {
				logger.Info().Int("closed", len(closed)).Msg("monitor tick")
			}
		}
	}
}
