package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/polytrader/config"
	"github.com/rustyeddy/polytrader/market"
	"github.com/rustyeddy/polytrader/portfolio"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	c := config.Default()
	c.Ledger.Backend = backend
	c.Ledger.Path = filepath.Join(dir, "portfolio."+backend)
	c.Journal.DBPath = filepath.Join(dir, "trades.db")
	require.NoError(t, c.Validate())
	return c
}

func TestReadIntents(t *testing.T) {
	lines, err := readIntents(strings.NewReader(`
# morning picks
side:BUY, price:0.42, size:0.1

  side:SELL, price:0.7, size:0.05
`))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"side:BUY, price:0.42, size:0.1",
		"side:SELL, price:0.7, size:0.05",
	}, lines)
}

func TestDayBounds(t *testing.T) {
	start, end, err := dayBounds(time.UTC, "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, 24*time.Hour, end.Sub(start))

	_, _, err = dayBounds(time.UTC, "15/01/2024")
	assert.Error(t, err)
}

func TestMonitorTicksStopsQuietlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	err := monitorTicks(ctx, 10, func() error {
		calls++
		if calls == 2 {
			cancel()
			return fmt.Errorf("tick: %w", ctx.Err())
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)

	boom := errors.New("ledger unavailable")
	err = monitorTicks(context.Background(), 3, func() error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestEngineConfigFromDryRun(t *testing.T) {
	c := config.Default()
	ec := engineConfig(c)
	assert.True(t, ec.Exec.CommissionBps.IsZero())
	assert.True(t, ec.Exec.MinFill.Equal(decimal.NewFromInt(1)))
	assert.True(t, ec.TakeProfit.Equal(decimal.RequireFromString("0.15")))

	require.NoError(t, c.SetMode(config.ModePaper))
	ec = engineConfig(c)
	assert.True(t, ec.Exec.SlippageBps.Equal(decimal.NewFromInt(20)))
}

func TestAppRoundTrip(t *testing.T) {
	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			cfg = testConfig(t, backend)
			logger = zerolog.Nop()
			ctx := context.Background()

			collector := &tradeCollector{mode: cfg.Mode}
			a, err := newApp(ctx, true, portfolio.WithListener(collector))
			require.NoError(t, err)

			res, err := a.engine.Open(ctx, portfolio.Intent{
				Side:         market.Buy,
				Price:        decimal.RequireFromString("0.40"),
				SizeFraction: decimal.RequireFromString("0.1"),
			})
			require.NoError(t, err)
			require.True(t, res.Opened, res.Skip)

			_, ok, err := a.engine.Close(ctx, res.Position.ID, decimal.RequireFromString("0.50"), portfolio.ReasonManual)
			require.NoError(t, err)
			require.True(t, ok)
			a.Close()

			require.Len(t, collector.Trades(), 1)
			assert.True(t, collector.Trades()[0].RealizedPL.Equal(decimal.NewFromInt(1)))

			// A fresh process sees the ledger and journal.
			a, err = newApp(ctx, true)
			require.NoError(t, err)
			defer a.Close()

			bal, err := a.ledger.Balance(ctx)
			require.NoError(t, err)
			assert.True(t, bal.Equal(decimal.NewFromInt(101)), bal.String())

			require.NoError(t, a.seedDay(ctx))
			day := a.day.Today(time.Now())
			assert.Equal(t, 1, day.Trades)
			assert.Equal(t, 1, day.Wins)
		})
	}
}
