package replay

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rustyeddy/polytrader/ledger"
	"github.com/rustyeddy/polytrader/portfolio"
	"github.com/rustyeddy/polytrader/sim"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newEngine(t *testing.T, clock *Clock) *portfolio.Engine {
	t.Helper()
	store, err := ledger.NewFileStore(filepath.Join(t.TempDir(), "portfolio.json"))
	require.NoError(t, err)
	l, _, err := ledger.Open(context.Background(), store, ledger.Options{
		Name:           "replay-test",
		InitialBalance: d("100"),
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)

	cfg := portfolio.DefaultConfig()
	cfg.Exec = sim.PerfectExecConfig()
	cfg.MaxPositionSize = d("0.5")
	opts := []portfolio.Option{portfolio.WithSource(sim.Fixed(1)), portfolio.WithLogger(zerolog.Nop())}
	if clock != nil {
		opts = append(opts, portfolio.WithClock(clock.Now))
	}
	return portfolio.NewEngine(l, cfg, opts...)
}

const session = `time,market_id,price,event,arg1,arg2
2026-01-02T15:00:00Z,mkt-a,0.40,OPEN,BUY,0.2
2026-01-02T15:01:00Z,mkt-a,0.50
# comment rows are ignored
2026-01-02T15:02:00Z,mkt-a,0.55
2026-01-02T15:03:00Z,mkt-b,0.30,OPEN,SELL,0.1
2026-01-02T15:04:00Z,mkt-b,0.30,CLOSE_ALL
`

func TestReplayTakeProfitAndCloseAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &Clock{}
	e := newEngine(t, clock)

	res, err := Read(ctx, strings.NewReader(session), e, Options{Clock: clock})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Rows)
	assert.Equal(t, 2, res.Opened)
	assert.Equal(t, 0, res.Skips)
	require.Len(t, res.Closed, 2)

	tp := res.Closed[0]
	assert.Equal(t, portfolio.ReasonTakeProfit, tp.Reason)
	assert.Equal(t, "mkt-a", tp.MarketID)
	assert.True(t, d("7.5").Equal(tp.RealizedPnL), "pnl %s", tp.RealizedPnL)
	assert.True(t, tp.ClosedAt.Equal(time.Date(2026, 1, 2, 15, 2, 0, 0, time.UTC)), "closed at %s", tp.ClosedAt)

	all := res.Closed[1]
	assert.Equal(t, portfolio.ReasonCloseAll, all.Reason)
	assert.True(t, all.RealizedPnL.IsZero())

	doc, err := e.Ledger().Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, doc.Positions)
	assert.True(t, d("107.5").Equal(doc.CurrentBalance), "balance %s", doc.CurrentBalance)
	assert.NoError(t, ledger.Audit(doc))
}

func TestReplayTickThenEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEngine(t, nil)

	csv := `2026-01-02T15:00:00Z,mkt-a,0.40,OPEN,BUY,0.2
2026-01-02T15:01:00Z,mkt-a,0.30,OPEN,BUY,0.1
`
	res, err := Read(ctx, strings.NewReader(csv), e, Options{TickThenEvent: true})
	require.NoError(t, err)

	// The first position stops out on the second row's tick before the
	// second position opens at the same price.
	require.Len(t, res.Closed, 1)
	assert.Equal(t, portfolio.ReasonStopLoss, res.Closed[0].Reason)
	positions, err := e.Ledger().Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, d("0.3").Equal(positions[0].EntryPrice))
}

func TestReplayCloseByID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEngine(t, nil)

	open, err := e.Open(ctx, portfolio.Intent{Side: "BUY", Price: d("0.5"), SizeFraction: d("0.1"), MarketID: "mkt-a"})
	require.NoError(t, err)
	require.True(t, open.Opened)

	csv := "2026-01-02T15:00:00Z,mkt-a,0.52,CLOSE," + open.Position.ID + ",Expired\n"
	res, err := Read(ctx, strings.NewReader(csv), e, Options{})
	require.NoError(t, err)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, portfolio.Reason("Expired"), res.Closed[0].Reason)
	assert.True(t, d("0.52").Equal(res.Closed[0].ExitPrice))
}

func TestReplayCloseUsesPositionMarket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEngine(t, nil)

	a, err := e.Open(ctx, portfolio.Intent{Side: "BUY", Price: d("0.5"), SizeFraction: d("0.1"), MarketID: "mkt-a"})
	require.NoError(t, err)
	require.True(t, a.Opened)
	c, err := e.Open(ctx, portfolio.Intent{Side: "BUY", Price: d("0.5"), SizeFraction: d("0.1"), MarketID: "mkt-c"})
	require.NoError(t, err)
	require.True(t, c.Opened)

	csv := "2026-01-02T15:00:00Z,mkt-a,0.52\n" +
		"2026-01-02T15:01:00Z,mkt-b,0.20,CLOSE," + a.Position.ID + "\n" +
		"2026-01-02T15:02:00Z,mkt-b,0.20,CLOSE," + c.Position.ID + "\n"
	res, err := Read(ctx, strings.NewReader(csv), e, Options{})
	require.NoError(t, err)
	require.Len(t, res.Closed, 2)

	assert.True(t, d("0.52").Equal(res.Closed[0].ExitPrice), "last mkt-a price, got %s", res.Closed[0].ExitPrice)
	assert.True(t, d("0.5").Equal(res.Closed[1].ExitPrice), "mkt-c never traded, got %s", res.Closed[1].ExitPrice)
}

func TestReplayErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		csv  string
		want string
	}{
		{"short row", "2026-01-02T15:00:00Z,mkt-a\n", "row 1"},
		{"bad time", "yesterday,mkt-a,0.4\n", "bad time"},
		{"bad price", "2026-01-02T15:00:00Z,mkt-a,cheap\n", "bad price"},
		{"unknown event", "2026-01-02T15:00:00Z,mkt-a,0.4,HEDGE\n", "unknown event"},
		{"bad side", "2026-01-02T15:00:00Z,mkt-a,0.4,OPEN,HOLD,0.1\n", "bad side"},
		{"missing id", "2026-01-02T15:00:00Z,mkt-a,0.4,CLOSE\n", "missing position id"},
		{"second row", "2026-01-02T15:00:00Z,mkt-a,0.4\nbad,mkt-a,0.4\n", "row 2"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Read(context.Background(), strings.NewReader(tt.csv), newEngine(t, nil), Options{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReplayCSVFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ticks.csv")
	require.NoError(t, os.WriteFile(path, []byte(session), 0o644))

	res, err := CSV(context.Background(), path, newEngine(t, nil), Options{})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Rows)

	_, err = CSV(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), newEngine(t, nil), Options{})
	assert.Error(t, err)
}
