package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rustyeddy/polytrader/ledger"
	"github.com/rustyeddy/polytrader/market"
	"github.com/rustyeddy/polytrader/portfolio"
	"github.com/rustyeddy/polytrader/query"
	"github.com/rustyeddy/polytrader/sim"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setup(t *testing.T) (*Server, *portfolio.Engine, *httptest.Server) {
	t.Helper()
	store, err := ledger.NewFileStore(filepath.Join(t.TempDir(), "portfolio.json"))
	require.NoError(t, err)
	l, _, err := ledger.Open(context.Background(), store, ledger.Options{
		Name:           t.Name(),
		InitialBalance: d("100"),
		Logger:         zerolog.Nop(),
	})
	require.NoError(t, err)

	s := New(query.New(l), "dry_run", zerolog.Nop())
	cfg := portfolio.DefaultConfig()
	cfg.Exec = sim.PerfectExecConfig()
	e := portfolio.NewEngine(l, cfg, portfolio.WithSource(sim.Fixed(1)), portfolio.WithListener(s))

	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return s, e, ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	t.Parallel()
	_, _, ts := setup(t)

	var h healthResponse
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "dry_run", h.Mode)

	resp, err := http.Post(ts.URL+"/health", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPortfolio(t *testing.T) {
	t.Parallel()
	_, e, ts := setup(t)

	_, err := e.Open(context.Background(), portfolio.Intent{Side: market.Buy, Price: d("0.4"), SizeFraction: d("0.1")})
	require.NoError(t, err)

	var sum query.Summary
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/portfolio", &sum))
	assert.True(t, sum.Balance.Equal(d("90")), sum.Balance.String())
	assert.True(t, sum.Locked.Equal(d("10")))
	require.Len(t, sum.Positions, 1)
	assert.Equal(t, market.Buy, sum.Positions[0].Side)
}

func TestMTM(t *testing.T) {
	t.Parallel()
	_, e, ts := setup(t)

	_, err := e.Open(context.Background(), portfolio.Intent{Side: market.Buy, Price: d("0.4"), SizeFraction: d("0.1")})
	require.NoError(t, err)

	var m query.MTM
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/mtm?price=0.5", &m))
	assert.Equal(t, 1, m.Count)
	assert.True(t, m.Unrealized.Equal(d("1")), m.Unrealized.String())
	assert.True(t, m.Equity.Equal(d("101")))

	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/mtm", &m))
	assert.True(t, m.Unrealized.IsZero())

	var e2 map[string]string
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/mtm?price=abc", &e2))
	assert.Contains(t, e2["error"], "bad price")
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	_, _, ts := setup(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `polytrader_ledger_balance{mode="TestMetrics"} 100`)
}

func TestClosedStream(t *testing.T) {
	t.Parallel()
	s, e, ts := setup(t)
	ctx := context.Background()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/closed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.closed.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	res, err := e.Open(ctx, portfolio.Intent{Side: market.Sell, Price: d("0.6"), SizeFraction: d("0.1")})
	require.NoError(t, err)
	_, ok, err := e.Close(ctx, res.Position.ID, d("0.5"), portfolio.ReasonManual)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type string           `json:"type"`
		Data portfolio.Closed `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "position_closed", msg.Type)
	assert.Equal(t, res.Position.ID, msg.Data.PositionID)
	assert.True(t, msg.Data.RealizedPnL.Equal(d("1")), msg.Data.RealizedPnL.String())

	conn.Close()
	require.Eventually(t, func() bool { return s.closed.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubDropsSlowSubscribers(t *testing.T) {
	t.Parallel()
	h := newHub[int]()
	sub := h.Subscribe(1)
	h.Broadcast(1)
	h.Broadcast(2) // dropped, buffer full
	assert.Equal(t, 1, <-sub.ch)

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)
	_, ok := <-sub.ch
	assert.False(t, ok)
}
