// Package metrics holds the prometheus collectors shared by the ledger and
// the position engine. Collectors register with the default registry at init
// and are served by the reporting endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var TradesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "polytrader_trades_total",
	Help: "Positions opened, by ledger mode",
}, []string{"mode"})

var ClosesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "polytrader_closes_total",
	Help: "Positions closed, by ledger mode and reason",
}, []string{"mode", "reason"})

var TradePnL = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "polytrader_trade_pnl",
	Help:    "Realized PnL per closed position",
	Buckets: []float64{-100, -50, -20, -10, -5, -1, 0, 1, 5, 10, 20, 50, 100},
}, []string{"mode"})

var LedgerBalance = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "polytrader_ledger_balance",
	Help: "Free balance after the last committed update",
}, []string{"mode"})

var LedgerOpenPositions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "polytrader_ledger_open_positions",
	Help: "Open positions after the last committed update",
}, []string{"mode"})

var LedgerPersistFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "polytrader_ledger_persist_failures_total",
	Help: "Ledger mutations that failed to persist, by stage",
}, []string{"mode", "stage"})

var LedgerRecoveries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "polytrader_ledger_recoveries_total",
	Help: "Corrupt ledger documents replaced by a fresh one",
}, []string{"mode"})

var RiskRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "polytrader_risk_rejections_total",
	Help: "Trade intents blocked by the risk gate, by violation",
}, []string{"code"})

func init() {
	prometheus.MustRegister(
		TradesTotal, ClosesTotal, TradePnL,
		LedgerBalance, LedgerOpenPositions, LedgerPersistFailures, LedgerRecoveries,
		RiskRejections,
	)
}
