// FILE: metrics.go
// Package main – Prometheus metrics for observability.
//
// Exposes the series the bot updates during operation:
//   • bot_scans_total                    – Scheduler ticks that ran
//   • bot_scans_skipped_total            – Ticks dropped by the single-flight guard
//   • bot_decisions_total{symbol,action} – Decisions emitted
//   • bot_orders_total{mode,side}        – Orders placed (mode: paper|live)
//   • bot_equity_usd                     – Current equity snapshot (gauge)
//   • bot_breakeven_locks_total          – Breakeven stop moves executed
//   • bot_backtests_total{status}        – Backtest runs by terminal status
//
// All series register against the default registry in init() and are served
// by promhttp on /metrics (see server.go).
package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	mScans = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_scans_total",
		Help: "Scheduler ticks that ran.",
	})
	mScansSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_scans_skipped_total",
		Help: "Scheduler ticks skipped because the previous scan was still running.",
	})
	mDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_decisions_total",
		Help: "Decisions emitted, by symbol and action.",
	}, []string{"symbol", "action"})
	mOrders = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_orders_total",
		Help: "Orders placed, by mode (live/paper) and side.",
	}, []string{"mode", "side"})
	mEquity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bot_equity_usd",
		Help: "Last observed account equity in USD.",
	})
	mBreakevenLocks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_breakeven_locks_total",
		Help: "Breakeven stop moves executed.",
	})
	mBacktests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_backtests_total",
		Help: "Backtest runs, by terminal status.",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(mScans, mScansSkipped, mDecisions, mOrders,
		mEquity, mBreakevenLocks, mBacktests)
}

func observeDecision(d Decision) {
	mDecisions.WithLabelValues(d.Symbol, string(d.Action)).Inc()
}

func observeOrder(mode, side string) {
	mOrders.WithLabelValues(mode, side).Inc()
}

func observeEquity(equity float64) {
	mEquity.Set(equity)
}
