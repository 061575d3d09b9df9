// FILE: main.go
// Package main – Entry point.
//
// Two modes:
//
//   perp-pilot                       # live loop + HTTP surface
//   perp-pilot -backtest data.csv    # offline simulation, report to stdout
//
// Configuration comes from the environment (see env.go / config.go); the
// .env file named by ENV_FILE is loaded first.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	backtestCSV := flag.String("backtest", "", "run an offline backtest over this candles CSV and exit")
	backtestSymbol := flag.String("symbol", "", "symbol for the backtest (default: first configured symbol)")
	flag.Parse()

	loadBotEnv()
	cfg := loadConfigFromEnv()
	logs := NewLogRing()

	if *backtestCSV != "" {
		runOfflineBacktest(&cfg, *backtestCSV, *backtestSymbol, logs)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ring := NewDecisionRing()
	hub := NewHub(logs)

	apiKey := getEnv("BINANCE_API_KEY", "")
	apiSecret := getEnv("BINANCE_API_SECRET", "")
	binance := NewBinanceBroker(apiKey, apiSecret, cfg.UseTestnet, logs)

	var account AccountProvider = binance
	var exec OrderExecutor = binance
	var paper *PaperBroker
	if cfg.DryRun {
		paper = NewPaperBroker(cfg.Equity, cfg.TakerFeeRate, cfg.Leverage, logs)
		account = paper
		exec = paper
		logs.Infof("[BOOT] dry run: paper account with %.2f equity", cfg.Equity)
	} else if apiKey == "" || apiSecret == "" {
		log.Fatalf("[BOOT] live mode requires BINANCE_API_KEY and BINANCE_API_SECRET")
	}

	advisor := NewAdvisor(cfg.AdvisorURL, cfg.PromptText, cfg.AdvisorTimeoutSec)
	if advisor != nil {
		logs.Infof("[BOOT] advisor enabled: %s", cfg.AdvisorURL)
	}

	trader := NewTrader(&cfg, binance, account, exec, paper, advisor, logs, ring, hub)
	server := NewServer(&cfg, trader, binance, logs, ring, hub)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.Handler(),
	}
	go func() {
		logs.Infof("[BOOT] http listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[BOOT] http server: %v", err)
		}
	}()

	trader.Run(ctx)

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logs.Warnf("http shutdown: %v", err)
	}
	logs.Infof("[BOOT] bye")
}

// runOfflineBacktest loads candles, simulates, and prints the JSON report.
func runOfflineBacktest(cfg *Config, csvPath, symbol string, logs *LogRing) {
	if symbol == "" {
		symbol = cfg.Symbols[0]
	}
	res, err := RunBacktest(cfg, BacktestRequest{
		Symbol:        symbol,
		CSVPath:       csvPath,
		InitialEquity: cfg.Equity,
	}, defaultMeta(symbol), logs)
	if err != nil {
		log.Fatalf("[BACKTEST] %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Fatalf("[BACKTEST] encode: %v", err)
	}
}
