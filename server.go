// FILE: server.go
// Package main – HTTP surface: health, metrics, status, decision and log
// feeds, backtest runs, and pause/resume control.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wires the HTTP handlers over the running trader.
type Server struct {
	cfg    *Config
	trader *Trader
	market MarketDataProvider
	logs   *LogRing
	ring   *DecisionRing
	hub    *Hub
	start  time.Time
}

func NewServer(cfg *Config, trader *Trader, market MarketDataProvider,
	logs *LogRing, ring *DecisionRing, hub *Hub) *Server {
	return &Server{
		cfg: cfg, trader: trader, market: market,
		logs: logs, ring: ring, hub: hub, start: time.Now(),
	}
}

// Handler builds the mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/decisions", s.handleDecisions)
	mux.HandleFunc("/logs", s.handleLogs)
	mux.HandleFunc("/backtest", s.handleBacktest)
	mux.HandleFunc("/control", s.handleControl)
	mux.HandleFunc("/ws", s.hub.ServeWS)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.trader.Halted() {
		http.Error(w, "halted", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"symbols":        s.cfg.Symbols,
		"dry_run":        s.cfg.DryRun,
		"leverage":       s.cfg.Leverage,
		"halted":         s.trader.Halted(),
		"paused":         s.trader.paused.Load(),
		"equity":         s.trader.Equity(),
		"last_full_scan": s.trader.lastFull.Load(),
		"uptime_sec":     int64(time.Since(s.start).Seconds()),
	})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if n <= 0 || n > decisionRingCap {
		n = 50
	}
	writeJSON(w, http.StatusOK, s.ring.Recent(r.URL.Query().Get("symbol"), n))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if n <= 0 || n > logRingCap {
		n = 100
	}
	writeJSON(w, http.StatusOK, s.logs.Recent(n))
}

// handleBacktest runs a simulation synchronously and returns the report.
// Instrument metadata comes from the live market provider when available,
// otherwise a permissive default is used.
func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		req.Symbol = s.cfg.Symbols[0]
	}
	meta := defaultMeta(req.Symbol)
	if s.market != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		if m, err := s.market.Instrument(ctx, req.Symbol); err == nil {
			meta = m
		}
		cancel()
	}
	res, err := RunBacktest(s.cfg, req, meta, s.logs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Action string `json:"action"` // "pause" or "resume"
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	switch body.Action {
	case "pause":
		s.trader.Pause()
		s.logs.Infof("[CONTROL] trading paused")
	case "resume":
		s.trader.Resume()
		s.logs.Infof("[CONTROL] trading resumed")
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": s.trader.paused.Load()})
}

// defaultMeta is a permissive instrument used when live metadata is not
// reachable (pure-offline backtests).
func defaultMeta(symbol string) InstrumentMeta {
	return InstrumentMeta{
		Symbol:        symbol,
		ContractValue: 1.0,
		TickSize:      0.01,
		LotSize:       0.001,
		LotPrecision:  3,
		MinSize:       0.001,
		Tradable:      true,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
