// FILE: decision.go
// Package main – Deterministic rule engine and breakeven protection registry.
//
// ruleDecide is the pure decision function: given config, market and account
// snapshots it returns exactly one Decision per symbol. It is the fallback
// when the advisor is disabled or fails, and the recommendation sent to the
// advisor when it is enabled (see advisor.go).
//
// The ProtectionRegistry guarantees the breakeven stop move fires at most
// once per (symbol, side) position lifetime; the entry is cleared when the
// position closes so a future position can arm it again.
package main

import (
	"fmt"
	"sync"
	"time"
)

// ProtectionRegistry tracks which open positions already had their stop
// moved to breakeven. Keyed by symbol+side so a flip from long to short is
// a fresh lifetime.
type ProtectionRegistry struct {
	mu   sync.Mutex
	done map[string]bool
}

func NewProtectionRegistry() *ProtectionRegistry {
	return &ProtectionRegistry{done: make(map[string]bool)}
}

func protKey(symbol, side string) string { return symbol + "/" + side }

// Has reports whether breakeven already fired for this position lifetime.
func (r *ProtectionRegistry) Has(symbol, side string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done[protKey(symbol, side)]
}

// Mark records that breakeven fired for this position lifetime.
func (r *ProtectionRegistry) Mark(symbol, side string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done[protKey(symbol, side)] = true
}

// Reset clears both sides of a symbol, called when the position is closed.
func (r *ProtectionRegistry) Reset(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.done, protKey(symbol, "BUY"))
	delete(r.done, protKey(symbol, "SELL"))
}

// Prune drops entries whose position no longer exists. Positions can vanish
// without a CLOSE decision (hard stop or exit leg filled exchange-side), and
// a stale entry would block breakeven for the next position on that key.
func (r *ProtectionRegistry) Prune(positions []PositionSnapshot) {
	open := make(map[string]bool, len(positions))
	for i := range positions {
		if positions[i].Size > 0 {
			open[protKey(positions[i].Symbol, positions[i].Side)] = true
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.done {
		if !open[k] {
			delete(r.done, k)
		}
	}
}

// ruleDecide runs the deterministic strategy for one symbol.
//
// With no position: detect the trend, look for an EMA cross entry, size it,
// and emit BUY/SELL with the hard stop attached. With a position: CLOSE on
// trend reversal against the position; otherwise arm breakeven once the net
// ROI clears the trigger; otherwise HOLD.
func ruleDecide(cfg *Config, mkt MarketSnapshot, acct AccountSnapshot,
	meta InstrumentMeta, reg *ProtectionRegistry) Decision {

	now := time.Now().Unix()
	d := Decision{Symbol: mkt.Symbol, Action: ActionHold, Time: now}

	pos := findPosition(acct.Positions, mkt.Symbol)
	trend := detectTrend(mkt.TrendTF, mkt.LowerTF)

	if pos == nil {
		if countOpen(acct.Positions) >= cfg.MaxConcurrentPositions {
			d.Reasoning = fmt.Sprintf("trend %s; position cap %d reached", trend, cfg.MaxConcurrentPositions)
			return d
		}
		sig := findEntry(trend, mkt.LowerTF, mkt.Price, cfg.Leverage, cfg.InitialStopLossRoi)
		if sig == nil {
			d.Reasoning = fmt.Sprintf("trend %s; no entry cross", trend)
			return d
		}
		size, err := ContractsForRisk(acct.Equity, cfg.RiskFraction, cfg.Leverage, meta, mkt.Price)
		if err != nil {
			d.Reasoning = fmt.Sprintf("entry signal (%s) but sizing failed: %v", sig.Reason, err)
			return d
		}
		d.Action = Action(sig.Side)
		d.Size = size
		d.Leverage = cfg.Leverage
		d.StopPrice = sig.StopPrice
		d.Reasoning = sig.Reason
		return d
	}

	// Positioned: reversal first.
	if (pos.Side == "BUY" && trend == TrendDown) || (pos.Side == "SELL" && trend == TrendUp) {
		d.Action = ActionClose
		d.Reasoning = fmt.Sprintf("trend reversed to %s against %s position", trend, pos.Side)
		return d
	}

	// Breakeven: net ROI strips the round-trip taker fee at leverage.
	netRoi := pos.UnrealizedRoi - 2.0*cfg.TakerFeeRate*float64(pos.Leverage)
	if netRoi >= cfg.BreakevenTriggerRoi && !reg.Has(mkt.Symbol, pos.Side) {
		d.Action = ActionUpdateTPSL
		d.StopPrice = breakevenStop(pos.Side, pos.AvgPrice, cfg.TakerFeeRate)
		d.Reasoning = fmt.Sprintf("net roi %.4f cleared breakeven trigger %.4f", netRoi, cfg.BreakevenTriggerRoi)
		return d
	}

	d.Reasoning = fmt.Sprintf("holding %s, net roi %.4f, trend %s", pos.Side, netRoi, trend)
	return d
}

// breakevenStop is the entry price nudged past the round-trip fee so a
// stop-out there realizes zero net.
func breakevenStop(side string, avgPrice, takerFee float64) float64 {
	if side == "BUY" {
		return avgPrice * (1.0 + 2.0*takerFee)
	}
	return avgPrice * (1.0 - 2.0*takerFee)
}

// findPosition returns the open position for a symbol, or nil.
func findPosition(ps []PositionSnapshot, symbol string) *PositionSnapshot {
	for i := range ps {
		if ps[i].Symbol == symbol && ps[i].Size > 0 {
			return &ps[i]
		}
	}
	return nil
}

// countOpen counts positions with nonzero size.
func countOpen(ps []PositionSnapshot) int {
	n := 0
	for i := range ps {
		if ps[i].Size > 0 {
			n++
		}
	}
	return n
}
