// FILE: scheduler.go
// Package main – The live trading loop.
//
// A fixed ticker drives the loop. Each tick is single-flight: if the
// previous scan is still running the tick is skipped and counted. Every
// tick runs the cheap breakeven sweep over open positions; the full
// decision pass (trend, entries, advisor) runs on a dynamic interval that
// tightens while a position is held. A credential error halts the trader
// permanently; a panic in a scan is recovered and logged so one bad symbol
// cannot take the loop down.
package main

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Trader owns the live loop state for all configured symbols.
type Trader struct {
	cfg     *Config
	market  MarketDataProvider
	account AccountProvider
	exec    OrderExecutor
	paper   *PaperBroker // non-nil in dry-run, fed prices each snapshot
	advisor *Advisor
	reg     *ProtectionRegistry
	logs    *LogRing
	ring    *DecisionRing
	hub     *Hub

	busy     int32
	halted   atomic.Bool
	paused   atomic.Bool
	lastFull atomic.Int64 // unix seconds of last full pass
	equity   atomic.Value // float64, last observed

	startOnce sync.Once
}

func NewTrader(cfg *Config, market MarketDataProvider, account AccountProvider,
	exec OrderExecutor, paper *PaperBroker, advisor *Advisor,
	logs *LogRing, ring *DecisionRing, hub *Hub) *Trader {
	t := &Trader{
		cfg:     cfg,
		market:  market,
		account: account,
		exec:    exec,
		paper:   paper,
		advisor: advisor,
		reg:     NewProtectionRegistry(),
		logs:    logs,
		ring:    ring,
		hub:     hub,
	}
	t.equity.Store(0.0)
	return t
}

// Run blocks until ctx is cancelled or the trader halts on a credential
// error.
func (t *Trader) Run(ctx context.Context) {
	t.startOnce.Do(func() {
		for _, sym := range t.cfg.Symbols {
			if err := t.exec.SetLeverage(ctx, sym, t.cfg.Leverage); err != nil {
				t.logs.Warnf("set leverage %s: %v", sym, err)
			}
		}
	})

	tick := time.Duration(t.cfg.TickIntervalSec) * time.Second
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	t.logs.Infof("[BOOT] trader loop started, tick=%s symbols=%v dryRun=%v",
		tick, t.cfg.Symbols, t.cfg.DryRun)

	for {
		select {
		case <-ctx.Done():
			t.logs.Infof("[BOOT] trader loop stopping: %v", ctx.Err())
			return
		case <-ticker.C:
			if t.halted.Load() {
				return
			}
			if !atomic.CompareAndSwapInt32(&t.busy, 0, 1) {
				mScansSkipped.Inc()
				continue
			}
			go func() {
				defer atomic.StoreInt32(&t.busy, 0)
				t.scan(ctx)
			}()
		}
	}
}

// Pause and Resume gate the loop from the /control endpoint.
func (t *Trader) Pause()  { t.paused.Store(true) }
func (t *Trader) Resume() { t.paused.Store(false) }

// Halted reports whether the trader stopped on a credential error.
func (t *Trader) Halted() bool { return t.halted.Load() }

// Equity returns the last observed account equity.
func (t *Trader) Equity() float64 {
	v, _ := t.equity.Load().(float64)
	return v
}

// scan is one tick's work.
func (t *Trader) scan(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logs.Errorf("scan panic recovered: %v\n%s", r, debug.Stack())
		}
	}()
	mScans.Inc()

	acct, err := t.account.Account(ctx)
	if err != nil {
		t.fail(err)
		return
	}
	t.equity.Store(acct.Equity)
	observeEquity(acct.Equity)
	t.reg.Prune(acct.Positions)

	// Paused ticks still refresh equity and positions but make no
	// decisions and place no orders.
	if t.paused.Load() {
		return
	}

	// The sweep runs every tick, before any full pass; reg.Has keeps the
	// full pass from firing breakeven a second time.
	holding := countOpen(acct.Positions) > 0
	if holding {
		t.breakevenSweep(ctx, acct)
		if t.halted.Load() {
			return
		}
	}
	if t.fullPassDue(holding) {
		t.fullPass(ctx, acct)
	}
}

// fullPassDue checks the dynamic interval against the last full pass.
func (t *Trader) fullPassDue(holding bool) bool {
	lastAt := t.lastFull.Load()
	due := time.Now().Unix()-lastAt >= int64(t.cfg.scanInterval(holding))
	if due {
		t.lastFull.Store(time.Now().Unix())
	}
	return due
}

// fullPass fetches snapshots for every symbol concurrently, then decides
// and executes sequentially so order placement stays serialized.
func (t *Trader) fullPass(ctx context.Context, acct AccountSnapshot) {
	type fetched struct {
		mkt  MarketSnapshot
		meta InstrumentMeta
		err  error
	}
	results := make([]fetched, len(t.cfg.Symbols))
	var wg sync.WaitGroup
	for i, sym := range t.cfg.Symbols {
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()
			mkt, err := t.market.Snapshot(ctx, sym)
			if err != nil {
				results[i] = fetched{err: err}
				return
			}
			meta, err := t.market.Instrument(ctx, sym)
			results[i] = fetched{mkt: mkt, meta: meta, err: err}
		}(i, sym)
	}
	wg.Wait()

	for i, sym := range t.cfg.Symbols {
		r := results[i]
		if r.err != nil {
			t.logs.Warnf("[SCAN] %s skipped: %v", sym, r.err)
			continue
		}
		if !r.meta.Tradable {
			t.logs.Warnf("[SCAN] %s not tradable, skipped", sym)
			continue
		}
		if t.paper != nil {
			t.paper.ObservePrice(sym, r.mkt.Price)
		}
		d := ruleDecide(t.cfg, r.mkt, acct, r.meta, t.reg)
		if t.advisor != nil {
			d = t.advisor.Decide(ctx, t.cfg, r.mkt, acct, d)
		}
		t.emit(d)
		if err := t.execute(ctx, d, r.mkt, r.meta, acct); err != nil {
			if t.fail(err) {
				return
			}
			t.logs.Errorf("[EXEC] %s %s failed: %v", d.Action, sym, err)
		}
	}
}

// breakevenSweep runs the cheap protection check on positioned symbols
// only, every tick.
func (t *Trader) breakevenSweep(ctx context.Context, acct AccountSnapshot) {
	for _, pos := range acct.Positions {
		if pos.Size <= 0 || t.reg.Has(pos.Symbol, pos.Side) {
			continue
		}
		netRoi := pos.UnrealizedRoi - 2.0*t.cfg.TakerFeeRate*float64(pos.Leverage)
		if netRoi < t.cfg.BreakevenTriggerRoi {
			continue
		}
		d := Decision{
			Symbol:    pos.Symbol,
			Action:    ActionUpdateTPSL,
			StopPrice: breakevenStop(pos.Side, pos.AvgPrice, t.cfg.TakerFeeRate),
			Reasoning: fmt.Sprintf("net roi %.4f cleared breakeven trigger %.4f", netRoi, t.cfg.BreakevenTriggerRoi),
			Time:      time.Now().Unix(),
		}
		t.emit(d)
		meta, err := t.market.Instrument(ctx, pos.Symbol)
		if err != nil {
			t.logs.Warnf("breakeven %s: %v", pos.Symbol, err)
			continue
		}
		if err := t.applyProtection(ctx, d, pos, meta); err != nil {
			if t.fail(err) {
				return
			}
			t.logs.Errorf("breakeven %s failed: %v", pos.Symbol, err)
		}
	}
}

// execute turns one decision into orders.
func (t *Trader) execute(ctx context.Context, d Decision, mkt MarketSnapshot,
	meta InstrumentMeta, acct AccountSnapshot) error {

	switch d.Action {
	case ActionHold:
		return nil

	case ActionBuy, ActionSell:
		side := string(d.Action)
		if _, err := t.exec.Open(ctx, d.Symbol, side, d.Size, d.StopPrice); err != nil {
			return err
		}
		legs := AllocateExitLegs(side, mkt.Price, d.Size, t.cfg.ProfitTierRois,
			t.cfg.Leverage, t.cfg.TakerFeeRate, t.cfg.TrailingCallbackRatio, meta)
		if err := t.exec.SetProtection(ctx, d.Symbol, side, d.StopPrice, legs); err != nil {
			return err
		}
		t.logs.Infof("[ORDER] opened %s %s size=%.6f stop=%.6f legs=%d",
			side, d.Symbol, d.Size, d.StopPrice, len(legs))
		return nil

	case ActionClose:
		if err := t.exec.CloseAll(ctx, d.Symbol); err != nil {
			return err
		}
		t.reg.Reset(d.Symbol)
		t.logs.Infof("[ORDER] closed %s: %s", d.Symbol, d.Reasoning)
		return nil

	case ActionUpdateTPSL:
		pos := findPosition(acct.Positions, d.Symbol)
		if pos == nil {
			return nil
		}
		return t.applyProtection(ctx, d, *pos, meta)
	}
	return nil
}

// applyProtection moves the stop and rebuilds the exit bracket, then marks
// the registry so this lifetime never moves again.
func (t *Trader) applyProtection(ctx context.Context, d Decision, pos PositionSnapshot, meta InstrumentMeta) error {
	legs := AllocateExitLegs(pos.Side, pos.AvgPrice, pos.Size, t.cfg.ProfitTierRois,
		pos.Leverage, t.cfg.TakerFeeRate, t.cfg.TrailingCallbackRatio, meta)
	if err := t.exec.SetProtection(ctx, d.Symbol, pos.Side, d.StopPrice, legs); err != nil {
		return err
	}
	t.reg.Mark(d.Symbol, pos.Side)
	mBreakevenLocks.Inc()
	t.logs.Infof("[ORDER] breakeven lock %s %s stop=%.6f", d.Symbol, pos.Side, d.StopPrice)
	return nil
}

// emit records and broadcasts a decision.
func (t *Trader) emit(d Decision) {
	observeDecision(d)
	t.ring.Add(d)
	if t.hub != nil {
		t.hub.Broadcast("decision", d)
	}
	if d.Action != ActionHold {
		t.logs.Infof("[SCAN] %s -> %s: %s", d.Symbol, d.Action, d.Reasoning)
	}
}

// fail halts the trader on credential errors and reports whether it did.
func (t *Trader) fail(err error) bool {
	if errors.Is(err, errCredentialMissing) {
		t.logs.Errorf("[HALT] credential error, trading stopped: %v", err)
		t.halted.Store(true)
		return true
	}
	t.logs.Warnf("scan error: %v", err)
	return false
}
