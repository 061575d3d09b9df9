// FILE: decision_test.go
package main

import (
	"strings"
	"testing"
)

func testConfig() *Config {
	return &Config{
		Symbols:                []string{"BTCUSDT"},
		Leverage:               10,
		RiskFraction:           0.05,
		InitialStopLossRoi:     0.10,
		BreakevenTriggerRoi:    0.20,
		TrailingCallbackRatio:  1.0,
		TakerFeeRate:           0.0005,
		ProfitTierRois:         [3]float64{0.5, 1.0, 1.5},
		TickIntervalSec:        2,
		EmptyScanIntervalSec:   180,
		HoldingScanIntervalSec: 60,
		MaxConcurrentPositions: 3,
		Equity:                 10000,
	}
}

func TestProtectionRegistryFiresOnce(t *testing.T) {
	reg := NewProtectionRegistry()
	if reg.Has("BTCUSDT", "BUY") {
		t.Fatal("fresh registry should be empty")
	}
	reg.Mark("BTCUSDT", "BUY")
	if !reg.Has("BTCUSDT", "BUY") {
		t.Fatal("marked entry should be present")
	}
	if reg.Has("BTCUSDT", "SELL") {
		t.Fatal("sides are independent lifetimes")
	}
	reg.Reset("BTCUSDT")
	if reg.Has("BTCUSDT", "BUY") {
		t.Fatal("reset should clear the symbol")
	}
}

func TestRuleDecideHoldWhenFlatAndNoCross(t *testing.T) {
	cfg := testConfig()
	mkt := MarketSnapshot{
		Symbol:  "BTCUSDT",
		Price:   100,
		LowerTF: constantCandles(100, 100),
		TrendTF: constantCandles(100, 100),
	}
	acct := AccountSnapshot{Equity: 10000}
	d := ruleDecide(cfg, mkt, acct, testMeta(3, 0.001), NewProtectionRegistry())
	if d.Action != ActionHold {
		t.Fatalf("action = %s, want HOLD", d.Action)
	}
}

func TestRuleDecideEntersOnCrossInTrend(t *testing.T) {
	cfg := testConfig()
	mkt := MarketSnapshot{
		Symbol:  "BTCUSDT",
		Price:   110,
		LowerTF: crossCandles(100, 100, 110),
		TrendTF: risingCandles(100, 100, 1),
	}
	acct := AccountSnapshot{Equity: 10000}
	d := ruleDecide(cfg, mkt, acct, testMeta(3, 0.001), NewProtectionRegistry())
	if d.Action != ActionBuy {
		t.Fatalf("action = %s, want BUY (%s)", d.Action, d.Reasoning)
	}
	if d.Size <= 0 || d.StopPrice <= 0 {
		t.Fatalf("entry must carry size and stop: %+v", d)
	}
	if d.StopPrice >= mkt.Price {
		t.Fatalf("long stop %v must sit below price %v", d.StopPrice, mkt.Price)
	}
}

func TestRuleDecideRespectsPositionCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentPositions = 1
	mkt := MarketSnapshot{
		Symbol:  "BTCUSDT",
		Price:   110,
		LowerTF: crossCandles(100, 100, 110),
		TrendTF: risingCandles(100, 100, 1),
	}
	acct := AccountSnapshot{
		Equity: 10000,
		Positions: []PositionSnapshot{
			{Symbol: "ETHUSDT", Side: "BUY", Size: 1, AvgPrice: 3000, Leverage: 10},
		},
	}
	d := ruleDecide(cfg, mkt, acct, testMeta(3, 0.001), NewProtectionRegistry())
	if d.Action != ActionHold {
		t.Fatalf("action = %s, want HOLD at position cap", d.Action)
	}
}

func TestRuleDecideClosesOnReversal(t *testing.T) {
	cfg := testConfig()
	down := make([]Candle, 100)
	for i := range down {
		c := 200 - float64(i)
		down[i] = Candle{Time: int64(i) * 180, Open: c, High: c, Low: c, Close: c}
	}
	mkt := MarketSnapshot{
		Symbol:  "BTCUSDT",
		Price:   100,
		LowerTF: constantCandles(100, 100),
		TrendTF: down,
	}
	acct := AccountSnapshot{
		Equity: 10000,
		Positions: []PositionSnapshot{
			{Symbol: "BTCUSDT", Side: "BUY", Size: 0.1, AvgPrice: 105, Leverage: 10},
		},
	}
	d := ruleDecide(cfg, mkt, acct, testMeta(3, 0.001), NewProtectionRegistry())
	if d.Action != ActionClose {
		t.Fatalf("action = %s, want CLOSE on reversal (%s)", d.Action, d.Reasoning)
	}
}

func TestRuleDecideBreakevenOnce(t *testing.T) {
	cfg := testConfig()
	mkt := MarketSnapshot{
		Symbol:  "BTCUSDT",
		Price:   110,
		LowerTF: constantCandles(100, 110),
		TrendTF: risingCandles(100, 100, 1),
	}
	pos := PositionSnapshot{
		Symbol: "BTCUSDT", Side: "BUY", Size: 0.1, AvgPrice: 100,
		UnrealizedRoi: 0.5, Leverage: 10,
	}
	acct := AccountSnapshot{Equity: 10000, Positions: []PositionSnapshot{pos}}
	reg := NewProtectionRegistry()

	d := ruleDecide(cfg, mkt, acct, testMeta(3, 0.001), reg)
	if d.Action != ActionUpdateTPSL {
		t.Fatalf("action = %s, want UPDATE_TPSL (%s)", d.Action, d.Reasoning)
	}
	// Breakeven stop covers the round-trip fee: 100 * (1 + 2*0.0005).
	if !almostEqual(d.StopPrice, 100.1, 1e-9) {
		t.Fatalf("stop = %v, want 100.1", d.StopPrice)
	}

	// Once marked, the same position must not re-arm.
	reg.Mark("BTCUSDT", "BUY")
	d = ruleDecide(cfg, mkt, acct, testMeta(3, 0.001), reg)
	if d.Action != ActionHold {
		t.Fatalf("second pass action = %s, want HOLD", d.Action)
	}
}

func TestRuleDecideBreakevenBelowTrigger(t *testing.T) {
	cfg := testConfig()
	mkt := MarketSnapshot{
		Symbol:  "BTCUSDT",
		Price:   101,
		LowerTF: constantCandles(100, 101),
		TrendTF: risingCandles(100, 100, 1),
	}
	pos := PositionSnapshot{
		Symbol: "BTCUSDT", Side: "BUY", Size: 0.1, AvgPrice: 100,
		UnrealizedRoi: 0.1, Leverage: 10, // net 0.09, below the 0.2 trigger
	}
	acct := AccountSnapshot{Equity: 10000, Positions: []PositionSnapshot{pos}}
	d := ruleDecide(cfg, mkt, acct, testMeta(3, 0.001), NewProtectionRegistry())
	if d.Action != ActionHold {
		t.Fatalf("action = %s, want HOLD below trigger", d.Action)
	}
	if !strings.Contains(d.Reasoning, "holding") {
		t.Fatalf("reasoning should describe the hold: %q", d.Reasoning)
	}
}
