// FILE: scheduler_test.go
package main

import (
	"context"
	"sync"
	"testing"
)

// fakeMarket serves canned snapshots.
type fakeMarket struct {
	snap MarketSnapshot
	meta InstrumentMeta
	err  error
}

func (f *fakeMarket) Snapshot(ctx context.Context, symbol string) (MarketSnapshot, error) {
	if f.err != nil {
		return MarketSnapshot{}, f.err
	}
	s := f.snap
	s.Symbol = symbol
	return s, nil
}

func (f *fakeMarket) Instrument(ctx context.Context, symbol string) (InstrumentMeta, error) {
	m := f.meta
	m.Symbol = symbol
	return m, nil
}

// fakeAccount serves a canned account view.
type fakeAccount struct {
	snap AccountSnapshot
	err  error
}

func (f *fakeAccount) Account(ctx context.Context) (AccountSnapshot, error) {
	return f.snap, f.err
}

// fakeExec records executor calls.
type fakeExec struct {
	mu          sync.Mutex
	opens       []string
	closes      []string
	protections []string
	leverages   []string
	err         error
}

func (f *fakeExec) Open(ctx context.Context, symbol, side string, size, stop float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.opens = append(f.opens, symbol+"/"+side)
	return "1", nil
}

func (f *fakeExec) CloseAll(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, symbol)
	return f.err
}

func (f *fakeExec) SetProtection(ctx context.Context, symbol, side string, stop float64, legs []ExitLeg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.protections = append(f.protections, symbol+"/"+side)
	return nil
}

func (f *fakeExec) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leverages = append(f.leverages, symbol)
	return nil
}

func newTestTrader(cfg *Config, mkt *fakeMarket, acct *fakeAccount, exec *fakeExec) *Trader {
	return NewTrader(cfg, mkt, acct, exec, nil, nil, NewLogRing(), NewDecisionRing(), nil)
}

func TestScanOpensOnEntrySignal(t *testing.T) {
	cfg := testConfig()
	mkt := &fakeMarket{
		snap: MarketSnapshot{
			Price:   110,
			LowerTF: crossCandles(100, 100, 110),
			TrendTF: risingCandles(100, 100, 1),
		},
		meta: testMeta(3, 0.001),
	}
	acct := &fakeAccount{snap: AccountSnapshot{Equity: 10000}}
	exec := &fakeExec{}
	tr := newTestTrader(cfg, mkt, acct, exec)

	tr.scan(context.Background())

	if len(exec.opens) != 1 || exec.opens[0] != "BTCUSDT/BUY" {
		t.Fatalf("opens = %v, want [BTCUSDT/BUY]", exec.opens)
	}
	if len(exec.protections) != 1 {
		t.Fatalf("entry must install the exit bracket, got %v", exec.protections)
	}
	if got := tr.Equity(); got != 10000 {
		t.Fatalf("equity = %v, want 10000", got)
	}
}

func TestScanHaltsOnCredentialError(t *testing.T) {
	cfg := testConfig()
	mkt := &fakeMarket{meta: testMeta(3, 0.001)}
	acct := &fakeAccount{err: errCredentialMissing}
	tr := newTestTrader(cfg, mkt, acct, &fakeExec{})

	tr.scan(context.Background())

	if !tr.Halted() {
		t.Fatal("credential error must halt the trader")
	}
}

func TestScanClosesAndResetsRegistry(t *testing.T) {
	cfg := testConfig()
	down := make([]Candle, 100)
	for i := range down {
		c := 200 - float64(i)
		down[i] = Candle{Time: int64(i) * 180, Open: c, High: c, Low: c, Close: c}
	}
	mkt := &fakeMarket{
		snap: MarketSnapshot{
			Price:   100,
			LowerTF: constantCandles(100, 100),
			TrendTF: down,
		},
		meta: testMeta(3, 0.001),
	}
	acct := &fakeAccount{snap: AccountSnapshot{
		Equity: 10000,
		Positions: []PositionSnapshot{
			{Symbol: "BTCUSDT", Side: "BUY", Size: 0.1, AvgPrice: 105, Leverage: 10},
		},
	}}
	exec := &fakeExec{}
	tr := newTestTrader(cfg, mkt, acct, exec)
	tr.reg.Mark("BTCUSDT", "BUY")

	tr.scan(context.Background())

	if len(exec.closes) != 1 || exec.closes[0] != "BTCUSDT" {
		t.Fatalf("closes = %v, want [BTCUSDT]", exec.closes)
	}
	if tr.reg.Has("BTCUSDT", "BUY") {
		t.Fatal("close must reset the protection registry")
	}
}

func TestBreakevenSweepFiresOncePerLifetime(t *testing.T) {
	cfg := testConfig()
	mkt := &fakeMarket{meta: testMeta(3, 0.001)}
	pos := PositionSnapshot{
		Symbol: "BTCUSDT", Side: "BUY", Size: 0.1, AvgPrice: 100,
		UnrealizedRoi: 0.5, Leverage: 10,
	}
	acct := AccountSnapshot{Equity: 10000, Positions: []PositionSnapshot{pos}}
	exec := &fakeExec{}
	tr := newTestTrader(cfg, mkt, &fakeAccount{snap: acct}, exec)

	tr.breakevenSweep(context.Background(), acct)
	tr.breakevenSweep(context.Background(), acct)

	if len(exec.protections) != 1 {
		t.Fatalf("breakeven fired %d times, want exactly 1", len(exec.protections))
	}
	if !tr.reg.Has("BTCUSDT", "BUY") {
		t.Fatal("breakeven must mark the registry")
	}
}

func TestScanPrunesRegistryWhenPositionVanishes(t *testing.T) {
	cfg := testConfig()
	mkt := &fakeMarket{
		snap: MarketSnapshot{
			Price:   100,
			LowerTF: constantCandles(100, 100),
			TrendTF: risingCandles(100, 100, 1),
		},
		meta: testMeta(3, 0.001),
	}
	acct := &fakeAccount{snap: AccountSnapshot{Equity: 10000}}
	exec := &fakeExec{}
	tr := newTestTrader(cfg, mkt, acct, exec)

	// Breakeven fired on a position that then closed exchange-side: the
	// position is gone from the account but the registry entry lingers.
	tr.reg.Mark("BTCUSDT", "BUY")
	tr.scan(context.Background())
	if tr.reg.Has("BTCUSDT", "BUY") {
		t.Fatal("registry entry must be pruned once the position is gone")
	}

	// A fresh same-side position must be able to arm breakeven again.
	acct.snap.Positions = []PositionSnapshot{
		{Symbol: "BTCUSDT", Side: "BUY", Size: 0.1, AvgPrice: 100,
			UnrealizedRoi: 0.5, Leverage: 10},
	}
	tr.scan(context.Background())
	if len(exec.protections) != 1 {
		t.Fatalf("new position never re-armed breakeven: protections = %d, want 1", len(exec.protections))
	}
}

func TestScanSweepsBreakevenWhenMarketDataFails(t *testing.T) {
	cfg := testConfig()
	mkt := &fakeMarket{err: errDataUnavailable, meta: testMeta(3, 0.001)}
	acct := &fakeAccount{snap: AccountSnapshot{
		Equity: 10000,
		Positions: []PositionSnapshot{
			{Symbol: "BTCUSDT", Side: "BUY", Size: 0.1, AvgPrice: 100,
				UnrealizedRoi: 0.5, Leverage: 10},
		},
	}}
	exec := &fakeExec{}
	tr := newTestTrader(cfg, mkt, acct, exec)

	// The full pass cannot fetch candles for the symbol, but the account
	// still shows the position past the trigger: the sweep must protect it.
	tr.scan(context.Background())
	if len(exec.protections) != 1 {
		t.Fatalf("protections = %d, want 1", len(exec.protections))
	}
}

func TestScanBreakevenNotDuplicatedByFullPass(t *testing.T) {
	cfg := testConfig()
	mkt := &fakeMarket{
		snap: MarketSnapshot{
			Price:   110,
			LowerTF: constantCandles(100, 110),
			TrendTF: risingCandles(100, 100, 1),
		},
		meta: testMeta(3, 0.001),
	}
	acct := &fakeAccount{snap: AccountSnapshot{
		Equity: 10000,
		Positions: []PositionSnapshot{
			{Symbol: "BTCUSDT", Side: "BUY", Size: 0.1, AvgPrice: 100,
				UnrealizedRoi: 0.5, Leverage: 10},
		},
	}}
	exec := &fakeExec{}
	tr := newTestTrader(cfg, mkt, acct, exec)

	// Sweep and full pass both run on this tick; the registry keeps the
	// breakeven move to a single placement.
	tr.scan(context.Background())
	if len(exec.protections) != 1 {
		t.Fatalf("protections = %d, want exactly 1", len(exec.protections))
	}
}

func TestFullPassDueRespectsInterval(t *testing.T) {
	cfg := testConfig()
	tr := newTestTrader(cfg, &fakeMarket{}, &fakeAccount{}, &fakeExec{})

	if !tr.fullPassDue(false) {
		t.Fatal("first check must be due")
	}
	if tr.fullPassDue(false) {
		t.Fatal("immediately after a pass nothing is due")
	}
}
