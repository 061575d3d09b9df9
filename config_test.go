// FILE: config_test.go
package main

import "testing"

func TestSplitSymbols(t *testing.T) {
	got := splitSymbols(" btcusdt, ETHUSDT ,,solusdt ")
	want := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestLoadConfigDefaultsEmptySymbols(t *testing.T) {
	t.Setenv("SYMBOLS", " , ,, ")
	cfg := loadConfigFromEnv()
	if len(cfg.Symbols) != 1 || cfg.Symbols[0] != "BTCUSDT" {
		t.Fatalf("symbols = %v, want the default [BTCUSDT]", cfg.Symbols)
	}
}

func TestScanIntervalBySide(t *testing.T) {
	cfg := testConfig()
	if cfg.scanInterval(true) != cfg.HoldingScanIntervalSec {
		t.Fatal("holding interval mismatch")
	}
	if cfg.scanInterval(false) != cfg.EmptyScanIntervalSec {
		t.Fatal("empty interval mismatch")
	}
}

func TestLoadConfigClampsIntervals(t *testing.T) {
	t.Setenv("TICK_INTERVAL_SEC", "5")
	t.Setenv("HOLDING_SCAN_INTERVAL_SEC", "1")
	t.Setenv("EMPTY_SCAN_INTERVAL_SEC", "1")
	cfg := loadConfigFromEnv()
	if cfg.HoldingScanIntervalSec < cfg.TickIntervalSec {
		t.Fatalf("holding %d must be >= tick %d", cfg.HoldingScanIntervalSec, cfg.TickIntervalSec)
	}
	if cfg.EmptyScanIntervalSec < cfg.HoldingScanIntervalSec {
		t.Fatalf("empty %d must be >= holding %d", cfg.EmptyScanIntervalSec, cfg.HoldingScanIntervalSec)
	}
}
