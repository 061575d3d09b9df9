// FILE: config.go
// Package main – Runtime configuration model and loader.
//
// Config holds every knob the assistant uses: the strategy parameters the
// scheduler and decision engine read each scan, and the ops knobs (port,
// dry-run, testnet, advisor endpoint). The .env file is read by loadBotEnv()
// (see env.go), so behavior is tunable without recompiling.
//
// Typical flow (see main.go):
//   loadBotEnv()
//   cfg := loadConfigFromEnv()
package main

import "strings"

// Config holds all runtime knobs for trading and operations.
type Config struct {
	// Instruments scanned each pass.
	Symbols []string // e.g. ["BTCUSDT","ETHUSDT"]

	// Strategy
	Leverage              int        // applied on every entry
	RiskFraction          float64    // fraction of equity committed as margin per entry
	InitialStopLossRoi    float64    // worst-case ROI before the hard stop fires (e.g. 0.10)
	BreakevenTriggerRoi   float64    // net ROI that arms breakeven protection
	TrailingCallbackRatio float64    // callback ratio (%) for the trailing exit leg
	TakerFeeRate          float64    // single-side taker fee (e.g. 0.0005)
	ProfitTierRois        [3]float64 // ascending net-ROI targets for tiered exits

	// Scan cadence
	TickIntervalSec        int // fixed scheduler tick
	EmptyScanIntervalSec   int // full-pass interval while flat
	HoldingScanIntervalSec int // full-pass interval while any position is open
	MaxConcurrentPositions int

	// Advisory
	AdvisorURL        string // empty disables the advisory call entirely
	AdvisorTimeoutSec int
	PromptText        string // operator-supplied prompt prefix sent to the advisor

	// Ops
	Port       int
	DryRun     bool
	UseTestnet bool
	Equity     float64 // paper equity used when DryRun (live equity comes from the account provider)
}

// loadConfigFromEnv reads the process env (already hydrated by loadBotEnv())
// and returns a Config with sane defaults if keys are missing.
func loadConfigFromEnv() Config {
	cfg := Config{
		Symbols: splitSymbols(getEnv("SYMBOLS", "BTCUSDT")),

		Leverage:              getEnvInt("LEVERAGE", 10),
		RiskFraction:          getEnvFloat("RISK_FRACTION", 0.05),
		InitialStopLossRoi:    getEnvFloat("INITIAL_SL_ROI", 0.10),
		BreakevenTriggerRoi:   getEnvFloat("BREAKEVEN_TRIGGER_ROI", 0.20),
		TrailingCallbackRatio: getEnvFloat("TRAIL_CALLBACK_RATIO", 1.0),
		TakerFeeRate:          getEnvFloat("TAKER_FEE_RATE", 0.0005),
		ProfitTierRois: [3]float64{
			getEnvFloat("TP_TIER1_ROI", 0.5),
			getEnvFloat("TP_TIER2_ROI", 1.0),
			getEnvFloat("TP_TIER3_ROI", 1.5),
		},

		TickIntervalSec:        getEnvInt("TICK_INTERVAL_SEC", 2),
		EmptyScanIntervalSec:   getEnvInt("EMPTY_SCAN_INTERVAL_SEC", 180),
		HoldingScanIntervalSec: getEnvInt("HOLDING_SCAN_INTERVAL_SEC", 60),
		MaxConcurrentPositions: getEnvInt("MAX_CONCURRENT_POSITIONS", 3),

		AdvisorURL:        getEnv("ADVISOR_URL", ""),
		AdvisorTimeoutSec: getEnvInt("ADVISOR_TIMEOUT_SEC", 30),
		PromptText:        getEnv("PROMPT_TEXT", ""),

		Port:       getEnvInt("PORT", 8080),
		DryRun:     getEnvBool("DRY_RUN", true),
		UseTestnet: getEnvBool("USE_TESTNET", false),
		Equity:     getEnvFloat("PAPER_EQUITY", 10000.0),
	}

	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []string{"BTCUSDT"}
	}
	if cfg.Leverage < 1 {
		cfg.Leverage = 1
	}
	if cfg.TickIntervalSec < 1 {
		cfg.TickIntervalSec = 1
	}
	if cfg.HoldingScanIntervalSec < cfg.TickIntervalSec {
		cfg.HoldingScanIntervalSec = cfg.TickIntervalSec
	}
	if cfg.EmptyScanIntervalSec < cfg.HoldingScanIntervalSec {
		cfg.EmptyScanIntervalSec = cfg.HoldingScanIntervalSec
	}
	return cfg
}

// splitSymbols parses a comma-separated symbol list, uppercasing and
// dropping empties.
func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// scanInterval returns the full decision-pass interval in seconds for the
// current position state: tighter while holding, relaxed while flat.
func (c *Config) scanInterval(holding bool) int {
	if holding {
		return c.HoldingScanIntervalSec
	}
	return c.EmptyScanIntervalSec
}
