// FILE: broker.go
// Package main – Exchange-facing interfaces and the shared data model.
//
// The decision engine never talks to an exchange SDK directly: it consumes
// the three narrow interfaces below. broker_binance.go implements all of
// them against Binance USDT-M futures; broker_paper.go implements the
// executor half for dry-run, and the backtest fabricates snapshots itself.
package main

import (
	"context"
	"errors"
)

// Sentinel errors the scheduler keys off.
var (
	errCredentialMissing = errors.New("credentials missing or rejected")
	errDataUnavailable   = errors.New("market data unavailable")
	errSizingDegenerate  = errors.New("position size rounded to zero")
)

// Action is what the decision engine tells the executor to do.
type Action string

const (
	ActionBuy        Action = "BUY"
	ActionSell       Action = "SELL"
	ActionHold       Action = "HOLD"
	ActionClose      Action = "CLOSE"
	ActionUpdateTPSL Action = "UPDATE_TPSL"
)

// Decision is one decision-engine output for a symbol.
type Decision struct {
	Symbol    string  `json:"symbol"`
	Action    Action  `json:"action"`
	Size      float64 `json:"size,omitempty"`       // contracts, entries only
	Leverage  int     `json:"leverage,omitempty"`   // entries only
	StopPrice float64 `json:"stop_price,omitempty"` // entries and UPDATE_TPSL
	Reasoning string  `json:"reasoning"`
	Advisory  bool    `json:"advisory"` // true when the advisor produced it
	Time      int64   `json:"time"`     // unix seconds
}

// InstrumentMeta is static contract metadata, cached per symbol.
type InstrumentMeta struct {
	Symbol        string
	ContractValue float64 // quote value of one contract at price 1.0
	TickSize      float64
	LotSize       float64 // size step
	LotPrecision  int32   // decimal places implied by LotSize
	MinSize       float64 // exchange minimum order size
	Tradable      bool
}

// PositionSnapshot is one open position as reported by the account.
type PositionSnapshot struct {
	Symbol        string
	Side          string // "BUY" (long) or "SELL" (short)
	Size          float64
	AvgPrice      float64
	UnrealizedRoi float64 // gross, leverage included
	Leverage      int
}

// MarketSnapshot is everything the engine sees for one symbol on one scan.
type MarketSnapshot struct {
	Symbol   string
	Price    float64
	LowerTF  []Candle // decision timeframe, oldest..newest
	TrendTF  []Candle // trend timeframe, oldest..newest
	Funding  float64  // current funding rate
	OpenInt  float64  // open interest, contracts
	BidDepth float64  // quote-value depth near the top of book
	AskDepth float64
}

// AccountSnapshot is the equity and position view for one scan.
type AccountSnapshot struct {
	Equity    float64
	Available float64
	Positions []PositionSnapshot
}

// MarketDataProvider serves candle history and live snapshots.
type MarketDataProvider interface {
	Snapshot(ctx context.Context, symbol string) (MarketSnapshot, error)
	Instrument(ctx context.Context, symbol string) (InstrumentMeta, error)
}

// AccountProvider serves equity and open positions.
type AccountProvider interface {
	Account(ctx context.Context) (AccountSnapshot, error)
}

// OrderExecutor turns decisions into orders. Open places the entry and its
// protective stop; CloseAll flattens a symbol; SetProtection replaces the
// stop/TP bracket (breakeven moves and tiered exits).
type OrderExecutor interface {
	Open(ctx context.Context, symbol, side string, size, stopPrice float64) (orderID string, err error)
	CloseAll(ctx context.Context, symbol string) error
	SetProtection(ctx context.Context, symbol, side string, stopPrice float64, legs []ExitLeg) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
