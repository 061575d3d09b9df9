// FILE: signal.go
// Package main – Trend classification and entry signal generation.
//
// Two EMA periods (fast 15, slow 60) are computed on two timeframes. The
// higher timeframe decides the trend bias; the lower timeframe's EMA cross
// decides entry timing, gated by that bias. A hard stop price is attached
// to every entry signal so the executor can place protection atomically
// with the order.
package main

import "fmt"

const (
	emaFastPeriod = 15
	emaSlowPeriod = 60

	// Minimum bars on the trend timeframe before a directional call is
	// allowed. Below this the series is treated as unsettled.
	minTrendBars = 60

	// Relative tolerance for calling fast vs slow EMA "apart". Inside the
	// band the trend is neutral.
	trendTolerance = 0.0005
)

// Trend is the higher-timeframe directional bias.
type Trend int

const (
	TrendNeutral Trend = iota
	TrendUp
	TrendDown
)

func (t Trend) String() string {
	switch t {
	case TrendUp:
		return "UP"
	case TrendDown:
		return "DOWN"
	default:
		return "NEUTRAL"
	}
}

// Candle is one OHLCV bar.
type Candle struct {
	Time   int64   `json:"time"` // unix seconds, bar open
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// IndicatorSet is the computed view over one timeframe's candles.
type IndicatorSet struct {
	EmaFast []float64
	EmaSlow []float64
	Rsi     []float64
}

// computeIndicators builds the aligned indicator series for a candle set.
func computeIndicators(cs []Candle) IndicatorSet {
	closes := closesOf(cs)
	return IndicatorSet{
		EmaFast: EMA(closes, emaFastPeriod),
		EmaSlow: EMA(closes, emaSlowPeriod),
		Rsi:     RSI(closes, 14),
	}
}

// detectTrend classifies the higher-timeframe bias: UP needs price above
// the slow EMA with the fast EMA leading it, DOWN the mirror. With fewer
// than minTrendBars bars on the trend timeframe it falls back to price vs
// the lower timeframe's slow EMA; if that too is short, NEUTRAL.
func detectTrend(trendTF, lowerTF []Candle) Trend {
	if len(trendTF) >= minTrendBars {
		ind := computeIndicators(trendTF)
		price := trendTF[len(trendTF)-1].Close
		return classifyTrend(price, last(ind.EmaFast), last(ind.EmaSlow))
	}
	if len(lowerTF) >= 2 {
		slow := EMA(closesOf(lowerTF), emaSlowPeriod)
		price := lowerTF[len(lowerTF)-1].Close
		return classifyTrend(price, price, last(slow))
	}
	return TrendNeutral
}

// classifyTrend applies the tolerance band to the fast/slow separation and
// requires price on the right side of the slow EMA.
func classifyTrend(price, fast, slow float64) Trend {
	if slow == 0 {
		return TrendNeutral
	}
	rel := (fast - slow) / slow
	switch {
	case price > slow && rel > trendTolerance:
		return TrendUp
	case price < slow && rel < -trendTolerance:
		return TrendDown
	default:
		return TrendNeutral
	}
}

// EntrySignal is a proposed position with its protective stop attached.
type EntrySignal struct {
	Side      string  // "BUY" or "SELL"
	StopPrice float64 // hard stop for the proposed entry
	Reason    string
}

// findEntry scans the lower timeframe for an EMA cross on the final bar,
// gated by the higher-timeframe trend. Long entries require a bullish cross
// inside an UP trend; shorts the mirror. Returns nil when no entry fires.
//
// Stop placement, for leverage L and worst-case ROI r:
//   long:  stop = price * (1 - r/L)
//   short: stop = price * (1 + r/L)
func findEntry(trend Trend, lowerTF []Candle, price float64, leverage int, stopLossRoi float64) *EntrySignal {
	if trend == TrendNeutral || len(lowerTF) < 2 || price <= 0 || leverage < 1 {
		return nil
	}
	ind := computeIndicators(lowerTF)
	n := len(ind.EmaFast)
	fc, sc := ind.EmaFast[n-1], ind.EmaSlow[n-1]
	fp, sp := ind.EmaFast[n-2], ind.EmaSlow[n-2]

	bullCross := fp <= sp && fc > sc
	bearCross := fp >= sp && fc < sc

	rel := stopLossRoi / float64(leverage)
	switch {
	case trend == TrendUp && bullCross:
		return &EntrySignal{
			Side:      "BUY",
			StopPrice: price * (1.0 - rel),
			Reason:    fmt.Sprintf("ema%d crossed above ema%d in UP trend", emaFastPeriod, emaSlowPeriod),
		}
	case trend == TrendDown && bearCross:
		return &EntrySignal{
			Side:      "SELL",
			StopPrice: price * (1.0 + rel),
			Reason:    fmt.Sprintf("ema%d crossed below ema%d in DOWN trend", emaFastPeriod, emaSlowPeriod),
		}
	}
	return nil
}
