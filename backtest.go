// FILE: backtest.go
// Package main – Offline simulation of the rule strategy over CSV candles.
//
// The simulator replays lower-timeframe candles one bar at a time and runs
// the same rule engine the live loop uses (no advisor). Each bar the open
// position's protection is resolved intrabar against the bar's high/low
// BEFORE the decision runs, so a stop-out inside the bar wins over a
// decision CLOSE at the bar's close. Fees are taker both sides: the entry
// fee is debited when the position opens, the exit fee when it closes.
package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	trendResampleSec  = 1800 // lower-TF bars fold into 30m trend bars
	warmupBars        = 3 * emaSlowPeriod
	equityCurvePoints = 500
)

// BacktestRequest configures one simulation run.
type BacktestRequest struct {
	Symbol        string  `json:"symbol"`
	CSVPath       string  `json:"csv_path,omitempty"`
	InitialEquity float64 `json:"initial_equity"`

	// Optional unix-second bounds; zero means unbounded on that side.
	StartTime int64 `json:"start_time,omitempty"`
	EndTime   int64 `json:"end_time,omitempty"`

	// Candles may be supplied inline instead of CSVPath.
	Candles []Candle `json:"candles,omitempty"`
}

// clipRange keeps candles inside [start, end], retaining everything when a
// bound is zero.
func clipRange(cs []Candle, start, end int64) []Candle {
	if start == 0 && end == 0 {
		return cs
	}
	out := make([]Candle, 0, len(cs))
	for _, c := range cs {
		if start != 0 && c.Time < start {
			continue
		}
		if end != 0 && c.Time > end {
			continue
		}
		out = append(out, c)
	}
	return out
}

// EquityPoint is one point on the (decimated) equity curve.
type EquityPoint struct {
	Time   int64   `json:"time"`
	Equity float64 `json:"equity"`
}

// TradeEvent records one fill during the simulation.
type TradeEvent struct {
	Time   int64   `json:"time"`
	Action string  `json:"action"` // OPEN, CLOSE, STOP, TAKE_PROFIT
	Side   string  `json:"side"`
	Price  float64 `json:"price"`
	Size   float64 `json:"size"`
	Pnl    float64 `json:"pnl"`
	Fee    float64 `json:"fee"`
	Reason string  `json:"reason,omitempty"`
}

// BacktestResult is the terminal report of a run.
type BacktestResult struct {
	RunID         string        `json:"run_id"`
	Symbol        string        `json:"symbol"`
	Bars          int           `json:"bars"`
	InitialEquity float64       `json:"initial_equity"`
	FinalEquity   float64       `json:"final_equity"`
	TotalRoi      float64       `json:"total_roi"`
	MaxDrawdown   float64       `json:"max_drawdown"` // fraction of peak, 0..1
	Trades        int           `json:"trades"`       // closed round trips
	Wins          int           `json:"wins"`
	Losses        int           `json:"losses"`
	ProfitFactor  float64       `json:"profit_factor"`
	FeesPaid      float64       `json:"fees_paid"`
	DailyRoi      float64       `json:"projected_daily_roi"`
	WeeklyRoi     float64       `json:"projected_weekly_roi"`
	MonthlyRoi    float64       `json:"projected_monthly_roi"`
	EquityCurve   []EquityPoint `json:"equity_curve"`
	Events        []TradeEvent  `json:"events"`
}

// btPosition mirrors the live position plus its protective state.
type btPosition struct {
	Side      string
	Size      float64
	Entry     float64
	StopPrice float64
	Legs      []ExitLeg
	OpenTime  int64
	Realized  float64 // realized pnl of partial exits this lifetime
}

// RunBacktest executes the simulation and returns the report.
func RunBacktest(cfg *Config, req BacktestRequest, meta InstrumentMeta, logs *LogRing) (*BacktestResult, error) {
	candles := req.Candles
	if len(candles) == 0 && req.CSVPath != "" {
		var err error
		candles, err = loadCandlesCSV(req.CSVPath)
		if err != nil {
			mBacktests.WithLabelValues("error").Inc()
			return nil, err
		}
	}
	candles = clipRange(candles, req.StartTime, req.EndTime)
	if len(candles) <= warmupBars {
		mBacktests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: need more than %d candles, got %d", errDataUnavailable, warmupBars, len(candles))
	}
	if req.InitialEquity <= 0 {
		req.InitialEquity = cfg.Equity
	}

	res := &BacktestResult{
		RunID:         uuid.NewString(),
		Symbol:        req.Symbol,
		Bars:          len(candles),
		InitialEquity: req.InitialEquity,
	}
	cash := req.InitialEquity
	peak := req.InitialEquity
	var pos *btPosition
	var grossWin, grossLoss float64
	reg := NewProtectionRegistry()
	curve := make([]EquityPoint, 0, len(candles)-warmupBars)

	closeOut := func(bar Candle, price float64, action, reason string) {
		pnl := unrealizedPnl(pos.Side, pos.Entry, price, pos.Size)
		fee := price * pos.Size * cfg.TakerFeeRate
		cash += pnl - fee
		res.FeesPaid += fee
		res.Events = append(res.Events, TradeEvent{
			Time: bar.Time, Action: action, Side: opposite(pos.Side),
			Price: price, Size: pos.Size, Pnl: pnl, Fee: fee, Reason: reason,
		})
		total := pos.Realized + pnl
		res.Trades++
		if total >= 0 {
			res.Wins++
			grossWin += total
		} else {
			res.Losses++
			grossLoss -= total
		}
		reg.Reset(req.Symbol)
		pos = nil
	}

	for i := warmupBars; i < len(candles); i++ {
		bar := candles[i]
		window := candles[:i+1]

		// Intrabar protection resolution, stop first, then tiers.
		if pos != nil && stopTouched(pos.Side, pos.StopPrice, bar) {
			closeOut(bar, pos.StopPrice, "STOP", "hard stop touched intrabar")
		}
		if pos != nil {
			kept := pos.Legs[:0]
			for _, leg := range pos.Legs {
				if pos.Size <= 0 || !tpTouched(pos.Side, leg.Price, bar) {
					kept = append(kept, leg)
					continue
				}
				size := leg.Size
				if size > pos.Size {
					size = pos.Size
				}
				pnl := unrealizedPnl(pos.Side, pos.Entry, leg.Price, size)
				fee := leg.Price * size * cfg.TakerFeeRate
				cash += pnl - fee
				res.FeesPaid += fee
				pos.Size -= size
				pos.Realized += pnl
				res.Events = append(res.Events, TradeEvent{
					Time: bar.Time, Action: "TAKE_PROFIT", Side: opposite(pos.Side),
					Price: leg.Price, Size: size, Pnl: pnl, Fee: fee,
				})
			}
			pos.Legs = kept
			if pos.Size <= 0 {
				total := pos.Realized
				res.Trades++
				if total >= 0 {
					res.Wins++
					grossWin += total
				} else {
					res.Losses++
					grossLoss -= total
				}
				reg.Reset(req.Symbol)
				pos = nil
			}
		}

		// Decision on the closed bar.
		mkt := MarketSnapshot{
			Symbol:  req.Symbol,
			Price:   bar.Close,
			LowerTF: window,
			TrendTF: resample(window, trendResampleSec),
		}
		acct := accountView(cash, pos, req.Symbol, cfg.Leverage, bar.Close)
		d := ruleDecide(cfg, mkt, acct, meta, reg)

		switch d.Action {
		case ActionBuy, ActionSell:
			if pos == nil {
				fee := bar.Close * d.Size * cfg.TakerFeeRate
				cash -= fee
				res.FeesPaid += fee
				pos = &btPosition{
					Side:      string(d.Action),
					Size:      d.Size,
					Entry:     bar.Close,
					StopPrice: d.StopPrice,
					OpenTime:  bar.Time,
					Legs: AllocateExitLegs(string(d.Action), bar.Close, d.Size,
						cfg.ProfitTierRois, cfg.Leverage, cfg.TakerFeeRate,
						cfg.TrailingCallbackRatio, meta),
				}
				res.Events = append(res.Events, TradeEvent{
					Time: bar.Time, Action: "OPEN", Side: string(d.Action),
					Price: bar.Close, Size: d.Size, Fee: fee, Reason: d.Reasoning,
				})
			}
		case ActionClose:
			if pos != nil {
				closeOut(bar, bar.Close, "CLOSE", d.Reasoning)
			}
		case ActionUpdateTPSL:
			if pos != nil && !reg.Has(req.Symbol, pos.Side) {
				pos.StopPrice = d.StopPrice
				reg.Mark(req.Symbol, pos.Side)
			}
		}

		// Mark to market and track drawdown.
		equity := cash
		if pos != nil {
			equity += unrealizedPnl(pos.Side, pos.Entry, bar.Close, pos.Size)
		}
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > res.MaxDrawdown {
				res.MaxDrawdown = dd
			}
		}
		curve = append(curve, EquityPoint{Time: bar.Time, Equity: equity})
	}

	// Final settle: leave any open position marked to the last close.
	final := cash
	if pos != nil {
		final += unrealizedPnl(pos.Side, pos.Entry, candles[len(candles)-1].Close, pos.Size)
	}
	res.FinalEquity = final
	res.TotalRoi = (final - req.InitialEquity) / req.InitialEquity
	if grossLoss > 0 {
		res.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		res.ProfitFactor = grossWin
	}
	res.EquityCurve = decimate(curve, equityCurvePoints)
	projectRoi(res, candles[warmupBars].Time, candles[len(candles)-1].Time)

	logs.Infof("[BACKTEST] %s run=%s bars=%d trades=%d roi=%.4f dd=%.4f",
		req.Symbol, res.RunID, res.Bars, res.Trades, res.TotalRoi, res.MaxDrawdown)
	mBacktests.WithLabelValues("ok").Inc()
	return res, nil
}

// accountView fabricates the live snapshot shape for the rule engine.
func accountView(cash float64, pos *btPosition, symbol string, leverage int, price float64) AccountSnapshot {
	snap := AccountSnapshot{Equity: cash, Available: cash}
	if pos == nil {
		return snap
	}
	pnl := unrealizedPnl(pos.Side, pos.Entry, price, pos.Size)
	snap.Equity += pnl
	ps := PositionSnapshot{
		Symbol:   symbol,
		Side:     pos.Side,
		Size:     pos.Size,
		AvgPrice: pos.Entry,
		Leverage: leverage,
	}
	if margin := pos.Entry * pos.Size / float64(leverage); margin > 0 {
		ps.UnrealizedRoi = pnl / margin
	}
	snap.Positions = []PositionSnapshot{ps}
	return snap
}

func stopTouched(side string, stop float64, bar Candle) bool {
	if stop <= 0 {
		return false
	}
	if side == "BUY" {
		return bar.Low <= stop
	}
	return bar.High >= stop
}

func tpTouched(side string, target float64, bar Candle) bool {
	if target <= 0 {
		return false
	}
	if side == "BUY" {
		return bar.High >= target
	}
	return bar.Low <= target
}

// resample folds lower-timeframe candles into fixed buckets.
func resample(cs []Candle, bucketSec int64) []Candle {
	if len(cs) == 0 {
		return nil
	}
	out := make([]Candle, 0, len(cs)/8+1)
	var cur *Candle
	var curBucket int64 = -1
	for _, c := range cs {
		b := c.Time - c.Time%bucketSec
		if b != curBucket {
			if cur != nil {
				out = append(out, *cur)
			}
			cc := c
			cc.Time = b
			cur = &cc
			curBucket = b
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// decimate thins a curve to at most max points, keeping first and last.
func decimate(points []EquityPoint, max int) []EquityPoint {
	if len(points) <= max || max < 2 {
		return points
	}
	out := make([]EquityPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		out = append(out, points[int(float64(i)*step+0.5)])
	}
	out[max-1] = points[len(points)-1]
	return out
}

// projectRoi linearly scales the run's ROI to daily/weekly/monthly spans.
func projectRoi(res *BacktestResult, start, end int64) {
	span := float64(end - start)
	if span <= 0 || res.TotalRoi == 0 {
		return
	}
	perSec := res.TotalRoi / span
	res.DailyRoi = perSec * 86400
	res.WeeklyRoi = perSec * 86400 * 7
	res.MonthlyRoi = perSec * 86400 * 30
}

// loadCandlesCSV reads OHLCV rows. Headers are matched case-insensitively
// and the time column accepts RFC3339 or unix seconds/milliseconds. Rows
// are sorted ascending by time.
func loadCandlesCSV(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candles: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read candles: %w", err)
	}
	if len(rows) < 2 {
		return nil, errors.New("candles csv: no data rows")
	}

	col := map[string]int{}
	for i, h := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	timeIdx, ok := firstCol(col, "time", "timestamp", "date", "open_time")
	if !ok {
		return nil, errors.New("candles csv: no time column")
	}
	need := func(name string) (int, error) {
		if i, ok := col[name]; ok {
			return i, nil
		}
		return 0, fmt.Errorf("candles csv: missing %q column", name)
	}
	oIdx, err := need("open")
	if err != nil {
		return nil, err
	}
	hIdx, err := need("high")
	if err != nil {
		return nil, err
	}
	lIdx, err := need("low")
	if err != nil {
		return nil, err
	}
	cIdx, err := need("close")
	if err != nil {
		return nil, err
	}
	vIdx, hasVol := col["volume"]

	out := make([]Candle, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) <= cIdx {
			continue
		}
		ts, err := parseTimeFlexible(row[timeIdx])
		if err != nil {
			continue
		}
		c := Candle{
			Time:  ts,
			Open:  parseF(row[oIdx]),
			High:  parseF(row[hIdx]),
			Low:   parseF(row[lIdx]),
			Close: parseF(row[cIdx]),
		}
		if hasVol && len(row) > vIdx {
			c.Volume = parseF(row[vIdx])
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func firstCol(col map[string]int, names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := col[n]; ok {
			return i, true
		}
	}
	return 0, false
}

// parseTimeFlexible accepts RFC3339 timestamps, unix seconds, or unix
// milliseconds.
func parseTimeFlexible(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix(), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable time %q", s)
	}
	if n > 1e12 { // milliseconds
		return n / 1000, nil
	}
	return n, nil
}
